// Package queue carries raw lead ids from the webhook receiver to the
// workers that process them.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-job/queue/adapters/postgres"
)

const (
	// TokenHeader carries the shared secret on pushed jobs.
	TokenHeader = "X-Queue-Token"
	// RetriesHeader tells the push relay how often to redeliver a job.
	RetriesHeader = "X-Queue-Retries"

	defaultCapacity          = 1024
	defaultWorkers           = 4
	defaultMaxRetries        = 3
	defaultInitialBackoff    = time.Second
	defaultMaxBackoff        = 30 * time.Second
	defaultPollInterval      = 500 * time.Millisecond
	defaultVisibilityTimeout = 15 * time.Minute
	defaultPushTimeout       = 10 * time.Second
)

// Job is one unit of asynchronous work.
type Job struct {
	ID         string   `json:"id"`
	RawLeadIDs []string `json:"raw_lead_ids"`
	MaxRetries int      `json:"max_retries"`
}

// NewJob creates a job for the given raw lead ids.
func NewJob(ids []string, maxRetries int) Job {
	return Job{
		ID:         uuid.NewString(),
		RawLeadIDs: ids,
		MaxRetries: maxRetries,
	}
}

// Handler runs a job. A returned error makes the job eligible for retry.
type Handler func(ctx context.Context, job Job) error

// Queue accepts jobs for asynchronous execution.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Close() error
}

// Options tunes the queue backends. Zero values fall back to defaults.
type Options struct {
	Workers int
	// MaxRetries bounds redeliveries for in-process workers. The push backend
	// sends each job's own MaxRetries to the relay instead.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Memory backend only.
	Capacity int

	// SQL backends only. DB is usually the application database.
	DB                *sql.DB
	PollInterval      time.Duration
	VisibilityTimeout time.Duration

	// Push backend only.
	Token      string
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.Capacity <= 0 {
		o.Capacity = defaultCapacity
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = defaultVisibilityTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: defaultPushTimeout}
	}
	return o
}

// Build returns the backend selected by the DSN scheme:
//
//	memory://              in-process channel, lost on restart
//	postgres://, sqlite:// durable table in opts.DB
//	http(s)://host/path    push to a worker endpoint or relay
//
// The handler is only used by in-process backends.
func Build(dsn string, handler Handler, opts Options) (Queue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "memory://"
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid queue dsn: %w", err)
	}

	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "memory", "mem", "inmem":
		if handler == nil {
			return nil, fmt.Errorf("memory queue requires a handler")
		}
		return NewMemory(handler, opts)
	case "postgres", "postgresql", "sqlite":
		if handler == nil {
			return nil, fmt.Errorf("%s queue requires a handler", scheme)
		}
		dialect := postgres.DialectPostgres
		if scheme == "sqlite" {
			dialect = postgres.DialectSQLite
		}
		return NewDurable(context.Background(), dialect, handler, opts)
	case "http", "https":
		return NewHTTP(dsn, opts), nil
	default:
		return nil, fmt.Errorf("unsupported queue scheme: %s", parsed.Scheme)
	}
}
