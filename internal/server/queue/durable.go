package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-job/queue/adapters/postgres"
	"github.com/goliatone/go-job/queue/worker"

	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

// Queue tables live next to the lead tables in the application database.
const (
	durableTable       = "lead_queue_messages"
	durableDLQTable    = "lead_queue_dead_letters"
	durableStatusTable = "lead_queue_dispatch_status"
)

// Durable keeps jobs in a SQL table so they survive restarts. Workers lease
// rows and go-job's retry policy moves exhausted jobs to the dead letter
// table.
type Durable struct {
	adapter *postgres.Adapter
	worker  *worker.Worker

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewDurable creates the queue tables when missing and starts the workers.
func NewDurable(ctx context.Context, dialect postgres.Dialect, handler Handler, opts Options) (*Durable, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("durable queue requires a database")
	}
	opts = opts.withDefaults()

	storage := postgres.NewStorage(opts.DB,
		postgres.WithDialect(dialect),
		postgres.WithTableName(durableTable),
		postgres.WithDLQTableName(durableDLQTable),
		postgres.WithStatusTableName(durableStatusTable),
		postgres.WithVisibilityTimeout(opts.VisibilityTimeout),
	)
	if err := storage.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate queue tables: %w", err)
	}

	q := &Durable{adapter: postgres.NewAdapter(storage)}
	w, err := startWorker(q.adapter, handler, opts)
	if err != nil {
		return nil, err
	}
	q.worker = w
	return q, nil
}

// Enqueue stores the job; a worker picks it up on its next poll.
func (q *Durable) Enqueue(ctx context.Context, j Job) error {
	if q.closed.Load() {
		return pkgerrors.ErrQueueClosed
	}

	receipt, err := q.adapter.Enqueue(ctx, jobMessage(j))
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrDispatch, err)
	}

	logger.DebugEvent().
		Str("job_id", j.ID).
		Str("dispatch_id", receipt.DispatchID).
		Msg("Queue job stored")
	return nil
}

// Close stops the workers. Stored jobs stay in the table for the next start.
func (q *Durable) Close() error {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		q.closeErr = q.worker.Stop(context.Background())
	})
	return q.closeErr
}
