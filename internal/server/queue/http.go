package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
)

// HTTP pushes jobs to a worker endpoint (directly or through a relay that
// redelivers on non-2xx responses).
type HTTP struct {
	url    string
	opts   Options
	closed atomic.Bool
}

// NewHTTP creates a push queue targeting url.
func NewHTTP(url string, opts Options) *HTTP {
	return &HTTP{
		url:  url,
		opts: opts.withDefaults(),
	}
}

// Enqueue posts the job as JSON. Any non-2xx response is an error.
func (q *HTTP) Enqueue(ctx context.Context, job Job) error {
	if q.closed.Load() {
		return pkgerrors.ErrQueueClosed
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RetriesHeader, strconv.Itoa(job.MaxRetries))
	if q.opts.Token != "" {
		req.Header.Set(TokenHeader, q.opts.Token)
	}

	resp, err := q.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrDispatch, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: push endpoint returned %d", pkgerrors.ErrDispatch, resp.StatusCode)
	}
	return nil
}

// Close marks the queue closed; later Enqueue calls fail.
func (q *HTTP) Close() error {
	q.closed.Store(true)
	return nil
}
