// Package dispatch hands stored raw leads to the queue.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pandeptwidyaop/leadflow/internal/server/audit"
	"github.com/pandeptwidyaop/leadflow/internal/server/ingest"
	"github.com/pandeptwidyaop/leadflow/internal/server/queue"
	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

// DefaultMaxRetries is the retry budget of a dispatched job.
const DefaultMaxRetries = 3

// Options tunes the dispatcher.
type Options struct {
	MaxRetries        int
	StalePendingAfter time.Duration
	SweepBatch        int
}

// Dispatcher submits raw lead ids for asynchronous processing. A failed
// submission leaves the rows pending; Sweep picks them up later.
type Dispatcher struct {
	queue queue.Queue
	store *ingest.Store
	sink  audit.Sink
	opts  Options
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(q queue.Queue, store *ingest.Store, sink audit.Sink, opts Options) *Dispatcher {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.StalePendingAfter <= 0 {
		opts.StalePendingAfter = 5 * time.Minute
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Dispatcher{
		queue: q,
		store: store,
		sink:  sink,
		opts:  opts,
	}
}

// Dispatch submits one job for ids.
func (d *Dispatcher) Dispatch(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	job := queue.NewJob(strIDs, d.opts.MaxRetries)
	if err := d.queue.Enqueue(ctx, job); err != nil {
		logger.ErrorEvent().
			Err(err).
			Str("job_id", job.ID).
			Strs("raw_lead_ids", strIDs).
			Msg("Failed to dispatch raw leads")

		for _, id := range ids {
			d.sink.Emit(audit.Event{
				Type:      audit.EventDispatchFailed,
				RawLeadID: id,
				Message:   err.Error(),
			})
		}
		return fmt.Errorf("%w: %w", pkgerrors.ErrDispatch, err)
	}

	logger.DebugEvent().
		Str("job_id", job.ID).
		Int("count", len(ids)).
		Msg("Raw leads dispatched")
	return nil
}

// Sweep re-dispatches pending rows that have waited longer than the stale
// threshold. It returns how many ids were submitted.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	ids, err := d.store.StalePending(ctx, d.opts.StalePendingAfter, d.opts.SweepBatch)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := d.Dispatch(ctx, ids); err != nil {
		return 0, err
	}

	logger.InfoEvent().Int("count", len(ids)).Msg("Re-dispatched stale pending leads")
	return len(ids), nil
}
