package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pandeptwidyaop/leadflow/internal/server/audit"
	"github.com/pandeptwidyaop/leadflow/internal/server/ingest"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

// Dispatcher submits raw lead ids for processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, ids []uuid.UUID) error
}

// Reaper recovers leads whose worker died mid-processing.
type Reaper struct {
	store      *ingest.Store
	dispatcher Dispatcher
	sink       audit.Sink
	timeout    time.Duration
	batch      int
}

// NewReaper creates a reaper for leads stuck in processing longer than timeout.
func NewReaper(store *ingest.Store, dispatcher Dispatcher, sink audit.Sink, timeout time.Duration, batch int) *Reaper {
	if sink == nil {
		sink = audit.Nop{}
	}
	if batch <= 0 {
		batch = 100
	}
	return &Reaper{
		store:      store,
		dispatcher: dispatcher,
		sink:       sink,
		timeout:    timeout,
		batch:      batch,
	}
}

// Run moves stuck leads back to pending and re-dispatches them. A dispatch
// failure is logged only; the sweeper retries pending rows.
func (r *Reaper) Run(ctx context.Context) (int, error) {
	ids, err := r.store.StaleProcessing(ctx, r.timeout, r.batch)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	moved, err := r.store.Requeue(ctx, ids)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		r.sink.Emit(audit.Event{Type: audit.EventLeadReaped, RawLeadID: id, Message: "processing timed out"})
	}

	logger.WarnEvent().Int64("count", moved).Dur("timeout", r.timeout).Msg("Requeued leads stuck in processing")

	if r.dispatcher != nil {
		if err := r.dispatcher.Dispatch(ctx, ids); err != nil {
			logger.WarnEvent().Err(err).Msg("Failed to re-dispatch reaped leads")
		}
	}

	return int(moved), nil
}

// Every runs fn every interval until ctx is done.
func Every(ctx context.Context, interval time.Duration, name string, fn func(context.Context) (int, error)) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logger.Component(name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fn(ctx); err != nil {
				log.Error().Err(err).Msg("Periodic task failed")
			}
		}
	}
}
