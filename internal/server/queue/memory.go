package queue

import (
	"context"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	jobqueue "github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

// Memory is an in-process queue: a bounded channel consumed by a go-job
// worker. Jobs still queued or waiting for a retry at Close are dropped;
// their rows stay pending for the sweeper.
type Memory struct {
	messages chan *memoryDelivery
	worker   *worker.Worker

	mu     sync.RWMutex
	closed bool
}

// NewMemory starts a memory queue with opts.Workers workers.
func NewMemory(handler Handler, opts Options) (*Memory, error) {
	opts = opts.withDefaults()

	q := &Memory{messages: make(chan *memoryDelivery, opts.Capacity)}
	w, err := startWorker(q, handler, opts)
	if err != nil {
		return nil, err
	}
	q.worker = w
	return q, nil
}

// Enqueue adds a job without blocking. A full queue is an error.
func (q *Memory) Enqueue(ctx context.Context, j Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !q.offer(&memoryDelivery{queue: q, msg: jobMessage(j)}) {
		q.mu.RLock()
		closed := q.closed
		q.mu.RUnlock()
		if closed {
			return pkgerrors.ErrQueueClosed
		}
		return pkgerrors.ErrQueueFull
	}
	return nil
}

// Dequeue blocks until a job is available or ctx ends.
func (q *Memory) Dequeue(ctx context.Context) (jobqueue.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-q.messages:
		d.attempts++
		return d, nil
	}
}

// Close stops the worker and waits for in-flight jobs to finish.
func (q *Memory) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	return q.worker.Stop(context.Background())
}

// Len returns the number of jobs waiting for a worker.
func (q *Memory) Len() int {
	return len(q.messages)
}

func (q *Memory) offer(d *memoryDelivery) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.messages <- d:
		return true
	default:
		return false
	}
}

type memoryDelivery struct {
	queue    *Memory
	msg      *job.ExecutionMessage
	attempts int
}

func (d *memoryDelivery) Message() *job.ExecutionMessage { return d.msg }
func (d *memoryDelivery) Attempts() int                  { return d.attempts }
func (d *memoryDelivery) Ack(context.Context) error      { return nil }

// Nack puts the job back after the policy's delay, or drops it when the
// policy gave up.
func (d *memoryDelivery) Nack(_ context.Context, opts jobqueue.NackOptions) error {
	if opts.Disposition != jobqueue.NackDispositionRetry {
		logger.ErrorEvent().
			Str("job_id", jobID(d.msg)).
			Int("attempts", d.attempts).
			Str("disposition", string(opts.Disposition)).
			Str("reason", opts.Reason).
			Msg("Queue job failed permanently")
		return nil
	}

	time.AfterFunc(opts.Delay, func() {
		if !d.queue.offer(d) {
			logger.WarnEvent().Str("job_id", jobID(d.msg)).Msg("Dropping queue retry, queue closed or full")
		}
	})
	return nil
}

func jobID(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	id, _ := msg.Parameters[paramJobID].(string)
	return id
}
