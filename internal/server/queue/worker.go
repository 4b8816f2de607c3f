package queue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	job "github.com/goliatone/go-job"
	jobqueue "github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

const (
	taskID   = "leadflow.leads.process"
	taskPath = "leadflow://tasks/process-leads"

	paramJobID      = "job_id"
	paramRawLeadIDs = "raw_lead_ids"
	paramMaxRetries = "max_retries"
)

// leadTask is the only task the workers run: hand the decoded job to the
// pipeline.
type leadTask struct {
	handler Handler
}

func (t *leadTask) GetID() string                        { return taskID }
func (t *leadTask) GetPath() string                      { return taskPath }
func (t *leadTask) GetHandler() func() error             { return func() error { return nil } }
func (t *leadTask) GetHandlerConfig() job.HandlerOptions { return job.HandlerOptions{} }
func (t *leadTask) GetConfig() job.Config                { return job.Config{} }
func (t *leadTask) GetEngine() job.Engine                { return nil }

// Execute runs the handler. Stopping the worker does not cancel a job that
// already started; the processor's own timeout bounds it.
func (t *leadTask) Execute(ctx context.Context, msg *job.ExecutionMessage) error {
	j, err := jobFromMessage(msg)
	if err != nil {
		return job.NewTerminalError("invalid_job", err.Error(), err)
	}
	return t.handler(context.WithoutCancel(ctx), j)
}

func jobMessage(j Job) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:      taskID,
		ScriptPath: taskPath,
		Parameters: map[string]any{
			paramJobID:      j.ID,
			paramRawLeadIDs: j.RawLeadIDs,
			paramMaxRetries: j.MaxRetries,
		},
		IdempotencyKey: j.ID,
		DedupPolicy:    job.DedupPolicyIgnore,
	}
}

// jobFromMessage accepts parameters as stored in memory and as decoded from
// JSON by the SQL storage.
func jobFromMessage(msg *job.ExecutionMessage) (Job, error) {
	if msg == nil {
		return Job{}, fmt.Errorf("empty job message")
	}

	var out Job
	out.ID, _ = msg.Parameters[paramJobID].(string)

	switch ids := msg.Parameters[paramRawLeadIDs].(type) {
	case []string:
		out.RawLeadIDs = ids
	case []any:
		out.RawLeadIDs = make([]string, 0, len(ids))
		for _, v := range ids {
			s, ok := v.(string)
			if !ok {
				return Job{}, fmt.Errorf("job %s: raw lead id %v is not a string", out.ID, v)
			}
			out.RawLeadIDs = append(out.RawLeadIDs, s)
		}
	default:
		return Job{}, fmt.Errorf("job %s carries no raw lead ids", out.ID)
	}

	switch n := msg.Parameters[paramMaxRetries].(type) {
	case int:
		out.MaxRetries = n
	case float64:
		out.MaxRetries = int(n)
	}
	return out, nil
}

// startWorker runs handler over deliveries from dequeuer. Redelivery and
// backoff follow the go-job retry policy; a job that exhausts it is dead
// lettered.
func startWorker(dequeuer jobqueue.Dequeuer, handler Handler, opts Options) (*worker.Worker, error) {
	w := worker.NewWorker(dequeuer,
		worker.WithConcurrency(opts.Workers),
		worker.WithIdleDelay(opts.PollInterval),
		worker.WithLogger(jobLogger{}),
		worker.WithRetryPolicy(worker.DefaultRetryPolicy{
			MaxAttempts: opts.MaxRetries + 1,
			Backoff: worker.BackoffConfig{
				Strategy:    worker.BackoffExponential,
				Interval:    opts.InitialBackoff,
				MaxInterval: opts.MaxBackoff,
			},
		}),
	)
	if err := w.Register(&leadTask{handler: handler}); err != nil {
		return nil, fmt.Errorf("failed to register queue task: %w", err)
	}
	if err := w.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start queue worker: %w", err)
	}
	return w, nil
}

// jobLogger writes go-job worker logs through zerolog. Args are key/value
// pairs. Per-delivery success lines are demoted to debug.
type jobLogger struct{}

func (l jobLogger) Trace(msg string, args ...any) { l.emit(zerolog.TraceLevel, msg, args) }
func (l jobLogger) Debug(msg string, args ...any) { l.emit(zerolog.DebugLevel, msg, args) }
func (l jobLogger) Info(msg string, args ...any)  { l.emit(zerolog.DebugLevel, msg, args) }
func (l jobLogger) Warn(msg string, args ...any)  { l.emit(zerolog.WarnLevel, msg, args) }
func (l jobLogger) Error(msg string, args ...any) { l.emit(zerolog.ErrorLevel, msg, args) }

// Fatal is logged at error level; the worker never owns the process.
func (l jobLogger) Fatal(msg string, args ...any) { l.emit(zerolog.ErrorLevel, msg, args) }

func (l jobLogger) WithContext(context.Context) job.Logger { return l }

func (jobLogger) emit(level zerolog.Level, msg string, args []any) {
	ev := logger.Event(level).Str("component", "queue")
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, ok := args[i+1].(error); ok {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
