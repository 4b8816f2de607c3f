// Package audit is the side channel the lead pipeline reports to. Sinks only
// observe; nothing in the pipeline reads back from them.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

// EventType names a pipeline milestone.
type EventType string

const (
	EventLeadReceived   EventType = "lead_received"
	EventLeadDuplicate  EventType = "lead_duplicate"
	EventDispatchFailed EventType = "dispatch_failed"
	EventLeadCompleted  EventType = "lead_completed"
	EventLeadFailed     EventType = "lead_failed"
	EventLeadRetried    EventType = "lead_retried"
	EventLeadDismissed  EventType = "lead_dismissed"
	EventLeadReaped     EventType = "lead_reaped"
	EventDataDeleted    EventType = "data_deleted"
)

// Event is one audit record.
type Event struct {
	Type      EventType              `json:"type"`
	TenantID  *uuid.UUID             `json:"tenant_id,omitempty"`
	RawLeadID uuid.UUID              `json:"raw_lead_id,omitempty"`
	LeadgenID string                 `json:"leadgen_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Time      time.Time              `json:"time"`
}

// Sink receives audit events. Emit must not block the caller.
type Sink interface {
	Emit(Event)
}

// Handler is a callback for audit events.
type Handler func(Event)

// Fanout delivers each event to every subscribed handler.
type Fanout struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewFanout creates an empty fanout sink.
func NewFanout() *Fanout {
	return &Fanout{handlers: make([]Handler, 0)}
}

// Subscribe registers a handler for all future events.
func (f *Fanout) Subscribe(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

// Emit calls every handler in its own goroutine.
func (f *Fanout) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, h := range f.handlers {
		go h(e)
	}
}

// LogHandler writes events as structured log lines.
func LogHandler(e Event) {
	ev := logger.InfoEvent()
	if e.Type == EventLeadFailed || e.Type == EventDispatchFailed {
		ev = logger.WarnEvent()
	}

	ev = ev.Str("audit", string(e.Type)).Time("at", e.Time)
	if e.TenantID != nil {
		ev = ev.Str("tenant_id", e.TenantID.String())
	}
	if e.RawLeadID != uuid.Nil {
		ev = ev.Str("raw_lead_id", e.RawLeadID.String())
	}
	if e.LeadgenID != "" {
		ev = ev.Str("leadgen_id", e.LeadgenID)
	}
	if len(e.Data) > 0 {
		ev = ev.Fields(e.Data)
	}
	ev.Msg(e.Message)
}

// LogSink writes every event to the application log.
type LogSink struct{}

// Emit implements Sink.
func (LogSink) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	LogHandler(e)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(Event) {}

// Recorder keeps events in memory, synchronously. Used by tests and the
// dry-run endpoint.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	events := r.Events()
	types := make([]EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}
