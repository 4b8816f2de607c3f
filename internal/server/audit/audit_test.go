package audit

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFanout_DeliversToAllHandlers(t *testing.T) {
	f := NewFanout()

	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	got := make([]EventType, 0, 2)
	record := func(e Event) {
		defer wg.Done()
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
		assert.False(t, e.Time.IsZero(), "fanout stamps a time")
	}

	f.Subscribe(record)
	f.Subscribe(record)
	f.Emit(Event{Type: EventLeadReceived, RawLeadID: uuid.New()})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers were not called")
	}

	assert.Equal(t, []EventType{EventLeadReceived, EventLeadReceived}, got)
}

func TestFanout_NoHandlers(t *testing.T) {
	assert.NotPanics(t, func() {
		NewFanout().Emit(Event{Type: EventLeadFailed})
	})
}

func TestLogHandler(t *testing.T) {
	tenant := uuid.New()
	assert.NotPanics(t, func() {
		LogHandler(Event{Type: EventLeadFailed, TenantID: &tenant, RawLeadID: uuid.New(), LeadgenID: "L1", Message: "no routing rule", Data: map[string]interface{}{"retry_count": 1}})
		LogHandler(Event{Type: EventLeadCompleted})
	})
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Emit(Event{Type: EventLeadReceived})
	r.Emit(Event{Type: EventLeadCompleted})

	assert.Equal(t, []EventType{EventLeadReceived, EventLeadCompleted}, r.Types())
	assert.Len(t, r.Events(), 2)

	Nop{}.Emit(Event{Type: EventLeadFailed})
	LogSink{}.Emit(Event{Type: EventLeadDismissed})
}
