package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandeptwidyaop/leadflow/internal/db/dbtest"
	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	"github.com/pandeptwidyaop/leadflow/internal/server/audit"
	"github.com/pandeptwidyaop/leadflow/internal/server/ingest"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ids []uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, ids...)
	return d.err
}

func TestReaper_RequeuesStuckLeads(t *testing.T) {
	database := dbtest.Open(t)
	store := ingest.NewStore(database)
	disp := &recordingDispatcher{}
	rec := &audit.Recorder{}
	reaper := NewReaper(store, disp, rec, 10*time.Minute, 0)

	stuck := &models.RawLead{LeadgenID: "stuck", PageID: "p", Status: models.LeadStatusProcessing}
	busy := &models.RawLead{LeadgenID: "busy", PageID: "p", Status: models.LeadStatusProcessing}
	require.NoError(t, database.Create(stuck).Error)
	require.NoError(t, database.Create(busy).Error)
	require.NoError(t, database.Model(stuck).UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)

	n, err := reaper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{stuck.ID}, disp.ids)
	assert.Equal(t, []audit.EventType{audit.EventLeadReaped}, rec.Types())

	var got models.RawLead
	require.NoError(t, database.First(&got, "id = ?", stuck.ID).Error)
	assert.Equal(t, models.LeadStatusPending, got.Status)

	require.NoError(t, database.First(&got, "id = ?", busy.ID).Error)
	assert.Equal(t, models.LeadStatusProcessing, got.Status)

	n, err = reaper.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReaper_DispatchFailureIsNotFatal(t *testing.T) {
	database := dbtest.Open(t)
	disp := &recordingDispatcher{err: errors.New("queue down")}
	reaper := NewReaper(ingest.NewStore(database), disp, nil, time.Minute, 10)

	stuck := &models.RawLead{LeadgenID: "stuck", PageID: "p", Status: models.LeadStatusProcessing}
	require.NoError(t, database.Create(stuck).Error)
	require.NoError(t, database.Model(stuck).UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)

	n, err := reaper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	go func() {
		Every(ctx, time.Millisecond, "test", func(context.Context) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 2 {
				cancel()
			}
			return 0, errors.New("ignored")
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Every did not stop on cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2)

	Every(context.Background(), 0, "disabled", nil)
}
