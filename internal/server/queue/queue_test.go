package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-job/queue/adapters/postgres"

	"github.com/pandeptwidyaop/leadflow/internal/db/dbtest"
	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
)

func noopHandler(context.Context, Job) error { return nil }

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := dbtest.Open(t).DB()
	require.NoError(t, err)
	return sqlDB
}

func TestBuild(t *testing.T) {
	sqlDB := openDB(t)

	tests := []struct {
		name    string
		dsn     string
		handler Handler
		db      *sql.DB
		want    interface{}
		wantErr bool
	}{
		{name: "empty defaults to memory", dsn: "", handler: noopHandler, want: &Memory{}},
		{name: "memory", dsn: "memory://", handler: noopHandler, want: &Memory{}},
		{name: "inmem alias", dsn: "inmem://", handler: noopHandler, want: &Memory{}},
		{name: "sqlite table", dsn: "sqlite://", handler: noopHandler, db: sqlDB, want: &Durable{}},
		{name: "http push", dsn: "http://localhost:8080/internal/queue/jobs", want: &HTTP{}},
		{name: "https push", dsn: "https://relay.example.com/v2/publish", want: &HTTP{}},
		{name: "memory without handler", dsn: "memory://", wantErr: true},
		{name: "postgres without database", dsn: "postgres://", handler: noopHandler, wantErr: true},
		{name: "sqlite without handler", dsn: "sqlite://", db: sqlDB, wantErr: true},
		{name: "unknown scheme", dsn: "kafka://broker", handler: noopHandler, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Build(tt.dsn, tt.handler, Options{Workers: 1, DB: tt.db})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer q.Close()
			assert.IsType(t, tt.want, q)
		})
	}
}

func TestJobMessageRoundTrip(t *testing.T) {
	j := NewJob([]string{"a", "b"}, 3)

	got, err := jobFromMessage(jobMessage(j))
	require.NoError(t, err)
	assert.Equal(t, j, got)

	// The SQL storage hands parameters back as decoded JSON.
	msg := jobMessage(j)
	msg.Parameters[paramRawLeadIDs] = []any{"a", "b"}
	msg.Parameters[paramMaxRetries] = float64(3)
	got, err = jobFromMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, j, got)

	msg.Parameters[paramRawLeadIDs] = []any{"a", 1.0}
	_, err = jobFromMessage(msg)
	assert.Error(t, err)

	delete(msg.Parameters, paramRawLeadIDs)
	_, err = jobFromMessage(msg)
	assert.Error(t, err)
}

func TestMemory_RunsJobs(t *testing.T) {
	done := make(chan Job, 1)
	q, err := NewMemory(func(_ context.Context, job Job) error {
		done <- job
		return nil
	}, Options{Workers: 2})
	require.NoError(t, err)
	defer q.Close()

	job := NewJob([]string{"a", "b"}, 3)
	require.NoError(t, q.Enqueue(context.Background(), job))

	select {
	case got := <-done:
		assert.Equal(t, job, got)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not handled")
	}
}

func TestMemory_RetriesWithinBound(t *testing.T) {
	var calls atomic.Int32
	finished := make(chan struct{})

	q, err := NewMemory(func(context.Context, Job) error {
		if calls.Add(1) == 3 {
			close(finished)
		}
		return errors.New("boom")
	}, Options{Workers: 1, MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), NewJob([]string{"a"}, 2)))

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}

	// Give a fourth attempt a chance to show up if the bound were broken.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")
}

func TestMemory_Full(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	q, err := NewMemory(func(context.Context, Job) error {
		started <- struct{}{}
		<-block
		return nil
	}, Options{Workers: 1, Capacity: 1})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, NewJob([]string{"1"}, 0)))
	<-started
	require.NoError(t, q.Enqueue(ctx, NewJob([]string{"2"}, 0)))
	assert.ErrorIs(t, q.Enqueue(ctx, NewJob([]string{"3"}, 0)), pkgerrors.ErrQueueFull)
	assert.Equal(t, 1, q.Len())

	close(block)
	require.NoError(t, q.Close())
}

func TestMemory_Closed(t *testing.T) {
	q, err := NewMemory(noopHandler, Options{Workers: 1})
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	err = q.Enqueue(context.Background(), NewJob([]string{"a"}, 0))
	assert.ErrorIs(t, err, pkgerrors.ErrQueueClosed)
}

func TestMemory_CloseWaitsForRunningJob(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	q, err := NewMemory(func(ctx context.Context, _ Job) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(ctx.Err() == nil)
		return nil
	}, Options{Workers: 1})
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), NewJob([]string{"a"}, 0)))
	<-started
	require.NoError(t, q.Close())
	assert.True(t, finished.Load(), "running job keeps a live context")
}

func TestDurable_RunsJobs(t *testing.T) {
	done := make(chan Job, 1)
	q, err := NewDurable(context.Background(), postgres.DialectSQLite, func(_ context.Context, job Job) error {
		done <- job
		return nil
	}, Options{Workers: 1, DB: openDB(t), PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	defer q.Close()

	job := NewJob([]string{"a", "b"}, 3)
	require.NoError(t, q.Enqueue(context.Background(), job))

	select {
	case got := <-done:
		assert.Equal(t, job, got)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not handled")
	}
}

func TestDurable_DeadLettersAfterRetries(t *testing.T) {
	sqlDB := openDB(t)
	var calls atomic.Int32
	q, err := NewDurable(context.Background(), postgres.DialectSQLite, func(context.Context, Job) error {
		calls.Add(1)
		return errors.New("database unavailable")
	}, Options{
		Workers:        1,
		DB:             sqlDB,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), NewJob([]string{"a"}, 1)))

	countRows := func(table string) int {
		var n int
		require.NoError(t, sqlDB.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		return n
	}
	assert.Eventually(t, func() bool { return countRows(durableDLQTable) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, countRows(durableTable))
	assert.Equal(t, int32(2), calls.Load(), "one attempt plus one retry")
}

func TestDurable_Closed(t *testing.T) {
	q, err := NewDurable(context.Background(), postgres.DialectSQLite, noopHandler, Options{Workers: 1, DB: openDB(t)})
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), NewJob([]string{"a"}, 0)), pkgerrors.ErrQueueClosed)
}

func TestHTTP_Enqueue(t *testing.T) {
	var (
		mu  sync.Mutex
		got Job
		hdr http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		hdr = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	q := NewHTTP(srv.URL, Options{Token: "secret"})
	job := NewJob([]string{"a"}, 3)
	require.NoError(t, q.Enqueue(context.Background(), job))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, job, got)
	assert.Equal(t, "secret", hdr.Get(TokenHeader))
	assert.Equal(t, "3", hdr.Get(RetriesHeader))
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))
}

func TestHTTP_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	q := NewHTTP(srv.URL, Options{})
	err := q.Enqueue(context.Background(), NewJob([]string{"a"}, 0))
	assert.ErrorIs(t, err, pkgerrors.ErrDispatch)

	srv.Close()
	err = q.Enqueue(context.Background(), NewJob([]string{"a"}, 0))
	assert.ErrorIs(t, err, pkgerrors.ErrDispatch, "unreachable endpoint")

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), NewJob(nil, 0)), pkgerrors.ErrQueueClosed)
}
