package worker

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/tally/internal/engine"
	"github.com/runnerr0/tally/internal/query"
	"github.com/runnerr0/tally/internal/storage"
)

func newTestWorker(t *testing.T, opts ...Option) (*Worker, *storage.SQLiteStore) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.NewMigrationRunner(db).Run())

	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	w, err := New(engine.New(store), query.NewService(store), opts...)
	require.NoError(t, err)
	return w, store
}

func testEvent(entity string, dir engine.Direction, tokens int64) engine.Event {
	return engine.Event{
		EntityID:   entity,
		Direction:  dir,
		TokenDelta: tokens,
		OccurredAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWorker_ReadySignaledOnce(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	select {
	case <-w.Ready():
		t.Fatal("worker should not be ready before Start")
	default:
	}

	require.NoError(t, w.Start(ctx))

	select {
	case <-w.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready signal missing after Start")
	}

	// A second Start must not panic on the ready channel.
	require.NoError(t, w.Start(ctx))
}

func TestWorker_UpdateThenQueryInOrder(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	d := NewDispatcher(w)

	require.NoError(t, d.Update(ctx, testEvent("e1", engine.DirectionUser, 10)))
	require.NoError(t, d.Update(ctx, testEvent("e1", engine.DirectionAssistant, 20)))

	// The query is dispatched after the updates and must observe them.
	day, err := d.QueryByDate(ctx, "2024-01-01")
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, storage.DayCounters{UserMessages: 1, AIMessages: 1, CumulativeTokens: 30}, day[0].Counters)
}

func TestWorker_CommandsQueuedBeforeStart(t *testing.T) {
	w, _ := newTestWorker(t)

	// Enqueued before readiness: queued, not dropped, not a crash.
	_, ok := w.SendUpdate(testEvent("early", engine.DirectionUser, 5))
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	d := NewDispatcher(w)
	records, err := d.QueryAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "early", records[0].EntityID)
}

func TestWorker_UpdateErrorReportedInAck(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	d := NewDispatcher(w)
	err := d.Update(ctx, testEvent("", engine.DirectionUser, 1))
	assert.ErrorIs(t, err, engine.ErrMissingEntity)
}

func TestWorker_QueueFullDropsUpdate(t *testing.T) {
	w, _ := newTestWorker(t, WithQueueSize(1))

	// Worker not started: the single buffer slot fills, the next send drops.
	_, ok := w.SendUpdate(testEvent("a", engine.DirectionUser, 1))
	require.True(t, ok)
	_, ok = w.SendUpdate(testEvent("b", engine.DirectionUser, 1))
	assert.False(t, ok, "second send must drop, not block")
}

func TestWorker_InvalidQueueSize(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.NewMigrationRunner(db).Run())
	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)

	_, err = New(engine.New(store), query.NewService(store), WithQueueSize(0))
	assert.Error(t, err)
}

func TestWorker_StopDrainsPendingCommands(t *testing.T) {
	w, store := newTestWorker(t)

	for i := 0; i < 3; i++ {
		_, ok := w.SendUpdate(testEvent("e", engine.DirectionUser, 1))
		require.True(t, ok)
	}

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	w.Stop()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not finish draining after Stop")
	}

	// All three buffered updates landed before shutdown.
	day, err := query.NewService(store).GetByDate(ctx, "2024-01-01")
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, int64(3), day[0].Counters.UserMessages)
}

func TestWorker_ContextCancelStopsLoop(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	cancel()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}

func TestQueryScope_String(t *testing.T) {
	assert.Equal(t, "all", ScopeAll.String())
	assert.Equal(t, "by-date", ScopeByDate.String())
	assert.Equal(t, "unknown", QueryScope(99).String())
}
