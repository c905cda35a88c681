package query

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/tally/internal/engine"
	"github.com/runnerr0/tally/internal/storage"
)

func openTestStore(t *testing.T) (*storage.SQLiteStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.NewMigrationRunner(db).Run())

	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, db
}

func day(t *testing.T, date string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, date+"T10:00:00Z")
	require.NoError(t, err)
	return parsed
}

// seedScenario records the reference event sequence:
// (E1, user, 10, 2024-01-01), (E1, assistant, 20, 2024-01-01),
// (E2, user, 5, 2024-01-02).
func seedScenario(t *testing.T, store storage.Store) {
	t.Helper()
	eng := engine.New(store)
	ctx := context.Background()

	events := []engine.Event{
		{EntityID: "E1", EntityName: "Beth", Direction: engine.DirectionUser, TokenDelta: 10, OccurredAt: day(t, "2024-01-01")},
		{EntityID: "E1", EntityName: "Beth", Direction: engine.DirectionAssistant, TokenDelta: 20, OccurredAt: day(t, "2024-01-01")},
		{EntityID: "E2", EntityName: "adam", Direction: engine.DirectionUser, TokenDelta: 5, OccurredAt: day(t, "2024-01-02")},
	}
	for _, ev := range events {
		require.NoError(t, eng.RecordEvent(ctx, ev))
	}
}

func TestGetByDate_Scenario(t *testing.T) {
	store, _ := openTestStore(t)
	seedScenario(t, store)
	svc := NewService(store)
	ctx := context.Background()

	jan1, err := svc.GetByDate(ctx, "2024-01-01")
	require.NoError(t, err)
	require.Len(t, jan1, 1)
	assert.Equal(t, "E1", jan1[0].EntityID)
	assert.Equal(t, storage.DayCounters{UserMessages: 1, AIMessages: 1, CumulativeTokens: 30}, jan1[0].Counters)

	jan2, err := svc.GetByDate(ctx, "2024-01-02")
	require.NoError(t, err)
	require.Len(t, jan2, 1)
	assert.Equal(t, "E2", jan2[0].EntityID)
	assert.Equal(t, storage.DayCounters{UserMessages: 1, AIMessages: 0, CumulativeTokens: 5}, jan2[0].Counters)
}

func TestGetByDate_NoActivity(t *testing.T) {
	store, _ := openTestStore(t)
	seedScenario(t, store)
	svc := NewService(store)

	usages, err := svc.GetByDate(context.Background(), "2024-06-01")
	require.NoError(t, err)
	assert.NotNil(t, usages)
	assert.Len(t, usages, 0)
}

func TestGetAll_FullDayMapsIntact(t *testing.T) {
	store, _ := openTestStore(t)
	seedScenario(t, store)
	svc := NewService(store)

	records, err := svc.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Sorted case-insensitively by display name: "adam" before "Beth".
	assert.Equal(t, "adam", records[0].EntityName)
	assert.Equal(t, "Beth", records[1].EntityName)

	assert.Equal(t, storage.DayCounters{UserMessages: 1, AIMessages: 1, CumulativeTokens: 30}, records[1].Day("2024-01-01"))
	assert.Equal(t, storage.DayCounters{UserMessages: 1, CumulativeTokens: 5}, records[0].Day("2024-01-02"))
}

func TestGetByDate_SortsByNameCaseInsensitive(t *testing.T) {
	store, _ := openTestStore(t)
	eng := engine.New(store)
	ctx := context.Background()

	names := map[string]string{"e1": "zoe", "e2": "Ann", "e3": "bob"}
	for id, name := range names {
		require.NoError(t, eng.RecordEvent(ctx, engine.Event{
			EntityID: id, EntityName: name, Direction: engine.DirectionUser, OccurredAt: day(t, "2024-01-01"),
		}))
	}

	usages, err := NewService(store).GetByDate(ctx, "2024-01-01")
	require.NoError(t, err)
	require.Len(t, usages, 3)
	assert.Equal(t, "Ann", usages[0].EntityName)
	assert.Equal(t, "bob", usages[1].EntityName)
	assert.Equal(t, "zoe", usages[2].EntityName)
}

func TestGetByDate_ToleratesLegacyRecords(t *testing.T) {
	store, db := openTestStore(t)
	seedScenario(t, store)

	// Legacy row with no usable day map must not fail the whole query.
	_, err := db.Exec(
		"INSERT INTO usage_records (entity_id, entity_name, daily_data) VALUES ('legacy', 'Legacy', 'garbage')",
	)
	require.NoError(t, err)

	usages, err := NewService(store).GetByDate(context.Background(), "2024-01-01")
	require.NoError(t, err)
	require.Len(t, usages, 1, "legacy record has no data for any day")
	assert.Equal(t, "E1", usages[0].EntityID)
}

func TestRows_GroupsByDateDescending(t *testing.T) {
	store, _ := openTestStore(t)
	seedScenario(t, store)

	records, err := NewService(store).GetAll(context.Background())
	require.NoError(t, err)

	rows := Rows(records)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-02", rows[0].Date, "newest date first")
	assert.Equal(t, "adam", rows[0].EntityName)
	assert.Equal(t, "2024-01-01", rows[1].Date)
	assert.Equal(t, "Beth", rows[1].EntityName)
	assert.Equal(t, int64(30), rows[1].CumulativeTokens)
}

func TestRows_SortsNamesWithinDate(t *testing.T) {
	records := []storage.CounterRecord{
		{EntityID: "1", EntityName: "zoe", DailyData: map[string]storage.DayCounters{
			"2024-01-01": {UserMessages: 1},
		}},
		{EntityID: "2", EntityName: "Amy", DailyData: map[string]storage.DayCounters{
			"2024-01-01": {AIMessages: 2},
		}},
	}

	rows := Rows(records)
	require.Len(t, rows, 2)
	assert.Equal(t, "Amy", rows[0].EntityName)
	assert.Equal(t, "zoe", rows[1].EntityName)
}

func TestRows_Empty(t *testing.T) {
	assert.Empty(t, Rows(nil))
	assert.Empty(t, Rows([]storage.CounterRecord{{EntityID: "e", EntityName: "E"}}))
}
