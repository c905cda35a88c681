package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// ErrBusy marks a transient write conflict reported by the underlying store.
// Callers may retry the whole read-modify-write once before surfacing failure.
var ErrBusy = errors.New("store busy")

// Store defines the interface for usage record operations. GetRecord returns
// (nil, nil) when the entity has no record yet.
type Store interface {
	GetRecord(ctx context.Context, entityID string) (*CounterRecord, error)
	PutRecord(ctx context.Context, rec *CounterRecord) error
	UpdateRecord(ctx context.Context, entityID string, apply func(*CounterRecord) error) error
	ListRecords(ctx context.Context) ([]CounterRecord, error)
	GetStats(ctx context.Context) (*Stats, error)
	PurgeAll(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store backed by a SQLite database. One row per
// entity, keyed by entity_id, with the daily counter map stored as JSON.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements
	getRecord *sql.Stmt
	putRecord *sql.Stmt
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and
// migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getRecord, err = s.db.Prepare(`
		SELECT entity_id, entity_name, daily_data
		FROM usage_records WHERE entity_id = ?
	`)
	if err != nil {
		return err
	}

	s.putRecord, err = s.db.Prepare(`
		INSERT INTO usage_records (entity_id, entity_name, daily_data, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(entity_id) DO UPDATE SET
			entity_name = excluded.entity_name,
			daily_data  = excluded.daily_data,
			updated_at  = CURRENT_TIMESTAMP
	`)
	return err
}

// decodeRecord turns a raw row into a CounterRecord. Legacy or corrupted
// daily_data decodes to an empty day map rather than failing: one bad row
// must never abort a multi-record read.
func decodeRecord(entityID, entityName, dailyData string) CounterRecord {
	rec := CounterRecord{
		EntityID:   entityID,
		EntityName: entityName,
		DailyData:  map[string]DayCounters{},
	}
	if rec.EntityName == "" {
		rec.EntityName = entityID
	}

	if dailyData == "" {
		return rec
	}
	var days map[string]DayCounters
	if err := json.Unmarshal([]byte(dailyData), &days); err != nil || days == nil {
		return rec
	}
	for key, day := range days {
		// Corrupted negative counters read as zero.
		if day.UserMessages < 0 {
			day.UserMessages = 0
		}
		if day.AIMessages < 0 {
			day.AIMessages = 0
		}
		if day.CumulativeTokens < 0 {
			day.CumulativeTokens = 0
		}
		days[key] = day
	}
	rec.DailyData = days
	return rec
}

// isBusy reports whether err is a transient SQLite lock/busy condition.
func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

// wrapBusy tags transient lock errors with ErrBusy so callers can retry.
func wrapBusy(op string, err error) error {
	if isBusy(err) {
		return fmt.Errorf("%s: %v: %w", op, err, ErrBusy)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// GetRecord fetches the record for one entity. Returns (nil, nil) when no
// record exists; creation is the writer's job, not the reader's.
func (s *SQLiteStore) GetRecord(ctx context.Context, entityID string) (*CounterRecord, error) {
	var id, name, daily string
	err := s.getRecord.QueryRowContext(ctx, entityID).Scan(&id, &name, &daily)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapBusy("get record", err)
	}

	rec := decodeRecord(id, name, daily)
	return &rec, nil
}

// PutRecord writes the whole record back, inserting or replacing the row.
func (s *SQLiteStore) PutRecord(ctx context.Context, rec *CounterRecord) error {
	if rec.EntityID == "" {
		return errors.New("put record: empty entity ID")
	}

	daily, err := json.Marshal(rec.DailyData)
	if err != nil {
		return fmt.Errorf("encode daily data: %w", err)
	}

	if _, err := s.putRecord.ExecContext(ctx, rec.EntityID, rec.EntityName, string(daily)); err != nil {
		return wrapBusy("put record", err)
	}
	return nil
}

// UpdateRecord performs a read-modify-write for one entity inside a single
// transaction. A missing record is synthesized empty before apply runs, so a
// record is created lazily on the first update. No other writer observes the
// entity between the read and the write.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, entityID string, apply func(*CounterRecord) error) error {
	if entityID == "" {
		return errors.New("update record: empty entity ID")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapBusy("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id, name, daily string
	var rec CounterRecord
	err = tx.QueryRowContext(ctx,
		"SELECT entity_id, entity_name, daily_data FROM usage_records WHERE entity_id = ?",
		entityID,
	).Scan(&id, &name, &daily)
	switch {
	case err == sql.ErrNoRows:
		rec = *NewCounterRecord(entityID)
	case err != nil:
		return wrapBusy("read record", err)
	default:
		rec = decodeRecord(id, name, daily)
	}

	if err := apply(&rec); err != nil {
		return err
	}

	encoded, err := json.Marshal(rec.DailyData)
	if err != nil {
		return fmt.Errorf("encode daily data: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_records (entity_id, entity_name, daily_data, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(entity_id) DO UPDATE SET
			entity_name = excluded.entity_name,
			daily_data  = excluded.daily_data,
			updated_at  = CURRENT_TIMESTAMP
	`, rec.EntityID, rec.EntityName, string(encoded))
	if err != nil {
		return wrapBusy("write record", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapBusy("commit", err)
	}
	return nil
}

// ListRecords returns every record in the store, in entity ID order. Display
// ordering is the caller's concern.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]CounterRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT entity_id, entity_name, daily_data FROM usage_records ORDER BY entity_id",
	)
	if err != nil {
		return nil, wrapBusy("list records", err)
	}
	defer rows.Close()

	var records []CounterRecord
	for rows.Next() {
		var id, name, daily string
		if err := rows.Scan(&id, &name, &daily); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, decodeRecord(id, name, daily))
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice rather than nil
	if records == nil {
		records = []CounterRecord{}
	}

	return records, nil
}

// GetStats aggregates totals across all records. Day-level numbers live in
// the JSON day maps, so totals are summed here rather than in SQL.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	records, err := s.ListRecords(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalEntities: int64(len(records))}
	for _, rec := range records {
		for dateKey, day := range rec.DailyData {
			stats.TotalDays++
			stats.TotalUserMessages += day.UserMessages
			stats.TotalAIMessages += day.AIMessages
			stats.TotalTokens += day.CumulativeTokens
			if stats.OldestDay == "" || dateKey < stats.OldestDay {
				stats.OldestDay = dateKey
			}
			if dateKey > stats.NewestDay {
				stats.NewestDay = dateKey
			}
		}
	}

	var updated sql.NullString
	err = s.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM usage_records").Scan(&updated)
	if err != nil {
		return nil, fmt.Errorf("last updated: %w", err)
	}
	if updated.Valid {
		stats.LastUpdated, _ = parseTimestamp(updated.String)
	}

	return stats, nil
}

// PurgeAll deletes every usage record. Operator tooling only; the engine
// itself never deletes.
func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM usage_records"); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	return nil
}

// parseTimestamp tries the timestamp formats SQLite produces.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed — that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{s.getRecord, s.putRecord}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
