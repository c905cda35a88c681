package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/runnerr0/tally/internal/config"
	"github.com/runnerr0/tally/internal/engine"
	"github.com/runnerr0/tally/internal/query"
	"github.com/runnerr0/tally/internal/storage"
	"github.com/runnerr0/tally/internal/worker"
)

// loadConfig resolves the config for a command, honoring --config.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.LoadOrCreateAt(globals.Config)
	}
	return config.LoadOrCreate()
}

// sqliteDSNOptions configure every store connection: WAL for concurrent
// readers, a busy timeout for transient lock waits, and immediate
// transactions so a read-modify-write takes the write lock up front.
const sqliteDSNOptions = "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

// openStoreAt opens (and migrates) the SQLite store at dbPath.
func openStoreAt(dbPath string) (*storage.SQLiteStore, *sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+sqliteDSNOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	runner := storage.NewMigrationRunner(db)
	if err := runner.Run(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	store, err := storage.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create store: %w", err)
	}

	return store, db, nil
}

// openDefaultStore opens the configured database, runs migrations, and
// returns a ready-to-use store, the underlying *sql.DB, and the config it
// was resolved from.
func openDefaultStore(globals *GlobalFlags) (*storage.SQLiteStore, *sql.DB, *config.Config, error) {
	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, nil, nil, err
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, nil, nil, err
	}

	store, db, err := openStoreAt(dbPath)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, db, cfg, nil
}

// queueSizeOrDefault falls back to the stock worker queue size when a
// command has no configured value.
func queueSizeOrDefault(n int) int {
	if n <= 0 {
		return worker.DefaultQueueSize
	}
	return n
}

// startDispatcher wires the worker bridge over a store and starts it. The
// returned stop function drains pending commands before returning.
func startDispatcher(ctx context.Context, store storage.Store, queueSize int) (*worker.Dispatcher, func(), error) {
	eng := engine.New(store, engine.WithLogger(log.Logger))
	svc := query.NewService(store)

	w, err := worker.New(eng, svc,
		worker.WithLogger(log.Logger),
		worker.WithQueueSize(queueSize),
	)
	if err != nil {
		return nil, nil, err
	}

	if err := w.Start(ctx); err != nil {
		return nil, nil, err
	}

	stop := func() {
		w.Stop()
		select {
		case <-w.Done():
		case <-time.After(5 * time.Second):
			log.Warn().Msg("worker did not drain in time")
		}
	}
	return worker.NewDispatcher(w), stop, nil
}

// parseDirection maps a flag value onto a message direction.
func parseDirection(s string) (engine.Direction, error) {
	switch s {
	case "user":
		return engine.DirectionUser, nil
	case "assistant", "ai":
		return engine.DirectionAssistant, nil
	default:
		return "", fmt.Errorf("invalid direction %q (use user or assistant)", s)
	}
}

// parseEventTime accepts either an RFC3339 timestamp or a unix
// epoch in milliseconds.
func parseEventTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return time.UnixMilli(ms), nil
}

// parseDateKey validates a YYYY-MM-DD day key.
func parseDateKey(s string) (string, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return t.Format("2006-01-02"), nil
}
