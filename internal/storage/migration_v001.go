package storage

import "database/sql"

// migrateV001 creates the initial schema: the usage_records table and its
// indexes. Every statement uses IF NOT EXISTS so re-opening a database that
// already carries the schema leaves it untouched.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS usage_records (
			entity_id   TEXT PRIMARY KEY,
			entity_name TEXT NOT NULL DEFAULT '',
			daily_data  TEXT NOT NULL DEFAULT '{}',
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_usage_records_name       ON usage_records(entity_name)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_updated_at ON usage_records(updated_at)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
