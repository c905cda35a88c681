package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/tally/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string `json:"version"`
	DatabasePath      string `json:"database_path"`
	DatabaseSizeBytes int64  `json:"database_size_bytes"`
	TotalEntities     int64  `json:"total_entities"`
	TotalDays         int64  `json:"total_days"`
	TotalUserMessages int64  `json:"total_user_messages"`
	TotalAIMessages   int64  `json:"total_ai_messages"`
	TotalTokens       int64  `json:"total_tokens"`
	OldestDay         string `json:"oldest_day,omitempty"`
	NewestDay         string `json:"newest_day,omitempty"`
	LastUpdated       string `json:"last_updated,omitempty"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}

	store, db, err := openStoreAt(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()
	defer db.Close()

	return c.executeWithStore(store, db, dbPath)
}

// executeWithStore runs status against a provided store and db (used by tests).
func (c *StatusCommand) executeWithStore(store *storage.SQLiteStore, db *sql.DB, dbPath string) error {
	ctx := context.Background()

	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	dbSize := getDatabaseSize(db, dbPath)

	if c.globals != nil && c.globals.JSON {
		return c.printStatusJSON(stats, dbPath, dbSize)
	}
	return c.printStatusHuman(stats, dbPath, dbSize)
}

func (c *StatusCommand) printStatusHuman(stats *storage.Stats, dbPath string, dbSize int64) error {
	fmt.Println("Tally Status")
	fmt.Println("============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", dbPath, formatBytes(dbSize))
	fmt.Printf("Entities:      %s\n", formatNumber(stats.TotalEntities))
	fmt.Printf("Tracked days:  %s\n", formatNumber(stats.TotalDays))
	fmt.Printf("User msgs:     %s\n", formatNumber(stats.TotalUserMessages))
	fmt.Printf("AI msgs:       %s\n", formatNumber(stats.TotalAIMessages))
	fmt.Printf("Tokens:        %s\n", formatNumber(stats.TotalTokens))

	if stats.TotalDays > 0 {
		fmt.Printf("Oldest day:    %s\n", stats.OldestDay)
		fmt.Printf("Newest day:    %s\n", stats.NewestDay)
	}
	if !stats.LastUpdated.IsZero() {
		fmt.Printf("Last updated:  %s\n", stats.LastUpdated.Local().Format("2006-01-02 15:04"))
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(stats *storage.Stats, dbPath string, dbSize int64) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: dbSize,
		TotalEntities:     stats.TotalEntities,
		TotalDays:         stats.TotalDays,
		TotalUserMessages: stats.TotalUserMessages,
		TotalAIMessages:   stats.TotalAIMessages,
		TotalTokens:       stats.TotalTokens,
		OldestDay:         stats.OldestDay,
		NewestDay:         stats.NewestDay,
	}
	if !stats.LastUpdated.IsZero() {
		out.LastUpdated = stats.LastUpdated.UTC().Format(time.RFC3339)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// getDatabaseSize returns the database file size in bytes. For on-disk
// databases it uses os.Stat; for in-memory databases it queries
// page_count * page_size.
func getDatabaseSize(db *sql.DB, dbPath string) int64 {
	if info, err := os.Stat(dbPath); err == nil {
		return info.Size()
	}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		result.WriteString(s[i : i+3])
		if i+3 < len(s) {
			result.WriteString(",")
		}
	}
	return result.String()
}
