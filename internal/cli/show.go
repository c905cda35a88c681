package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/runnerr0/tally/internal/query"
	"github.com/runnerr0/tally/internal/storage"
)

// Execute implements the go-flags Commander interface for ShowCommand.
func (c *ShowCommand) Execute(args []string) error {
	store, db, cfg, err := openDefaultStore(c.globals)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()
	defer db.Close()

	c.queueSize = cfg.Worker.QueueSize
	return c.executeWithStore(store)
}

// executeWithStore runs the show logic against a provided store (used by tests).
func (c *ShowCommand) executeWithStore(store storage.Store) error {
	ctx := context.Background()
	dispatcher, stop, err := startDispatcher(ctx, store, queueSizeOrDefault(c.queueSize))
	if err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	defer stop()

	if c.Date != "" {
		dateKey, err := parseDateKey(c.Date)
		if err != nil {
			return err
		}
		usages, err := dispatcher.QueryByDate(ctx, dateKey)
		if err != nil {
			return fmt.Errorf("querying usage: %w", err)
		}
		return c.printDay(dateKey, usages)
	}

	records, err := dispatcher.QueryAll(ctx)
	if err != nil {
		return fmt.Errorf("querying usage: %w", err)
	}
	return c.printAll(records)
}

func (c *ShowCommand) printDay(dateKey string, usages []query.DayUsage) error {
	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"date":  dateKey,
			"usage": usages,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(usages) == 0 {
		fmt.Printf("No usage recorded on %s\n", dateKey)
		return nil
	}

	rows := make([]query.Row, 0, len(usages))
	for _, u := range usages {
		rows = append(rows, query.Row{
			Date:             dateKey,
			EntityName:       u.EntityName,
			UserMessages:     u.Counters.UserMessages,
			AIMessages:       u.Counters.AIMessages,
			CumulativeTokens: u.Counters.CumulativeTokens,
		})
	}
	printRows(rows)
	return nil
}

func (c *ShowCommand) printAll(records []storage.CounterRecord) error {
	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	rows := query.Rows(records)
	if len(rows) == 0 {
		fmt.Println("No usage recorded")
		return nil
	}
	printRows(rows)
	return nil
}

// printRows renders the usage table. Rows arrive pre-sorted; a blank date
// cell marks a continuation of the group above.
func printRows(rows []query.Row) {
	fmt.Printf("%-12s %-24s %10s %10s %10s\n", "Date", "Name", "User", "AI", "Tokens")

	prevDate := ""
	for _, r := range rows {
		date := r.Date
		if date == prevDate {
			date = ""
		} else {
			prevDate = r.Date
		}
		fmt.Printf("%-12s %-24s %10s %10s %10s\n",
			date,
			truncateName(r.EntityName, 24),
			formatNumber(r.UserMessages),
			formatNumber(r.AIMessages),
			formatNumber(r.CumulativeTokens),
		)
	}
}

// truncateName shortens long display names so the table stays aligned.
func truncateName(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
