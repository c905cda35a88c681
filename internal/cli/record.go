package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/tally/internal/engine"
	"github.com/runnerr0/tally/internal/storage"
	"github.com/runnerr0/tally/internal/token"
)

// Execute implements the go-flags Commander interface for RecordCommand.
func (c *RecordCommand) Execute(args []string) error {
	if c.Entity == "" {
		return fmt.Errorf("--entity is required for record command")
	}

	store, db, cfg, err := openDefaultStore(c.globals)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()
	defer db.Close()

	c.queueSize = cfg.Worker.QueueSize
	return c.executeWithStore(store)
}

// executeWithStore runs the record logic against a provided store (used by tests).
func (c *RecordCommand) executeWithStore(store storage.Store) error {
	direction, err := parseDirection(c.Direction)
	if err != nil {
		return err
	}

	if c.Tokens != nil && c.Text != "" {
		return fmt.Errorf("--tokens and --text are mutually exclusive")
	}

	var tokens int64
	if c.Tokens != nil {
		tokens = *c.Tokens
	} else {
		// No explicit count: estimate from the text, zero when neither given.
		tokens = token.Estimate(c.Text)
	}

	var occurredAt time.Time
	if c.At != "" {
		occurredAt, err = time.Parse(time.RFC3339, c.At)
		if err != nil {
			return fmt.Errorf("invalid --at timestamp %q (use RFC3339): %w", c.At, err)
		}
	}

	ev := engine.Event{
		EntityID:   c.Entity,
		EntityName: c.Name,
		Direction:  direction,
		TokenDelta: tokens,
		OccurredAt: occurredAt,
	}

	ctx := context.Background()
	dispatcher, stop, err := startDispatcher(ctx, store, queueSizeOrDefault(c.queueSize))
	if err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	defer stop()

	if err := dispatcher.Update(ctx, ev); err != nil {
		return fmt.Errorf("recording event: %w", err)
	}

	dateKey := engine.DayKey(occurredAt)
	if occurredAt.IsZero() {
		dateKey = engine.DayKey(time.Now())
	}

	if c.globals.JSON {
		out := map[string]interface{}{
			"entityId":  c.Entity,
			"direction": string(direction),
			"tokens":    tokens,
			"day":       dateKey,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Recorded %s message for %s on %s (+%d tokens)\n", direction, c.Entity, dateKey, tokens)
	return nil
}
