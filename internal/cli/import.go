package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/runnerr0/tally/internal/engine"
	"github.com/runnerr0/tally/internal/storage"
	"github.com/runnerr0/tally/internal/token"
)

// importEvent is one JSONL line of the import stream. Token count may be
// given directly or estimated from the message text.
type importEvent struct {
	EntityID   string `json:"entityId"`
	EntityName string `json:"entityName,omitempty"`
	Direction  string `json:"direction"`
	Tokens     *int64 `json:"tokens,omitempty"`
	Text       string `json:"text,omitempty"`
	At         string `json:"at,omitempty"`
}

// Execute implements the go-flags Commander interface for ImportCommand.
func (c *ImportCommand) Execute(args []string) error {
	var in io.Reader = os.Stdin
	if c.File != "" && c.File != "-" {
		f, err := os.Open(c.File)
		if err != nil {
			return fmt.Errorf("opening event file: %w", err)
		}
		defer f.Close()
		in = f
	}

	store, db, cfg, err := openDefaultStore(c.globals)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()
	defer db.Close()

	c.queueSize = cfg.Worker.QueueSize
	return c.executeWithStore(store, in)
}

// executeWithStore runs the import against a provided store and input
// stream (used by tests).
func (c *ImportCommand) executeWithStore(store storage.Store, in io.Reader) error {
	ctx := context.Background()
	dispatcher, stop, err := startDispatcher(ctx, store, queueSizeOrDefault(c.queueSize))
	if err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	defer stop()

	var imported, failed int
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		ev, err := parseImportLine(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", lineNo, err)
			failed++
			continue
		}

		// Dispatched in line order; the worker preserves it.
		if err := dispatcher.Update(ctx, ev); err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", lineNo, err)
			failed++
			continue
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading events: %w", err)
	}

	if c.globals.JSON {
		out := map[string]interface{}{
			"imported": imported,
			"failed":   failed,
		}
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(out)
	}

	fmt.Printf("Imported %d events", imported)
	if failed > 0 {
		fmt.Printf(" (%d failed)", failed)
	}
	fmt.Println()
	return nil
}

// parseImportLine decodes one JSONL line into an engine event.
func parseImportLine(line []byte) (engine.Event, error) {
	var raw importEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return engine.Event{}, fmt.Errorf("invalid JSON: %w", err)
	}

	direction, err := parseDirection(raw.Direction)
	if err != nil {
		return engine.Event{}, err
	}

	var tokens int64
	if raw.Tokens != nil {
		tokens = *raw.Tokens
	} else {
		tokens = token.Estimate(raw.Text)
	}

	ev := engine.Event{
		EntityID:   raw.EntityID,
		EntityName: raw.EntityName,
		Direction:  direction,
		TokenDelta: tokens,
	}

	if raw.At != "" {
		// Unparseable timestamps are not fatal; the engine falls back to now.
		if t, err := parseEventTime(raw.At); err == nil {
			ev.OccurredAt = t
		}
	}

	return ev, nil
}
