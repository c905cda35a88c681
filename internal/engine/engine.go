// Package engine implements the daily usage aggregation: one observed chat
// event becomes one read-modify-write against the counter store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/runnerr0/tally/internal/storage"
)

// Direction says whether a message was authored by the local user or by the
// assistant.
type Direction string

const (
	DirectionUser      Direction = "user"
	DirectionAssistant Direction = "assistant"
)

// ErrMissingEntity is returned when an event carries no entity ID. Such an
// event cannot be attributed and must not touch aggregate state.
var ErrMissingEntity = errors.New("event has no entity ID")

// Event is one observed message-send or message-receive occurrence.
type Event struct {
	EntityID   string    `json:"entityId"`
	EntityName string    `json:"entityName,omitempty"`
	Direction  Direction `json:"direction"`
	TokenDelta int64     `json:"tokenDelta"`
	OccurredAt time.Time `json:"occurredAt,omitempty"`
}

// Engine applies events to the counter store. It owns all writes; readers go
// through the query service. The store handle is passed in at construction —
// there is no hidden shared connection.
type Engine struct {
	store storage.Store
	log   zerolog.Logger
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine writing to store.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		log:   zerolog.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DayKey returns the UTC calendar date bucket for a timestamp.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// RecordEvent folds one event into the entity's daily counters: +1 to the
// counter matching the direction, +TokenDelta to the cumulative token count,
// and an opportunistic display-name refresh. The whole read-modify-write runs
// as one store transaction; a transient write conflict is retried once before
// the failure surfaces.
//
// Bad inputs are coerced rather than rejected: a negative token delta counts
// as zero and a zero timestamp falls back to the current time. The one hard
// requirement is the entity ID — without it the event is dropped with
// ErrMissingEntity and nothing is written.
func (e *Engine) RecordEvent(ctx context.Context, ev Event) error {
	entityID := strings.TrimSpace(ev.EntityID)
	if entityID == "" {
		e.log.Warn().Msg("dropping event with no entity ID")
		return ErrMissingEntity
	}

	delta := ev.TokenDelta
	if delta < 0 {
		e.log.Debug().Int64("delta", ev.TokenDelta).Str("entity", entityID).
			Msg("clamping negative token delta to 0")
		delta = 0
	}

	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = e.now()
	}
	dateKey := DayKey(occurredAt)

	apply := func(rec *storage.CounterRecord) error {
		day := rec.Day(dateKey)

		switch ev.Direction {
		case DirectionUser:
			day.UserMessages++
		case DirectionAssistant:
			day.AIMessages++
		default:
			// Unattributed direction: tokens still count, messages don't.
			e.log.Debug().Str("direction", string(ev.Direction)).Str("entity", entityID).
				Msg("unknown message direction")
		}
		day.CumulativeTokens += delta
		rec.DailyData[dateKey] = day

		if name := strings.TrimSpace(ev.EntityName); name != "" && name != rec.EntityName {
			rec.EntityName = name
		}
		return nil
	}

	err := e.store.UpdateRecord(ctx, entityID, apply)
	if errors.Is(err, storage.ErrBusy) {
		e.log.Debug().Str("entity", entityID).Msg("write conflict, retrying once")
		err = e.store.UpdateRecord(ctx, entityID, apply)
	}
	if err != nil {
		e.log.Error().Err(err).Str("entity", entityID).Str("day", dateKey).
			Msg("failed to record event")
		return fmt.Errorf("record event for %s: %w", entityID, err)
	}

	e.log.Debug().Str("entity", entityID).Str("day", dateKey).
		Str("direction", string(ev.Direction)).Int64("tokens", delta).
		Msg("event recorded")
	return nil
}
