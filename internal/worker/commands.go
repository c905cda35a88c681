package worker

import (
	"github.com/runnerr0/tally/internal/engine"
	"github.com/runnerr0/tally/internal/query"
	"github.com/runnerr0/tally/internal/storage"
)

// QueryScope selects what a QueryCommand reads.
type QueryScope int

const (
	// ScopeAll fetches every record with its full day map.
	ScopeAll QueryScope = iota
	// ScopeByDate fetches one day's usage across all entities.
	ScopeByDate
)

func (s QueryScope) String() string {
	switch s {
	case ScopeAll:
		return "all"
	case ScopeByDate:
		return "by-date"
	default:
		return "unknown"
	}
}

// Command is the closed set of messages the worker accepts. Adding a command
// kind means adding a variant here and a case to the worker's handle switch.
type Command interface {
	isCommand()
}

// UpdateCommand asks the worker to fold one event into the store.
type UpdateCommand struct {
	Seq   uint64
	Event engine.Event
}

// QueryCommand asks the worker for records; DateKey is only meaningful with
// ScopeByDate.
type QueryCommand struct {
	Seq     uint64
	Scope   QueryScope
	DateKey string
}

func (UpdateCommand) isCommand() {}
func (QueryCommand) isCommand()  {}

// Result is the closed set of messages the worker emits back.
type Result interface {
	isResult()
}

// Ack reports the outcome of an UpdateCommand. Err is nil on success; a
// failed update is reported, never silently dropped.
type Ack struct {
	Seq uint64
	Err error
}

// QueryResult carries the response to a QueryCommand. Records is populated
// for ScopeAll, Day for ScopeByDate.
type QueryResult struct {
	Seq     uint64
	Scope   QueryScope
	DateKey string
	Records []storage.CounterRecord
	Day     []query.DayUsage
	Err     error
}

func (Ack) isResult()         {}
func (QueryResult) isResult() {}
