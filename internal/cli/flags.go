package cli

import "database/sql"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// RecordCommand — record a single message event against an entity.
type RecordCommand struct {
	Entity    string `long:"entity" description:"Entity ID: the chat partner the event belongs to (required)"`
	Name      string `long:"name" description:"Display name for the entity (optional)"`
	Direction string `long:"direction" description:"Message direction: user | assistant" default:"user"`
	Tokens    *int64 `long:"tokens" description:"Token count for the message; estimated from --text when absent"`
	Text      string `long:"text" description:"Message text; used to estimate tokens when --tokens is absent"`
	At        string `long:"at" description:"Event timestamp (RFC3339); defaults to now"`

	globals   *GlobalFlags
	version   string
	queueSize int
}

// ImportCommand — ingest a stream of JSONL events in order.
type ImportCommand struct {
	File string `long:"file" description:"Path to JSONL event file; - or empty reads stdin" default:"-"`

	globals   *GlobalFlags
	version   string
	queueSize int
}

// ShowCommand — print the usage table, all days or one day.
type ShowCommand struct {
	Date string `long:"date" description:"Only show usage for one day (YYYY-MM-DD)"`

	globals   *GlobalFlags
	version   string
	queueSize int
}

// StatusCommand — show database statistics and totals.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// PurgeCommand — delete ALL usage data with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	db      *sql.DB // injectable for testing; nil means open default DB
}
