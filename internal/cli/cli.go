package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Record *RecordCommand
	Import *ImportCommand
	Show   *ShowCommand
	Status *StatusCommand
	Purge  *PurgeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "tally"
	parser.LongDescription = "Local per-entity daily chat usage statistics: message counts and token totals in an embedded store."

	cmds := &commands{
		Record: &RecordCommand{globals: &globals, version: version},
		Import: &ImportCommand{globals: &globals, version: version},
		Show:   &ShowCommand{globals: &globals, version: version},
		Status: &StatusCommand{globals: &globals, version: version},
		Purge:  &PurgeCommand{globals: &globals, version: version},
	}

	parser.AddCommand("record", "Record one message event", "Record a single message event (user or assistant) against an entity.", cmds.Record)
	parser.AddCommand("import", "Import events from JSONL", "Import a stream of message events from a JSONL file or stdin, in order.", cmds.Import)
	parser.AddCommand("show", "Show the usage table", "Show per-entity daily usage, all days or a single day.", cmds.Show)
	parser.AddCommand("status", "Show database statistics", "Show usage database statistics and totals.", cmds.Status)
	parser.AddCommand("purge", "Delete ALL usage data", "Delete ALL usage data. Destructive operation with safety prompt.", cmds.Purge)

	return parser, &globals, cmds
}

// setupLogging configures the global zerolog logger for console output.
func setupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}

// Run is the main entry point for the tally CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	verbose := false
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("tally %s\n", version)
			return nil
		}
		if arg == "--verbose" {
			verbose = true
		}
		if arg == "--" {
			break
		}
	}

	setupLogging(verbose)

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
