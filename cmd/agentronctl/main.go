// Agentronctl is the command-line client for monitoring and driving a
// running agentrond instance. It connects over HTTP and WebSocket to query
// the view state, inject channel messages and stream live events.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/large-farva/agentron/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8480", "Agentron daemon URL (e.g. http://10.0.0.5:8480)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter view,toast)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --limit are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "view":
		err = ctl.View(*host, *jsonOut)

	case "messages", "errors":
		opts := ctl.MessagesOptions{JSON: *jsonOut}
		fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
		fs.IntVar(&opts.Limit, "limit", 0, "Limit number of entries shown")
		if err = fs.Parse(subArgs); err != nil {
			os.Exit(2)
		}
		if cmd == "messages" {
			err = ctl.Messages(*host, opts)
		} else {
			err = ctl.Errors(*host, opts)
		}

	case "logs":
		opts := ctl.LogsOptions{JSON: *jsonOut}
		logFlags := pflag.NewFlagSet("logs", pflag.ContinueOnError)
		logFlags.StringVar(&opts.Level, "level", "", "Filter by log level (debug, info, warn, error)")
		logFlags.IntVar(&opts.Limit, "limit", 0, "Limit number of log entries shown")
		logFlags.BoolVar(&opts.Tail, "tail", false, "Stream live log events (like watch --filter log)")
		if err = logFlags.Parse(subArgs); err != nil {
			os.Exit(2)
		}
		err = ctl.Logs(*host, opts)

	// ── Control commands ──────────────────────────────────────────
	case "send":
		if len(subArgs) < 1 {
			usage()
			os.Exit(2)
		}
		opts := ctl.SendOptions{Channel: subArgs[0], JSON: *jsonOut}
		if len(subArgs) > 1 {
			opts.Payload = subArgs[1]
		}
		err = ctl.Send(*host, opts)

	case "child":
		if len(subArgs) < 2 {
			usage()
			os.Exit(2)
		}
		opts := ctl.ChildOptions{Name: subArgs[0], Action: subArgs[1], JSON: *jsonOut}
		if len(subArgs) > 2 {
			opts.Body = subArgs[2]
		}
		err = ctl.Child(*host, opts)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		err = ctl.Watch(*host, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  agentronctl - Agentron view-state control CLI

  USAGE
    agentronctl [flags] <command> [command-flags] [args]

  COMMANDS (query)
    status          Show connection status, current view, and message counters
    health          Check daemon and component health
    version         Show CLI and daemon version information
    config          Show the daemon's running configuration (secrets redacted)
    view            Show the full view state and loading breakdown
    messages        List journaled inbound messages
    errors          List recorded error details
    logs            Show recent daemon log messages

  COMMANDS (control)
    send CHANNEL [JSON]         Inject a message through the direct input path
    child NAME ACTION [JSON]    Invoke an action on a child screen

  COMMANDS (live)
    watch           Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8480)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch: view, state, toast, log, heartbeat

  COMMAND FLAGS
    messages, errors:
        --limit N           Limit number of entries shown

    logs:
        --level LEVEL       Filter by log level (debug, info, warn, error)
        --limit N           Limit number of log entries shown
        --tail              Stream live log events

  EXAMPLES
    agentronctl status
    agentronctl --json view
    agentronctl --host http://10.0.0.5:8480 watch
    agentronctl send SELF_CHECKLIST '{"uuid":"0b5c1e7a"}'
    agentronctl send SHOW_SPINNER
    agentronctl child self_check_list toggle '{"id":"SC-1"}'
    agentronctl child self_check_list submit
    agentronctl messages --limit 20
    agentronctl errors
    agentronctl logs --level warn --limit 20
    agentronctl logs --tail
    agentronctl watch --filter view,toast

`)
}
