// Package ctl implements the client-side commands for agentronctl.
// It talks to a running agentrond over HTTP and WebSocket and renders the results to the terminal.
package ctl

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// ANSI escape codes for terminal formatting.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	cyan   = "\033[36m"
	white  = "\033[37m"
)

// stdout receives all command output.
var stdout io.Writer = os.Stdout

// colorEnabled reports whether output goes to a terminal. When output is
// piped or redirected, ANSI escape codes are suppressed.
func colorEnabled() bool {
	f, ok := stdout.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// stateColor returns the ANSI color for a connection status or its class.
func stateColor(state string) string {
	if !colorEnabled() {
		return ""
	}
	switch state {
	case "Subscribed", "Connected", "success":
		return green
	case "Connecting", "Loading Transport", "Getting Session ID":
		return yellow
	case "Initializing", "default":
		return dim
	case "Failed", "error":
		return red
	default:
		return white
	}
}

// colorize wraps text with an ANSI color sequence.
// Returns the text unchanged when color output is disabled.
func colorize(color, text string) string {
	if !colorEnabled() || color == "" {
		return text
	}
	return color + text + reset
}

// header returns a bold section header, or plain text when color is off.
func header(title string) string {
	if colorEnabled() {
		return bold + title + reset
	}
	return title
}

func rule(width int) string {
	return colorize(dim, "  "+strings.Repeat("─", width))
}

// padRight pads s with spaces to reach the given width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// truncate shortens s to width runes, marking the cut with "...".
func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width || width < 4 {
		return s
	}
	return string(r[:width-3]) + "..."
}

// formatDuration renders a time.Duration as a compact human string like
// "2h 14m 8s" or "45s".
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// formatClock renders an RFC 3339 timestamp as local wall-clock time.
func formatClock(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		if len(ts) > 10 {
			return ts[:10]
		}
		return ts
	}
	return t.Local().Format("15:04:05")
}

// yesNo renders a flag, highlighting the set case.
func yesNo(v bool, on string) string {
	if v {
		return colorize(on, "yes")
	}
	return colorize(dim, "no")
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return colorize(blue, "DEBUG")
	case "info":
		return colorize(green, "INFO ")
	case "warn":
		return colorize(yellow, "WARN ")
	case "error":
		return colorize(red, "ERROR")
	default:
		return padRight(strings.ToUpper(level), 5)
	}
}

func outf(format string, args ...any) {
	fmt.Fprintf(stdout, format, args...)
}

func outln(args ...any) {
	fmt.Fprintln(stdout, args...)
}
