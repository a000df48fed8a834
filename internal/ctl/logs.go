package ctl

import (
	"fmt"
	"sort"
	"strings"
)

// LogsOptions configures the logs command.
type LogsOptions struct {
	Level string
	Limit int
	Tail  bool
	JSON  bool
}

// Logs shows recent daemon log messages, or streams them live with --tail.
func Logs(baseURL string, opts LogsOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	if opts.Tail {
		return Watch(baseURL, WatchOptions{
			Filter: []string{"log"},
			JSON:   opts.JSON,
		})
	}

	path := "/api/logs"
	var params []string
	if opts.Level != "" {
		params = append(params, "level="+opts.Level)
	}
	if opts.Limit > 0 {
		params = append(params, fmt.Sprintf("limit=%d", opts.Limit))
	}
	if len(params) > 0 {
		path += "?" + strings.Join(params, "&")
	}

	var resp struct {
		Logs []struct {
			TS      string         `json:"ts"`
			Level   string         `json:"level"`
			Logger  string         `json:"logger"`
			Message string         `json:"message"`
			Fields  map[string]any `json:"fields,omitempty"`
		} `json:"logs"`
	}
	if err := getJSON(baseURL, path, &resp); err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(resp)
	}

	outln()
	outln(header("  DAEMON LOGS"))
	outln(rule(70))

	if len(resp.Logs) == 0 {
		outln("  No log entries found.")
	}
	for _, entry := range resp.Logs {
		outf("  %s\n", logLine(entry.TS, entry.Level, entry.Logger, entry.Message, entry.Fields))
	}

	outln()
	return nil
}

// logLine renders one log entry. Shared by logs and watch.
func logLine(ts, level, logger, message string, fields map[string]any) string {
	src := ""
	if logger != "" {
		src = colorize(dim, "["+logger+"] ")
	}
	return fmt.Sprintf("%s %s  %s%s%s", colorize(dim, formatClock(ts)), formatLogLevel(level), src, message, formatFields(fields))
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return colorize(dim, b.String())
}
