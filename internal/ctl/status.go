package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string `json:"name"`
	Mode          string `json:"mode"`
	Status        string `json:"status"`
	StatusClass   string `json:"status_class"`
	StatusError   string `json:"status_error"`
	IsConnected   bool   `json:"is_connected"`
	IsLoading     bool   `json:"is_loading"`
	View          string `json:"view"`
	Transport     string `json:"transport"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Messages      struct {
		Received    uint64 `json:"received"`
		ParseErrors uint64 `json:"parse_errors"`
		Unknown     uint64 `json:"unknown"`
		NotEvents   uint64 `json:"not_events"`
	} `json:"messages"`
	Clients struct {
		Clients int64  `json:"clients"`
		Sent    uint64 `json:"sent"`
		Dropped uint64 `json:"dropped"`
	} `json:"clients"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	view := s.View
	if view == "" {
		view = colorize(dim, "none")
	}
	transport := s.Transport
	if transport == "" {
		transport = colorize(dim, "-")
	}

	outln()
	outln(header("  AGENTRON STATUS"))
	outln(rule(38))
	outf("  %-12s %s (%s)\n", colorize(dim, "Daemon:"), s.Name, s.Mode)
	outf("  %-12s %s\n", colorize(dim, "Status:"), colorize(stateColor(s.Status), s.Status))
	if s.StatusError != "" {
		outf("  %-12s %s\n", colorize(dim, "Error:"), colorize(red, s.StatusError))
	}
	outf("  %-12s %s\n", colorize(dim, "Transport:"), transport)
	outf("  %-12s %s\n", colorize(dim, "View:"), view)
	outf("  %-12s %s\n", colorize(dim, "Loading:"), yesNo(s.IsLoading, yellow))
	outf("  %-12s %s\n", colorize(dim, "Uptime:"), formatDuration(time.Duration(s.UptimeSeconds)*time.Second))
	outf("  %-12s %s\n", colorize(dim, "Messages:"), fmt.Sprintf("%d received, %d parse errors, %d unknown, %d ignored",
		s.Messages.Received, s.Messages.ParseErrors, s.Messages.Unknown, s.Messages.NotEvents))
	outf("  %-12s %d connected, %d sent, %d dropped\n", colorize(dim, "Clients:"), s.Clients.Clients, s.Clients.Sent, s.Clients.Dropped)
	outf("  %-12s %s\n", colorize(dim, "Host:"), baseURL)
	outln()

	return nil
}
