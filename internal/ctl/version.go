package ctl

import (
	"strings"
)

// Build-time variables set via -ldflags.
var (
	Version   = "dev"
	GoVersion = "unknown"
)

// DaemonVersion mirrors GET /api/version.
type DaemonVersion struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	BuiltAt   string `json:"built_at"`
}

// VersionInfo prints the CLI build next to the daemon's and flags a
// mismatch.
func VersionInfo(baseURL string, jsonOutput bool) error {
	var daemon DaemonVersion
	daemonErr := getJSON(strings.TrimRight(baseURL, "/"), "/api/version", &daemon)
	mismatch := daemonErr == nil && daemon.Version != Version

	if jsonOutput {
		resp := map[string]any{
			"cli": map[string]string{"version": Version, "go_version": GoVersion},
		}
		if daemonErr != nil {
			resp["daemon_error"] = daemonErr.Error()
		} else {
			resp["daemon"] = daemon
			resp["mismatch"] = mismatch
		}
		return printJSON(resp)
	}

	outln()
	outln(header("  AGENTRON VERSION"))
	outln(rule(38))
	outf("  %-12s %s (%s)\n", colorize(dim, "CLI:"), Version, GoVersion)
	switch {
	case daemonErr != nil:
		outf("  %-12s %s\n", colorize(dim, "Daemon:"), colorize(red, "unreachable: "+daemonErr.Error()))
	default:
		outf("  %-12s %s (%s)\n", colorize(dim, "Daemon:"), daemon.Version, daemon.GoVersion)
		outf("  %-12s %s\n", colorize(dim, "Built:"), daemon.BuiltAt)
		if mismatch {
			outf("  %s\n", colorize(yellow, "CLI and daemon versions differ"))
		}
	}
	outln()

	return nil
}
