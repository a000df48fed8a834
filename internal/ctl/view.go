package ctl

import (
	"encoding/json"
	"sort"
	"strings"
)

// ViewResponse mirrors the JSON returned by GET /api/view.
type ViewResponse struct {
	Revision    uint64          `json:"revision"`
	Status      string          `json:"status"`
	StatusClass string          `json:"status_class"`
	StatusError string          `json:"status_error"`
	IsConnected bool            `json:"is_connected"`
	View        string          `json:"view"`
	Generation  uint64          `json:"generation"`
	Visible     map[string]bool `json:"visible"`
	Loading     struct {
		IsLoading         bool     `json:"is_loading"`
		Initial           bool     `json:"initial"`
		Child             bool     `json:"child"`
		SaveProcessing    bool     `json:"save_processing"`
		GeneralProcessing bool     `json:"general_processing"`
		ActiveChildren    []string `json:"active_children"`
	} `json:"loading"`
	NormalSpinner bool            `json:"normal_spinner"`
	DownloadReady bool            `json:"download_ready"`
	UUID          string          `json:"uuid"`
	TrackingID    string          `json:"tracking_id"`
	ReportID      string          `json:"report_id"`
	Channel       string          `json:"channel"`
	Payload       json.RawMessage `json:"payload"`
	Child         json.RawMessage `json:"child"`
}

// View prints the coordinator's current view state: which child is shown,
// the loading breakdown and the identifiers carried by the last message.
func View(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var v ViewResponse
	if err := getJSON(baseURL, "/api/view", &v); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(v)
	}

	outln()
	outln(header("  VIEW STATE"))
	outln(rule(44))
	outf("  %-14s %s\n", colorize(dim, "Status:"), colorize(stateColor(v.StatusClass), v.Status))
	outf("  %-14s %s\n", colorize(dim, "View:"), colorize(bold, v.View))
	outf("  %-14s %d (generation %d)\n", colorize(dim, "Revision:"), v.Revision, v.Generation)

	var shown []string
	for name, on := range v.Visible {
		if on {
			shown = append(shown, name)
		}
	}
	sort.Strings(shown)
	if len(shown) == 0 {
		shown = []string{colorize(dim, "none")}
	}
	outf("  %-14s %s\n", colorize(dim, "Visible:"), strings.Join(shown, ", "))

	l := v.Loading
	outf("\n  %s %s\n", colorize(bold, "Loading"), yesNo(l.IsLoading, yellow))
	outf("    %-18s %s\n", colorize(dim, "initial:"), yesNo(l.Initial, yellow))
	child := yesNo(l.Child, yellow)
	if len(l.ActiveChildren) > 0 {
		child += colorize(dim, " ("+strings.Join(l.ActiveChildren, ", ")+")")
	}
	outf("    %-18s %s\n", colorize(dim, "child:"), child)
	outf("    %-18s %s\n", colorize(dim, "save processing:"), yesNo(l.SaveProcessing, yellow))
	outf("    %-18s %s\n", colorize(dim, "processing:"), yesNo(l.GeneralProcessing, yellow))
	outf("    %-18s %s\n", colorize(dim, "normal spinner:"), yesNo(v.NormalSpinner, yellow))
	outf("    %-18s %s\n", colorize(dim, "download ready:"), yesNo(v.DownloadReady, green))

	if v.Channel != "" || v.UUID != "" {
		outf("\n  %s\n", colorize(bold, "Last message"))
		for _, kv := range [][2]string{
			{"channel", v.Channel},
			{"uuid", v.UUID},
			{"report id", v.ReportID},
			{"tracking id", v.TrackingID},
		} {
			if kv[1] != "" {
				outf("    %-18s %s\n", colorize(dim, kv[0]+":"), kv[1])
			}
		}
	}
	outln()

	return nil
}
