package ctl

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// HealthResponse mirrors the detailed JSON form of GET /healthz.
type HealthResponse struct {
	Healthy bool                      `json:"healthy"`
	Checks  map[string]map[string]any `json:"checks"`
}

// Health checks daemon liveness and per-component health via GET /healthz.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, body, err := getRaw(baseURL, "/healthz", "application/json")
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	var h HealthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		h.Healthy = status == http.StatusOK
	}

	if jsonOutput {
		return printJSON(map[string]any{"healthy": h.Healthy, "url": baseURL, "checks": h.Checks})
	}

	outln()
	if h.Healthy {
		outf("  %s  agentrond is healthy at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		outf("  %s  agentrond returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := h.Checks[name]
		ok, _ := check["ok"].(bool)
		mark := colorize(green, "ok  ")
		if !ok {
			mark = colorize(red, "FAIL")
		}
		outf("    %s %-12s %s\n", mark, name, checkDetail(check))
	}
	outln()

	return nil
}

func checkDetail(check map[string]any) string {
	keys := make([]string, 0, len(check))
	for k := range check {
		if k != "ok" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := check[k]
		if n, ok := v.(float64); ok && strings.HasSuffix(k, "_bytes") {
			k, v = strings.TrimSuffix(k, "_bytes"), humanize.IBytes(uint64(n))
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return colorize(dim, strings.Join(parts, " "))
}
