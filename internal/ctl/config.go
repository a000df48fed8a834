package ctl

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Config fetches and displays the daemon's running configuration. Secrets
// arrive already redacted.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var raw json.RawMessage
	if err := getJSON(baseURL, "/api/config", &raw); err != nil {
		return err
	}

	if jsonOutput {
		var v any
		_ = json.Unmarshal(raw, &v)
		return printJSON(v)
	}

	var resp struct {
		Path   string `json:"path"`
		Config struct {
			Server struct {
				Bind string `json:"bind"`
			} `json:"server"`
			Logging struct {
				Level  string `json:"level"`
				Format string `json:"format"`
			} `json:"logging"`
			Salesforce struct {
				InstanceURL  string `json:"instance_url"`
				APIVersion   string `json:"api_version"`
				AccessToken  string `json:"access_token"`
				EventChannel string `json:"event_channel"`
				ApexPrefix   string `json:"apex_prefix"`
			} `json:"salesforce"`
			Transport struct {
				Candidates []struct {
					Name string `json:"name"`
					Kind string `json:"kind"`
					URL  string `json:"url"`
				} `json:"candidates"`
			} `json:"transport"`
			Journal struct {
				Path        string `json:"path"`
				MaxMessages int    `json:"max_messages"`
			} `json:"journal"`
			Initial struct {
				Channel string `json:"channel"`
				JSON    string `json:"json"`
			} `json:"initial"`
			Demo struct {
				Enabled         bool `json:"enabled"`
				IntervalSeconds int  `json:"interval_seconds"`
			} `json:"demo"`
		} `json:"config"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return err
	}
	cfg := resp.Config

	outln()
	outln(header("  DAEMON CONFIGURATION"))
	outln(rule(50))
	if resp.Path != "" {
		outf("  %s %s\n", colorize(dim, "loaded from"), resp.Path)
	}

	section := func(name string) {
		outf("\n  %s\n", colorize(bold, "["+name+"]"))
	}
	field := func(key string, val any) {
		outf("    %-20s %v\n", colorize(dim, key+":"), val)
	}

	section("server")
	field("bind", cfg.Server.Bind)

	section("logging")
	field("level", cfg.Logging.Level)
	field("format", cfg.Logging.Format)

	section("salesforce")
	field("instance_url", cfg.Salesforce.InstanceURL)
	field("api_version", cfg.Salesforce.APIVersion)
	field("access_token", cfg.Salesforce.AccessToken)
	field("event_channel", cfg.Salesforce.EventChannel)
	field("apex_prefix", cfg.Salesforce.ApexPrefix)

	section("transport")
	for i, c := range cfg.Transport.Candidates {
		line := c.Name + " (" + c.Kind + ")"
		if c.URL != "" {
			line += " " + c.URL
		}
		field("candidate "+strconv.Itoa(i+1), line)
	}

	section("journal")
	field("path", cfg.Journal.Path)
	field("max_messages", cfg.Journal.MaxMessages)

	if cfg.Initial.Channel != "" {
		section("initial")
		field("channel", cfg.Initial.Channel)
		field("json", cfg.Initial.JSON)
	}

	section("demo")
	field("enabled", cfg.Demo.Enabled)
	field("interval_seconds", cfg.Demo.IntervalSeconds)

	outln()

	return nil
}
