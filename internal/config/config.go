// Package config handles loading, defaulting, and validation of the agentron
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/large-farva/agentron/internal/bayeux"
)

// Environment variables that override file values.
const (
	EnvAccessToken = "AGENTRON_ACCESS_TOKEN"
	EnvInstanceURL = "AGENTRON_INSTANCE_URL"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Server     ServerConfig     `toml:"server"     json:"server"`
	Logging    LoggingConfig    `toml:"logging"    json:"logging"`
	Salesforce SalesforceConfig `toml:"salesforce" json:"salesforce"`
	Transport  TransportConfig  `toml:"transport"  json:"transport"`
	Journal    JournalConfig    `toml:"journal"    json:"journal"`
	Initial    InitialConfig    `toml:"initial"    json:"initial"`
	Demo       DemoConfig       `toml:"demo"       json:"demo"`
}

type ServerConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
	// Format is "json" or "console".
	Format string `toml:"format" json:"format"`
}

type SalesforceConfig struct {
	InstanceURL  string `toml:"instance_url"  json:"instance_url"`
	APIVersion   string `toml:"api_version"   json:"api_version"`
	AccessToken  string `toml:"access_token"  json:"access_token"`
	EventChannel string `toml:"event_channel" json:"event_channel"`
	ApexPrefix   string `toml:"apex_prefix"   json:"apex_prefix"`
}

// Endpoint is the CometD URL for the configured instance and API version.
func (s SalesforceConfig) Endpoint() string {
	return strings.TrimRight(s.InstanceURL, "/") + "/cometd/" + s.APIVersion + "/"
}

type TransportConfig struct {
	// Candidates are tried in order until one loads.
	Candidates []bayeux.Candidate `toml:"candidates" json:"candidates"`
}

type JournalConfig struct {
	// Path of the sqlite journal. Empty keeps the journal in memory.
	Path        string `toml:"path"         json:"path"`
	MaxMessages int    `toml:"max_messages" json:"max_messages"`
}

// InitialConfig is the direct input processed once at startup, the same
// pair a page URL would carry.
type InitialConfig struct {
	Channel string `toml:"channel" json:"channel"`
	JSON    string `toml:"json"    json:"json"`
}

type DemoConfig struct {
	Enabled         bool `toml:"enabled"          json:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds" json:"interval_seconds"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1:8480",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Salesforce: SalesforceConfig{
			APIVersion:   "47.0",
			EventChannel: "/event/AgentronEvent__e",
		},
		Transport: TransportConfig{
			Candidates: []bayeux.Candidate{
				{Name: "cometd-long-polling", Kind: bayeux.KindLongPolling},
				{Name: "cometd-websocket", Kind: bayeux.KindWebSocket},
			},
		},
		Journal: JournalConfig{
			Path:        "/var/lib/agentron/journal.db",
			MaxMessages: 500,
		},
		Demo: DemoConfig{
			Enabled:         true,
			IntervalSeconds: 2,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults,
// applies environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// ApplyEnv overrides secrets and the instance from the environment.
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvAccessToken); ok && v != "" {
		cfg.Salesforce.AccessToken = v
	}
	if v, ok := os.LookupEnv(EnvInstanceURL); ok && v != "" {
		cfg.Salesforce.InstanceURL = v
	}
}

// Validate checks cross-field constraints.
func Validate(cfg Config) error {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format %q must be json or console", cfg.Logging.Format)
	}
	if cfg.Demo.IntervalSeconds < 0 {
		return errors.New("demo.interval_seconds must be >= 0")
	}
	if cfg.Journal.MaxMessages < 1 {
		return errors.New("journal.max_messages must be >= 1")
	}
	if cfg.Demo.Enabled {
		return nil
	}

	// A live connection needs somewhere to connect to.
	if cfg.Salesforce.InstanceURL == "" {
		return errors.New("salesforce.instance_url must be set when demo is disabled")
	}
	if !strings.HasPrefix(cfg.Salesforce.InstanceURL, "https://") && !strings.HasPrefix(cfg.Salesforce.InstanceURL, "http://") {
		return errors.New("salesforce.instance_url must be an http(s) URL")
	}
	if cfg.Salesforce.EventChannel == "" {
		return errors.New("salesforce.event_channel must not be empty")
	}
	if cfg.Salesforce.APIVersion == "" {
		return errors.New("salesforce.api_version must not be empty")
	}
	if len(cfg.Transport.Candidates) == 0 {
		return errors.New("transport.candidates must list at least one transport")
	}
	for i, c := range cfg.Transport.Candidates {
		if c.Kind == "" {
			return fmt.Errorf("transport.candidates[%d].kind must not be empty", i)
		}
	}
	return nil
}

// Redacted returns a copy safe to print or serve.
func (c Config) Redacted() Config {
	if c.Salesforce.AccessToken != "" {
		c.Salesforce.AccessToken = "********"
	}
	c.Transport.Candidates = append([]bayeux.Candidate(nil), c.Transport.Candidates...)
	return c
}
