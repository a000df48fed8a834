// Agentrond is the view-state daemon for the Agentron agent console.
//
// It loads configuration, starts the HTTP/WebSocket server, and either
// subscribes to the org's push channel or replays the demo script depending
// on config. Shutdown is handled gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/large-farva/agentron/internal/app"
	"github.com/large-farva/agentron/internal/config"
	"github.com/large-farva/agentron/internal/logging"
)

const defaultConfigPath = "/etc/agentron/agentron.toml"

func main() {
	var (
		configPath  = pflag.StringP("config", "c", defaultConfigPath, "Path to config TOML")
		bind        = pflag.String("bind", "", "HTTP bind address (overrides [server] bind)")
		channelName = pflag.String("channel", "", "Initial channel name, as carried by c__channelName")
		jsonString  = pflag.String("json", "", "Initial JSON payload, as carried by c__jsonString")
	)
	pflag.Parse()

	cfg, path, err := loadConfig(*configPath, pflag.CommandLine.Changed("config"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentrond: config load failed:", err)
		os.Exit(1)
	}
	if *channelName != "" {
		cfg.Initial = config.InitialConfig{Channel: *channelName, JSON: *jsonString}
	}

	logs := logging.NewBuffer(500)
	logger, level, err := logging.New(cfg.Logging, logs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentrond:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if path == "" {
		logger.Info("no config file, using defaults", zap.String("path", *configPath))
	}

	a, err := app.New(app.Options{
		Logger:     logger,
		Level:      level,
		Logs:       logs,
		Cfg:        cfg,
		ConfigPath: path,
		Bind:       *bind,
	})
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("agentrond failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("stopped")
}

// loadConfig reads path. A missing file at the default location falls back
// to the defaults plus environment; an explicitly named file must exist.
func loadConfig(path string, explicit bool) (config.Config, string, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return cfg, "", err
	}
	cfg = config.Default()
	config.ApplyEnv(&cfg)
	return cfg, "", config.Validate(cfg)
}
