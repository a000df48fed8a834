// Package app wires together the HTTP server, the WebSocket hub, the view
// coordinator and either the live push connection or the demo runner. It
// owns the daemon's lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/large-farva/agentron/internal/backend"
	"github.com/large-farva/agentron/internal/bootstrap"
	"github.com/large-farva/agentron/internal/config"
	"github.com/large-farva/agentron/internal/coordinator"
	"github.com/large-farva/agentron/internal/demo"
	"github.com/large-farva/agentron/internal/journal"
	"github.com/large-farva/agentron/internal/logging"
	"github.com/large-farva/agentron/internal/telemetry"
	"github.com/large-farva/agentron/internal/ws"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger *zap.Logger
	// Level is exposed at /api/log-level when set.
	Level zap.AtomicLevel
	// Logs backs /api/logs and the hub's log events. May be nil.
	Logs       *logging.Buffer
	Cfg        config.Config
	ConfigPath string
	Bind       string

	// Backend replaces the Apex client, or the canned demo backend in demo
	// mode.
	Backend coordinator.Backend
	// Session replaces the Apex client as the push credential source.
	Session bootstrap.SessionSource
}

// App is the top-level daemon process.
type App struct {
	log        *zap.Logger
	level      zap.AtomicLevel
	logs       *logging.Buffer
	cfg        config.Config
	configPath string
	bind       string

	startedAt time.Time
	addr      atomic.Value // string, set once listening

	hub     *ws.Hub
	journal *journal.Journal
	coord   *coordinator.Coordinator
	boot    *bootstrap.Bootstrapper
	runner  *demo.Runner
}

// New opens the journal and builds every component. Nothing runs until Run.
func New(opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.Cfg

	jr, err := journal.Open(cfg.Journal.Path, cfg.Journal.MaxMessages)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	a := &App{
		log:        log,
		level:      opts.Level,
		logs:       opts.Logs,
		cfg:        cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		hub:        ws.NewHub(log.Named("ws")),
		journal:    jr,
	}

	api := opts.Backend
	var apex *backend.Client
	if api == nil {
		if cfg.Demo.Enabled {
			api = demo.NewBackend()
		} else {
			apex = backend.New(backend.Options{
				InstanceURL: cfg.Salesforce.InstanceURL,
				APIPrefix:   cfg.Salesforce.ApexPrefix,
				AccessToken: cfg.Salesforce.AccessToken,
				Logger:      log.Named("backend"),
			})
			api = apex
		}
	}

	a.coord = coordinator.New(coordinator.Options{
		Backend:   api,
		Journal:   jr,
		Publisher: a.hub,
		Logger:    log.Named("coordinator"),
	})

	if cfg.Demo.Enabled {
		a.runner = demo.New(a.coord, a.coord, log.Named("demo"))
		if cfg.Demo.IntervalSeconds > 0 {
			a.runner.StepDelay = time.Duration(cfg.Demo.IntervalSeconds) * time.Second
		}
	} else {
		session := opts.Session
		if session == nil {
			if apex == nil {
				_ = jr.Close()
				return nil, errors.New("a session source is required when the backend is replaced in live mode")
			}
			session = apex
		}
		a.boot = bootstrap.New(bootstrap.Options{
			Session:    session,
			Status:     a.coord,
			Candidates: cfg.Transport.Candidates,
			Endpoint:   cfg.Salesforce.Endpoint(),
			Channel:    cfg.Salesforce.EventChannel,
			Logger:     log.Named("bootstrap"),
		})
	}

	if a.logs != nil {
		a.logs.SetOnEntry(func(e logging.Entry) {
			a.hub.BroadcastJSON(telemetry.NewLogLine(e.Level, e.Logger, e.Message, e.Fields))
		})
	}
	return a, nil
}

// Coordinator exposes the view coordinator, mainly for tests.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// Addr is the listen address once Run has bound it.
func (a *App) Addr() string {
	s, _ := a.addr.Load().(string)
	return s
}

// Run starts every component and blocks until ctx is cancelled or the
// server fails. A failed push connection does not stop the daemon.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if a.logs != nil {
			a.logs.SetOnEntry(nil)
		}
		if err := a.journal.Close(); err != nil {
			a.log.Warn("closing journal", zap.Error(err))
		}
	}()

	bind := a.bind
	if bind == "" && a.cfg.Server.Bind != "" {
		bind = a.cfg.Server.Bind
	}
	if bind == "" {
		bind = "127.0.0.1:8480"
	}

	server := &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	a.addr.Store(ln.Addr().String())
	a.log.Info("listening", zap.String("url", "http://"+ln.Addr().String()), zap.String("mode", a.mode()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return a.coord.Run(gctx) })

	if in := a.cfg.Initial; in.Channel != "" {
		if err := a.coord.DispatchInitial(in.Channel, in.JSON); err != nil {
			a.log.Warn("initial input rejected", zap.String("channel", in.Channel), zap.Error(err))
		}
	}

	g.Go(func() error {
		a.heartbeatLoop(gctx)
		return nil
	})
	if a.runner != nil {
		g.Go(func() error {
			a.runner.Run(gctx)
			return nil
		})
	} else {
		g.Go(func() error {
			a.connect(gctx)
			return nil
		})
	}

	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutdown requested")
		a.coord.Stop()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(sctx)
	})

	return g.Wait()
}

func (a *App) mode() string {
	if a.runner != nil {
		return "demo"
	}
	return "live"
}

// connect runs the bootstrap and then delivers push messages to the
// coordinator until ctx ends.
func (a *App) connect(ctx context.Context) {
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.boot.Close(cctx); err != nil {
			a.log.Debug("disconnect", zap.Error(err))
		}
	}()

	if err := a.boot.Initialize(ctx); err != nil {
		// Status and error detail are already recorded.
		return
	}
	a.log.Info("push connection ready", zap.String("transport", a.boot.Candidate().Name))

	err := a.boot.Client().Listen(ctx, a.coord.OnMessage)
	if err != nil && ctx.Err() == nil {
		a.log.Error("push connection lost", zap.Error(err))
		a.coord.RecordError("connection lost: " + err.Error())
	}
}

// heartbeatLoop sends a periodic heartbeat so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			v, err := a.coord.Snapshot(ctx)
			if err != nil {
				return
			}
			a.hub.BroadcastJSON(telemetry.NewHeartbeat(string(v.Status), time.Since(a.startedAt)))
		}
	}
}
