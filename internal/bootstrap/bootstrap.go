// Package bootstrap brings up the push subscription: it obtains a session
// from the backend, loads a Bayeux transport from the configured
// candidates, handshakes and subscribes to the inbound event channel.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/large-farva/agentron/internal/bayeux"
	"github.com/large-farva/agentron/internal/viewstate"
)

// Failure kinds. Every error returned by Initialize matches exactly one of
// them with errors.Is.
var (
	ErrSession              = errors.New("session error")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrHandshake            = errors.New("handshake error")
	ErrSubscribe            = errors.New("subscribe error")
	ErrAlreadyStarted       = errors.New("bootstrap: initialize already called")
)

// Error is a bootstrap failure at one step.
type Error struct {
	Kind error
	// Step is the status the bootstrapper was in when it failed.
	Step viewstate.Status
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("initialization failed: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// SessionSource hands out the credential used for the push connection.
type SessionSource interface {
	SessionID(ctx context.Context) (string, error)
}

// StatusSink receives every status change. detail is non-empty only with
// viewstate.StatusFailed.
type StatusSink interface {
	SetStatus(s viewstate.Status, detail string)
}

// Options configures a Bootstrapper.
type Options struct {
	Session    SessionSource
	Status     StatusSink
	Candidates []bayeux.Candidate
	// Endpoint is the CometD URL used by candidates without their own.
	Endpoint string
	// Channel is the event channel to subscribe to.
	Channel    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

// Bootstrapper runs the connection steps once.
type Bootstrapper struct {
	opts    Options
	log     *zap.Logger
	started atomic.Bool

	mu        sync.Mutex
	transport bayeux.Transport
	client    *bayeux.Client
	candidate bayeux.Candidate
}

// New creates a Bootstrapper.
func New(opts Options) *Bootstrapper {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Bootstrapper{opts: opts, log: log}
}

// Initialize performs the bootstrap. It may be called once; later calls
// return ErrAlreadyStarted without touching status. On failure the status
// is set to Failed with the error message as detail.
func (b *Bootstrapper) Initialize(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	err := b.run(ctx)
	if err != nil {
		b.log.Error("bootstrap failed", zap.Error(err))
		b.status(viewstate.StatusFailed, err.Error())
		b.closeTransport()
	}
	return err
}

func (b *Bootstrapper) run(ctx context.Context) error {
	b.status(viewstate.StatusGettingSession, "")
	session, err := b.opts.Session.SessionID(ctx)
	if err != nil {
		return &Error{Kind: ErrSession, Step: viewstate.StatusGettingSession, Err: err}
	}

	b.status(viewstate.StatusLoadingTransport, "")
	t, cand, err := bayeux.Load(ctx, b.opts.Candidates, bayeux.Options{
		Endpoint:   b.opts.Endpoint,
		Session:    session,
		HTTPClient: b.opts.HTTPClient,
		Dialer:     b.opts.Dialer,
		Logger:     b.log,
	})
	if err != nil {
		return &Error{Kind: ErrTransportUnavailable, Step: viewstate.StatusLoadingTransport, Err: err}
	}

	client := bayeux.NewClient(t, b.log.Named("bayeux"))
	b.mu.Lock()
	b.transport, b.client, b.candidate = t, client, cand
	b.mu.Unlock()

	b.status(viewstate.StatusConnecting, "")
	if err := client.Handshake(ctx); err != nil {
		return &Error{Kind: ErrHandshake, Step: viewstate.StatusConnecting, Err: err}
	}
	b.status(viewstate.StatusConnected, "")

	if err := client.Subscribe(ctx, b.opts.Channel); err != nil {
		return &Error{Kind: ErrSubscribe, Step: viewstate.StatusConnected, Err: err}
	}
	b.status(viewstate.StatusSubscribed, "")

	b.log.Info("bootstrap complete",
		zap.String("transport", cand.Name),
		zap.String("channel", b.opts.Channel))
	return nil
}

func (b *Bootstrapper) status(s viewstate.Status, detail string) {
	if b.opts.Status != nil {
		b.opts.Status.SetStatus(s, detail)
	}
}

// Client returns the subscribed client, or nil before a successful
// Initialize.
func (b *Bootstrapper) Client() *bayeux.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}

// Candidate returns the transport candidate that loaded.
func (b *Bootstrapper) Candidate() bayeux.Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.candidate
}

// Close disconnects the client, if any, and closes the transport.
func (b *Bootstrapper) Close(ctx context.Context) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()

	var err error
	if client != nil && client.ClientID() != "" {
		err = client.Disconnect(ctx)
	}
	b.closeTransport()
	return err
}

func (b *Bootstrapper) closeTransport() {
	b.mu.Lock()
	t := b.transport
	b.transport = nil
	b.client = nil
	b.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}
