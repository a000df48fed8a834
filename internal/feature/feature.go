// Package feature holds the child screens the coordinator switches
// between. Each child loads its own data from the backend when activated,
// reports loading through the LoadingSink it was activated with, and turns
// backend failures into toasts instead of returning them.
package feature

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/large-farva/agentron/internal/channel"
	"github.com/large-farva/agentron/internal/payload"
	"github.com/large-farva/agentron/internal/viewstate"
)

var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrInactive        = errors.New("child has not been activated")
	ErrNotReady        = errors.New("not ready")
	ErrNothingSelected = errors.New("nothing selected")
	ErrUnknownItem     = errors.New("unknown item")
)

// LoadingSink receives a child's loading state. The coordinator hands a
// fresh sink to every activation so reports from a superseded activation
// can be told apart.
type LoadingSink interface {
	SetLoading(child string, loading bool)
}

// Toast variants.
const (
	VariantSuccess = "success"
	VariantInfo    = "info"
	VariantWarning = "warning"
	VariantError   = "error"
)

// Toast is a transient user notification.
type Toast struct {
	Child   string `json:"child"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Variant string `json:"variant"`
}

// Notifier shows toasts.
type Notifier interface {
	Toast(t Toast)
}

// Transitioner accepts the explicit view transitions a child can request.
type Transitioner interface {
	Complete(t viewstate.Transition)
}

// Input is what a child is activated with.
type Input struct {
	Envelope      payload.Envelope
	UUID          string
	ReportID      string
	TrackingID    string
	DownloadReady bool
	Sink          LoadingSink
}

// Child is one screen.
type Child interface {
	Name() string
	View() channel.View
	// Activate loads the child's data for in and returns once loading has
	// finished or ctx is done.
	Activate(ctx context.Context, in Input)
	Snapshot() any
}

// Updater is implemented by children that follow coordinator state
// changes that do not switch views.
type Updater interface {
	Update(in Input)
}

// Actor is implemented by children with user actions.
type Actor interface {
	Do(ctx context.Context, action string, body json.RawMessage) (any, error)
}

// Deps are shared by every child.
type Deps struct {
	Notify     Notifier
	Transition Transitioner
	Logger     *zap.Logger
}

type nopNotifier struct{}

func (nopNotifier) Toast(Toast) {}

type nopTransitioner struct{}

func (nopTransitioner) Complete(viewstate.Transition) {}

func (d Deps) withDefaults() Deps {
	if d.Notify == nil {
		d.Notify = nopNotifier{}
	}
	if d.Transition == nil {
		d.Transition = nopTransitioner{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// base carries what every child needs: identity, the sink of the current
// activation and the toast channel.
type base struct {
	view   channel.View
	deps   Deps
	log    *zap.Logger
	sinkMu sync.Mutex
	sink   LoadingSink
}

func newBase(v channel.View, deps Deps) base {
	deps = deps.withDefaults()
	return base{view: v, deps: deps, log: deps.Logger.Named(v.String())}
}

func (b *base) Name() string       { return b.view.String() }
func (b *base) View() channel.View { return b.view }

func (b *base) attach(s LoadingSink) {
	b.sinkMu.Lock()
	b.sink = s
	b.sinkMu.Unlock()
}

func (b *base) currentSink() LoadingSink {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()
	return b.sink
}

// begin reports loading on the current sink and returns the matching stop.
// Both go to the same sink even if the child is re-activated meanwhile.
func (b *base) begin() func() {
	s := b.currentSink()
	if s == nil {
		return func() {}
	}
	name := b.Name()
	s.SetLoading(name, true)
	return func() { s.SetLoading(name, false) }
}

// idle reports not-loading, for activations that have nothing to load.
func (b *base) idle() {
	if s := b.currentSink(); s != nil {
		s.SetLoading(b.Name(), false)
	}
}

func (b *base) active() bool { return b.currentSink() != nil }

func (b *base) toast(variant, title, message string) {
	b.deps.Notify.Toast(Toast{Child: b.Name(), Title: title, Message: message, Variant: variant})
}

// failed logs err and shows message as an error toast.
func (b *base) failed(message string, err error) {
	b.log.Warn(message, zap.Error(err))
	if err != nil {
		message += ": " + err.Error()
	}
	b.toast(VariantError, "Error", message)
}

func decodeBody(body json.RawMessage, v any) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
