// Package coordinator hosts the view state. Every mutation runs on the
// goroutine executing Run: transport messages, direct dispatches, status
// updates from the bootstrapper and loading reports from children are all
// queued as operations and applied one at a time, and a view event is
// published after each one that changed anything.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/large-farva/agentron/internal/bayeux"
	"github.com/large-farva/agentron/internal/channel"
	"github.com/large-farva/agentron/internal/feature"
	"github.com/large-farva/agentron/internal/journal"
	"github.com/large-farva/agentron/internal/payload"
	"github.com/large-farva/agentron/internal/telemetry"
	"github.com/large-farva/agentron/internal/viewstate"
)

// ErrStopped is returned for operations submitted after Stop or after Run
// has returned.
var ErrStopped = errors.New("coordinator stopped")

// Message sources recorded in the journal.
const (
	SourceTransport = "transport"
	SourceDirect    = "direct"
)

// Backend is what the coordinator and its children call.
type Backend interface {
	feature.Backend
	RiskAnalyzeReportID(ctx context.Context, uuid string) (string, error)
}

// Journal persists received messages and error details. *journal.Journal
// implements it.
type Journal interface {
	AppendMessage(ctx context.Context, channel, body, source string) (journal.Message, error)
	AppendError(ctx context.Context, message string) (journal.ErrorDetail, error)
}

// Options configures a Coordinator.
type Options struct {
	Backend   Backend
	Journal   Journal
	Publisher telemetry.Publisher
	Logger    *zap.Logger
}

// Stats counts inbound traffic.
type Stats struct {
	Received    uint64 `json:"received"`
	ParseErrors uint64 `json:"parse_errors"`
	Unknown     uint64 `json:"unknown"`
	NotEvents   uint64 `json:"not_events"`
}

// Coordinator owns one viewstate.State.
type Coordinator struct {
	backend  Backend
	journal  Journal
	pub      telemetry.Publisher
	log      *zap.Logger
	children *feature.Set

	ops     chan func()
	quit    chan struct{}
	running atomic.Bool
	stopped atomic.Bool

	// Loop-owned.
	state       *viewstate.State
	runCtx      context.Context
	cancelChild context.CancelFunc
	published   uint64
	workers     sync.WaitGroup

	received    atomic.Uint64
	parseErrors atomic.Uint64
	unknown     atomic.Uint64
	notEvents   atomic.Uint64
}

// New creates a Coordinator and its feature children.
func New(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		backend: opts.Backend,
		journal: opts.Journal,
		pub:     opts.Publisher,
		log:     log,
		ops:     make(chan func(), 64),
		quit:    make(chan struct{}),
		state:   viewstate.New(),
		runCtx:  context.Background(),
	}
	c.children = feature.NewSet(opts.Backend, feature.Deps{
		Notify:     c,
		Transition: c,
		Logger:     log.Named("feature"),
	})
	return c
}

// Children exposes the child screens for user actions.
func (c *Coordinator) Children() *feature.Set { return c.children }

// Run applies queued operations until ctx is cancelled. It waits for child
// loads it started before returning.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coordinator: Run called twice")
	}
	c.runCtx = ctx
	c.log.Info("coordinator started")
	c.publish()

	defer func() {
		close(c.quit)
		if c.cancelChild != nil {
			c.cancelChild()
		}
		c.workers.Wait()
		c.log.Info("coordinator stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case op := <-c.ops:
			op()
			c.publish()
		}
	}
}

// Stop marks the coordinator inactive: later status updates, messages and
// loading reports are ignored and the active child load is cancelled. Run
// keeps serving snapshots until its context ends.
func (c *Coordinator) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.enqueue(func() {
		if c.cancelChild != nil {
			c.cancelChild()
			c.cancelChild = nil
		}
	})
}

// Active reports whether Stop has not been called.
func (c *Coordinator) Active() bool { return !c.stopped.Load() }

// submit queues a state operation unless the coordinator is stopped.
func (c *Coordinator) submit(op func()) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	return c.enqueue(op)
}

func (c *Coordinator) enqueue(op func()) error {
	select {
	case c.ops <- op:
		return nil
	case <-c.quit:
		return ErrStopped
	}
}

// publish broadcasts a view event if the state changed since the last one.
func (c *Coordinator) publish() {
	rev := c.state.Revision()
	if rev == c.published {
		return
	}
	c.published = rev
	if c.pub == nil {
		return
	}
	snap := c.state.Snapshot()
	if r, ok := c.pub.(interface{ Retain(any) }); ok {
		r.Retain(telemetry.NewViewChanged(snap))
		return
	}
	c.pub.BroadcastJSON(telemetry.NewViewChanged(snap))
}

// OnMessage is the transport handler: it unwraps the platform event and
// routes its channel name and JSON string.
func (c *Coordinator) OnMessage(m bayeux.Message) {
	ev, err := m.Event()
	if err != nil {
		c.notEvents.Add(1)
		c.log.Debug("ignoring non-event message", zap.String("channel", m.Channel), zap.Error(err))
		return
	}
	if err := c.route(ev.Payload.ChannelName, ev.Payload.JSONString, SourceTransport, false); err != nil && !errors.Is(err, payload.ErrParse) {
		c.log.Debug("transport message not routed", zap.Error(err))
	}
}

// Dispatch routes a message that did not come through the transport. A
// malformed payload is reported as an error wrapping payload.ErrParse and
// changes nothing.
func (c *Coordinator) Dispatch(channelName, jsonString string) error {
	return c.route(channelName, jsonString, SourceDirect, false)
}

// DispatchInitial is Dispatch for the startup input. An initial
// ERROR_REPORT additionally holds initial loading until its report id has
// been resolved.
func (c *Coordinator) DispatchInitial(channelName, jsonString string) error {
	return c.route(channelName, jsonString, SourceDirect, true)
}

func (c *Coordinator) route(channelName, jsonString, source string, initial bool) error {
	c.received.Add(1)
	c.appendMessage(channelName, jsonString, source)

	ch := channel.Parse(channelName)
	env, err := payload.Decode(ch, jsonString)
	if err != nil {
		c.parseErrors.Add(1)
		c.log.Warn("dropping message with malformed payload",
			zap.String("channel", channelName),
			zap.String("source", source),
			zap.Error(err))
		return err
	}
	if ch == channel.Unknown {
		c.unknown.Add(1)
		c.log.Info("ignoring unknown channel", zap.String("channel", channelName), zap.String("source", source))
		return nil
	}

	return c.submit(func() {
		c.log.Debug("applying channel", zap.Stringer("channel", ch), zap.String("source", source))
		out := c.state.Receive(ch, env)
		if ch == channel.ErrorReport && env.UUID != "" {
			if initial {
				c.state.RequireReport()
			}
			c.resolveReport(env.UUID)
		}
		c.apply(out)
	})
}

// apply carries out the side effects of an outcome. Loop only.
func (c *Coordinator) apply(out viewstate.Outcome) {
	if out.ViewChanged {
		c.activate(out.View, out.Generation)
	}
	if out.SaveActionRec {
		c.saveActionRec()
	}
	if out.DownloadReady {
		c.updateActive()
	}
}

func (c *Coordinator) input(gen uint64) feature.Input {
	_, env := c.state.Current()
	in := feature.Input{
		Envelope:      env,
		UUID:          c.state.UUID(),
		ReportID:      c.state.ReportID(),
		TrackingID:    c.state.TrackingID(),
		DownloadReady: c.state.DownloadReady(),
		Sink:          &sink{c: c, gen: gen},
	}
	if rec, ok := env.Record.(payload.ActionRec); ok && rec.ReportID != "" {
		in.ReportID = rec.ReportID
	}
	return in
}

// activate cancels the previous child load and starts the child of v under
// generation gen.
func (c *Coordinator) activate(v channel.View, gen uint64) {
	if c.cancelChild != nil {
		c.cancelChild()
		c.cancelChild = nil
	}
	child := c.children.For(v)
	if child == nil {
		return
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	c.cancelChild = cancel
	in := c.input(gen)
	c.log.Info("view selected", zap.Stringer("view", v), zap.Uint64("generation", gen))
	c.workers.Go(func() { child.Activate(ctx, in) })
}

func (c *Coordinator) updateActive() {
	v, gen := c.state.View()
	if u, ok := c.children.For(v).(feature.Updater); ok {
		u.Update(c.input(gen))
	}
}

func (c *Coordinator) saveActionRec() {
	if !c.state.Visible(channel.ViewActionRec) {
		c.log.Warn("save requested while action recommendations are not shown")
		return
	}
	ar := c.children.ActionRec
	ctx := c.runCtx
	c.workers.Go(func() {
		ok, err := ar.Save(ctx)
		if err != nil {
			c.log.Warn("action recommendation save failed", zap.Error(err))
		}
		if !ok && ctx.Err() == nil {
			// No ACTIVE_DOWNLOAD follows a rejected save.
			_ = c.SetFlag(viewstate.FlagSaveProcessing, false)
		}
	})
}

func (c *Coordinator) resolveReport(uuid string) {
	if c.backend == nil {
		return
	}
	ctx := c.runCtx
	c.workers.Go(func() {
		id, err := c.backend.RiskAnalyzeReportID(ctx, uuid)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("report id lookup failed", zap.String("uuid", uuid), zap.Error(err))
				c.RecordError(fmt.Sprintf("report id lookup failed: %v", err))
			}
			return
		}
		_ = c.SetReportID(id)
	})
}

// SetStatus records a connection status change. Out-of-order changes, and
// any change after Stop, are ignored. An accepted Failed status also
// records detail as an error.
func (c *Coordinator) SetStatus(s viewstate.Status, detail string) {
	err := c.submit(func() {
		if !c.applyStatus(s, detail) {
			return
		}
		if s == viewstate.StatusFailed && detail != "" {
			c.RecordError(detail)
		}
	})
	if err != nil {
		c.log.Debug("status change after stop", zap.String("to", string(s)))
	}
}

// applyStatus runs on the op loop and reports whether the move was taken.
func (c *Coordinator) applyStatus(s viewstate.Status, detail string) bool {
	from, _ := c.state.Status()
	if !c.state.SetStatus(s, detail) {
		c.log.Debug("ignoring status change", zap.String("from", string(from)), zap.String("to", string(s)))
		return false
	}
	c.log.Info("connection status", zap.String("from", string(from)), zap.String("to", string(s)))
	if c.pub != nil {
		c.pub.BroadcastJSON(telemetry.NewStateTransition(string(from), string(s), detail))
	}
	return true
}

// SetReportID stores the resolved report id.
func (c *Coordinator) SetReportID(id string) error {
	return c.submit(func() { c.state.SetReportID(id) })
}

// RecordError appends a user-visible error detail to the journal.
func (c *Coordinator) RecordError(message string) {
	if c.journal == nil {
		return
	}
	if _, err := c.journal.AppendError(context.Background(), message); err != nil {
		c.log.Warn("could not journal error detail", zap.Error(err))
	}
}

func (c *Coordinator) appendMessage(channelName, body, source string) {
	if c.journal == nil {
		return
	}
	if _, err := c.journal.AppendMessage(context.Background(), channelName, body, source); err != nil {
		c.log.Warn("could not journal message", zap.Error(err))
	}
}

// SetFlag sets one of the named loading flags directly.
func (c *Coordinator) SetFlag(f viewstate.Flag, v bool) error {
	return c.submit(func() { c.state.SetFlag(f, v) })
}

// Complete applies an explicit transition requested by a child.
func (c *Coordinator) Complete(t viewstate.Transition) {
	err := c.submit(func() {
		out, ok := c.state.Complete(t)
		if !ok {
			c.log.Info("ignoring transition from a hidden view", zap.Stringer("transition", t))
			return
		}
		c.log.Info("transition", zap.Stringer("transition", t))
		c.apply(out)
	})
	if err != nil {
		c.log.Debug("transition after stop", zap.Stringer("transition", t))
	}
}

// SaveActionRec applies the save command as if ACTION_REC_SAVE had
// arrived.
func (c *Coordinator) SaveActionRec() error {
	return c.submit(func() { c.apply(c.state.ApplyChannel(channel.ActionRecSave)) })
}

// Toast publishes a child notification.
func (c *Coordinator) Toast(t feature.Toast) {
	c.log.Info("toast", zap.String("child", t.Child), zap.String("variant", t.Variant), zap.String("message", t.Message))
	if c.pub != nil {
		c.pub.BroadcastJSON(telemetry.NewToast(t.Child, t.Title, t.Message, t.Variant))
	}
}

// sink is the loading sink handed to one child activation. Reports after
// the view has moved on are dropped.
type sink struct {
	c   *Coordinator
	gen uint64
}

func (s *sink) SetLoading(child string, loading bool) {
	err := s.c.submit(func() {
		if _, gen := s.c.state.View(); gen != s.gen {
			s.c.log.Debug("dropping stale loading report",
				zap.String("child", child),
				zap.Uint64("generation", s.gen),
				zap.Uint64("current", gen))
			return
		}
		s.c.state.RegisterChildLoading(child, loading)
	})
	if err != nil {
		s.c.log.Debug("loading report after stop", zap.String("child", child))
	}
}

// loadingSink returns a sink bound to the current view generation.
func (c *Coordinator) loadingSink(ctx context.Context) (feature.LoadingSink, error) {
	reply := make(chan uint64, 1)
	if err := c.enqueue(func() { _, gen := c.state.View(); reply <- gen }); err != nil {
		return nil, err
	}
	select {
	case gen := <-reply:
		return &sink{c: c, gen: gen}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, ErrStopped
	}
}

// View is a coordinator snapshot plus the visible child's own state.
type View struct {
	viewstate.Snapshot
	Child any `json:"child,omitempty"`
}

// Snapshot returns the current state. It needs Run to be running.
func (c *Coordinator) Snapshot(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	err := c.enqueue(func() {
		v := View{Snapshot: c.state.Snapshot()}
		if child := c.children.For(v.View); child != nil {
			v.Child = child.Snapshot()
		}
		reply <- v
	})
	if err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-c.quit:
		return View{}, ErrStopped
	}
}

// Stats returns the inbound traffic counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Received:    c.received.Load(),
		ParseErrors: c.parseErrors.Load(),
		Unknown:     c.unknown.Load(),
		NotEvents:   c.notEvents.Load(),
	}
}
