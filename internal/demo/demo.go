// Package demo walks the coordinator through every screen without a
// Salesforce org. The runner fakes the connection bootstrap, then replays a
// scripted channel sequence through the direct path on an interval, while
// Backend answers the children's calls with canned data.
package demo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/large-farva/agentron/internal/viewstate"
)

// Dispatcher is the direct input path. *coordinator.Coordinator implements
// it.
type Dispatcher interface {
	Dispatch(channelName, jsonString string) error
}

// StatusSink receives the simulated connection progress.
type StatusSink interface {
	SetStatus(s viewstate.Status, detail string)
}

// Step is one scripted message.
type Step struct {
	Channel string
	JSON    string
}

// Script is the message sequence of one demo round for analysis session
// id. It visits every view and exercises every command channel.
func Script(id string) []Step {
	withUUID := mustJSON(map[string]string{"uuid": id})
	return []Step{
		{"ERROR_REPORT", withUUID},
		{"SELF_CHECKLIST", withUUID},
		{"ACTION_REC", mustJSON(map[string]string{"uuid": id, "reportId": "RAR-" + id[:8]})},
		{"ACTION_REC_SAVE", ""},
		{"ACTION_REC_ACTIVE_DOWNLOAD", ""},
		{"SUMMARY_MANUAL", withUUID},
		{"PART_SELECT", mustJSON(map[string]string{"Id": "0Mw" + id[:8], "RiskAnalyzeReportId__c": "RAR-" + id[:8], "uuid": id})},
		{"SHOW_SPINNER", ""},
		{"DISABLE_SPINNER", ""},
		{"SELF_QUOTE", mustJSON(map[string]string{"ServiceQuoteId__c": "0Q0" + id[:8], "accountId": "001DEMO"})},
		{"SHOW_SPINNER_NORMAL", ""},
		{"DISABLE_SPINNER_NORMAL", ""},
		{"TRACKING_STATUS", mustJSON(map[string]string{"uuid": id, "trackingId": "TRK-" + id[:8]})},
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Runner replays Script through a Dispatcher.
type Runner struct {
	Target Dispatcher
	Status StatusSink
	// Interval separates rounds; StepDelay separates messages within one.
	Interval  time.Duration
	StepDelay time.Duration
	Logger    *zap.Logger

	rounds int
}

// New creates a runner with a sensible default interval.
func New(target Dispatcher, status StatusSink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Target:    target,
		Status:    status,
		Interval:  30 * time.Second,
		StepDelay: 2 * time.Second,
		Logger:    logger,
	}
}

// Run simulates the bootstrap, plays one round immediately and then one per
// Interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.Logger.Info("demo mode active, replaying scripted channels")

	for _, s := range []viewstate.Status{
		viewstate.StatusGettingSession,
		viewstate.StatusLoadingTransport,
		viewstate.StatusConnecting,
		viewstate.StatusConnected,
		viewstate.StatusSubscribed,
	} {
		if !sleepOrCancel(ctx, 250*time.Millisecond) {
			return
		}
		if r.Status != nil {
			r.Status.SetStatus(s, "")
		}
	}

	r.round(ctx)

	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.round(ctx)
		}
	}
}

func (r *Runner) round(ctx context.Context) {
	r.rounds++
	id := uuid.NewString()
	log := r.Logger.With(zap.Int("round", r.rounds), zap.String("uuid", id))
	log.Info("demo round starting")

	for _, st := range Script(id) {
		if err := r.Target.Dispatch(st.Channel, st.JSON); err != nil {
			log.Warn("demo dispatch failed", zap.String("channel", st.Channel), zap.Error(err))
			return
		}
		if !sleepOrCancel(ctx, r.StepDelay) {
			return
		}
	}
	log.Info("demo round complete", zap.Duration("next_in", r.Interval.Truncate(time.Second)))
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
