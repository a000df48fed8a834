package feature

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/large-farva/agentron/internal/backend"
	"github.com/large-farva/agentron/internal/channel"
)

type TrackingAPI interface {
	TrackingInfo(ctx context.Context, trackingID string) (backend.Tracking, error)
}

const defaultStepLabel = "Preparing shipment"

// StepPosition is where step i of n sits on the progress bar, in percent.
// The ends are inset so their markers stay on screen.
func StepPosition(i, n int) float64 {
	switch {
	case n <= 1:
		return 50
	case i == 0:
		return 1.5
	case i == n-1:
		return 98.5
	default:
		return 1.5 + float64(i)/float64(n-1)*97
	}
}

type Step struct {
	Sequence int     `json:"sequence"`
	Label    string  `json:"label"`
	Position float64 `json:"position"`
	Active   bool    `json:"active"`
}

type ShipmentEvent struct {
	Time        string `json:"time"`
	Description string `json:"description"`
}

type TrackingView struct {
	TrackingID    string          `json:"tracking_id,omitempty"`
	Error         string          `json:"error,omitempty"`
	Loaded        bool            `json:"loaded"`
	CurrentStep   int             `json:"current_step"`
	CurrentLabel  string          `json:"current_label"`
	Steps         []Step          `json:"steps"`
	ProgressWidth float64         `json:"progress_width"`
	Events        []ShipmentEvent `json:"events"`
}

// BuildTracking lays out the milestones of a shipment.
func BuildTracking(id string, t backend.Tracking) TrackingView {
	v := TrackingView{
		TrackingID:   id,
		Loaded:       true,
		CurrentStep:  t.CurrentStep,
		CurrentLabel: defaultStepLabel,
		Steps:        []Step{},
		Events:       []ShipmentEvent{},
	}
	if v.CurrentStep == 0 {
		v.CurrentStep = 1
	}

	n := len(t.Milestones)
	for i, m := range t.Milestones {
		s := Step{
			Sequence: m.Sequence,
			Label:    firstNonEmpty(m.KeyStageKor, m.KeyStage),
			Position: StepPosition(i, n),
			Active:   m.Time != nil,
		}
		if s.Active && s.Position > v.ProgressWidth {
			v.ProgressWidth = s.Position
		}
		if m.Sequence == v.CurrentStep && s.Label != "" {
			v.CurrentLabel = s.Label
		}
		v.Steps = append(v.Steps, s)
	}
	switch {
	case t.CurrentStep <= 0 || n == 0:
		v.ProgressWidth = 0
	case v.ProgressWidth == 0:
		v.ProgressWidth = v.Steps[0].Position
	}

	for _, e := range t.ProviderEvents {
		v.Events = append(v.Events, ShipmentEvent{
			Time:        formatEventTime(e.EventTime),
			Description: firstNonEmpty(e.DescriptionKor, e.Description),
		})
	}
	return v
}

func formatEventTime(s string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05.000Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02 15:04")
		}
	}
	return s
}

// Tracking shows shipment progress for a tracking record.
type Tracking struct {
	base
	api TrackingAPI

	mu    sync.Mutex
	state TrackingView
}

func NewTracking(api TrackingAPI, deps Deps) *Tracking {
	return &Tracking{base: newBase(channel.ViewTrackingStatus, deps), api: api}
}

func (c *Tracking) Activate(ctx context.Context, in Input) {
	c.attach(in.Sink)
	c.setState(TrackingView{TrackingID: in.TrackingID, CurrentLabel: defaultStepLabel})
	if in.TrackingID == "" {
		c.idle()
		return
	}
	c.load(ctx, in.TrackingID)
}

func (c *Tracking) load(ctx context.Context, id string) {
	defer c.begin()()
	t, err := c.api.TrackingInfo(ctx, id)
	switch {
	case err != nil:
		c.log.Warn("tracking lookup failed", zap.Error(err))
		c.setState(TrackingView{TrackingID: id, CurrentLabel: defaultStepLabel, Error: "an error occurred while looking up shipping information"})
	case !t.Success:
		c.setState(TrackingView{TrackingID: id, CurrentLabel: defaultStepLabel, Error: t.ErrorMessage})
	default:
		c.setState(BuildTracking(id, t))
	}
}

// Refresh reloads the current tracking record.
func (c *Tracking) Refresh(ctx context.Context) error {
	if !c.active() {
		return ErrInactive
	}
	c.mu.Lock()
	id := c.state.TrackingID
	c.mu.Unlock()
	if id == "" {
		return fmt.Errorf("%w: no tracking id", ErrNotReady)
	}
	c.load(ctx, id)
	return nil
}

func (c *Tracking) Do(ctx context.Context, action string, _ json.RawMessage) (any, error) {
	if action != "refresh" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c.Snapshot(), nil
}

func (c *Tracking) setState(v TrackingView) {
	if v.Steps == nil {
		v.Steps = []Step{}
	}
	if v.Events == nil {
		v.Events = []ShipmentEvent{}
	}
	c.mu.Lock()
	c.state = v
	c.mu.Unlock()
}

func (c *Tracking) Snapshot() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
