package feature

import (
	"context"
	"sort"
	"sync"

	"github.com/large-farva/agentron/internal/backend"
	"github.com/large-farva/agentron/internal/channel"
)

// ErrorReportAPI is the backend surface of the error report screen.
type ErrorReportAPI interface {
	ErrorReportInit(ctx context.Context, uuid string) (backend.ErrorReport, error)
}

// Severity is how a fault severity level is rendered.
type Severity struct {
	Class string `json:"class"`
	Icon  string `json:"icon"`
	Badge string `json:"badge"`
}

const badgeBase = "slds-badge custom-badge-margin"

// SeverityOf maps a backend severity level onto its UI classes. The
// levels arrive as the backend's Korean labels.
func SeverityOf(level string) Severity {
	switch level {
	case "매우 높음":
		return Severity{Class: "slds-text-color_error", Icon: "utility:warning", Badge: badgeBase + " slds-theme_error"}
	case "높음":
		return Severity{Class: "slds-text-color_warning", Icon: "utility:alert", Badge: badgeBase + " slds-theme_warning"}
	case "보통":
		return Severity{Class: "slds-text-color_default", Icon: "utility:info", Badge: badgeBase + " slds-theme_inverse"}
	case "낮음":
		return Severity{Class: "slds-text-color_success", Icon: "utility:success", Badge: badgeBase + " slds-theme_success"}
	default:
		return Severity{Class: "slds-text-color_default", Icon: "utility:info", Badge: badgeBase + " slds-theme_default"}
	}
}

// RiskRow is a risk item with its rendering attached.
type RiskRow struct {
	backend.RiskItem
	Index    int      `json:"index"`
	Severity Severity `json:"severity"`
}

// ComponentCost is the repair cost of one component, summed over items.
type ComponentCost struct {
	Component string  `json:"component"`
	Self      float64 `json:"self"`
	External  float64 `json:"external"`
}

// ErrorReportView is the error report child's state.
type ErrorReportView struct {
	UUID           string          `json:"uuid,omitempty"`
	HasPredictions bool            `json:"has_predictions"`
	Message        string          `json:"message,omitempty"`
	Error          string          `json:"error,omitempty"`
	Items          []RiskRow       `json:"items"`
	Costs          []ComponentCost `json:"costs"`
	TotalSelf      float64         `json:"total_self"`
	TotalExternal  float64         `json:"total_external"`
}

// ErrorReport shows predicted component faults for an analysis uuid.
type ErrorReport struct {
	base
	api ErrorReportAPI

	mu    sync.Mutex
	state ErrorReportView
}

func NewErrorReport(api ErrorReportAPI, deps Deps) *ErrorReport {
	return &ErrorReport{base: newBase(channel.ViewErrorReport, deps), api: api}
}

func (c *ErrorReport) Activate(ctx context.Context, in Input) {
	c.attach(in.Sink)

	if in.UUID == "" {
		c.set(ErrorReportView{
			Error:   "no uuid was provided",
			Message: "prediction data cannot be loaded without a uuid",
		})
		c.idle()
		return
	}

	defer c.begin()()
	c.set(ErrorReportView{UUID: in.UUID, Message: "loading prediction data"})

	r, err := c.api.ErrorReportInit(ctx, in.UUID)
	switch {
	case err != nil:
		c.failed("could not load the error report", err)
		c.set(ErrorReportView{UUID: in.UUID, Error: err.Error(), Message: "an error occurred while loading data"})
	case r.HasPredictions == nil:
		c.set(ErrorReportView{UUID: in.UUID, Error: "unexpected response format", Message: "unexpected response format"})
	case !*r.HasPredictions:
		msg := r.Message
		if msg == "" {
			msg = "no prediction data is available"
		}
		c.set(ErrorReportView{UUID: in.UUID, Error: r.Message, Message: msg})
	default:
		c.set(buildErrorReport(in.UUID, r))
	}
}

func buildErrorReport(uuid string, r backend.ErrorReport) ErrorReportView {
	v := ErrorReportView{UUID: uuid, HasPredictions: true, Message: r.Message}

	byComponent := map[string]*ComponentCost{}
	for i, item := range r.RiskItems {
		v.Items = append(v.Items, RiskRow{RiskItem: item, Index: i, Severity: SeverityOf(item.FaultSeverityLevel)})

		name := item.ComponentName
		if name == "" {
			name = "Other"
		}
		cc, ok := byComponent[name]
		if !ok {
			cc = &ComponentCost{Component: name}
			byComponent[name] = cc
		}
		cc.Self += float64(item.SelfRepairCost)
		cc.External += float64(item.ExternalRepairCost)
		v.TotalSelf += float64(item.SelfRepairCost)
		v.TotalExternal += float64(item.ExternalRepairCost)
	}
	for _, cc := range byComponent {
		v.Costs = append(v.Costs, *cc)
	}
	sort.Slice(v.Costs, func(i, j int) bool { return v.Costs[i].Component < v.Costs[j].Component })
	return v
}

func (c *ErrorReport) set(v ErrorReportView) {
	if v.Items == nil {
		v.Items = []RiskRow{}
	}
	if v.Costs == nil {
		v.Costs = []ComponentCost{}
	}
	c.mu.Lock()
	c.state = v
	c.mu.Unlock()
}

func (c *ErrorReport) Snapshot() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
