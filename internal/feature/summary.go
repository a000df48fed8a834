package feature

import (
	"context"

	"github.com/large-farva/agentron/internal/channel"
)

type ManualSummary struct {
	Checklist       []string `json:"checklist"`
	SafetyNote      string   `json:"safety_note"`
	Recommendations []string `json:"recommendations"`
	Services        []string `json:"services"`
}

var manual = ManualSummary{
	Checklist: []string{
		"[Sensor] Check ejector proximity sensor position and cable condition",
		"[Cylinder] Check lubrication and look for oil leaks",
		"[Hydraulics] Check pump operating temperature and pressure",
		"[Mold] Check for friction noise or misalignment on open and close",
	},
	SafetyNote: "Self-inspection carries hazards. Cut power and wear safety equipment before inspecting.",
	Recommendations: []string{
		"Hydraulic system (pump, cylinder) needs diagnosis",
		"If the fault recurs, request an inspection by the service team",
		"Plan preventive maintenance according to the machine's duty cycle",
	},
	Services: []string{
		"Self-inspection manual link",
		"Maintenance booking through Service Cloud",
	},
}

// Summary is the static manual summary shown after recommendations are
// submitted. It never loads anything.
type Summary struct {
	base
}

func NewSummary(deps Deps) *Summary {
	return &Summary{base: newBase(channel.ViewSummaryManual, deps)}
}

func (c *Summary) Activate(_ context.Context, in Input) {
	c.attach(in.Sink)
	c.idle()
}

func (c *Summary) Snapshot() any { return manual }
