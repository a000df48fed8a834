package feature

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/large-farva/agentron/internal/backend"
	"github.com/large-farva/agentron/internal/channel"
	"github.com/large-farva/agentron/internal/viewstate"
)

// ActionRecAPI is the backend surface the recommendation screen uses.
type ActionRecAPI interface {
	ProcessActionRec(ctx context.Context, reportID string) (backend.ActionRec, error)
	UpdateActionRecItems(ctx context.Context, ids []string) (backend.Result, error)
	DocumentForDownload(ctx context.Context, reportID string) (backend.DocumentResult, error)
}

// Recommendation is one recommended action as the screen shows it.
type Recommendation struct {
	ID          string `json:"id"`
	ActionIndex int    `json:"action_index"`
	Type        string `json:"type"`
	SubType     string `json:"sub_type"`
	Reason      string `json:"reason"`
	Location    string `json:"location"`
	Action      string `json:"action"`
	Parts       string `json:"parts"`
	Checked     bool   `json:"checked"`
}

// ActionRecView is the screen state returned by Snapshot.
type ActionRecView struct {
	ReportID        string           `json:"report_id,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	Items           []Recommendation `json:"items"`
	CheckedCount    int              `json:"checked_count"`
	DownloadEnabled bool             `json:"download_enabled"`
}

// FormatParts renders the parts a recommendation needs, "CODE(qty)" when
// a quantity is given.
func FormatParts(parts []backend.PartNeeded) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Quantity != 0 {
			out = append(out, p.ProductCode+"("+strconv.Itoa(p.Quantity)+")")
		} else {
			out = append(out, p.ProductCode)
		}
	}
	return strings.Join(out, ", ")
}

// ActionRec lists recommended actions for a report. The selection can be
// saved on its own (the save command) or submitted, which also moves on to
// the manual summary.
type ActionRec struct {
	base
	api ActionRecAPI

	mu       sync.Mutex
	reportID string
	summary  string
	items    []Recommendation
	download bool
	// saveMu serializes saves so a command-driven save and a submit cannot
	// interleave.
	saveMu sync.Mutex
}

// NewActionRec returns the recommendation screen backed by api.
func NewActionRec(api ActionRecAPI, deps Deps) *ActionRec {
	return &ActionRec{base: newBase(channel.ViewActionRec, deps), api: api}
}

// Activate loads the recommendations for in.ReportID. Without a report id
// the screen stays idle.
func (c *ActionRec) Activate(ctx context.Context, in Input) {
	c.attach(in.Sink)
	c.mu.Lock()
	c.reportID, c.summary, c.items, c.download = in.ReportID, "", nil, in.DownloadReady
	c.mu.Unlock()

	if in.ReportID == "" {
		c.idle()
		return
	}
	defer c.begin()()

	r, err := c.api.ProcessActionRec(ctx, in.ReportID)
	if err != nil {
		c.failed("could not load recommendations", err)
		return
	}
	if !r.HasPredictions {
		c.toast(VariantWarning, "Notice", firstNonEmpty(r.Message, "recommendation data could not be loaded"))
		return
	}
	items := make([]Recommendation, 0, len(r.RecommendedActions))
	for _, a := range r.RecommendedActions {
		items = append(items, Recommendation{
			ID:          a.ID,
			ActionIndex: a.ActionIndex,
			Type:        a.FaultType,
			SubType:     a.FaultDetailType,
			Reason:      a.FaultReason,
			Location:    a.FaultLocation,
			Action:      a.ActionDescription,
			Parts:       FormatParts(a.PartsNeeded),
			Checked:     a.IsChecked,
		})
	}
	c.mu.Lock()
	c.items, c.summary = items, r.AnalysisSummary
	c.mu.Unlock()
}

// Update follows the download-ready flag.
func (c *ActionRec) Update(in Input) {
	c.mu.Lock()
	c.download = in.DownloadReady
	c.mu.Unlock()
}

// Toggle flips the recommendation with the given action index.
func (c *ActionRec) Toggle(actionIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ActionIndex == actionIndex {
			c.items[i].Checked = !c.items[i].Checked
			return nil
		}
	}
	return fmt.Errorf("%w: action %d", ErrUnknownItem, actionIndex)
}

// Save stores the checked recommendations. It reports whether the backend
// accepted them.
func (c *ActionRec) Save(ctx context.Context) (bool, error) {
	if !c.active() {
		return false, ErrInactive
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	defer c.begin()()

	c.mu.Lock()
	ids := []string{}
	for _, it := range c.items {
		if it.Checked {
			ids = append(ids, it.ID)
		}
	}
	c.mu.Unlock()

	r, err := c.api.UpdateActionRecItems(ctx, ids)
	if err != nil {
		c.failed("could not update recommendation items", err)
		return false, nil
	}
	if !r.Success {
		c.toast(VariantError, "Error", firstNonEmpty(r.Message, "recommendation update failed"))
		return false, nil
	}
	c.toast(VariantSuccess, "Success", "selected items were saved")
	return true, nil
}

// Submit saves and, when accepted, completes the recommendation step.
func (c *ActionRec) Submit(ctx context.Context) error {
	ok, err := c.Save(ctx)
	if err != nil {
		return err
	}
	if ok {
		c.deps.Transition.Complete(viewstate.ActionRecSubmitted)
	}
	return nil
}

// Download fetches the generated manual once the download is enabled.
func (c *ActionRec) Download(ctx context.Context) (*backend.File, error) {
	if !c.active() {
		return nil, ErrInactive
	}
	c.mu.Lock()
	reportID, ready := c.reportID, c.download
	c.mu.Unlock()
	if !ready {
		return nil, fmt.Errorf("%w: download is not enabled yet", ErrNotReady)
	}
	if reportID == "" {
		c.toast(VariantError, "Error", "there is no report id")
		return nil, fmt.Errorf("%w: no report id", ErrNotReady)
	}

	defer c.begin()()
	r, err := c.api.DocumentForDownload(ctx, reportID)
	if err != nil {
		c.failed("download failed", err)
		return nil, nil
	}
	if !r.Success || len(r.Files) == 0 {
		c.toast(VariantError, "Error", firstNonEmpty(r.Message, "there is no file to download"))
		return nil, nil
	}
	f := r.Files[0]
	c.toast(VariantSuccess, "Success", f.FileName+" download is starting")
	return &f, nil
}

// Do runs one of toggle, save, submit or download.
func (c *ActionRec) Do(ctx context.Context, action string, body json.RawMessage) (any, error) {
	switch action {
	case "toggle":
		var req struct {
			ActionIndex int `json:"action_index"`
		}
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		if err := c.Toggle(req.ActionIndex); err != nil {
			return nil, err
		}
	case "save":
		if _, err := c.Save(ctx); err != nil {
			return nil, err
		}
	case "submit":
		if err := c.Submit(ctx); err != nil {
			return nil, err
		}
	case "download":
		f, err := c.Download(ctx)
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return c.Snapshot(), nil
}

// Snapshot returns the current ActionRecView.
func (c *ActionRec) Snapshot() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := ActionRecView{
		ReportID:        c.reportID,
		Summary:         c.summary,
		Items:           append([]Recommendation{}, c.items...),
		DownloadEnabled: c.download,
	}
	for _, it := range c.items {
		if it.Checked {
			v.CheckedCount++
		}
	}
	return v
}
