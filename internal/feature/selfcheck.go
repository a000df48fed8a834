package feature

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/large-farva/agentron/internal/backend"
	"github.com/large-farva/agentron/internal/channel"
	"github.com/large-farva/agentron/internal/viewstate"
)

type SelfCheckAPI interface {
	SelfCheckInit(ctx context.Context, uuid string) (backend.SelfCheck, error)
	UpdateSelfCheckItems(ctx context.Context, ids []string) (backend.StatusResult, error)
}

type CheckItem struct {
	ID      string `json:"id"`
	Detail  string `json:"detail"`
	Checked bool   `json:"checked"`
}

type SelfCheckView struct {
	UUID      string          `json:"uuid,omitempty"`
	Items     []CheckItem     `json:"items"`
	Report    json.RawMessage `json:"report,omitempty"`
	CanSubmit bool            `json:"can_submit"`
}

// SelfCheck is the checklist the operator works through before action
// recommendations. A successful submit completes the self-check.
type SelfCheck struct {
	base
	api SelfCheckAPI

	mu     sync.Mutex
	uuid   string
	items  []CheckItem
	report json.RawMessage
}

func NewSelfCheck(api SelfCheckAPI, deps Deps) *SelfCheck {
	return &SelfCheck{base: newBase(channel.ViewSelfCheckList, deps), api: api}
}

func (c *SelfCheck) Activate(ctx context.Context, in Input) {
	c.attach(in.Sink)
	c.mu.Lock()
	c.uuid, c.items, c.report = in.UUID, nil, nil
	c.mu.Unlock()

	if in.UUID == "" {
		c.idle()
		return
	}
	defer c.begin()()

	r, err := c.api.SelfCheckInit(ctx, in.UUID)
	if err != nil {
		c.failed("could not load the self-check list", err)
		return
	}
	items := make([]CheckItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, CheckItem{ID: it.ID, Detail: it.Description})
	}
	c.mu.Lock()
	c.items, c.report = items, r.Report
	c.mu.Unlock()
}

// Toggle flips the checked state of item id.
func (c *SelfCheck) Toggle(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i].Checked = !c.items[i].Checked
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownItem, id)
}

func (c *SelfCheck) checked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, it := range c.items {
		if it.Checked {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// Submit saves the checked items; on success the self-check is completed.
func (c *SelfCheck) Submit(ctx context.Context) error {
	if !c.active() {
		return ErrInactive
	}
	ids := c.checked()
	if len(ids) == 0 {
		c.toast(VariantWarning, "Info", "there are no checked items to update")
		return ErrNothingSelected
	}

	defer c.begin()()
	r, err := c.api.UpdateSelfCheckItems(ctx, ids)
	if err != nil {
		c.failed("could not update self-check items", err)
		return nil
	}
	if !r.OK() {
		c.toast(VariantError, "Error", firstNonEmpty(r.Message, "self-check update was not accepted"))
		return nil
	}
	c.deps.Transition.Complete(viewstate.SelfCheckCompleted)
	return nil
}

func (c *SelfCheck) Do(ctx context.Context, action string, body json.RawMessage) (any, error) {
	switch action {
	case "toggle":
		var req struct {
			ID string `json:"id"`
		}
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		if err := c.Toggle(req.ID); err != nil {
			return nil, err
		}
	case "submit":
		if err := c.Submit(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return c.Snapshot(), nil
}

func (c *SelfCheck) Snapshot() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := SelfCheckView{UUID: c.uuid, Items: append([]CheckItem{}, c.items...), Report: c.report}
	for _, it := range c.items {
		if it.Checked {
			v.CanSubmit = true
			break
		}
	}
	return v
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
