package feature

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/large-farva/agentron/internal/backend"
	"github.com/large-farva/agentron/internal/channel"
	"github.com/large-farva/agentron/internal/payload"
)

type PartSelectAPI interface {
	SaveComponentStatus(ctx context.Context, sessionID, reportID, component string) error
	BaseProductCode(ctx context.Context, reportID string) (string, error)
	RecommendedParts(ctx context.Context, reportID string) (backend.Parts, error)
	SaveSelectedParts(ctx context.Context, parts []backend.SelectedPart) (backend.Result, error)
	GenerateQuote(ctx context.Context, reportID string, parts []backend.SelectedPart) (backend.Result, error)
}

const (
	minQuantity = 1
	maxQuantity = 999
)

// ClampQuantity keeps a requested quantity within what an order line can
// hold.
func ClampQuantity(q int) int {
	return max(minQuantity, min(q, maxQuantity))
}

// StockClass buckets a stock count for display.
func StockClass(stock int) string {
	switch {
	case stock <= 0:
		return "stock-out"
	case stock <= 5:
		return "stock-low"
	default:
		return "stock-normal"
	}
}

type PartRow struct {
	ID             string  `json:"id"`
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	Classification string  `json:"classification,omitempty"`
	Company        string  `json:"company,omitempty"`
	LeadTime       string  `json:"lead_time,omitempty"`
	Stock          int     `json:"stock"`
	StockClass     string  `json:"stock_class"`
	Price          float64 `json:"price"`
	Selected       bool    `json:"selected"`
	Quantity       int     `json:"quantity"`
}

type PartSelectView struct {
	ReportID        string    `json:"report_id,omitempty"`
	BaseProductCode string    `json:"base_product_code,omitempty"`
	Search          string    `json:"search,omitempty"`
	Rows            []PartRow `json:"rows"`
	SelectedCount   int       `json:"selected_count"`
	Initialized     bool      `json:"initialized"`
}

type selection struct {
	quantity  int
	listPrice float64
}

// PartSelect lets the operator pick parts and turn them into a quote.
type PartSelect struct {
	base
	api PartSelectAPI

	mu          sync.Mutex
	reportID    string
	baseCode    string
	products    []backend.Product
	selected    map[string]selection
	search      string
	initialized bool
}

func NewPartSelect(api PartSelectAPI, deps Deps) *PartSelect {
	return &PartSelect{base: newBase(channel.ViewPartSelect, deps), api: api, selected: map[string]selection{}}
}

func (c *PartSelect) Activate(ctx context.Context, in Input) {
	c.attach(in.Sink)
	c.mu.Lock()
	c.reportID, c.baseCode, c.products, c.search, c.initialized = "", "", nil, "", false
	c.selected = map[string]selection{}
	c.mu.Unlock()

	if in.Envelope.Empty() {
		c.idle()
		return
	}
	rec, _ := in.Envelope.Record.(payload.PartSelect)
	reportID := firstNonEmpty(rec.ReportID, in.ReportID)
	if reportID == "" {
		c.toast(VariantWarning, "Warning", "the event carries no risk analysis report id")
		c.idle()
		return
	}

	defer c.begin()()
	c.mu.Lock()
	c.reportID = reportID
	c.mu.Unlock()

	if err := c.api.SaveComponentStatus(ctx, rec.SessionID, reportID, channel.PartSelect.String()); err != nil {
		c.failed("could not process the event data", err)
		return
	}
	c.reload(ctx)
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
}

// reload refreshes the base product code, the products and the saved
// selection.
func (c *PartSelect) reload(ctx context.Context) {
	c.mu.Lock()
	reportID := c.reportID
	c.mu.Unlock()

	code, err := c.api.BaseProductCode(ctx, reportID)
	if err != nil || code == "" {
		c.log.Debug("base product code unavailable")
		code = "Unknown Product"
	}

	parts, err := c.api.RecommendedParts(ctx, reportID)
	if err != nil {
		c.failed("could not load part data", err)
		parts = backend.Parts{}
	}

	sel := map[string]selection{}
	products := parts.Products
	if !parts.Success || len(parts.Products) == 0 {
		products = nil
	} else {
		for _, s := range parts.SelectedParts {
			price := 0.0
			if s.ListPrice != nil {
				price = float64(*s.ListPrice)
			}
			sel[s.ProductID] = selection{quantity: s.Quantity, listPrice: price}
		}
	}

	c.mu.Lock()
	c.baseCode, c.products, c.selected = code, products, sel
	c.mu.Unlock()
}

func (c *PartSelect) productPrice(id string) float64 {
	for _, p := range c.products {
		if p.ID == id && p.Price != nil {
			return float64(*p.Price)
		}
	}
	return 0
}

func (c *PartSelect) known(id string) bool {
	for _, p := range c.products {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Toggle selects or deselects a product with quantity 1.
func (c *PartSelect) Toggle(productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known(productID) {
		return fmt.Errorf("%w: %q", ErrUnknownItem, productID)
	}
	if _, ok := c.selected[productID]; ok {
		delete(c.selected, productID)
		return nil
	}
	c.selected[productID] = selection{quantity: 1, listPrice: c.productPrice(productID)}
	return nil
}

// SetQuantity sets the quantity of a product, selecting it if needed.
func (c *PartSelect) SetQuantity(productID string, q int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known(productID) {
		return fmt.Errorf("%w: %q", ErrUnknownItem, productID)
	}
	s, ok := c.selected[productID]
	if !ok {
		s.listPrice = c.productPrice(productID)
	}
	s.quantity = ClampQuantity(q)
	c.selected[productID] = s
	return nil
}

// Search filters the visible rows by code, name, company or
// classification.
func (c *PartSelect) Search(term string) {
	c.mu.Lock()
	c.search = strings.ToLower(strings.TrimSpace(term))
	c.mu.Unlock()
}

func (c *PartSelect) selectedParts() []backend.SelectedPart {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]backend.SelectedPart, 0, len(c.selected))
	for _, p := range c.products {
		s, ok := c.selected[p.ID]
		if !ok {
			continue
		}
		out = append(out, backend.SelectedPart{
			RiskAnalyzeReportID: c.reportID,
			ProductID:           p.ID,
			ListPrice:           s.listPrice,
			Quantity:            s.quantity,
		})
	}
	return out
}

// Save replaces the saved selection with the current one.
func (c *PartSelect) Save(ctx context.Context) error {
	return c.store(ctx, c.selectedParts(), "selection was saved")
}

// Clear empties the saved selection.
func (c *PartSelect) Clear(ctx context.Context) error {
	return c.store(ctx, nil, "all selections were cleared")
}

func (c *PartSelect) store(ctx context.Context, parts []backend.SelectedPart, okMsg string) error {
	if !c.active() {
		return ErrInactive
	}
	defer c.begin()()
	r, err := c.api.SaveSelectedParts(ctx, parts)
	if err != nil {
		c.failed("could not save the selection", err)
		return nil
	}
	if !r.Success {
		c.toast(VariantError, "Error", firstNonEmpty(r.Message, "could not save the selection"))
		return nil
	}
	c.toast(VariantSuccess, "Success", firstNonEmpty(r.Message, okMsg))
	c.reload(ctx)
	return nil
}

// Quote generates a service quote from the current selection.
func (c *PartSelect) Quote(ctx context.Context) error {
	if !c.active() {
		return ErrInactive
	}
	parts := c.selectedParts()
	if len(parts) == 0 {
		return ErrNothingSelected
	}
	c.mu.Lock()
	reportID := c.reportID
	c.mu.Unlock()

	defer c.begin()()
	r, err := c.api.GenerateQuote(ctx, reportID, parts)
	if err != nil {
		c.failed("could not generate the quote", err)
		return nil
	}
	if !r.Success {
		c.toast(VariantError, "Error", firstNonEmpty(r.Message, "could not generate the quote"))
		return nil
	}
	c.toast(VariantSuccess, "Success", "the quote was generated")
	c.reload(ctx)
	return nil
}

func (c *PartSelect) Do(ctx context.Context, action string, body json.RawMessage) (any, error) {
	var req struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
		Term      string `json:"term"`
	}
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	var err error
	switch action {
	case "toggle":
		err = c.Toggle(req.ProductID)
	case "quantity":
		err = c.SetQuantity(req.ProductID, req.Quantity)
	case "search":
		c.Search(req.Term)
	case "save":
		err = c.Save(ctx)
	case "clear":
		err = c.Clear(ctx)
	case "quote":
		err = c.Quote(ctx)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if err != nil {
		return nil, err
	}
	return c.Snapshot(), nil
}

func matches(p backend.Product, term string) bool {
	if term == "" {
		return true
	}
	for _, f := range []string{p.ProductCode, p.Name, p.PurchaseCompany, p.Classification} {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}

func (c *PartSelect) Snapshot() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := PartSelectView{
		ReportID:        c.reportID,
		BaseProductCode: c.baseCode,
		Search:          c.search,
		Rows:            []PartRow{},
		SelectedCount:   len(c.selected),
		Initialized:     c.initialized,
	}
	for _, p := range c.products {
		if !matches(p, c.search) {
			continue
		}
		row := PartRow{
			ID:             p.ID,
			Code:           p.ProductCode,
			Name:           p.Name,
			Classification: p.Classification,
			Company:        p.PurchaseCompany,
			LeadTime:       p.ShippingLeadTime,
			Stock:          p.Stock,
			StockClass:     StockClass(p.Stock),
			Quantity:       1,
		}
		if p.Price != nil {
			row.Price = float64(*p.Price)
		}
		if s, ok := c.selected[p.ID]; ok {
			row.Selected = true
			row.Quantity = s.quantity
			if s.listPrice > 0 {
				row.Price = s.listPrice
			}
		}
		v.Rows = append(v.Rows, row)
	}
	return v
}
