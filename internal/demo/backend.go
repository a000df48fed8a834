package demo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/large-farva/agentron/internal/backend"
)

// Backend answers every child call with plausible canned data. Costs, stock
// levels and the tracking step are randomized per call so repeated demo
// rounds do not render identically.
type Backend struct {
	mu       sync.Mutex
	selected []backend.SelectedPartItem
	checked  map[string]bool
	sent     []string
}

func NewBackend() *Backend {
	return &Backend{checked: map[string]bool{}}
}

var components = []struct {
	name     string
	severity string
}{
	{"Hydraulic pump", "매우 높음"},
	{"Drive motor", "높음"},
	{"Control board", "보통"},
	{"Cooling fan", "낮음"},
}

func (b *Backend) RiskAnalyzeReportID(_ context.Context, uuid string) (string, error) {
	if uuid == "" {
		return "", fmt.Errorf("%w: empty uuid", backend.ErrBackendCall)
	}
	id := strings.ReplaceAll(uuid, "-", "")
	if len(id) > 10 {
		id = id[:10]
	}
	return "RAR-" + strings.ToUpper(id), nil
}

func (b *Backend) ErrorReportInit(context.Context, string) (backend.ErrorReport, error) {
	yes := true
	r := backend.ErrorReport{HasPredictions: &yes, Message: "analysis complete"}
	for i, c := range components {
		self := 50 + rand.Float64()*450
		r.RiskItems = append(r.RiskItems, backend.RiskItem{
			ComponentName:      c.name,
			FaultSeverityLevel: c.severity,
			ExpectedFaultDate:  time.Now().AddDate(0, i+1, 0).Format("2006-01-02"),
			RiskReason:         fmt.Sprintf("%s vibration above baseline", c.name),
			RecommendedAction:  "inspect and replace if worn",
			SelfRepairCost:     backend.Amount(self),
			ExternalRepairCost: backend.Amount(self * (1.5 + rand.Float64())),
		})
	}
	return r, nil
}

func (b *Backend) SelfCheckInit(context.Context, string) (backend.SelfCheck, error) {
	return backend.SelfCheck{Items: []backend.SelfCheckItem{
		{ID: "SC-1", Description: "Power cable is firmly connected"},
		{ID: "SC-2", Description: "No visible oil leak under the pump"},
		{ID: "SC-3", Description: "Cooling vents are not blocked"},
	}}, nil
}

func (b *Backend) UpdateSelfCheckItems(_ context.Context, ids []string) (backend.StatusResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.checked[id] = true
	}
	return backend.StatusResult{Status: "SUCCESS"}, nil
}

func (b *Backend) ProcessActionRec(context.Context, string) (backend.ActionRec, error) {
	r := backend.ActionRec{HasPredictions: true, AnalysisSummary: "Two components need attention within a month."}
	for i, c := range components[:2] {
		r.RecommendedActions = append(r.RecommendedActions, backend.RecommendedAction{
			ID:                fmt.Sprintf("AR-%d", i+1),
			ActionIndex:       i + 1,
			FaultType:         "Wear",
			FaultDetailType:   "Bearing",
			FaultReason:       "vibration trend",
			FaultLocation:     c.name,
			ActionDescription: "replace " + strings.ToLower(c.name) + " bearing",
			PartsNeeded:       []backend.PartNeeded{{ProductCode: fmt.Sprintf("P-%03d", 100+i), Quantity: i + 1}},
			IsChecked:         i == 0,
		})
	}
	return r, nil
}

func (b *Backend) UpdateActionRecItems(context.Context, []string) (backend.Result, error) {
	return backend.Result{Success: true}, nil
}

func (b *Backend) DocumentForDownload(_ context.Context, reportID string) (backend.DocumentResult, error) {
	return backend.DocumentResult{
		Result: backend.Result{Success: true},
		Files: []backend.File{{
			FileName:   reportID + "-manual.pdf",
			FileType:   "application/pdf",
			Base64Data: "JVBERi0xLjQK",
		}},
	}, nil
}

func (b *Backend) SaveComponentStatus(context.Context, string, string, string) error { return nil }

func (b *Backend) BaseProductCode(context.Context, string) (string, error) {
	return "AGT-3000", nil
}

func (b *Backend) RecommendedParts(context.Context, string) (backend.Parts, error) {
	b.mu.Lock()
	selected := append([]backend.SelectedPartItem(nil), b.selected...)
	b.mu.Unlock()

	r := backend.Parts{Success: true, SelectedParts: selected}
	for i, c := range components {
		price := backend.Amount(20 + 10*i)
		r.Products = append(r.Products, backend.Product{
			ID:               fmt.Sprintf("01t%05d", i+1),
			Name:             c.name + " kit",
			ProductCode:      fmt.Sprintf("P-%03d", 100+i),
			Classification:   "Consumable",
			ShippingLeadTime: fmt.Sprintf("%d days", 1+rand.IntN(5)),
			Stock:            rand.IntN(12),
			Price:            &price,
		})
	}
	return r, nil
}

func (b *Backend) SaveSelectedParts(_ context.Context, parts []backend.SelectedPart) (backend.Result, error) {
	items := make([]backend.SelectedPartItem, 0, len(parts))
	for _, p := range parts {
		price := backend.Amount(p.ListPrice)
		items = append(items, backend.SelectedPartItem{ProductID: p.ProductID, Quantity: p.Quantity, ListPrice: &price})
	}
	b.mu.Lock()
	b.selected = items
	b.mu.Unlock()
	return backend.Result{Success: true}, nil
}

func (b *Backend) GenerateQuote(context.Context, string, []backend.SelectedPart) (backend.Result, error) {
	return backend.Result{Success: true, Message: "quote created"}, nil
}

func (b *Backend) ServiceQuote(context.Context, string, string) (backend.Quote, error) {
	q := backend.Quote{
		ServiceQuote: []byte(`{"Name":"SQ-0001","Status__c":"Draft"}`),
		AccountName:  "Demo Manufacturing",
	}
	for i, c := range components[:2] {
		var li backend.LineItem
		li.Product.Name = c.name + " kit"
		li.Product.Classification = "Consumable"
		li.UnitPrice = backend.Amount(20 + 10*i)
		li.Quantity = backend.Amount(i + 1)
		q.LineItems = append(q.LineItems, li)
	}
	return q, nil
}

func (b *Backend) CurrentUser(context.Context) (backend.User, error) {
	return backend.User{Name: "Demo Operator", Email: "operator@example.com"}, nil
}

func (b *Backend) SendQuote(_ context.Context, _ string, recipient string) (backend.Result, error) {
	b.mu.Lock()
	b.sent = append(b.sent, recipient)
	b.mu.Unlock()
	return backend.Result{Success: true}, nil
}

var stages = []string{"Order received", "Picked", "Shipped", "In transit", "Delivered"}

func (b *Backend) TrackingInfo(context.Context, string) (backend.Tracking, error) {
	now := time.Now().UTC()
	step := 1 + rand.IntN(len(stages))
	r := backend.Tracking{Success: true, CurrentStep: step}
	for i, s := range stages {
		m := backend.Milestone{Sequence: i + 1, KeyStage: s}
		if i < step {
			ts := now.Add(time.Duration(i-step) * 6 * time.Hour).Format(time.RFC3339)
			m.Time = &ts
			r.ProviderEvents = append(r.ProviderEvents, backend.ProviderEvent{EventTime: ts, Description: s})
		}
		r.Milestones = append(r.Milestones, m)
	}
	return r, nil
}
