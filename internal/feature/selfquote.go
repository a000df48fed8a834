package feature

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/large-farva/agentron/internal/backend"
	"github.com/large-farva/agentron/internal/channel"
	"github.com/large-farva/agentron/internal/payload"
)

type SelfQuoteAPI interface {
	ServiceQuote(ctx context.Context, quoteID, accountID string) (backend.Quote, error)
	CurrentUser(ctx context.Context) (backend.User, error)
	SendQuote(ctx context.Context, quoteID, recipient string) (backend.Result, error)
}

type QuoteLine struct {
	Index          int     `json:"index"`
	Product        string  `json:"product"`
	Classification string  `json:"classification"`
	UnitPrice      float64 `json:"unit_price"`
	Quantity       float64 `json:"quantity"`
	Total          float64 `json:"total"`
}

type SelfQuoteView struct {
	QuoteID       string          `json:"quote_id,omitempty"`
	Account       string          `json:"account,omitempty"`
	Contact       string          `json:"contact,omitempty"`
	Recipient     string          `json:"recipient,omitempty"`
	Quote         json.RawMessage `json:"quote,omitempty"`
	Lines         []QuoteLine     `json:"lines"`
	TotalQuantity float64         `json:"total_quantity"`
	TotalAmount   float64         `json:"total_amount"`
}

// QuoteLines numbers the lines from 1 and computes per-line and overall
// totals.
func QuoteLines(items []backend.LineItem) (lines []QuoteLine, qty, amount float64) {
	lines = make([]QuoteLine, 0, len(items))
	for i, it := range items {
		l := QuoteLine{
			Index:          i + 1,
			Product:        firstNonEmpty(it.Product.Name, "Product"),
			Classification: firstNonEmpty(it.Product.Classification, "Classification"),
			UnitPrice:      float64(it.UnitPrice),
			Quantity:       float64(it.Quantity),
		}
		l.Total = l.UnitPrice * l.Quantity
		qty += l.Quantity
		amount += l.Total
		lines = append(lines, l)
	}
	return lines, qty, amount
}

// SelfQuote shows a generated service quote and places the order by
// mailing it to the current user.
type SelfQuote struct {
	base
	api SelfQuoteAPI

	mu    sync.Mutex
	state SelfQuoteView
}

func NewSelfQuote(api SelfQuoteAPI, deps Deps) *SelfQuote {
	return &SelfQuote{base: newBase(channel.ViewSelfQuote, deps), api: api}
}

func (c *SelfQuote) Activate(ctx context.Context, in Input) {
	c.attach(in.Sink)
	rec, _ := in.Envelope.Record.(payload.SelfQuote)
	c.setState(SelfQuoteView{QuoteID: rec.ServiceQuoteID})

	if rec.ServiceQuoteID == "" {
		c.toast(VariantWarning, "Warning", "service quote information is required")
		c.idle()
		return
	}
	defer c.begin()()

	v := SelfQuoteView{QuoteID: rec.ServiceQuoteID, Contact: "Contact"}
	if u, err := c.api.CurrentUser(ctx); err != nil {
		c.log.Debug("current user unavailable")
	} else {
		v.Contact = firstNonEmpty(u.Name, v.Contact)
		v.Recipient = u.Email
	}

	q, err := c.api.ServiceQuote(ctx, rec.ServiceQuoteID, rec.AccountID)
	if err != nil {
		c.failed("could not load the quote", err)
		c.setState(v)
		return
	}
	v.Quote = q.ServiceQuote
	v.Account = firstNonEmpty(q.AccountName, "Customer")
	v.Lines, v.TotalQuantity, v.TotalAmount = QuoteLines(q.LineItems)
	c.setState(v)
}

// Send places the order: the quote PDF is mailed to the current user.
func (c *SelfQuote) Send(ctx context.Context) error {
	if !c.active() {
		return ErrInactive
	}
	c.mu.Lock()
	quoteID, to := c.state.QuoteID, c.state.Recipient
	c.mu.Unlock()
	if quoteID == "" {
		c.toast(VariantWarning, "Warning", "there is no quote")
		return fmt.Errorf("%w: no quote", ErrNotReady)
	}
	if to == "" {
		return fmt.Errorf("%w: no recipient address", ErrNotReady)
	}

	defer c.begin()()
	r, err := c.api.SendQuote(ctx, quoteID, to)
	if err != nil {
		c.failed("could not process the order", err)
		return nil
	}
	if !r.Success {
		c.toast(VariantError, "Error", firstNonEmpty(r.Message, "could not process the order"))
		return nil
	}
	c.toast(VariantSuccess, "Success", "order placed, the quote was sent to "+to)
	return nil
}

func (c *SelfQuote) Do(ctx context.Context, action string, _ json.RawMessage) (any, error) {
	switch action {
	case "send":
		if err := c.Send(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return c.Snapshot(), nil
}

func (c *SelfQuote) setState(v SelfQuoteView) {
	if v.Lines == nil {
		v.Lines = []QuoteLine{}
	}
	c.mu.Lock()
	c.state = v
	c.mu.Unlock()
}

func (c *SelfQuote) Snapshot() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
