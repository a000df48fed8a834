package feature

import (
	"github.com/large-farva/agentron/internal/backend"
	"github.com/large-farva/agentron/internal/channel"
)

// Backend is everything the children call. *backend.Client satisfies it.
type Backend interface {
	ErrorReportAPI
	SelfCheckAPI
	ActionRecAPI
	PartSelectAPI
	SelfQuoteAPI
	TrackingAPI
}

var _ Backend = (*backend.Client)(nil)

// Set is one child per view.
type Set struct {
	ErrorReport *ErrorReport
	SelfCheck   *SelfCheck
	ActionRec   *ActionRec
	Summary     *Summary
	PartSelect  *PartSelect
	SelfQuote   *SelfQuote
	Tracking    *Tracking

	byView map[channel.View]Child
}

// NewSet builds every child against api.
func NewSet(api Backend, deps Deps) *Set {
	s := &Set{
		ErrorReport: NewErrorReport(api, deps),
		SelfCheck:   NewSelfCheck(api, deps),
		ActionRec:   NewActionRec(api, deps),
		Summary:     NewSummary(deps),
		PartSelect:  NewPartSelect(api, deps),
		SelfQuote:   NewSelfQuote(api, deps),
		Tracking:    NewTracking(api, deps),
	}
	s.byView = map[channel.View]Child{}
	for _, c := range s.All() {
		s.byView[c.View()] = c
	}
	return s
}

// All lists the children in view order.
func (s *Set) All() []Child {
	return []Child{s.ErrorReport, s.SelfCheck, s.ActionRec, s.Summary, s.PartSelect, s.SelfQuote, s.Tracking}
}

// For returns the child shown for v, or nil for ViewNone.
func (s *Set) For(v channel.View) Child {
	return s.byView[v]
}

// ByName returns the child with the given name.
func (s *Set) ByName(name string) (Child, bool) {
	for _, c := range s.All() {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}
