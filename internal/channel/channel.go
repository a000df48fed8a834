// Package channel defines the closed vocabulary of inbound channel names
// carried by Agentron push events, and the child views those names select.
// Every name outside the vocabulary parses to Unknown so the dispatch in
// viewstate can match exhaustively.
package channel

// Channel is one known inbound channel name, or Unknown.
type Channel int

const (
	Unknown Channel = iota

	// View-select channels.
	ErrorReport
	SelfCheckList
	ActionRec
	SummaryManual
	PartSelect
	SelfQuote
	TrackingStatus

	// Command channels.
	ActionRecSave
	ActionRecActiveDownload
	ShowSpinner
	DisableSpinner
	ShowSpinnerNormal
	DisableSpinnerNormal
)

// Kind groups channels by the dispatch behavior they trigger.
type Kind int

const (
	KindUnknown Kind = iota
	KindViewSelect
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindViewSelect:
		return "view-select"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

var names = map[Channel]string{
	ErrorReport:             "ERROR_REPORT",
	SelfCheckList:           "SELF_CHECKLIST",
	ActionRec:               "ACTION_REC",
	SummaryManual:           "SUMMARY_MANUAL",
	PartSelect:              "PART_SELECT",
	SelfQuote:               "SELF_QUOTE",
	TrackingStatus:          "TRACKING_STATUS",
	ActionRecSave:           "ACTION_REC_SAVE",
	ActionRecActiveDownload: "ACTION_REC_ACTIVE_DOWNLOAD",
	ShowSpinner:             "SHOW_SPINNER",
	DisableSpinner:          "DISABLE_SPINNER",
	ShowSpinnerNormal:       "SHOW_SPINNER_NORMAL",
	DisableSpinnerNormal:    "DISABLE_SPINNER_NORMAL",
}

var byName = func() map[string]Channel {
	m := make(map[string]Channel, len(names))
	for c, n := range names {
		m[n] = c
	}
	return m
}()

// Parse maps a wire name to its Channel. Matching is exact; anything else
// is Unknown.
func Parse(name string) Channel {
	if c, ok := byName[name]; ok {
		return c
	}
	return Unknown
}

// All returns every known channel in declaration order.
func All() []Channel {
	out := make([]Channel, 0, len(names))
	for c := ErrorReport; c <= DisableSpinnerNormal; c++ {
		out = append(out, c)
	}
	return out
}

// String returns the wire name, or "UNKNOWN".
func (c Channel) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// Kind reports which dispatch behavior c triggers.
func (c Channel) Kind() Kind {
	switch c {
	case ErrorReport, SelfCheckList, ActionRec, SummaryManual, PartSelect, SelfQuote, TrackingStatus:
		return KindViewSelect
	case ActionRecSave, ActionRecActiveDownload, ShowSpinner, DisableSpinner, ShowSpinnerNormal, DisableSpinnerNormal:
		return KindCommand
	default:
		return KindUnknown
	}
}

// View returns the view a view-select channel shows. Command and unknown
// channels return ViewNone.
func (c Channel) View() View {
	switch c {
	case ErrorReport:
		return ViewErrorReport
	case SelfCheckList:
		return ViewSelfCheckList
	case ActionRec:
		return ViewActionRec
	case SummaryManual:
		return ViewSummaryManual
	case PartSelect:
		return ViewPartSelect
	case SelfQuote:
		return ViewSelfQuote
	case TrackingStatus:
		return ViewTrackingStatus
	default:
		return ViewNone
	}
}
