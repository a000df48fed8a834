package channel

// View is one of the mutually exclusive child screens. ViewNone means
// nothing is shown yet.
type View int

const (
	ViewNone View = iota
	ViewErrorReport
	ViewSelfCheckList
	ViewActionRec
	ViewSummaryManual
	ViewPartSelect
	ViewSelfQuote
	ViewTrackingStatus
)

var viewNames = [...]string{
	ViewNone:           "none",
	ViewErrorReport:    "error_report",
	ViewSelfCheckList:  "self_check_list",
	ViewActionRec:      "action_rec",
	ViewSummaryManual:  "summary_manual",
	ViewPartSelect:     "part_select",
	ViewSelfQuote:      "self_quote",
	ViewTrackingStatus: "tracking_status",
}

// Views lists every real view, excluding ViewNone.
func Views() []View {
	return []View{
		ViewErrorReport,
		ViewSelfCheckList,
		ViewActionRec,
		ViewSummaryManual,
		ViewPartSelect,
		ViewSelfQuote,
		ViewTrackingStatus,
	}
}

func (v View) String() string {
	if v < 0 || int(v) >= len(viewNames) {
		return "invalid"
	}
	return viewNames[v]
}

// MarshalText encodes the view by name so snapshots read naturally in JSON.
func (v View) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}
