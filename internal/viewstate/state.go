// Package viewstate holds the coordinator's view and loading state: which
// child view is visible, the connection status, and the four inputs that
// make up the aggregate loading flag.
//
// State is not safe for concurrent use. The coordinator owns exactly one
// and mutates it from a single goroutine.
package viewstate

import (
	"encoding/json"
	"slices"

	"github.com/large-farva/agentron/internal/channel"
	"github.com/large-farva/agentron/internal/payload"
)

// Flag names one of the explicitly toggled spinner inputs.
type Flag int

const (
	FlagSaveProcessing Flag = iota
	FlagGeneralProcessing
	// FlagNormalSpinner drives the secondary spinner. It is exposed in
	// snapshots but does not contribute to IsLoading.
	FlagNormalSpinner

	numFlags
)

func (f Flag) String() string {
	switch f {
	case FlagSaveProcessing:
		return "save_processing"
	case FlagGeneralProcessing:
		return "general_processing"
	case FlagNormalSpinner:
		return "normal_spinner"
	default:
		return "invalid"
	}
}

// ParseFlag maps a flag name back to its Flag.
func ParseFlag(name string) (Flag, bool) {
	for f := Flag(0); f < numFlags; f++ {
		if f.String() == name {
			return f, true
		}
	}
	return 0, false
}

// Transition is a view change raised by a child rather than by an inbound
// message.
type Transition int

const (
	SelfCheckCompleted Transition = iota + 1
	ActionRecSubmitted
)

func (t Transition) String() string {
	switch t {
	case SelfCheckCompleted:
		return "self_check_completed"
	case ActionRecSubmitted:
		return "action_rec_submitted"
	default:
		return "invalid"
	}
}

// From is the view the transition must start from.
func (t Transition) From() channel.View {
	switch t {
	case SelfCheckCompleted:
		return channel.ViewSelfCheckList
	case ActionRecSubmitted:
		return channel.ViewActionRec
	default:
		return channel.ViewNone
	}
}

// To is the view the transition lands on.
func (t Transition) To() channel.View {
	switch t {
	case SelfCheckCompleted:
		return channel.ViewActionRec
	case ActionRecSubmitted:
		return channel.ViewSummaryManual
	default:
		return channel.ViewNone
	}
}

// Outcome describes what an ApplyChannel or Complete call changed, so the
// caller can carry out the side effects that live outside State.
type Outcome struct {
	Channel channel.Channel
	// ViewChanged is set whenever a view was (re)selected. Generation is
	// the generation of the newly shown view.
	ViewChanged bool
	View        channel.View
	Generation  uint64
	// SaveActionRec asks the caller to send the save command to the
	// visible action recommendation child.
	SaveActionRec bool
	// DownloadReady is set when the download control was just enabled.
	DownloadReady bool
}

// State is the coordinator's owned state. The zero value is not usable;
// call New.
type State struct {
	status    Status
	statusErr string

	view       channel.View
	generation uint64
	children   map[string]struct{}
	flags      [numFlags]bool

	downloadReady  bool
	reportRequired bool
	reportID       string

	uuid        string
	trackingID  string
	lastChannel channel.Channel
	current     payload.Envelope

	loading  bool
	revision uint64
}

// New returns a State in StatusInitializing with no visible view.
func New() *State {
	s := &State{
		status:   StatusInitializing,
		children: make(map[string]struct{}),
	}
	s.Recompute()
	return s
}

// Status returns the connection status and the recorded failure message.
func (s *State) Status() (Status, string) {
	return s.status, s.statusErr
}

// SetStatus moves the connection status forward. Moves that break the
// linear progression are rejected and reported as false. errMsg is only
// kept for StatusFailed.
func (s *State) SetStatus(next Status, errMsg string) bool {
	if !s.status.CanAdvance(next) {
		return false
	}
	s.status = next
	if next == StatusFailed {
		s.statusErr = errMsg
	}
	s.touch()
	s.Recompute()
	return true
}

// RequireReport marks that the initial view needs an external report id
// before initial loading can finish.
func (s *State) RequireReport() {
	if s.reportRequired {
		return
	}
	s.reportRequired = true
	s.touch()
	s.Recompute()
}

// SetReportID stores the resolved report id.
func (s *State) SetReportID(id string) {
	if s.reportID == id {
		return
	}
	s.reportID = id
	s.touch()
	s.Recompute()
}

// ReportID returns the resolved report id, if any.
func (s *State) ReportID() string { return s.reportID }

// RegisterChildLoading adds childID to the active set when loading is
// true and removes it otherwise. Removing a non-member is a no-op. It
// returns the recomputed aggregate.
func (s *State) RegisterChildLoading(childID string, loading bool) bool {
	_, member := s.children[childID]
	switch {
	case loading && !member:
		s.children[childID] = struct{}{}
		s.touch()
	case !loading && member:
		delete(s.children, childID)
		s.touch()
	}
	return s.Recompute()
}

// SetFlag sets one of the named flags and returns the recomputed aggregate.
func (s *State) SetFlag(f Flag, v bool) bool {
	if f >= 0 && f < numFlags && s.flags[f] != v {
		s.flags[f] = v
		s.touch()
	}
	return s.Recompute()
}

// Flag reports the current value of f.
func (s *State) Flag(f Flag) bool {
	if f < 0 || f >= numFlags {
		return false
	}
	return s.flags[f]
}

// Recompute derives IsLoading from its inputs and returns it.
func (s *State) Recompute() bool {
	v := s.InitialLoading() ||
		s.ChildLoading() ||
		s.flags[FlagSaveProcessing] ||
		s.flags[FlagGeneralProcessing]
	if v != s.loading {
		s.loading = v
		s.touch()
	}
	return v
}

// IsLoading is the aggregate consumed by the spinner.
func (s *State) IsLoading() bool { return s.loading }

// InitialLoading stays true until the handshake has completed and, when
// one is required, the report id has been obtained.
func (s *State) InitialLoading() bool {
	if !s.status.Ready() {
		return true
	}
	return s.reportRequired && s.reportID == ""
}

// ChildLoading reports whether any child is still loading.
func (s *State) ChildLoading() bool { return len(s.children) > 0 }

// ActiveChildren returns the loading child ids in sorted order.
func (s *State) ActiveChildren() []string {
	out := make([]string, 0, len(s.children))
	for id := range s.children {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// View returns the visible view and its generation.
func (s *State) View() (channel.View, uint64) { return s.view, s.generation }

// Visible reports whether v is the visible view.
func (s *State) Visible(v channel.View) bool {
	return v != channel.ViewNone && s.view == v
}

// DownloadReady reports whether the action recommendation download control
// is enabled.
func (s *State) DownloadReady() bool { return s.downloadReady }

// UUID returns the last non-empty uuid received.
func (s *State) UUID() string { return s.uuid }

// TrackingID returns the tracking id from the last TRACKING_STATUS message.
func (s *State) TrackingID() string { return s.trackingID }

// Current returns the last decoded payload and the channel it arrived on.
func (s *State) Current() (channel.Channel, payload.Envelope) {
	return s.lastChannel, s.current
}

// Revision increases on every observable change.
func (s *State) Revision() uint64 { return s.revision }

// Receive stores a decoded payload as the current payload and then applies
// the channel. Unknown channels change nothing.
func (s *State) Receive(c channel.Channel, env payload.Envelope) Outcome {
	if c.Kind() == channel.KindUnknown {
		return Outcome{Channel: c}
	}
	s.lastChannel = c
	s.current = env
	if env.UUID != "" {
		s.uuid = env.UUID
	}
	if c == channel.TrackingStatus {
		s.trackingID = env.TrackingID
	}
	s.touch()
	return s.ApplyChannel(c)
}

// ApplyChannel runs the view-switch policy for c.
func (s *State) ApplyChannel(c channel.Channel) Outcome {
	out := Outcome{Channel: c}
	switch c.Kind() {
	case channel.KindViewSelect:
		s.show(c.View())
		out.ViewChanged = true
		out.View, out.Generation = s.view, s.generation

	case channel.KindCommand:
		switch c {
		case channel.ActionRecSave:
			s.SetFlag(FlagSaveProcessing, true)
			out.SaveActionRec = true
		case channel.ActionRecActiveDownload:
			s.SetFlag(FlagSaveProcessing, false)
			if !s.downloadReady {
				s.downloadReady = true
				s.touch()
			}
			out.DownloadReady = true
		case channel.ShowSpinner:
			s.SetFlag(FlagGeneralProcessing, true)
		case channel.DisableSpinner:
			s.SetFlag(FlagGeneralProcessing, false)
		case channel.ShowSpinnerNormal:
			s.SetFlag(FlagNormalSpinner, true)
		case channel.DisableSpinnerNormal:
			s.SetFlag(FlagNormalSpinner, false)
		}

	case channel.KindUnknown:
		// no-op
	}
	return out
}

// Complete applies an explicit transition. It is ignored unless the
// transition's source view is the visible one.
func (s *State) Complete(t Transition) (Outcome, bool) {
	if t.From() == channel.ViewNone || s.view != t.From() {
		return Outcome{}, false
	}
	s.show(t.To())
	return Outcome{ViewChanged: true, View: s.view, Generation: s.generation}, true
}

// show empties the child loading set, recomputes, then makes v the only
// visible view under a fresh generation.
func (s *State) show(v channel.View) {
	if len(s.children) > 0 {
		clear(s.children)
	}
	s.Recompute()
	s.view = v
	s.generation++
	s.downloadReady = false
	s.touch()
}

func (s *State) touch() { s.revision++ }

// Loading is the breakdown of the aggregate loading flag.
type Loading struct {
	IsLoading         bool     `json:"is_loading"`
	Initial           bool     `json:"initial"`
	Child             bool     `json:"child"`
	SaveProcessing    bool     `json:"save_processing"`
	GeneralProcessing bool     `json:"general_processing"`
	ActiveChildren    []string `json:"active_children"`
}

// Snapshot is a read-only copy of State suitable for JSON encoding.
type Snapshot struct {
	Revision      uint64          `json:"revision"`
	Status        Status          `json:"status"`
	StatusClass   string          `json:"status_class"`
	StatusError   string          `json:"status_error,omitempty"`
	IsConnected   bool            `json:"is_connected"`
	View          channel.View    `json:"view"`
	Generation    uint64          `json:"generation"`
	Visible       map[string]bool `json:"visible"`
	Loading       Loading         `json:"loading"`
	NormalSpinner bool            `json:"normal_spinner"`
	DownloadReady bool            `json:"download_ready"`
	UUID          string          `json:"uuid,omitempty"`
	TrackingID    string          `json:"tracking_id,omitempty"`
	ReportID      string          `json:"report_id,omitempty"`
	Channel       string          `json:"channel,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	visible := make(map[string]bool, len(channel.Views()))
	for _, v := range channel.Views() {
		visible[v.String()] = s.view == v
	}
	snap := Snapshot{
		Revision:    s.revision,
		Status:      s.status,
		StatusClass: s.status.Class(),
		StatusError: s.statusErr,
		IsConnected: s.status.Connected(),
		View:        s.view,
		Generation:  s.generation,
		Visible:     visible,
		Loading: Loading{
			IsLoading:         s.loading,
			Initial:           s.InitialLoading(),
			Child:             s.ChildLoading(),
			SaveProcessing:    s.flags[FlagSaveProcessing],
			GeneralProcessing: s.flags[FlagGeneralProcessing],
			ActiveChildren:    s.ActiveChildren(),
		},
		NormalSpinner: s.flags[FlagNormalSpinner],
		DownloadReady: s.downloadReady,
		UUID:          s.uuid,
		TrackingID:    s.trackingID,
		ReportID:      s.reportID,
		Payload:       slices.Clone(s.current.Raw),
	}
	if s.lastChannel != channel.Unknown {
		snap.Channel = s.lastChannel.String()
	}
	return snap
}
