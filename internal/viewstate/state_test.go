package viewstate

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/agentron/internal/channel"
	"github.com/large-farva/agentron/internal/payload"
)

func subscribed(t *testing.T) *State {
	t.Helper()
	s := New()
	for _, st := range []Status{StatusGettingSession, StatusLoadingTransport, StatusConnecting, StatusConnected, StatusSubscribed} {
		require.True(t, s.SetStatus(st, ""), st)
	}
	require.False(t, s.IsLoading())
	return s
}

func receive(t *testing.T, s *State, name, doc string) Outcome {
	t.Helper()
	c := channel.Parse(name)
	env, err := payload.Decode(c, doc)
	require.NoError(t, err)
	return s.Receive(c, env)
}

func visibleCount(s *State) int {
	n := 0
	for _, v := range channel.Views() {
		if s.Visible(v) {
			n++
		}
	}
	return n
}

func expectedLoading(s *State) bool {
	return s.InitialLoading() || s.ChildLoading() || s.Flag(FlagSaveProcessing) || s.Flag(FlagGeneralProcessing)
}

func TestNewStateIsInitialLoading(t *testing.T) {
	s := New()
	st, msg := s.Status()
	assert.Equal(t, StatusInitializing, st)
	assert.Empty(t, msg)
	assert.True(t, s.IsLoading())
	assert.True(t, s.InitialLoading())
	v, _ := s.View()
	assert.Equal(t, channel.ViewNone, v)
	assert.Zero(t, visibleCount(s))
}

func TestStatusProgressionIsLinear(t *testing.T) {
	s := New()
	require.True(t, s.SetStatus(StatusConnecting, ""))
	assert.False(t, s.SetStatus(StatusGettingSession, ""), "no moving backwards")
	require.True(t, s.SetStatus(StatusFailed, "handshake rejected"))
	assert.False(t, s.SetStatus(StatusSubscribed, ""), "failed is terminal")

	st, msg := s.Status()
	assert.Equal(t, StatusFailed, st)
	assert.Equal(t, "handshake rejected", msg)
	assert.Equal(t, "error", st.Class())
	assert.False(t, st.Connected())
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "success", StatusSubscribed.Class())
	assert.Equal(t, "success", StatusConnected.Class())
	assert.Equal(t, "default", StatusConnecting.Class())
	assert.Equal(t, "error", StatusFailed.Class())
	assert.True(t, StatusSubscribed.Connected())
	assert.False(t, StatusConnected.Connected())
	assert.True(t, StatusConnected.Ready())
}

func TestErrorReportScenario(t *testing.T) {
	s := subscribed(t)
	out := receive(t, s, "ERROR_REPORT", `{"uuid":"abc-1"}`)

	assert.True(t, out.ViewChanged)
	assert.Equal(t, channel.ViewErrorReport, out.View)
	for _, v := range channel.Views() {
		assert.Equal(t, v == channel.ViewErrorReport, s.Visible(v), v.String())
	}
	assert.Equal(t, "abc-1", s.UUID())

	snap := s.Snapshot()
	assert.Equal(t, "ERROR_REPORT", snap.Channel)
	assert.True(t, snap.Visible["error_report"])
	assert.JSONEq(t, `{"uuid":"abc-1"}`, string(snap.Payload))
}

func TestChildLoadingMembership(t *testing.T) {
	s := subscribed(t)

	s.RegisterChildLoading("childA", true)
	s.RegisterChildLoading("childB", true)
	s.RegisterChildLoading("childA", false)
	assert.True(t, s.ChildLoading())
	assert.True(t, s.IsLoading())
	assert.Equal(t, []string{"childB"}, s.ActiveChildren())

	s.RegisterChildLoading("childB", false)
	assert.False(t, s.ChildLoading())
	assert.False(t, s.IsLoading())

	rev := s.Revision()
	s.RegisterChildLoading("ghost", false)
	assert.Equal(t, rev, s.Revision(), "removing a non-member is a no-op")
}

func TestActionRecSaveThenDownload(t *testing.T) {
	s := subscribed(t)
	receive(t, s, "ACTION_REC", `{"uuid":"u1","reportId":"r1"}`)

	out := receive(t, s, "ACTION_REC_SAVE", "")
	assert.True(t, out.SaveActionRec)
	assert.False(t, out.ViewChanged)
	assert.True(t, s.Flag(FlagSaveProcessing))
	assert.True(t, s.IsLoading())
	assert.True(t, s.Visible(channel.ViewActionRec))

	out = receive(t, s, "ACTION_REC_ACTIVE_DOWNLOAD", "")
	assert.True(t, out.DownloadReady)
	assert.False(t, s.Flag(FlagSaveProcessing))
	assert.False(t, s.IsLoading())
	assert.True(t, s.DownloadReady())
}

func TestSpinnerCommands(t *testing.T) {
	s := subscribed(t)

	receive(t, s, "SHOW_SPINNER", "")
	assert.True(t, s.Flag(FlagGeneralProcessing))
	assert.True(t, s.IsLoading())
	receive(t, s, "DISABLE_SPINNER", "")
	assert.False(t, s.IsLoading())

	receive(t, s, "SHOW_SPINNER_NORMAL", "")
	assert.True(t, s.Flag(FlagNormalSpinner))
	assert.False(t, s.IsLoading(), "the secondary spinner is not part of the aggregate")
	assert.True(t, s.Snapshot().NormalSpinner)
	receive(t, s, "DISABLE_SPINNER_NORMAL", "")
	assert.False(t, s.Flag(FlagNormalSpinner))
}

func TestCommandChannelKeepsViewAndChildren(t *testing.T) {
	s := subscribed(t)
	receive(t, s, "SELF_CHECKLIST", `{"uuid":"u"}`)
	s.RegisterChildLoading("selfcheck", true)

	receive(t, s, "SHOW_SPINNER", "")
	assert.True(t, s.Visible(channel.ViewSelfCheckList))
	assert.Equal(t, []string{"selfcheck"}, s.ActiveChildren())
}

func TestUnknownChannelLeavesStateUnchanged(t *testing.T) {
	s := subscribed(t)
	receive(t, s, "PART_SELECT", `{"uuid":"p1"}`)
	s.RegisterChildLoading("partselect", true)
	before := s.Snapshot()

	out := receive(t, s, "REFRESH_EVERYTHING", `{"uuid":"other"}`)
	assert.False(t, out.ViewChanged)
	assert.Equal(t, before, s.Snapshot())

	out = s.ApplyChannel(channel.Unknown)
	assert.Equal(t, Outcome{Channel: channel.Unknown}, out)
	assert.Equal(t, before, s.Snapshot())
}

func TestViewSwitchClearsChildLoading(t *testing.T) {
	s := subscribed(t)
	receive(t, s, "ERROR_REPORT", `{"uuid":"u"}`)
	s.RegisterChildLoading("errorreport", true)
	_, gen := s.View()

	out := receive(t, s, "TRACKING_STATUS", `{"uuid":"u","trackingId":"T1"}`)
	assert.False(t, s.ChildLoading())
	assert.False(t, s.IsLoading())
	assert.Greater(t, out.Generation, gen)
	assert.Equal(t, "T1", s.TrackingID())
}

func TestTrackingIDOnlyFromTrackingStatus(t *testing.T) {
	s := subscribed(t)
	receive(t, s, "TRACKING_STATUS", `{"trackingId":"T1"}`)
	receive(t, s, "PART_SELECT", `{"trackingId":"T2"}`)
	assert.Equal(t, "T1", s.TrackingID())

	receive(t, s, "TRACKING_STATUS", `{}`)
	assert.Empty(t, s.TrackingID())
}

func TestUUIDKeptWhenPayloadOmitsIt(t *testing.T) {
	s := subscribed(t)
	receive(t, s, "SELF_CHECKLIST", `{"uuid":"keep"}`)
	receive(t, s, "SHOW_SPINNER", "")
	assert.Equal(t, "keep", s.UUID())
}

func TestExplicitTransitions(t *testing.T) {
	s := subscribed(t)
	receive(t, s, "SELF_CHECKLIST", `{"uuid":"u"}`)
	s.RegisterChildLoading("selfcheck", true)

	_, ok := s.Complete(ActionRecSubmitted)
	assert.False(t, ok, "submit is only valid from the action recommendation view")
	assert.True(t, s.Visible(channel.ViewSelfCheckList))

	out, ok := s.Complete(SelfCheckCompleted)
	require.True(t, ok)
	assert.Equal(t, channel.ViewActionRec, out.View)
	assert.False(t, s.ChildLoading())
	assert.Equal(t, 1, visibleCount(s))

	s.RegisterChildLoading("actionrec", true)
	out, ok = s.Complete(ActionRecSubmitted)
	require.True(t, ok)
	assert.Equal(t, channel.ViewSummaryManual, out.View)
	assert.False(t, s.ChildLoading())
	assert.True(t, s.Visible(channel.ViewSummaryManual))
}

func TestViewChangeResetsDownloadReady(t *testing.T) {
	s := subscribed(t)
	receive(t, s, "ACTION_REC", `{}`)
	receive(t, s, "ACTION_REC_ACTIVE_DOWNLOAD", "")
	require.True(t, s.DownloadReady())

	receive(t, s, "ACTION_REC", `{}`)
	assert.False(t, s.DownloadReady())
}

func TestHandshakeFailureKeepsInitialLoading(t *testing.T) {
	s := New()
	s.SetStatus(StatusGettingSession, "")
	s.SetStatus(StatusLoadingTransport, "")
	s.SetStatus(StatusConnecting, "")
	s.SetStatus(StatusFailed, "handshake failed")

	assert.True(t, s.InitialLoading())
	assert.True(t, s.IsLoading())
	v, _ := s.View()
	assert.Equal(t, channel.ViewNone, v)
}

func TestReportRequirementGatesInitialLoading(t *testing.T) {
	s := subscribed(t)
	s.RequireReport()
	assert.True(t, s.IsLoading())

	s.SetReportID("a0P000001")
	assert.False(t, s.IsLoading())
	assert.Equal(t, "a0P000001", s.Snapshot().ReportID)
}

func TestMalformedPayloadNeverReachesState(t *testing.T) {
	s := subscribed(t)
	receive(t, s, "SELF_QUOTE", `{"Id":"q1"}`)
	before := s.Snapshot()

	_, err := payload.Decode(channel.ErrorReport, `{"uuid":`)
	require.ErrorIs(t, err, payload.ErrParse)
	assert.Equal(t, before, s.Snapshot())
}

func TestFlagNames(t *testing.T) {
	for _, f := range []Flag{FlagSaveProcessing, FlagGeneralProcessing, FlagNormalSpinner} {
		got, ok := ParseFlag(f.String())
		require.True(t, ok)
		assert.Equal(t, f, got)
	}
	_, ok := ParseFlag("spinner")
	assert.False(t, ok)
}

// TestRandomSequencesHoldInvariants drives random operation sequences and
// checks the aggregate and the visibility invariant after every step.
func TestRandomSequencesHoldInvariants(t *testing.T) {
	children := []string{"a", "b", "c", "d"}
	names := make([]string, 0, 16)
	for _, c := range channel.All() {
		names = append(names, c.String())
	}
	names = append(names, "NOT_A_CHANNEL", "")
	statuses := []Status{StatusGettingSession, StatusLoadingTransport, StatusConnecting, StatusConnected, StatusSubscribed, StatusFailed}

	for seed := uint64(1); seed <= 50; seed++ {
		r := rand.New(rand.NewPCG(seed, seed*7))
		s := New()
		active := map[string]bool{}

		for step := 0; step < 300; step++ {
			desc := ""
			switch r.IntN(7) {
			case 0, 1:
				id := children[r.IntN(len(children))]
				on := r.IntN(2) == 0
				s.RegisterChildLoading(id, on)
				if on {
					active[id] = true
				} else {
					delete(active, id)
				}
				desc = fmt.Sprintf("child %s=%v", id, on)
			case 2:
				f := Flag(r.IntN(int(numFlags)))
				s.SetFlag(f, r.IntN(2) == 0)
				desc = "flag " + f.String()
			case 3, 4:
				name := names[r.IntN(len(names))]
				c := channel.Parse(name)
				out := s.Receive(c, payload.Envelope{})
				if out.ViewChanged {
					assert.False(t, s.ChildLoading(), "seed %d step %d: view switch left children", seed, step)
					clear(active)
				}
				desc = "channel " + name
			case 5:
				st := statuses[r.IntN(len(statuses))]
				s.SetStatus(st, "")
				desc = "status " + string(st)
			case 6:
				tr := Transition(1 + r.IntN(2))
				if _, ok := s.Complete(tr); ok {
					assert.False(t, s.ChildLoading())
					clear(active)
				}
				desc = "transition " + tr.String()
			}

			require.Equal(t, expectedLoading(s), s.IsLoading(), "seed %d step %d (%s)", seed, step, desc)
			require.LessOrEqual(t, visibleCount(s), 1, "seed %d step %d (%s)", seed, step, desc)
			require.Equal(t, len(active) > 0, s.ChildLoading(), "seed %d step %d (%s)", seed, step, desc)
		}
	}
}
