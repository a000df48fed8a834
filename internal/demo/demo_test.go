package demo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/large-farva/agentron/internal/backend"
	"github.com/large-farva/agentron/internal/channel"
	"github.com/large-farva/agentron/internal/coordinator"
	"github.com/large-farva/agentron/internal/payload"
	"github.com/large-farva/agentron/internal/viewstate"
)

var _ coordinator.Backend = (*Backend)(nil)

type recorder struct {
	mu       sync.Mutex
	channels []string
	statuses []viewstate.Status
}

func (r *recorder) Dispatch(name, _ string) error {
	r.mu.Lock()
	r.channels = append(r.channels, name)
	r.mu.Unlock()
	return nil
}

func (r *recorder) SetStatus(s viewstate.Status, _ string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func TestScriptCoversEveryChannel(t *testing.T) {
	seen := map[channel.Channel]bool{}
	for _, st := range Script("0b5c1e7a-1111-2222-3333-444455556666") {
		c := channel.Parse(st.Channel)
		require.NotEqual(t, channel.Unknown, c, st.Channel)
		_, err := payload.Decode(c, st.JSON)
		require.NoError(t, err, st.Channel)
		seen[c] = true
	}
	for _, c := range channel.All() {
		assert.True(t, seen[c], c.String())
	}
}

func TestRunnerBootstrapsThenReplays(t *testing.T) {
	rec := &recorder{}
	r := New(rec, rec, zaptest.NewLogger(t))
	r.StepDelay = time.Millisecond
	r.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	n := len(Script("00000000-0000-0000-0000-000000000000"))
	require.Eventually(t, func() bool { return rec.count() == n }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []viewstate.Status{
		viewstate.StatusGettingSession,
		viewstate.StatusLoadingTransport,
		viewstate.StatusConnecting,
		viewstate.StatusConnected,
		viewstate.StatusSubscribed,
	}, rec.statuses)
	assert.Equal(t, "ERROR_REPORT", rec.channels[0])
}

func TestBackendReportIDIsStable(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	a, err := b.RiskAnalyzeReportID(ctx, "0b5c1e7a-1111")
	require.NoError(t, err)
	again, err := b.RiskAnalyzeReportID(ctx, "0b5c1e7a-1111")
	require.NoError(t, err)
	assert.Equal(t, a, again)
	assert.Equal(t, "RAR-0B5C1E7A11", a)

	_, err = b.RiskAnalyzeReportID(ctx, "")
	assert.Error(t, err)
}

func TestBackendRemembersSelectedParts(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	parts, err := b.RecommendedParts(ctx, "r")
	require.NoError(t, err)
	require.NotEmpty(t, parts.Products)
	assert.Empty(t, parts.SelectedParts)

	_, err = b.SaveSelectedParts(ctx, nil)
	require.NoError(t, err)
	_, err = b.SaveSelectedParts(ctx, []backend.SelectedPart{{ProductID: parts.Products[0].ID, Quantity: 2, ListPrice: 20}})
	require.NoError(t, err)

	parts, err = b.RecommendedParts(ctx, "r")
	require.NoError(t, err)
	require.Len(t, parts.SelectedParts, 1)
	assert.Equal(t, 2, parts.SelectedParts[0].Quantity)
}
