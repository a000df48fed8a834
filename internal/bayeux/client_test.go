package bayeux_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/large-farva/agentron/internal/bayeux"
	"github.com/large-farva/agentron/internal/bayeux/bayeuxtest"
)

const eventChannel = "/event/AgentronEvent__e"

func load(t *testing.T, srv *bayeuxtest.Server, kind string) *bayeux.Client {
	t.Helper()
	tr, _, err := bayeux.Load(context.Background(),
		[]bayeux.Candidate{{Name: kind, Kind: kind, URL: srv.Endpoint()}},
		bayeux.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	c := bayeux.NewClient(tr, zaptest.NewLogger(t))
	c.RetryDelay = 10 * time.Millisecond
	return c
}

func listen(t *testing.T, c *bayeux.Client) (<-chan bayeux.Message, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	got := make(chan bayeux.Message, 16)
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		done <- c.Listen(ctx, func(m bayeux.Message) { got <- m })
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return got, cancel, done
}

func next(t *testing.T, got <-chan bayeux.Message) bayeux.Event {
	t.Helper()
	select {
	case m := <-got:
		ev, err := m.Event()
		require.NoError(t, err)
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no message delivered")
		return bayeux.Event{}
	}
}

func TestSubscribeAndReceiveOverEachTransport(t *testing.T) {
	for _, kind := range []string{bayeux.KindLongPolling, bayeux.KindWebSocket} {
		t.Run(kind, func(t *testing.T) {
			srv := bayeuxtest.New()
			t.Cleanup(srv.Close)

			c := load(t, srv, kind)
			ctx := context.Background()
			require.NoError(t, c.Handshake(ctx))
			assert.NotEmpty(t, c.ClientID())
			require.NoError(t, c.Subscribe(ctx, eventChannel))
			assert.Equal(t, []string{eventChannel}, srv.Subscriptions())

			got, cancel, done := listen(t, c)
			srv.Publish(eventChannel, "ERROR_REPORT", `{"uuid":"abc-1"}`)

			ev := next(t, got)
			assert.Equal(t, "ERROR_REPORT", ev.Payload.ChannelName)
			assert.Equal(t, `{"uuid":"abc-1"}`, ev.Payload.JSONString)

			cancel()
			assert.ErrorIs(t, <-done, context.Canceled)
			// A cancelled websocket read leaves the connection unusable, so
			// only the client side of the disconnect is checked here.
			_ = c.Disconnect(context.Background())
			assert.Empty(t, c.ClientID())
		})
	}
}

func TestDeliveryPreservesArrivalOrder(t *testing.T) {
	srv := bayeuxtest.New()
	t.Cleanup(srv.Close)
	c := load(t, srv, bayeux.KindLongPolling)
	require.NoError(t, c.Handshake(context.Background()))
	require.NoError(t, c.Subscribe(context.Background(), eventChannel))

	names := []string{"SELF_CHECKLIST", "SHOW_SPINNER", "ACTION_REC", "DISABLE_SPINNER"}
	for _, n := range names {
		srv.Publish(eventChannel, n, "")
	}
	got, _, _ := listen(t, c)
	for _, n := range names {
		assert.Equal(t, n, next(t, got).Payload.ChannelName)
	}
}

func TestHandshakeRejected(t *testing.T) {
	srv := bayeuxtest.New()
	t.Cleanup(srv.Close)
	srv.FailHandshake("403::Handshake denied")

	c := load(t, srv, bayeux.KindLongPolling)
	err := c.Handshake(context.Background())
	require.ErrorIs(t, err, bayeux.ErrHandshake)
	assert.Contains(t, err.Error(), "Handshake denied")
}

func TestHandshakeUnauthorized(t *testing.T) {
	srv := bayeuxtest.New()
	t.Cleanup(srv.Close)
	srv.Session = "good"

	tr, _, err := bayeux.Load(context.Background(),
		[]bayeux.Candidate{{Name: "lp", Kind: bayeux.KindLongPolling}},
		bayeux.Options{Endpoint: srv.Endpoint(), Session: "bad"})
	require.NoError(t, err)
	defer tr.Close()

	err = bayeux.NewClient(tr, nil).Handshake(context.Background())
	require.ErrorIs(t, err, bayeux.ErrHandshake)
	assert.Contains(t, err.Error(), "401")
}

func TestSubscribeRejected(t *testing.T) {
	srv := bayeuxtest.New()
	t.Cleanup(srv.Close)
	srv.FailSubscribe("403::Unknown channel")

	c := load(t, srv, bayeux.KindLongPolling)
	require.NoError(t, c.Handshake(context.Background()))
	err := c.Subscribe(context.Background(), eventChannel)
	require.ErrorIs(t, err, bayeux.ErrSubscribe)
	assert.Empty(t, srv.Subscriptions())
}

func TestSubscribeBeforeHandshake(t *testing.T) {
	srv := bayeuxtest.New()
	t.Cleanup(srv.Close)
	c := load(t, srv, bayeux.KindLongPolling)
	err := c.Subscribe(context.Background(), eventChannel)
	assert.ErrorIs(t, err, bayeux.ErrSubscribe)
	assert.ErrorIs(t, err, bayeux.ErrNotShaken)
}

func TestHandshakeAdviceRestoresSubscriptions(t *testing.T) {
	srv := bayeuxtest.New()
	t.Cleanup(srv.Close)
	c := load(t, srv, bayeux.KindLongPolling)
	require.NoError(t, c.Handshake(context.Background()))
	require.NoError(t, c.Subscribe(context.Background(), eventChannel))
	first := c.ClientID()

	srv.AdviseOnce(bayeux.Advice{Reconnect: bayeux.ReconnectHandshake})
	got, _, _ := listen(t, c)

	// Load, the first handshake, then the advised one.
	require.Eventually(t, func() bool { return srv.Handshakes() == 3 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(srv.Subscriptions()) == 2 }, 3*time.Second, 10*time.Millisecond)

	srv.Publish(eventChannel, "PART_SELECT", `{}`)
	assert.Equal(t, "PART_SELECT", next(t, got).Payload.ChannelName)
	assert.NotEqual(t, first, c.ClientID())
}

func TestEventsOnReHandshakeReplyAreDelivered(t *testing.T) {
	srv := bayeuxtest.New()
	t.Cleanup(srv.Close)
	c := load(t, srv, bayeux.KindLongPolling)
	require.NoError(t, c.Handshake(context.Background()))
	require.NoError(t, c.Subscribe(context.Background(), eventChannel))

	srv.PublishOnHandshake(eventChannel, "ORDER_VIEW", `{"id":"7"}`)
	srv.AdviseOnce(bayeux.Advice{Reconnect: bayeux.ReconnectHandshake})
	got, _, _ := listen(t, c)

	ev := next(t, got)
	assert.Equal(t, "ORDER_VIEW", ev.Payload.ChannelName)
	assert.JSONEq(t, `{"id":"7"}`, ev.Payload.JSONString)
}

func TestNoReconnectAdviceEndsListen(t *testing.T) {
	srv := bayeuxtest.New()
	t.Cleanup(srv.Close)
	c := load(t, srv, bayeux.KindLongPolling)
	require.NoError(t, c.Handshake(context.Background()))

	srv.AdviseOnce(bayeux.Advice{Reconnect: bayeux.ReconnectNone})
	_, _, done := listen(t, c)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, bayeux.ErrServerClose)
	case <-time.After(3 * time.Second):
		t.Fatal("listen did not return")
	}
}

func TestSubscribeSendsReplayExtension(t *testing.T) {
	srv := bayeuxtest.New()
	t.Cleanup(srv.Close)
	c := load(t, srv, bayeux.KindLongPolling)
	require.NoError(t, c.Handshake(context.Background()))
	require.NoError(t, c.Subscribe(context.Background(), eventChannel))

	var sub bayeux.Message
	for _, m := range srv.Requests() {
		if m.Channel == bayeux.MetaSubscribe {
			sub = m
		}
	}
	require.NotNil(t, sub.Ext)
	replay, ok := sub.Ext["replay"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, -1, replay[eventChannel])
}

func TestMetaMessageIsNotAnEvent(t *testing.T) {
	_, err := bayeux.Message{Channel: bayeux.MetaConnect}.Event()
	assert.ErrorIs(t, err, bayeux.ErrNotAnEvent)
	_, err = bayeux.Message{Channel: eventChannel, Data: []byte(`[1]`)}.Event()
	assert.ErrorIs(t, err, bayeux.ErrNotAnEvent)
}
