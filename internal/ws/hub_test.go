package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func startHub(t *testing.T) (*Hub, string, func()) {
	t.Helper()
	h := NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(h.Handler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return h, url, func() {
		cancel()
		<-done
		srv.Close()
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return c
}

func read(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, b, err := c.ReadMessage()
	require.NoError(t, err)
	return string(b)
}

func waitClients(t *testing.T, h *Hub, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Stats().Clients == n }, 3*time.Second, 5*time.Millisecond)
}

func TestBroadcastReachesClients(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, url, stop := startHub(t)
	defer stop()

	a, b := dial(t, url), dial(t, url)
	defer a.Close()
	defer b.Close()
	waitClients(t, h, 2)

	h.BroadcastJSON(map[string]any{"type": "toast", "message": "hi"})
	assert.JSONEq(t, `{"type":"toast","message":"hi"}`, read(t, a))
	assert.JSONEq(t, `{"type":"toast","message":"hi"}`, read(t, b))
	assert.EqualValues(t, 2, h.Stats().Sent)
}

func TestRetainedMessageGreetsNewClients(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, url, stop := startHub(t)
	defer stop()

	first := dial(t, url)
	defer first.Close()
	waitClients(t, h, 1)

	h.Retain(map[string]any{"type": "view", "revision": 1})
	assert.JSONEq(t, `{"type":"view","revision":1}`, read(t, first))

	late := dial(t, url)
	defer late.Close()
	assert.JSONEq(t, `{"type":"view","revision":1}`, read(t, late))
}

func TestDisconnectedClientIsRemoved(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, url, stop := startHub(t)
	defer stop()

	c := dial(t, url)
	waitClients(t, h, 1)
	require.NoError(t, c.Close())
	waitClients(t, h, 0)
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil)
	for range cap(h.broadcast) + 3 {
		h.BroadcastJSON("x")
	}
	assert.EqualValues(t, 3, h.Stats().Dropped)

	h.BroadcastJSON(func() {})
	assert.EqualValues(t, 4, h.Stats().Dropped)
}
