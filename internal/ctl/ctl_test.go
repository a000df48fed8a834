package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/large-farva/agentron/internal/telemetry"
	"github.com/large-farva/agentron/internal/ws"
)

// syncBuffer is safe to write from the watch reader while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func capture(t *testing.T) *syncBuffer {
	t.Helper()
	out := &syncBuffer{}
	prev := stdout
	stdout = out
	t.Cleanup(func() { stdout = prev })
	return out
}

type fakeDaemon struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
}

func (d *fakeDaemon) record(r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	d.mu.Lock()
	d.requests = append(d.requests, r.Method+" "+r.URL.RequestURI())
	d.bodies = append(d.bodies, string(b))
	d.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newDaemon(t *testing.T) (*fakeDaemon, *httptest.Server) {
	t.Helper()
	d := &fakeDaemon{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"name": "agentron", "mode": "live", "status": "Subscribed", "status_class": "success",
			"is_connected": true, "is_loading": false, "view": "self_check_list", "transport": "cometd-long-polling",
			"uptime_seconds": 3725,
			"messages":       map[string]any{"received": 7, "parse_errors": 1, "unknown": 2, "not_events": 0},
			"clients":        map[string]any{"clients": 1, "sent": 12, "dropped": 0},
		})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		if r.Header.Get("Accept") != "application/json" {
			_, _ = w.Write([]byte("ok\n"))
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"healthy": false,
			"checks": map[string]any{
				"journal": map[string]any{"ok": true, "available_bytes": 3 << 30},
				"push":    map[string]any{"ok": false, "status": "Failed", "error": "handshake refused"},
			},
		})
	})
	mux.HandleFunc("GET /api/view", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"revision": 9, "status": "Subscribed", "status_class": "success", "view": "action_rec", "generation": 3,
			"visible": map[string]bool{"action_rec": true},
			"loading": map[string]any{"is_loading": true, "save_processing": true, "active_children": []string{}},
			"uuid":    "u-1", "report_id": "RAR-1", "channel": "ACTION_REC_SAVE",
		})
	})
	mux.HandleFunc("GET /api/messages", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusOK, map[string]any{"messages": []map[string]any{
			{"id": "m1", "channel": "SELF_CHECKLIST", "json": `{"uuid":"u-1"}`, "source": "transport", "received_at": time.Now()},
		}})
	})
	mux.HandleFunc("GET /api/errors", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusOK, map[string]any{"errors": []map[string]any{
			{"id": "e1", "message": "connection lost: EOF", "created_at": time.Now()},
		}})
	})
	mux.HandleFunc("GET /api/logs", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusOK, map[string]any{"logs": []map[string]any{
			{"ts": telemetry.NowTS(), "level": "warn", "logger": "coordinator", "message": "unparseable payload", "fields": map[string]any{"channel": "ACTION_REC"}},
		}})
	})
	mux.HandleFunc("POST /api/dispatch", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "dispatched SELF_CHECKLIST"})
	})
	mux.HandleFunc("POST /api/children/{name}/{action}", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		if r.PathValue("action") == "submit" {
			writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "self_check_list is not active"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "self_check_list toggle", "data": map[string]any{"checked": 1}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return d, srv
}

func TestStatus(t *testing.T) {
	out := capture(t)
	_, srv := newDaemon(t)

	require.NoError(t, Status(srv.URL, false))
	s := out.String()
	assert.Contains(t, s, "AGENTRON STATUS")
	assert.Contains(t, s, "Subscribed")
	assert.Contains(t, s, "cometd-long-polling")
	assert.Contains(t, s, "1h 2m 5s")
	assert.Contains(t, s, "7 received, 1 parse errors, 2 unknown")
	assert.NotContains(t, s, "\033[", "no colors when not on a terminal")
}

func TestStatusJSON(t *testing.T) {
	out := capture(t)
	_, srv := newDaemon(t)

	require.NoError(t, Status(srv.URL, true))
	var s StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out.String()), &s))
	assert.Equal(t, "self_check_list", s.View)
	assert.EqualValues(t, 12, s.Clients.Sent)
}

func TestHealthShowsFailingChecks(t *testing.T) {
	out := capture(t)
	d, srv := newDaemon(t)

	require.NoError(t, Health(srv.URL, false))
	s := out.String()
	assert.Contains(t, s, "UNHEALTHY")
	assert.Contains(t, s, "HTTP 503")
	assert.Contains(t, s, "error=handshake refused")
	assert.Contains(t, s, "available=3.0 GiB")
	assert.Less(t, strings.Index(s, "journal"), strings.Index(s, "push"))
	assert.Equal(t, []string{"GET /healthz"}, d.requests)
}

func TestHealthUnreachable(t *testing.T) {
	out := capture(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	require.NoError(t, Health(url, true))
	assert.Contains(t, out.String(), `"healthy": false`)
	assert.Error(t, Health(url, false))
}

func TestView(t *testing.T) {
	out := capture(t)
	_, srv := newDaemon(t)

	require.NoError(t, View(srv.URL, false))
	s := out.String()
	assert.Contains(t, s, "action_rec")
	assert.Contains(t, s, "generation 3")
	assert.Contains(t, s, "RAR-1")
	assert.Contains(t, s, "ACTION_REC_SAVE")
}

func TestMessagesAndErrors(t *testing.T) {
	out := capture(t)
	d, srv := newDaemon(t)

	require.NoError(t, Messages(srv.URL, MessagesOptions{Limit: 5}))
	require.NoError(t, Errors(srv.URL, MessagesOptions{}))
	s := out.String()
	assert.Contains(t, s, "SELF_CHECKLIST")
	assert.Contains(t, s, "transport")
	assert.Contains(t, s, "connection lost: EOF")
	assert.Equal(t, []string{"GET /api/messages?limit=5", "GET /api/errors"}, d.requests)
}

func TestLogs(t *testing.T) {
	out := capture(t)
	d, srv := newDaemon(t)

	require.NoError(t, Logs(srv.URL, LogsOptions{Level: "warn", Limit: 10}))
	s := out.String()
	assert.Contains(t, s, "WARN")
	assert.Contains(t, s, "[coordinator] unparseable payload")
	assert.Contains(t, s, "channel=ACTION_REC")
	assert.Equal(t, []string{"GET /api/logs?level=warn&limit=10"}, d.requests)
}

func TestSendPostsChannelAndPayload(t *testing.T) {
	out := capture(t)
	d, srv := newDaemon(t)

	require.NoError(t, Send(srv.URL, SendOptions{Channel: "SELF_CHECKLIST", Payload: `{"uuid":"u-1"}`}))
	assert.Contains(t, out.String(), "dispatched SELF_CHECKLIST")

	require.Len(t, d.bodies, 1)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(d.bodies[0]), &body))
	assert.Equal(t, map[string]string{"channel": "SELF_CHECKLIST", "json": `{"uuid":"u-1"}`}, body)

	assert.Error(t, Send(srv.URL, SendOptions{}))
}

func TestChildActions(t *testing.T) {
	out := capture(t)
	d, srv := newDaemon(t)

	require.NoError(t, Child(srv.URL, ChildOptions{Name: "self_check_list", Action: "toggle", Body: `{"id":"SC-1"}`}))
	assert.Contains(t, out.String(), "self_check_list toggle")
	assert.Contains(t, out.String(), `"checked": 1`)
	assert.Equal(t, `{"id":"SC-1"}`, d.bodies[0])

	err := Child(srv.URL, ChildOptions{Name: "self_check_list", Action: "submit"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "self_check_list is not active")

	assert.Error(t, Child(srv.URL, ChildOptions{Name: "self_check_list", Action: "toggle", Body: "{"}))
	assert.Len(t, d.requests, 2)
}

func TestWatchFiltersEvents(t *testing.T) {
	out := capture(t)
	hub := ws.NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()
	srv := httptest.NewServer(hub.Handler())
	defer func() {
		cancel()
		<-hubDone
		srv.Close()
	}()

	hub.Retain(telemetry.NewViewChanged(map[string]any{"view": "tracking_status", "revision": 4}))

	wctx, wcancel := context.WithCancel(context.Background())
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- WatchContext(wctx, srv.URL, WatchOptions{Filter: []string{"view", "toast"}})
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "tracking_status")
	}, 5*time.Second, 10*time.Millisecond)

	hub.BroadcastJSON(telemetry.NewLogLine("info", "app", "filtered out", nil))
	hub.BroadcastJSON(telemetry.NewToast("part_select", "저장", "saved", "success"))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[part_select]")
	}, 5*time.Second, 10*time.Millisecond)

	wcancel()
	require.NoError(t, <-watchDone)
	s := out.String()
	assert.Contains(t, s, "rev 4")
	assert.NotContains(t, s, "filtered out")
	assert.Contains(t, s, "disconnecting")
}

func TestWSURL(t *testing.T) {
	u, err := wsURL("https://host:8480/")
	require.NoError(t, err)
	assert.Equal(t, "wss://host:8480/ws", u)

	_, err = wsURL("ftp://host")
	assert.Error(t, err)
}

func TestVersionFlagsMismatch(t *testing.T) {
	out := capture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, DaemonVersion{Version: "v0.3.0", GoVersion: "go1.26", BuiltAt: "2026-10-01"})
	}))
	defer srv.Close()

	require.NoError(t, VersionInfo(srv.URL, false))
	assert.Contains(t, out.String(), "v0.3.0 (go1.26)")
	assert.Contains(t, out.String(), "versions differ")
}
