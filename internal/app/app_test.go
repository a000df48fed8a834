package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/large-farva/agentron/internal/bayeux"
	"github.com/large-farva/agentron/internal/bayeux/bayeuxtest"
	"github.com/large-farva/agentron/internal/config"
	"github.com/large-farva/agentron/internal/demo"
	"github.com/large-farva/agentron/internal/logging"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Journal.Path = ""
	cfg.Server.Bind = "127.0.0.1:0"
	cfg.Salesforce.AccessToken = "secret-token"
	return cfg
}

// serve builds an App and runs only its coordinator behind an httptest
// server, so handlers can be exercised without the demo runner.
func serve(t *testing.T) (*App, *httptest.Server, *logging.Buffer) {
	t.Helper()
	buf := logging.NewBuffer(100)
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger := zap.New(buf.Core(level))

	a, err := New(Options{Logger: logger, Level: level, Logs: buf, Cfg: testConfig(), ConfigPath: "/etc/agentron/agentron.toml"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.coord.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(a.routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		require.NoError(t, a.journal.Close())
	})
	return a, srv, buf
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, v any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

type viewJSON struct {
	Status  string          `json:"status"`
	View    string          `json:"view"`
	Visible map[string]bool `json:"visible"`
	Loading struct {
		IsLoading bool `json:"is_loading"`
	} `json:"loading"`
	Child json.RawMessage `json:"child"`
}

func TestHealthz(t *testing.T) {
	_, srv, _ := serve(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))

	var health struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &health))
	assert.True(t, health.Healthy)
	assert.Contains(t, health.Checks, "coordinator")
	assert.Contains(t, health.Checks, "journal")
	assert.NotContains(t, health.Checks, "push")
}

func TestStatusVersionAndConfig(t *testing.T) {
	_, srv, _ := serve(t)

	var status map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/status", &status))
	assert.Equal(t, "agentron", status["name"])
	assert.Equal(t, "demo", status["mode"])
	assert.Equal(t, "Initializing", status["status"])
	assert.Equal(t, "default", status["status_class"])
	assert.Equal(t, false, status["is_connected"])

	var version map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/version", &version))
	assert.Equal(t, Version, version["version"])

	var cfg struct {
		Path   string        `json:"path"`
		Config config.Config `json:"config"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/config", &cfg))
	assert.Equal(t, "********", cfg.Config.Salesforce.AccessToken)
	assert.Equal(t, "/etc/agentron/agentron.toml", cfg.Path)
}

func TestDispatchSelectsView(t *testing.T) {
	_, srv, _ := serve(t)

	var res CommandResult
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/api/dispatch",
		`{"channel":"SELF_CHECKLIST","json":"{\"uuid\":\"u-1\"}"}`, &res))
	assert.True(t, res.OK)

	var v viewJSON
	require.Eventually(t, func() bool {
		v = viewJSON{}
		getJSON(t, srv.URL+"/api/view", &v)
		return v.View == "self_check_list" && bytes.Contains(v.Child, []byte("SC-1"))
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, v.Visible["self_check_list"])
	assert.False(t, v.Visible["error_report"])
}

func TestDispatchRejectsBadInput(t *testing.T) {
	_, srv, _ := serve(t)

	assert.Equal(t, http.StatusBadRequest, postJSON(t, srv.URL+"/api/dispatch", `not json`, nil))
	assert.Equal(t, http.StatusBadRequest, postJSON(t, srv.URL+"/api/dispatch", `{"json":"{}"}`, nil))

	var res map[string]any
	assert.Equal(t, http.StatusBadRequest, postJSON(t, srv.URL+"/api/dispatch",
		`{"channel":"PART_SELECT","json":"{broken"}`, &res))
	assert.Equal(t, false, res["ok"])

	var ignored CommandResult
	assert.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/api/dispatch", `{"channel":"NOPE","json":""}`, &ignored))
	assert.Contains(t, ignored.Message, "ignored")

	var v viewJSON
	getJSON(t, srv.URL+"/api/view", &v)
	assert.Equal(t, "none", v.View)
}

func TestChildActionsDriveTransitions(t *testing.T) {
	_, srv, _ := serve(t)

	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/api/dispatch",
		`{"channel":"SELF_CHECKLIST","json":"{\"uuid\":\"u-1\"}"}`, nil))
	require.Eventually(t, func() bool {
		var v viewJSON
		getJSON(t, srv.URL+"/api/view", &v)
		return bytes.Contains(v.Child, []byte("SC-1"))
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusConflict, postJSON(t, srv.URL+"/api/children/self_check_list/submit", "", nil))
	assert.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/api/children/self_check_list/toggle", `{"id":"SC-1"}`, nil))
	assert.Equal(t, http.StatusBadRequest, postJSON(t, srv.URL+"/api/children/self_check_list/toggle", `{"id":"SC-404"}`, nil))
	assert.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/api/children/self_check_list/submit", "", nil))

	require.Eventually(t, func() bool {
		var v viewJSON
		getJSON(t, srv.URL+"/api/view", &v)
		return v.View == "action_rec"
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, postJSON(t, srv.URL+"/api/children/nope/save", "", nil))
	assert.Equal(t, http.StatusNotFound, postJSON(t, srv.URL+"/api/children/summary_manual/save", "", nil))
	assert.Equal(t, http.StatusNotFound, postJSON(t, srv.URL+"/api/children/action_rec/explode", "", nil))
	assert.Equal(t, http.StatusBadRequest, postJSON(t, srv.URL+"/api/children/action_rec/toggle", `{"action_index":"x"}`, nil))
}

func TestJournalAndLogEndpoints(t *testing.T) {
	a, srv, _ := serve(t)

	require.NoError(t, a.coord.Dispatch("SUMMARY_MANUAL", ""))
	require.NoError(t, a.coord.Dispatch("SHOW_SPINNER", ""))

	var msgs struct {
		Messages []struct {
			Channel string `json:"channel"`
			Source  string `json:"source"`
		} `json:"messages"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/messages?limit=1", &msgs))
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "SHOW_SPINNER", msgs.Messages[0].Channel)
	assert.Equal(t, "direct", msgs.Messages[0].Source)
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/messages?limit=abc", nil))

	a.coord.RecordError("lookup failed")
	var errs struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/errors", &errs))
	require.Len(t, errs.Errors, 1)
	assert.Equal(t, "lookup failed", errs.Errors[0].Message)

	var logs struct {
		Logs []logging.Entry `json:"logs"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/logs?level=info", &logs))
	require.NotEmpty(t, logs.Logs)
	for _, e := range logs.Logs {
		assert.Equal(t, "info", e.Level)
	}

	var level map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/log-level", &level))
	assert.Equal(t, "info", level["level"])

	var chans struct {
		Channels []map[string]string `json:"channels"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/channels", &chans))
	assert.Len(t, chans.Channels, 13)
}

type fakeSession string

func (s fakeSession) SessionID(context.Context) (string, error) { return string(s), nil }

func TestRunLiveDeliversPushEvents(t *testing.T) {
	push := bayeuxtest.New()
	push.Session = "sess-1"
	defer push.Close()

	cfg := testConfig()
	cfg.Demo.Enabled = false
	cfg.Salesforce.InstanceURL = push.URL
	cfg.Salesforce.APIVersion = "47.0"
	cfg.Transport.Candidates = []bayeux.Candidate{{Name: "lp", Kind: bayeux.KindLongPolling}}
	cfg.Initial = config.InitialConfig{Channel: "SUMMARY_MANUAL"}

	a, err := New(Options{Cfg: cfg, Backend: demo.NewBackend(), Session: fakeSession("sess-1")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Addr() != "" }, 3*time.Second, 5*time.Millisecond)
	base := "http://" + a.Addr()

	require.Eventually(t, func() bool {
		var v viewJSON
		getJSON(t, base+"/api/view", &v)
		return v.Status == "Subscribed" && v.View == "summary_manual"
	}, 5*time.Second, 10*time.Millisecond)

	push.Publish(cfg.Salesforce.EventChannel, "TRACKING_STATUS", `{"trackingId":"TRK-1"}`)
	require.Eventually(t, func() bool {
		var v viewJSON
		getJSON(t, base+"/api/view", &v)
		return v.View == "tracking_status"
	}, 5*time.Second, 10*time.Millisecond)

	var health struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	getJSON(t, base+"/healthz", &health)
	assert.True(t, health.Healthy)
	assert.Equal(t, "lp", health.Checks["push"]["transport"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewLiveRequiresSessionWithCustomBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Demo.Enabled = false
	cfg.Salesforce.InstanceURL = "https://example.my.salesforce.com"
	_, err := New(Options{Cfg: cfg, Backend: demo.NewBackend()})
	assert.Error(t, err)
}

func TestDiskUsageOfJournalDir(t *testing.T) {
	assert.Nil(t, diskUsage(""))

	usage := diskUsage(t.TempDir() + "/journal.db")
	require.NotNil(t, usage)
	total, _ := usage["total_bytes"].(uint64)
	avail, _ := usage["available_bytes"].(uint64)
	assert.Positive(t, total)
	assert.LessOrEqual(t, avail, total)
}
