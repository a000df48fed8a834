package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/large-farva/agentron/internal/channel"
	"github.com/large-farva/agentron/internal/coordinator"
	"github.com/large-farva/agentron/internal/feature"
	"github.com/large-farva/agentron/internal/journal"
	"github.com/large-farva/agentron/internal/logging"
	"github.com/large-farva/agentron/internal/payload"
	"github.com/large-farva/agentron/internal/viewstate"
)

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/version", a.handleVersion)
	mux.HandleFunc("GET /api/config", a.handleConfig)
	mux.HandleFunc("GET /api/view", a.handleView)
	mux.HandleFunc("GET /api/messages", a.handleMessages)
	mux.HandleFunc("GET /api/errors", a.handleErrors)
	mux.HandleFunc("GET /api/logs", a.handleLogs)
	mux.HandleFunc("GET /api/channels", a.handleChannels)
	mux.HandleFunc("POST /api/dispatch", a.handleDispatch)
	mux.HandleFunc("POST /api/children/{name}/{action}", a.handleChild)
	if a.level != (zap.AtomicLevel{}) {
		mux.Handle("/api/log-level", a.level)
	}
	mux.Handle("/ws", a.hub.Handler())
	return mux
}

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]any{}
	allOK := true

	v, err := a.coord.Snapshot(ctx)
	if err != nil {
		checks["coordinator"] = map[string]any{"ok": false, "error": err.Error()}
		allOK = false
	} else {
		checks["coordinator"] = map[string]any{"ok": true, "revision": v.Revision}
	}

	if _, err := a.journal.Messages(ctx, 1); err != nil {
		checks["journal"] = map[string]any{"ok": false, "error": err.Error()}
		allOK = false
	} else {
		check := map[string]any{"ok": true, "path": a.cfg.Journal.Path}
		for k, v := range diskUsage(a.cfg.Journal.Path) {
			check[k] = v
		}
		checks["journal"] = check
	}

	// The push connection only counts in live mode.
	if a.boot != nil && err == nil {
		ok := v.Status != viewstate.StatusFailed
		check := map[string]any{"ok": ok, "status": v.Status}
		if c := a.boot.Candidate(); c.Name != "" {
			check["transport"] = c.Name
		}
		if v.StatusError != "" {
			check["error"] = v.StatusError
		}
		checks["push"] = check
		allOK = allOK && ok
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	v, err := a.coord.Snapshot(r.Context())
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	resp := map[string]any{
		"name":           "agentron",
		"mode":           a.mode(),
		"status":         v.Status,
		"status_class":   v.StatusClass,
		"is_connected":   v.IsConnected,
		"is_loading":     v.Loading.IsLoading,
		"view":           v.View,
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"messages":       a.coord.Stats(),
		"clients":        a.hub.Stats(),
	}
	if v.StatusError != "" {
		resp["status_error"] = v.StatusError
	}
	if a.boot != nil {
		if c := a.boot.Candidate(); c.Name != "" {
			resp["transport"] = c.Name
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"config": a.cfg.Redacted()}
	if a.configPath != "" {
		resp["path"] = a.configPath
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleView(w http.ResponseWriter, r *http.Request) {
	v, err := a.coord.Snapshot(r.Context())
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ---------------------------------------------------------------------------
// Journal and logs
// ---------------------------------------------------------------------------

func (a *App) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, 50)
	if !ok {
		return
	}
	msgs, err := a.journal.Messages(r.Context(), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]journal.Message{"messages": msgs})
}

func (a *App) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, 50)
	if !ok {
		return
	}
	errs, err := a.journal.Errors(r.Context(), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]journal.ErrorDetail{"errors": errs})
}

func (a *App) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, 0)
	if !ok {
		return
	}
	entries := []logging.Entry{}
	if a.logs != nil {
		entries = append(entries, a.logs.Entries(r.URL.Query().Get("level"), limit)...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (a *App) handleChannels(w http.ResponseWriter, _ *http.Request) {
	type channelJSON struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
		View string `json:"view,omitempty"`
	}
	out := []channelJSON{}
	for _, c := range channel.All() {
		cj := channelJSON{Name: c.String(), Kind: c.Kind().String()}
		if v := c.View(); v != channel.ViewNone {
			cj.View = v.String()
		}
		out = append(out, cj)
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

// ---------------------------------------------------------------------------
// Direct input and child actions
// ---------------------------------------------------------------------------

// DispatchRequest is the body of POST /api/dispatch.
type DispatchRequest struct {
	Channel string `json:"channel"`
	JSON    string `json:"json"`
}

func (a *App) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Channel == "" {
		jsonError(w, "channel is required", http.StatusBadRequest)
		return
	}

	err := a.coord.Dispatch(req.Channel, req.JSON)
	switch {
	case errors.Is(err, payload.ErrParse):
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, coordinator.ErrStopped):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res := CommandResult{OK: true, Message: "dispatched " + req.Channel}
	if channel.Parse(req.Channel) == channel.Unknown {
		res.Message = "ignored unknown channel " + req.Channel
	}
	writeCommandResult(w, res)
}

func (a *App) handleChild(w http.ResponseWriter, r *http.Request) {
	name, action := r.PathValue("name"), r.PathValue("action")
	child, ok := a.coord.Children().ByName(name)
	if !ok {
		jsonError(w, "unknown child "+name, http.StatusNotFound)
		return
	}
	actor, ok := child.(feature.Actor)
	if !ok {
		jsonError(w, name+" has no actions", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := actor.Do(r.Context(), action, body)
	if err != nil {
		a.log.Debug("child action rejected", zap.String("child", name), zap.String("action", action), zap.Error(err))
		jsonError(w, err.Error(), actionStatus(err))
		return
	}
	writeCommandResult(w, CommandResult{OK: true, Message: name + " " + action, Data: data})
}

func actionStatus(err error) int {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case errors.Is(err, feature.ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, feature.ErrInactive),
		errors.Is(err, feature.ErrNotReady),
		errors.Is(err, feature.ErrNothingSelected):
		return http.StatusConflict
	case errors.Is(err, feature.ErrUnknownItem), errors.As(err, &syntax), errors.As(err, &typ):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// CommandResult is the reply to a state-changing request.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func limitParam(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		jsonError(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{
		"ok":    false,
		"error": msg,
	})
}

// writeCommandResult writes a CommandResult as JSON.
func writeCommandResult(w http.ResponseWriter, result CommandResult) {
	code := http.StatusOK
	if !result.OK {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, result)
}
