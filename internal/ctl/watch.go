package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
}

// Watch connects to the daemon's WebSocket endpoint and streams events to
// the terminal in a human-readable format until interrupted.
func Watch(baseURL string, opts WatchOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return WatchContext(ctx, baseURL, opts)
}

// WatchContext is Watch bound to ctx instead of the process signals.
func WatchContext(ctx context.Context, baseURL string, opts WatchOptions) error {
	u, err := wsURL(baseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		outln()
		outf("  %s %s\n", colorize(green, "connected"), colorize(dim, u))
		if len(opts.Filter) > 0 {
			outf("  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		outln(rule(50))
		outln()
	}

	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[strings.TrimSpace(f)] = true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if len(filterSet) > 0 {
				var ev struct {
					Type string `json:"type"`
				}
				if err := json.Unmarshal(msg, &ev); err == nil && !filterSet[ev.Type] {
					continue
				}
			}

			if opts.JSON {
				outln(string(msg))
			} else {
				renderEvent(msg)
			}
		}
	}()

	select {
	case <-ctx.Done():
		if !opts.JSON {
			outln()
			outln(colorize(dim, "  disconnecting..."))
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(1*time.Second),
		)
		// Unblock the reader if the daemon never answers the close.
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		<-done
		return nil
	case <-done:
		return nil
	}
}

func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// renderEvent parses a JSON event and prints it in a human-friendly format.
// Falls back to raw JSON for unrecognized event types.
func renderEvent(raw []byte) {
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		outf("  %s\n", string(raw))
		return
	}

	evType, _ := ev["type"].(string)
	tsRaw, _ := ev["ts"].(string)
	ts := formatClock(tsRaw)

	switch evType {
	case "heartbeat":
		status, _ := ev["status"].(string)
		uptime, _ := ev["uptime_seconds"].(float64)
		outf("  %s %s  %s  up %s\n",
			colorize(dim, ts),
			colorize(dim, "heartbeat"),
			colorize(stateColor(status), status),
			colorize(dim, formatDuration(time.Duration(uptime)*time.Second)),
		)

	case "state":
		from, _ := ev["from"].(string)
		to, _ := ev["to"].(string)
		detail, _ := ev["detail"].(string)
		line := fmt.Sprintf("  %s %s  %s %s %s",
			colorize(dim, ts),
			colorize(bold, "STATE"),
			colorize(stateColor(from), from),
			colorize(dim, "->"),
			colorize(stateColor(to), to),
		)
		if detail != "" {
			line += "  " + colorize(dim, detail)
		}
		outln(line)

	case "view":
		snap, _ := ev["snapshot"].(map[string]any)
		view, _ := snap["view"].(string)
		rev, _ := snap["revision"].(float64)
		ch, _ := snap["channel"].(string)
		loading := false
		if l, ok := snap["loading"].(map[string]any); ok {
			loading, _ = l["is_loading"].(bool)
		}
		line := fmt.Sprintf("  %s %s  %s  rev %d",
			colorize(dim, ts),
			colorize(cyan, "VIEW "),
			colorize(bold, padRight(view, 16)),
			int(rev),
		)
		if loading {
			line += "  " + colorize(yellow, "loading")
		}
		if ch != "" {
			line += "  " + colorize(dim, "via "+ch)
		}
		outln(line)

	case "toast":
		child, _ := ev["child"].(string)
		title, _ := ev["title"].(string)
		message, _ := ev["message"].(string)
		variant, _ := ev["variant"].(string)
		color := green
		switch variant {
		case "error":
			color = red
		case "warning":
			color = yellow
		case "info":
			color = blue
		}
		src := ""
		if child != "" {
			src = colorize(dim, "["+child+"] ")
		}
		outf("  %s %s  %s%s %s\n", colorize(dim, ts), colorize(color, "TOAST"), src, colorize(bold, title), message)

	case "log":
		level, _ := ev["level"].(string)
		logger, _ := ev["logger"].(string)
		message, _ := ev["message"].(string)
		fields, _ := ev["fields"].(map[string]any)
		outf("  %s\n", logLine(tsRaw, level, logger, message, fields))

	default:
		pretty, err := json.MarshalIndent(ev, "  ", "  ")
		if err != nil {
			outf("  %s\n", string(raw))
			return
		}
		outf("  %s\n", string(pretty))
	}
}
