package bayeux

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type webSocket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func openWebSocket(ctx context.Context, rawURL string, opts Options) (Transport, error) {
	d := opts.Dialer
	if d == nil {
		d = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	h := http.Header{}
	if opts.Session != "" {
		h.Set("Authorization", authHeader(opts.Session))
	}
	conn, resp, err := d.DialContext(ctx, wsURL(rawURL), h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bayeux: websocket dial: HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bayeux: websocket dial: %w", err)
	}
	return &webSocket{conn: conn}, nil
}

func (t *webSocket) Kind() string { return KindWebSocket }

// Send writes the batch as one frame and reads the next frame as the
// reply. Cancelling ctx unblocks a pending read by expiring its deadline,
// which leaves the connection unusable.
func (t *webSocket) Send(ctx context.Context, batch []Message) ([]Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := t.conn.WriteJSON(batch); err != nil {
		return nil, fmt.Errorf("bayeux: websocket write: %w", err)
	}

	_, b, err := t.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("bayeux: websocket read: %w", err)
	}
	var replies []Message
	if err := json.Unmarshal(b, &replies); err != nil {
		return nil, fmt.Errorf("bayeux: decode reply: %w", err)
	}
	return replies, nil
}

func (t *webSocket) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}
