package bayeux

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
)

// maxReplyBytes bounds a single long-polling response body.
const maxReplyBytes = 8 << 20

// StatusError is a long-polling reply with a non-200 status.
type StatusError struct {
	Channel string
	Code    int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bayeux: %s returned HTTP %d", e.Channel, e.Code)
}

type longPolling struct {
	url     string
	session string
	client  *http.Client
}

func openLongPolling(_ context.Context, rawURL string, opts Options) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("bayeux: long-polling url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("bayeux: long-polling needs http(s), got %q", u.Scheme)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if client.Jar == nil {
		// The server pins the session with a BAYEUX_BROWSER cookie.
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c := *client
		c.Jar = jar
		client = &c
	}
	return &longPolling{url: u.String(), session: opts.Session, client: client}, nil
}

func (t *longPolling) Kind() string { return KindLongPolling }

func (t *longPolling) Send(ctx context.Context, batch []Message) ([]Message, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	if t.session != "" {
		req.Header.Set("Authorization", authHeader(t.session))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Channel: batchChannel(batch), Code: resp.StatusCode}
	}

	var replies []Message
	if err := json.Unmarshal(b, &replies); err != nil {
		return nil, fmt.Errorf("bayeux: decode reply: %w", err)
	}
	return replies, nil
}

func (t *longPolling) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func batchChannel(batch []Message) string {
	if len(batch) == 0 {
		return "empty batch"
	}
	return batch[0].Channel
}
