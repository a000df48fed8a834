package bayeux

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Transport carries batches of Bayeux messages to the server and returns
// whatever the server replied with, data messages included.
type Transport interface {
	// Kind is the Bayeux connection type, e.g. "long-polling".
	Kind() string
	Send(ctx context.Context, batch []Message) ([]Message, error)
	Close() error
}

// Candidate is one place a transport can be loaded from. URL may be empty,
// in which case Options.Endpoint is used.
type Candidate struct {
	Name string `toml:"name" json:"name"`
	Kind string `toml:"kind" json:"kind"`
	URL  string `toml:"url" json:"url,omitempty"`
}

// Options configures a transport. Session is sent as an OAuth bearer on
// every request.
type Options struct {
	Endpoint   string
	Session    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

var (
	// ErrNoTransport is returned by Load when every candidate failed.
	ErrNoTransport = errors.New("bayeux: no transport could be loaded")
	// ErrNoEntryPoint marks a candidate whose kind has no registered
	// opener, whose endpoint does not answer a handshake, or whose server
	// does not offer the candidate's connection type.
	ErrNoEntryPoint = errors.New("bayeux: transport entry point missing")
)

// Opener opens one kind of transport.
type Opener func(ctx context.Context, url string, opts Options) (Transport, error)

var openers = map[string]Opener{
	KindLongPolling: openLongPolling,
	KindWebSocket:   openWebSocket,
}

// Open opens a single candidate.
func Open(ctx context.Context, c Candidate, opts Options) (Transport, error) {
	open, ok := openers[c.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: kind %q", ErrNoEntryPoint, c.Kind)
	}
	url := c.URL
	if url == "" {
		url = opts.Endpoint
	}
	if url == "" {
		return nil, fmt.Errorf("bayeux: candidate %s has no url", c.Name)
	}
	t, err := open(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	if t.Kind() != c.Kind {
		_ = t.Close()
		return nil, fmt.Errorf("%w: %s opened as %s", ErrNoEntryPoint, c.Kind, t.Kind())
	}
	if err := checkEntryPoint(ctx, t, c); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

// checkEntryPoint sends a handshake offering only the candidate's kind.
// The candidate is usable when the endpoint answers with a handshake reply
// whose supportedConnectionTypes, if present, include that kind. A 401 or
// 403 still proves the endpoint exists; the real handshake reports it.
// A client id granted here is released with a disconnect.
func checkEntryPoint(ctx context.Context, t Transport, c Candidate) error {
	replies, err := t.Send(ctx, []Message{{
		ID:                       "0",
		Channel:                  MetaHandshake,
		Version:                  "1.0",
		MinimumVersion:           "1.0",
		SupportedConnectionTypes: []string{c.Kind},
	}})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden) {
			return nil
		}
		return fmt.Errorf("%w: %s: %w", ErrNoEntryPoint, c.Name, err)
	}

	idx := slices.IndexFunc(replies, func(m Message) bool { return m.Channel == MetaHandshake })
	if idx < 0 {
		return fmt.Errorf("%w: %s: no handshake reply", ErrNoEntryPoint, c.Name)
	}
	reply := replies[idx]
	if reply.ClientID != "" {
		_, _ = t.Send(ctx, []Message{{ID: "0", Channel: MetaDisconnect, ClientID: reply.ClientID}})
	}
	offered := reply.SupportedConnectionTypes
	if (reply.Successful || len(offered) > 0) && !slices.Contains(offered, c.Kind) {
		return fmt.Errorf("%w: server offers %v, not %s", ErrNoEntryPoint, offered, c.Kind)
	}
	return nil
}

// Load tries candidates in order and returns the first that opens and
// answers a handshake for its kind. Any other candidate is skipped. Once
// all are exhausted the error wraps ErrNoTransport and the last failure.
func Load(ctx context.Context, candidates []Candidate, opts Options) (Transport, Candidate, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var lastErr error
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, Candidate{}, err
		}
		t, err := Open(ctx, c, opts)
		if err != nil {
			log.Warn("transport candidate failed",
				zap.Int("index", i+1),
				zap.String("candidate", c.Name),
				zap.String("kind", c.Kind),
				zap.Error(err))
			lastErr = err
			continue
		}
		log.Info("transport loaded", zap.String("candidate", c.Name), zap.String("kind", c.Kind))
		return t, c, nil
	}
	if lastErr == nil {
		return nil, Candidate{}, fmt.Errorf("%w: no candidates configured", ErrNoTransport)
	}
	return nil, Candidate{}, fmt.Errorf("%w after %d candidates: %v", ErrNoTransport, len(candidates), lastErr)
}

// Kinds lists the connection types that have an opener.
func Kinds() []string {
	out := make([]string, 0, len(openers))
	for k := range openers {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func authHeader(session string) string {
	return "OAuth " + session
}

// wsURL rewrites an http(s) endpoint to ws(s).
func wsURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}
