package bayeux

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrHandshake   = errors.New("bayeux: handshake failed")
	ErrSubscribe   = errors.New("bayeux: subscribe failed")
	ErrConnect     = errors.New("bayeux: connect failed")
	ErrNotShaken   = errors.New("bayeux: no client id, handshake first")
	ErrServerClose = errors.New("bayeux: server advised no reconnect")
)

// Handler receives data messages, one at a time, in arrival order.
type Handler func(Message)

// Client is a Bayeux session over one Transport.
type Client struct {
	t   Transport
	log *zap.Logger

	// ReplayFrom is sent as the replay id for every subscription when
	// non-zero. -1 means new events only, -2 all retained events.
	ReplayFrom int64
	// MaxConnectFailures bounds consecutive /meta/connect transport
	// errors before Listen gives up.
	MaxConnectFailures int
	// RetryDelay is the pause after a failed /meta/connect.
	RetryDelay time.Duration

	seq atomic.Uint64

	mu       sync.Mutex
	clientID string
	advice   Advice
	subs     []string
	pending  []Message
}

// NewClient wraps t. The client does not own t; call Close on the
// transport when done.
func NewClient(t Transport, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		t:                  t,
		log:                logger,
		ReplayFrom:         -1,
		MaxConnectFailures: 5,
		RetryDelay:         2 * time.Second,
		advice:             Advice{Reconnect: ReconnectRetry},
	}
}

// ClientID returns the id assigned by the last successful handshake.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Handshake negotiates a client id.
func (c *Client) Handshake(ctx context.Context) error {
	req := Message{
		Channel:                  MetaHandshake,
		Version:                  "1.0",
		MinimumVersion:           "1.0",
		SupportedConnectionTypes: []string{c.t.Kind()},
	}
	if c.ReplayFrom != 0 {
		req.Ext = map[string]any{"replay": true}
	}
	reply, err := c.exchange(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if !reply.Successful {
		return fmt.Errorf("%w: %s", ErrHandshake, reasonOf(reply))
	}
	if reply.ClientID == "" {
		return fmt.Errorf("%w: reply carried no client id", ErrHandshake)
	}

	c.mu.Lock()
	c.clientID = reply.ClientID
	if reply.Advice != nil {
		c.advice = *reply.Advice
	}
	c.mu.Unlock()

	c.log.Info("handshake ok", zap.String("client_id", reply.ClientID), zap.String("transport", c.t.Kind()))
	return nil
}

// Subscribe subscribes to channel and remembers it so a re-handshake can
// restore the subscription.
func (c *Client) Subscribe(ctx context.Context, channel string) error {
	if err := c.subscribe(ctx, channel); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs = append(c.subs, channel)
	c.mu.Unlock()
	return nil
}

func (c *Client) subscribe(ctx context.Context, channel string) error {
	id := c.ClientID()
	if id == "" {
		return fmt.Errorf("%w: %w", ErrSubscribe, ErrNotShaken)
	}
	req := Message{Channel: MetaSubscribe, ClientID: id, Subscription: channel}
	if c.ReplayFrom != 0 {
		req.Ext = map[string]any{"replay": map[string]int64{channel: c.ReplayFrom}}
	}
	reply, err := c.exchange(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribe, channel, err)
	}
	if !reply.Successful {
		return fmt.Errorf("%w: %s: %s", ErrSubscribe, channel, reasonOf(reply))
	}
	c.log.Info("subscribed", zap.String("channel", channel))
	return nil
}

// Listen runs the /meta/connect loop and passes every data message to h.
// It returns when ctx is cancelled, when the server advises no reconnect,
// or after MaxConnectFailures consecutive transport errors.
func (c *Client) Listen(ctx context.Context, h Handler) error {
	failures := 0
	for {
		// Handshake and subscribe replies may carry data messages.
		c.drainPending(h)
		if err := ctx.Err(); err != nil {
			return err
		}

		id := c.ClientID()
		if id == "" {
			return ErrNotShaken
		}
		replies, err := c.t.Send(ctx, []Message{{
			ID:             c.nextID(),
			Channel:        MetaConnect,
			ClientID:       id,
			ConnectionType: c.t.Kind(),
		}})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			c.log.Warn("connect failed", zap.Int("failures", failures), zap.Error(err))
			if failures >= c.MaxConnectFailures {
				return fmt.Errorf("%w: %w", ErrConnect, err)
			}
			if !sleepOrCancel(ctx, c.RetryDelay) {
				return ctx.Err()
			}
			continue
		}
		failures = 0

		connectOK := true
		for _, m := range replies {
			switch {
			case m.Channel == MetaConnect:
				c.mu.Lock()
				if m.Advice != nil {
					c.advice = *m.Advice
				}
				c.mu.Unlock()
				if !m.Successful {
					connectOK = false
					c.log.Warn("connect rejected", zap.String("error", m.Error))
				}
			case m.IsMeta():
			default:
				h(m)
			}
		}

		c.mu.Lock()
		advice := c.advice
		c.mu.Unlock()

		switch advice.Reconnect {
		case ReconnectNone:
			return ErrServerClose
		case ReconnectHandshake:
			if err := c.rehandshake(ctx); err != nil {
				return err
			}
			continue
		}
		if !connectOK && advice.Reconnect == "" {
			if err := c.rehandshake(ctx); err != nil {
				return err
			}
			continue
		}
		if advice.Interval > 0 {
			if !sleepOrCancel(ctx, time.Duration(advice.Interval)*time.Millisecond) {
				return ctx.Err()
			}
		}
	}
}

// rehandshake negotiates a new client id and restores subscriptions.
func (c *Client) rehandshake(ctx context.Context) error {
	c.log.Info("server requested re-handshake")
	c.mu.Lock()
	c.clientID = ""
	c.advice = Advice{Reconnect: ReconnectRetry}
	subs := append([]string(nil), c.subs...)
	c.mu.Unlock()

	if err := c.Handshake(ctx); err != nil {
		return err
	}
	for _, s := range subs {
		if err := c.subscribe(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect ends the session. It is safe to call without a handshake.
func (c *Client) Disconnect(ctx context.Context) error {
	id := c.ClientID()
	if id == "" {
		return nil
	}
	_, err := c.t.Send(ctx, []Message{{ID: c.nextID(), Channel: MetaDisconnect, ClientID: id}})

	c.mu.Lock()
	c.clientID = ""
	c.mu.Unlock()
	return err
}

// exchange sends one meta request and returns the reply on the same
// channel. Data messages that ride along are queued for Listen.
func (c *Client) exchange(ctx context.Context, req Message) (Message, error) {
	req.ID = c.nextID()
	replies, err := c.t.Send(ctx, []Message{req})
	if err != nil {
		return Message{}, err
	}
	var (
		reply Message
		found bool
	)
	for _, m := range replies {
		switch {
		case m.Channel == req.Channel && !found:
			reply, found = m, true
		case !m.IsMeta():
			c.mu.Lock()
			c.pending = append(c.pending, m)
			c.mu.Unlock()
		}
	}
	if !found {
		return Message{}, fmt.Errorf("no %s reply", req.Channel)
	}
	return reply, nil
}

func (c *Client) drainPending(h Handler) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, m := range pending {
		h(m)
	}
}

func (c *Client) nextID() string {
	return strconv.FormatUint(c.seq.Add(1), 10)
}

func reasonOf(m Message) string {
	if m.Error != "" {
		return m.Error
	}
	return "unsuccessful reply"
}

// sleepOrCancel waits for d or until ctx is done. It reports whether the
// full duration elapsed.
func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
