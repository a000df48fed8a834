// Package bayeux is a small Bayeux/CometD client, enough to subscribe to a
// Salesforce Platform Event channel and receive its events in order.
//
// Transports are pluggable. A Client drives the handshake, subscribe,
// connect and disconnect meta exchanges over whichever Transport was
// loaded from an ordered list of candidates.
package bayeux

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Meta channels.
const (
	MetaHandshake   = "/meta/handshake"
	MetaConnect     = "/meta/connect"
	MetaSubscribe   = "/meta/subscribe"
	MetaUnsubscribe = "/meta/unsubscribe"
	MetaDisconnect  = "/meta/disconnect"
)

// Connection types.
const (
	KindLongPolling = "long-polling"
	KindWebSocket   = "websocket"
)

// Reconnect advice values.
const (
	ReconnectRetry     = "retry"
	ReconnectHandshake = "handshake"
	ReconnectNone      = "none"
)

// Advice is the server's reconnect guidance. Interval and Timeout are in
// milliseconds.
type Advice struct {
	Reconnect string `json:"reconnect,omitempty"`
	Interval  int64  `json:"interval,omitempty"`
	Timeout   int64  `json:"timeout,omitempty"`
}

// Message is one Bayeux message. Requests and replies share the shape.
type Message struct {
	ID                       string          `json:"id,omitempty"`
	Channel                  string          `json:"channel"`
	ClientID                 string          `json:"clientId,omitempty"`
	Version                  string          `json:"version,omitempty"`
	MinimumVersion           string          `json:"minimumVersion,omitempty"`
	SupportedConnectionTypes []string        `json:"supportedConnectionTypes,omitempty"`
	ConnectionType           string          `json:"connectionType,omitempty"`
	Subscription             string          `json:"subscription,omitempty"`
	Successful               bool            `json:"successful,omitempty"`
	Error                    string          `json:"error,omitempty"`
	Advice                   *Advice         `json:"advice,omitempty"`
	Data                     json.RawMessage `json:"data,omitempty"`
	Ext                      map[string]any  `json:"ext,omitempty"`
}

// IsMeta reports whether m is on a /meta/ channel.
func (m Message) IsMeta() bool {
	return strings.HasPrefix(m.Channel, "/meta/")
}

// Event is the data of a Platform Event delivery. Only the fields the
// coordinator reads are decoded.
type Event struct {
	Payload struct {
		ChannelName string `json:"ChannelName__c"`
		JSONString  string `json:"JsonString__c"`
	} `json:"payload"`
	Event struct {
		ReplayID int64 `json:"replayId"`
	} `json:"event"`
}

// ErrNotAnEvent is returned by Message.Event for meta messages and for
// data that is not a Platform Event envelope.
var ErrNotAnEvent = errors.New("bayeux: not a platform event")

// Event decodes the Platform Event envelope carried in m.Data.
func (m Message) Event() (Event, error) {
	var ev Event
	if m.IsMeta() || len(m.Data) == 0 {
		return ev, ErrNotAnEvent
	}
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrNotAnEvent, err)
	}
	return ev, nil
}
