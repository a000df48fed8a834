// Package bayeuxtest runs an in-process Bayeux server for tests. It speaks
// both long-polling (POST) and websocket (GET upgrade) on the same URL.
package bayeuxtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/agentron/internal/bayeux"
)

// Path is the endpoint path the server answers on.
const Path = "/cometd/47.0/"

// Server is a scripted Bayeux server.
type Server struct {
	*httptest.Server

	// Session, if set, must match the OAuth header.
	Session string
	// ConnectWait is how long a /meta/connect parks waiting for events.
	ConnectWait time.Duration

	mu             sync.Mutex
	failHandshake  string
	failSubscribe  string
	connectAdvice  *bayeux.Advice
	noWebSocket    bool
	clients        int
	subscriptions  []string
	requests       []bayeux.Message
	handshakeCount int
	offered        []string
	onHandshake    []bayeux.Message

	events chan bayeux.Message
}

// New starts a server. Close it with Server.Close.
func New() *Server {
	s := &Server{
		ConnectWait: 50 * time.Millisecond,
		events:      make(chan bayeux.Message, 64),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.serve)
	s.Server = httptest.NewServer(mux)
	return s
}

// Endpoint is the full http URL of the Bayeux endpoint.
func (s *Server) Endpoint() string { return s.Server.URL + Path }

// FailHandshake makes every handshake unsuccessful with reason.
func (s *Server) FailHandshake(reason string) {
	s.mu.Lock()
	s.failHandshake = reason
	s.mu.Unlock()
}

// FailSubscribe makes every subscribe unsuccessful with reason.
func (s *Server) FailSubscribe(reason string) {
	s.mu.Lock()
	s.failSubscribe = reason
	s.mu.Unlock()
}

// DisableWebSocket rejects websocket upgrades.
func (s *Server) DisableWebSocket() {
	s.mu.Lock()
	s.noWebSocket = true
	s.mu.Unlock()
}

// Offer restricts the connection types advertised in handshake replies.
func (s *Server) Offer(kinds ...string) {
	s.mu.Lock()
	s.offered = append([]string(nil), kinds...)
	s.mu.Unlock()
}

// PublishOnHandshake queues a Platform Event that rides along with the
// next successful handshake reply instead of a connect reply.
func (s *Server) PublishOnHandshake(channel, channelName, jsonString string) {
	m := eventMessage(channel, channelName, jsonString)
	s.mu.Lock()
	s.onHandshake = append(s.onHandshake, m)
	s.mu.Unlock()
}

// AdviseOnce attaches advice to the next /meta/connect reply.
func (s *Server) AdviseOnce(a bayeux.Advice) {
	s.mu.Lock()
	s.connectAdvice = &a
	s.mu.Unlock()
}

// Publish queues a Platform Event for delivery on channel.
func (s *Server) Publish(channel, channelName, jsonString string) {
	s.events <- eventMessage(channel, channelName, jsonString)
}

func eventMessage(channel, channelName, jsonString string) bayeux.Message {
	data, _ := json.Marshal(map[string]any{
		"payload": map[string]any{
			"ChannelName__c": channelName,
			"JsonString__c":  jsonString,
		},
		"event": map[string]any{"replayId": time.Now().UnixNano()},
	})
	return bayeux.Message{Channel: channel, Data: data}
}

// Subscriptions returns every channel subscribed so far.
func (s *Server) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscriptions...)
}

// Handshakes counts handshake requests, including the one Load sends to
// check each candidate.
func (s *Server) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakeCount
}

// Requests returns every message received so far.
func (s *Server) Requests() []bayeux.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bayeux.Message(nil), s.requests...)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if s.Session != "" && r.Header.Get("Authorization") != "OAuth "+s.Session {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		s.mu.Lock()
		off := s.noWebSocket
		s.mu.Unlock()
		if off {
			http.Error(w, "websocket disabled", http.StatusBadRequest)
			return
		}
		s.serveWebSocket(w, r)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var batch []bayeux.Message
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.handle(r, batch))
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		var batch []bayeux.Message
		if err := conn.ReadJSON(&batch); err != nil {
			return
		}
		if err := conn.WriteJSON(s.handle(r, batch)); err != nil {
			return
		}
	}
}

func (s *Server) handle(r *http.Request, batch []bayeux.Message) []bayeux.Message {
	var out []bayeux.Message
	for _, m := range batch {
		s.mu.Lock()
		s.requests = append(s.requests, m)
		s.mu.Unlock()

		reply := bayeux.Message{ID: m.ID, Channel: m.Channel, ClientID: m.ClientID}
		switch m.Channel {
		case bayeux.MetaHandshake:
			s.mu.Lock()
			s.handshakeCount++
			fail := s.failHandshake
			s.clients++
			id := "client-" + strconv.Itoa(s.clients)
			offered := s.offered
			var riders []bayeux.Message
			if fail == "" {
				riders, s.onHandshake = s.onHandshake, nil
			}
			s.mu.Unlock()
			if fail != "" {
				reply.Error = fail
				break
			}
			if offered == nil {
				offered = []string{bayeux.KindLongPolling, bayeux.KindWebSocket}
			}
			reply.Successful = true
			reply.ClientID = id
			reply.Version = "1.0"
			reply.SupportedConnectionTypes = offered
			reply.Advice = &bayeux.Advice{Reconnect: bayeux.ReconnectRetry, Timeout: 110000}
			out = append(out, reply)
			out = append(out, riders...)
			continue

		case bayeux.MetaSubscribe:
			s.mu.Lock()
			fail := s.failSubscribe
			if fail == "" {
				s.subscriptions = append(s.subscriptions, m.Subscription)
			}
			s.mu.Unlock()
			reply.Subscription = m.Subscription
			if fail != "" {
				reply.Error = fail
				break
			}
			reply.Successful = true

		case bayeux.MetaConnect:
			reply.Successful = true
			s.mu.Lock()
			if s.connectAdvice != nil {
				reply.Advice = s.connectAdvice
				s.connectAdvice = nil
			}
			s.mu.Unlock()
			out = append(out, reply)
			out = append(out, s.collect(r)...)
			continue

		case bayeux.MetaDisconnect:
			reply.Successful = true
		}
		out = append(out, reply)
	}
	return out
}

// collect parks until at least one event is queued, ConnectWait expires,
// or the request is cancelled, then drains whatever is queued.
func (s *Server) collect(r *http.Request) []bayeux.Message {
	var out []bayeux.Message
	t := time.NewTimer(s.ConnectWait)
	defer t.Stop()
	select {
	case ev := <-s.events:
		out = append(out, ev)
	case <-t.C:
		return nil
	case <-r.Context().Done():
		return nil
	}
	for {
		select {
		case ev := <-s.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}
