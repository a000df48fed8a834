package viewstate

// Status is the connection bootstrap progress. It advances linearly from
// Initializing to Subscribed; Failed is reachable from any state.
type Status string

const (
	StatusInitializing     Status = "Initializing"
	StatusGettingSession   Status = "Getting Session ID"
	StatusLoadingTransport Status = "Loading Transport"
	StatusConnecting       Status = "Connecting"
	StatusConnected        Status = "Connected"
	StatusSubscribed       Status = "Subscribed"
	StatusFailed           Status = "Failed"
)

// Terminal reports whether no further bootstrap transitions will follow.
func (s Status) Terminal() bool {
	return s == StatusSubscribed || s == StatusFailed
}

// Ready reports whether the transport handshake has completed.
func (s Status) Ready() bool {
	return s == StatusConnected || s == StatusSubscribed
}

// Class maps the status onto the indicator color used by the UI:
// "success", "default" while still bootstrapping, otherwise "error".
func (s Status) Class() string {
	switch s {
	case StatusConnected, StatusSubscribed:
		return "success"
	case StatusInitializing, StatusGettingSession, StatusLoadingTransport, StatusConnecting:
		return "default"
	default:
		return "error"
	}
}

var statusOrder = map[Status]int{
	StatusInitializing:     0,
	StatusGettingSession:   1,
	StatusLoadingTransport: 2,
	StatusConnecting:       3,
	StatusConnected:        4,
	StatusSubscribed:       5,
}

// CanAdvance reports whether moving from s to next respects the linear
// progression. Failed is always allowed unless already terminal.
func (s Status) CanAdvance(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	cur, ok1 := statusOrder[s]
	nxt, ok2 := statusOrder[next]
	return ok1 && ok2 && nxt > cur
}

// Connected reports whether the subscription is live. This is what the
// indicator treats as "connected"; Ready is the weaker handshake check
// that feeds initial loading.
func (s Status) Connected() bool {
	return s == StatusSubscribed
}
