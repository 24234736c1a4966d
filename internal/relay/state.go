package relay

// State is the matchmaking state of a registered connection.
type State int

const (
	StateIdle State = iota
	StateSearching
	StatePaired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StatePaired:
		return "paired"
	default:
		return "unknown"
	}
}

// Transport is the outbound half of one client connection.
//
// Send is called with the service lock held and must not block: implementations
// buffer the payload and return an error once the connection can no longer take
// it. Close releases the connection; it may be called more than once.
type Transport interface {
	Send(payload []byte) error
	Close() error
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Connections int `json:"connections"`
	Searching   int `json:"searching"`
	Paired      int `json:"paired"`
}
