package session

// State is the client session lifecycle state. Transitions are monotonic
// per connection attempt: Disconnected, Connecting, Connected,
// Disconnecting, back to Disconnected. Group and peer operations are only
// valid while Connected.
type State uint32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}
