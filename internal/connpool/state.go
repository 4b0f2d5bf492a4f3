package connpool

// State is the lifecycle state of one device connection.
//
// The happy path is Disconnected → Connecting → Connected → Subscribing →
// Ready. Any stage may fall back to Reconnecting on transport error;
// Closed is reached only by explicit shutdown and is terminal.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribing
	StateReady
	StateReconnecting
	StateClosed
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribing:
		return "subscribing"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
