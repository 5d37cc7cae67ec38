package station

// State is a Session's position in spec.md §4.3.3's state machine.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
