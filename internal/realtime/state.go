package realtime

// State is the connection state of a [Client].
type State int32

const (
	// StateDisconnected means no usable connection exists. Outbound messages
	// are dropped.
	StateDisconnected State = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateOpen means a generation is live and accepts messages.
	StateOpen

	// StateClosing means Close is tearing the active generation down.
	StateClosing
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
