package transcriber

// ConnectionState is the lifecycle state of a streaming client.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateOpen         ConnectionState = "open"
	StateStreaming    ConnectionState = "streaming"
	StateReconnecting ConnectionState = "reconnecting"
	StateClosing      ConnectionState = "closing"
	StateClosed       ConnectionState = "closed"
	StateFailed       ConnectionState = "failed"
)

func (s ConnectionState) String() string { return string(s) }

// transitions lists the allowed edges of the state machine. Closing is
// reachable from every state and is not listed.
var transitions = map[ConnectionState][]ConnectionState{
	StateIdle:         {StateConnecting},
	StateConnecting:   {StateOpen, StateIdle, StateReconnecting},
	StateOpen:         {StateStreaming, StateIdle, StateReconnecting},
	StateStreaming:    {StateReconnecting},
	StateReconnecting: {StateConnecting, StateFailed},
	StateFailed:       {StateConnecting},
	StateClosing:      {StateClosed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to ConnectionState) bool {
	if to == StateClosing {
		return from != StateClosed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
