// Package session drives the lifecycle of one peer-to-peer conversation:
// handshake, heartbeat, reconnection with replay, and frame dispatch.
package session

// State is the lifecycle phase of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateEstablished
	StateDegraded
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role distinguishes the two ends of a conversation. The client dials, the
// host listens; once the stream opens the host initiates the handshake.
type Role int

const (
	RoleHost Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "client"
}
