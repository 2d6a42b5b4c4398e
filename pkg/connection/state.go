package connection

import "errors"

// Session failure classes. Every error that moves a session to BACKOFF
// matches exactly one of the first four with errors.Is.
var (
	ErrConnectFailure  = errors.New("connect failure")
	ErrReadWrite       = errors.New("read/write failure")
	ErrLivenessTimeout = errors.New("liveness timeout")
	ErrProtocolDecode  = errors.New("protocol decode failure")

	// ErrVersionMismatch is wrapped in a connect failure when the peer's
	// HELLO names another protocol version.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrNotConnected is returned by Reply when no connection is up.
	ErrNotConnected = errors.New("not connected")
)

// State is the session state.
type State uint8

const (
	// StateDisconnected is the state of a session that was never started.
	StateDisconnected State = iota

	// StateConnecting indicates a dial or accept plus handshake in progress.
	StateConnecting

	// StateConnected indicates an established connection.
	StateConnected

	// StateBackoff indicates a wait before the next connect attempt.
	StateBackoff

	// StateClosed indicates the session has been shut down.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateBackoff:
		return "BACKOFF"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
