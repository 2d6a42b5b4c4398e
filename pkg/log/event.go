package log

import (
	"time"
)

// Event is one entry of the protocol trace. CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies one TCP connection (UUID). Empty for session
	// events that happen while no connection exists.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// LocalRole is the side that recorded the event.
	LocalRole Role `cbor:"6,keyasint"`

	// RemoteAddr is the peer socket address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Endpoint is the configured peripheral endpoint or listen address the
	// session belongs to.
	Endpoint string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Line        *LineEvent        `cbor:"9,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"11,keyasint,omitempty"`
}

// Direction indicates message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where the event was captured.
type Layer uint8

const (
	// LayerTransport is the line framing layer.
	LayerTransport Layer = 0
	// LayerSession is the reconnecting session above it.
	LayerSession Layer = 1
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	// CategoryMessage is a command or report line.
	CategoryMessage Category = 0
	// CategoryControl is a HELLO or HEARTBEAT line.
	CategoryControl Category = 1
	// CategoryState is a session state change.
	CategoryState Category = 2
	// CategoryError is a failure at any layer.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which side recorded the event.
type Role uint8

const (
	RolePeripheral Role = 0
	RoleController Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RolePeripheral:
		return "PERIPHERAL"
	case RoleController:
		return "CONTROLLER"
	default:
		return "UNKNOWN"
	}
}

// LineEvent captures one protocol line.
type LineEvent struct {
	// Text is the line without its terminator.
	Text string `cbor:"1,keyasint"`

	// Size is the number of bytes on the wire including the terminator.
	Size int `cbor:"2,keyasint"`
}

// StateChangeEvent captures a session state transition.
type StateChangeEvent struct {
	OldState string `cbor:"1,keyasint,omitempty"`
	NewState string `cbor:"2,keyasint"`

	// Reason is the error that caused the transition, if any.
	Reason string `cbor:"3,keyasint,omitempty"`

	// Attempt is the session's connect attempt counter at the time.
	Attempt uint64 `cbor:"4,keyasint,omitempty"`

	// Delay is the backoff wait, set when entering BACKOFF.
	Delay time.Duration `cbor:"5,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
