package wire

import (
	"fmt"
	"strconv"
)

// ProtocolVersion is exchanged in HELLO when a connection opens.
const ProtocolVersion = 1

// Kind identifies the message variant. Its String form is the line token.
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindSetAngle
	KindPinState
	KindWatch
	KindHeartbeat
	KindError
	KindSignal
)

// String returns the token that starts a line of this kind.
func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindSetAngle:
		return "SETANGLE"
	case KindPinState:
		return "PIN"
	case KindWatch:
		return "WATCH"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindError:
		return "ERROR"
	case KindSignal:
		return "SIGNAL"
	default:
		return "UNKNOWN"
	}
}

// Message is one line on the wire.
type Message interface {
	Kind() Kind
	String() string
}

// Slot names the piece of remote state a message sets. Two messages with
// the same slot are interchangeable apart from their value, so only the
// newest one needs to be sent. Index keys channels and pins, Key keys
// signal heads.
type Slot struct {
	Kind  Kind
	Index int
	Key   string
}

// Slotted is implemented by messages that can be coalesced.
type Slotted interface {
	Message
	Slot() Slot
}

// Hello opens a connection in both directions.
type Hello struct {
	Version int
}

// SetAngle commands a servo channel to an absolute angle in degrees.
type SetAngle struct {
	Channel int
	Angle   float64
}

// PinState reports the level of a watched input pin.
type PinState struct {
	Pin   int
	Level Level
}

// Watch asks the peripheral to report a pin's level now and on every change.
type Watch struct {
	Pin int
}

// Signal sets the appearance of a signal head. The lamp wiring travels with
// every command so the peripheral needs no signal configuration of its own.
type Signal struct {
	Head       string
	Board      int
	Red        int
	Green      int
	Appearance Appearance
}

// Heartbeat carries no data and only proves the peer is alive.
type Heartbeat struct{}

// Error is sent by a peripheral when it rejects a command.
type Error struct {
	Text string
}

func (Hello) Kind() Kind     { return KindHello }
func (SetAngle) Kind() Kind  { return KindSetAngle }
func (PinState) Kind() Kind  { return KindPinState }
func (Watch) Kind() Kind     { return KindWatch }
func (Heartbeat) Kind() Kind { return KindHeartbeat }
func (Error) Kind() Kind     { return KindError }
func (Signal) Kind() Kind    { return KindSignal }

func (m SetAngle) Slot() Slot { return Slot{Kind: KindSetAngle, Index: m.Channel} }
func (m PinState) Slot() Slot { return Slot{Kind: KindPinState, Index: m.Pin} }
func (m Watch) Slot() Slot    { return Slot{Kind: KindWatch, Index: m.Pin} }
func (m Signal) Slot() Slot   { return Slot{Kind: KindSignal, Key: m.Head} }

func (m Hello) String() string {
	return "HELLO " + strconv.Itoa(m.Version)
}

func (m SetAngle) String() string {
	return "SETANGLE " + strconv.Itoa(m.Channel) + " " + strconv.FormatFloat(m.Angle, 'f', -1, 64)
}

func (m PinState) String() string {
	return "PIN " + strconv.Itoa(m.Pin) + " " + m.Level.String()
}

func (m Watch) String() string {
	return "WATCH " + strconv.Itoa(m.Pin)
}

func (m Signal) String() string {
	return fmt.Sprintf("SIGNAL %s 0x%02x %d %d %s", m.Head, m.Board, m.Red, m.Green, m.Appearance)
}

func (Heartbeat) String() string {
	return "HEARTBEAT"
}

func (m Error) String() string {
	if m.Text == "" {
		return "ERROR"
	}
	return "ERROR " + m.Text
}

// Compile-time interface satisfaction checks.
var (
	_ Message = Hello{}
	_ Slotted = SetAngle{}
	_ Slotted = PinState{}
	_ Slotted = Watch{}
	_ Slotted = Signal{}
	_ Message = Heartbeat{}
	_ Message = Error{}
)
