package address

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the TCP port a peripheral listens on when the address
// does not name one.
const DefaultPort = 10000

// ErrMalformedAddress is matched by every parse failure.
var ErrMalformedAddress = errors.New("malformed address")

// MalformedAddressError describes why an address string was rejected.
type MalformedAddressError struct {
	Text   string
	Reason string
}

func (e *MalformedAddressError) Error() string {
	return fmt.Sprintf("malformed address %q: %s", e.Text, e.Reason)
}

// Unwrap makes errors.Is(err, ErrMalformedAddress) hold.
func (e *MalformedAddressError) Unwrap() error {
	return ErrMalformedAddress
}

// Endpoint identifies one peripheral on the network. Two endpoints are the
// same device only if host and port are exactly equal; no name resolution
// or case folding is applied.
type Endpoint struct {
	Host string
	Port int
}

// String formats the endpoint. The port is left out when it is the default,
// unless the host itself contains a colon and the port is needed to parse
// the text back unambiguously.
func (e Endpoint) String() string {
	if e.Port == DefaultPort && !strings.Contains(e.Host, ":") {
		return e.Host
	}
	return e.Host + ":" + strconv.Itoa(e.Port)
}

// Address returns the host:port form accepted by net.Dial.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Validate reports whether the endpoint could have come from a parse.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return &MalformedAddressError{Text: e.String(), Reason: "empty host"}
	}
	if e.Port < 1 || e.Port > 65535 {
		return &MalformedAddressError{Text: e.String(), Reason: "port out of range"}
	}
	return nil
}

// Output is a servo channel on a peripheral together with the two
// calibration angles used for the turnout positions.
type Output struct {
	Channel     int
	ThrownAngle float64
	ClosedAngle float64
	Endpoint    Endpoint
}

// Angle returns the calibrated angle for the given turnout position.
func (o Output) Angle(thrown bool) float64 {
	if thrown {
		return o.ThrownAngle
	}
	return o.ClosedAngle
}

// String formats the output as <channel>[<thrown>][<closed>]:<endpoint>.
func (o Output) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(o.Channel))
	b.WriteByte('[')
	b.WriteString(formatAngle(o.ThrownAngle))
	b.WriteString("][")
	b.WriteString(formatAngle(o.ClosedAngle))
	b.WriteString("]:")
	b.WriteString(o.Endpoint.String())
	return b.String()
}

// Validate checks the fields a parse would have checked.
func (o Output) Validate() error {
	if o.Channel < 0 {
		return &MalformedAddressError{Text: o.String(), Reason: "negative channel"}
	}
	return o.Endpoint.Validate()
}

// Input is a digital input pin on a peripheral.
type Input struct {
	Pin      int
	Endpoint Endpoint
}

// String formats the input as <pin>:<endpoint>.
func (i Input) String() string {
	return strconv.Itoa(i.Pin) + ":" + i.Endpoint.String()
}

// Validate checks the fields a parse would have checked.
func (i Input) Validate() error {
	if i.Pin < 0 {
		return &MalformedAddressError{Text: i.String(), Reason: "negative pin"}
	}
	return i.Endpoint.Validate()
}

func formatAngle(a float64) string {
	return strconv.FormatFloat(a, 'f', -1, 64)
}

// MCP23017 expander limits for signal heads.
const (
	MinBoard = 0x20
	MaxBoard = 0x27

	// BoardPins is the number of GPIO pins on one expander.
	BoardPins = 16

	// MaxHeadIDLength bounds a signal head ID so SIGNAL lines stay short.
	MaxHeadIDLength = 32
)

// SignalHead is a two-lamp signal head on a peripheral. The red and green
// LEDs hang off pins of an MCP23017 expander at I2C address Board.
type SignalHead struct {
	ID       string
	Board    int
	Red      int
	Green    int
	Endpoint Endpoint
}

// String formats the head as <id>$<board>$R<red>$G<green>:<endpoint>, with
// the board in hex, e.g. SM1-SH1$0x24$R6$G14:192.168.200.1.
func (h SignalHead) String() string {
	return fmt.Sprintf("%s$0x%02x$R%d$G%d:%s", h.ID, h.Board, h.Red, h.Green, h.Endpoint)
}

// Validate checks the fields a parse would have checked.
func (h SignalHead) Validate() error {
	if reason := headIDReason(h.ID); reason != "" {
		return &MalformedAddressError{Text: h.String(), Reason: reason}
	}
	if h.Board < MinBoard || h.Board > MaxBoard {
		return &MalformedAddressError{Text: h.String(), Reason: "board address out of range"}
	}
	if h.Red < 0 || h.Red >= BoardPins || h.Green < 0 || h.Green >= BoardPins {
		return &MalformedAddressError{Text: h.String(), Reason: "lamp pin out of range"}
	}
	if h.Red == h.Green {
		return &MalformedAddressError{Text: h.String(), Reason: "red and green share a pin"}
	}
	return h.Endpoint.Validate()
}

// headIDReason returns why id is not a usable head ID, or "".
func headIDReason(id string) string {
	if id == "" {
		return "empty signal head ID"
	}
	if len(id) > MaxHeadIDLength {
		return "signal head ID too long"
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return "invalid character in signal head ID"
		}
	}
	return ""
}
