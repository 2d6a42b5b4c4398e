package wire

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MaxLineLength bounds one encoded line including the newline.
const MaxLineLength = 256

var (
	// ErrDecode is matched by every failure to decode a received line.
	ErrDecode = errors.New("protocol decode error")

	// ErrInvalidMessage indicates a message that cannot be put on the wire.
	ErrInvalidMessage = errors.New("invalid message")
)

// DecodeError describes a line that could not be decoded.
type DecodeError struct {
	Line   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %q: %s", ErrDecode, e.Line, e.Reason)
}

// Unwrap makes errors.Is(err, ErrDecode) hold.
func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

var numberSyntax = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// headSyntax matches a signal head ID.
var headSyntax = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// maxBoard is the highest 7-bit I2C address.
const maxBoard = 0x7f

// Encode returns the newline-terminated line for m.
func Encode(m Message) ([]byte, error) {
	if err := validate(m); err != nil {
		return nil, err
	}
	if e, ok := m.(Error); ok {
		m = Error{Text: sanitizeText(e.Text)}
	}
	line := m.String() + "\n"
	if len(line) > MaxLineLength {
		return nil, fmt.Errorf("%w: line of %d bytes exceeds %d", ErrInvalidMessage, len(line), MaxLineLength)
	}
	return []byte(line), nil
}

// Decode parses one line. A trailing "\n" or "\r\n" is accepted.
func Decode(line []byte) (Message, error) {
	s := strings.TrimSuffix(string(line), "\n")
	s = strings.TrimSuffix(s, "\r")

	fail := func(reason string) (Message, error) {
		return nil, &DecodeError{Line: s, Reason: reason}
	}

	if s == "" {
		return fail("empty line")
	}

	// ERROR carries free text, so it is split only once.
	if s == "ERROR" {
		return Error{}, nil
	}
	if rest, ok := strings.CutPrefix(s, "ERROR "); ok {
		return Error{Text: rest}, nil
	}

	fields := strings.Split(s, " ")
	switch fields[0] {
	case "HEARTBEAT":
		if len(fields) != 1 {
			return fail("unexpected arguments")
		}
		return Heartbeat{}, nil

	case "HELLO":
		if len(fields) != 2 {
			return fail("expected HELLO <version>")
		}
		v, ok := parseIndex(fields[1])
		if !ok || v == 0 {
			return fail("invalid version")
		}
		return Hello{Version: v}, nil

	case "SETANGLE":
		if len(fields) != 3 {
			return fail("expected SETANGLE <channel> <angle>")
		}
		ch, ok := parseIndex(fields[1])
		if !ok {
			return fail("invalid channel")
		}
		if !numberSyntax.MatchString(fields[2]) {
			return fail("invalid angle")
		}
		angle, err := strconv.ParseFloat(fields[2], 64)
		if err != nil || math.IsInf(angle, 0) {
			return fail("invalid angle")
		}
		return SetAngle{Channel: ch, Angle: angle}, nil

	case "PIN":
		if len(fields) != 3 {
			return fail("expected PIN <pin> ACTIVE|INACTIVE")
		}
		pin, ok := parseIndex(fields[1])
		if !ok {
			return fail("invalid pin")
		}
		level, err := ParseLevel(fields[2])
		if err != nil {
			return fail(err.Error())
		}
		return PinState{Pin: pin, Level: level}, nil

	case "WATCH":
		if len(fields) != 2 {
			return fail("expected WATCH <pin>")
		}
		pin, ok := parseIndex(fields[1])
		if !ok {
			return fail("invalid pin")
		}
		return Watch{Pin: pin}, nil

	case "SIGNAL":
		if len(fields) != 6 {
			return fail("expected SIGNAL <head> <board> <red> <green> <appearance>")
		}
		if !headSyntax.MatchString(fields[1]) {
			return fail("invalid signal head")
		}
		board, ok := parseBoard(fields[2])
		if !ok {
			return fail("invalid board address")
		}
		red, ok := parseIndex(fields[3])
		if !ok {
			return fail("invalid red lamp")
		}
		green, ok := parseIndex(fields[4])
		if !ok {
			return fail("invalid green lamp")
		}
		appearance, err := ParseAppearance(fields[5])
		if err != nil {
			return fail(err.Error())
		}
		return Signal{Head: fields[1], Board: board, Red: red, Green: green, Appearance: appearance}, nil
	}

	return fail("unknown message " + strconv.Quote(fields[0]))
}

func validate(m Message) error {
	switch v := m.(type) {
	case nil:
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	case Hello:
		if v.Version <= 0 {
			return fmt.Errorf("%w: version %d", ErrInvalidMessage, v.Version)
		}
	case SetAngle:
		if v.Channel < 0 {
			return fmt.Errorf("%w: channel %d", ErrInvalidMessage, v.Channel)
		}
		if math.IsNaN(v.Angle) || math.IsInf(v.Angle, 0) {
			return fmt.Errorf("%w: angle %v", ErrInvalidMessage, v.Angle)
		}
	case PinState:
		if v.Pin < 0 || !v.Level.IsValid() {
			return fmt.Errorf("%w: %s", ErrInvalidMessage, v)
		}
	case Watch:
		if v.Pin < 0 {
			return fmt.Errorf("%w: pin %d", ErrInvalidMessage, v.Pin)
		}
	case Signal:
		if !headSyntax.MatchString(v.Head) {
			return fmt.Errorf("%w: signal head %q", ErrInvalidMessage, v.Head)
		}
		if v.Board < 0 || v.Board > maxBoard || v.Red < 0 || v.Green < 0 || !v.Appearance.IsValid() {
			return fmt.Errorf("%w: %s", ErrInvalidMessage, v)
		}
	case Heartbeat, Error:
	default:
		return fmt.Errorf("%w: unsupported kind %s", ErrInvalidMessage, m.Kind())
	}
	return nil
}

// sanitizeText keeps error text on one line and within MaxLineLength.
func sanitizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)
	if limit := MaxLineLength - len("ERROR \n"); len(s) > limit {
		s = s[:limit]
	}
	return s
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseBoard reads an I2C address written as 0x followed by hex digits.
func parseBoard(s string) (int, bool) {
	digits, ok := strings.CutPrefix(s, "0x")
	if !ok || digits == "" || len(digits) > 2 {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 16, 8)
	if err != nil || n > maxBoard {
		return 0, false
	}
	return int(n), true
}
