package address

import (
	"regexp"
	"strconv"
	"strings"
)

// angleSyntax accepts integers and plain decimals with an optional sign.
// Exponents, inf and nan are rejected before strconv sees them.
var angleSyntax = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// ParseOutput parses <channel>[<thrown>][<closed>]:<host>[:<port>].
func ParseOutput(text string) (Output, error) {
	fail := func(reason string) (Output, error) {
		return Output{}, &MalformedAddressError{Text: text, Reason: reason}
	}

	open := strings.IndexByte(text, '[')
	if open < 0 {
		return fail("missing calibration angles")
	}
	channel, ok := parseIndex(text[:open])
	if !ok {
		return fail("channel must be a non-negative integer")
	}

	rest := text[open:]
	thrown, rest, ok := parseBracketed(rest)
	if !ok {
		return fail("invalid thrown angle")
	}
	closed, rest, ok := parseBracketed(rest)
	if !ok {
		return fail("invalid closed angle")
	}
	if !strings.HasPrefix(rest, ":") {
		return fail("missing endpoint")
	}

	ep, reason := parseEndpoint(rest[1:])
	if reason != "" {
		return fail(reason)
	}

	return Output{
		Channel:     channel,
		ThrownAngle: thrown,
		ClosedAngle: closed,
		Endpoint:    ep,
	}, nil
}

// ParseInput parses <pin>:<host>[:<port>].
func ParseInput(text string) (Input, error) {
	fail := func(reason string) (Input, error) {
		return Input{}, &MalformedAddressError{Text: text, Reason: reason}
	}

	colon := strings.IndexByte(text, ':')
	if colon < 0 {
		return fail("missing endpoint")
	}
	pin, ok := parseIndex(text[:colon])
	if !ok {
		return fail("pin must be a non-negative integer")
	}

	ep, reason := parseEndpoint(text[colon+1:])
	if reason != "" {
		return fail(reason)
	}
	return Input{Pin: pin, Endpoint: ep}, nil
}

// ParseSignalHead parses <id>$<board>$R<red>$G<green>:<host>[:<port>]. The
// board is an I2C address in hex, with or without a 0x prefix.
func ParseSignalHead(text string) (SignalHead, error) {
	fail := func(reason string) (SignalHead, error) {
		return SignalHead{}, &MalformedAddressError{Text: text, Reason: reason}
	}

	head, rest, ok := strings.Cut(text, ":")
	if !ok {
		return fail("missing endpoint")
	}
	parts := strings.Split(head, "$")
	if len(parts) != 4 {
		return fail("expected <id>$<board>$R<red>$G<green>")
	}
	if reason := headIDReason(parts[0]); reason != "" {
		return fail(reason)
	}

	board, ok := parseBoard(parts[1])
	if !ok || board < MinBoard || board > MaxBoard {
		return fail("board must be an I2C address from 0x20 to 0x27")
	}
	red, ok := parseLamp(parts[2], 'R')
	if !ok {
		return fail("invalid red lamp pin")
	}
	green, ok := parseLamp(parts[3], 'G')
	if !ok {
		return fail("invalid green lamp pin")
	}
	if red == green {
		return fail("red and green share a pin")
	}

	ep, reason := parseEndpoint(rest)
	if reason != "" {
		return fail(reason)
	}
	return SignalHead{ID: parts[0], Board: board, Red: red, Green: green, Endpoint: ep}, nil
}

// ParseEndpoint parses <host>[:<port>]. When the text after the last colon
// is an integer it is taken as the port; otherwise the whole text is the
// host and DefaultPort applies.
func ParseEndpoint(text string) (Endpoint, error) {
	ep, reason := parseEndpoint(text)
	if reason != "" {
		return Endpoint{}, &MalformedAddressError{Text: text, Reason: reason}
	}
	return ep, nil
}

func parseEndpoint(text string) (Endpoint, string) {
	host, port := text, DefaultPort

	if i := strings.LastIndexByte(text, ':'); i >= 0 {
		tail := text[i+1:]
		if tail == "" {
			return Endpoint{}, "empty port"
		}
		if isDigits(tail) {
			p, err := strconv.Atoi(tail)
			if err != nil || p < 1 || p > 65535 {
				return Endpoint{}, "port out of range"
			}
			host, port = text[:i], p
		}
	}

	if host == "" {
		return Endpoint{}, "empty host"
	}
	if strings.ContainsAny(host, " \t\r\n[]") {
		return Endpoint{}, "invalid character in host"
	}
	return Endpoint{Host: host, Port: port}, ""
}

// parseBracketed reads one "[angle]" from the front of s and returns the
// remainder.
func parseBracketed(s string) (float64, string, bool) {
	if !strings.HasPrefix(s, "[") {
		return 0, s, false
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return 0, s, false
	}
	value := s[1:end]
	if !angleSyntax.MatchString(value) {
		return 0, s, false
	}
	angle, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, s, false
	}
	return angle, s[end+1:], true
}

func parseIndex(s string) (int, bool) {
	if !isDigits(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func parseBoard(s string) (int, bool) {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits == "" || len(digits) > 2 {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 16, 8)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// parseLamp reads a pin written as the colour letter followed by the pin.
func parseLamp(s string, letter byte) (int, bool) {
	if len(s) < 2 || (s[0] != letter && s[0] != letter+('a'-'A')) {
		return 0, false
	}
	pin, ok := parseIndex(s[1:])
	if !ok || pin >= BoardPins {
		return 0, false
	}
	return pin, true
}
