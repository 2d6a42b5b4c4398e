// Package address parses and formats the textual addresses that name
// servo outputs and digital inputs on networked peripherals.
//
// # Grammar
//
//	output   = channel "[" angle "]" "[" angle "]" ":" endpoint
//	input    = pin ":" endpoint
//	signal   = id "$" board "$R" pin "$G" pin ":" endpoint
//	endpoint = host [ ":" port ]
//
// Channel and pin are non-negative decimal integers. Angles are decimal
// numbers with an optional leading minus sign. If the segment after the
// last colon of the endpoint is an integer it is the port, otherwise the
// whole segment is the host and DefaultPort (10000) is used. An empty
// segment after a trailing colon is rejected rather than read as part of
// the host, so "5:pi:" is malformed.
//
// A signal head names an MCP23017 expander by its I2C address (0x20 to
// 0x27, hex with or without 0x) and the expander pins of its red and green
// LEDs, e.g. SM1-SH1$0x24$R6$G14:192.168.200.1.
//
// Formatting is the inverse of parsing, so for any parsed value x:
//
//	Parse(x.String()) == x
//
// Peripherals validate the angle range; this package does not.
package address
