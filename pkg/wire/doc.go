// Package wire defines the line protocol spoken between the layout
// controller and its peripherals.
//
// Every message is a single line of ASCII terminated by "\n". Fields are
// separated by exactly one space. "\r\n" is accepted when reading.
//
//	HELLO <version>              both directions, first line of a connection
//	SETANGLE <channel> <angle>   controller -> peripheral
//	WATCH <pin>                  controller -> peripheral
//	PIN <pin> ACTIVE|INACTIVE    peripheral -> controller
//	ERROR <text>                 peripheral -> controller
//	SIGNAL <head> <board> <red> <green> <appearance>
//	                             controller -> peripheral
//	HEARTBEAT                    both directions
//
// # Levels
//
// Inputs use a pull-up. ACTIVE means the pin is pulled to ground (a
// contact is closed), INACTIVE means it sits at supply voltage. Consumers
// should use Level.Grounded rather than comparing tokens.
//
// # Coalescing
//
// SETANGLE, PIN, WATCH and SIGNAL set a piece of remote state and
// implement Slotted. Senders keep only the newest message per Slot while a
// connection is down; SIGNAL is keyed by head ID. There are no sequence
// numbers or acknowledgements.
//
// # Signal heads
//
// SIGNAL names an MCP23017 board by I2C address in hex (0x24) and the
// board pins of the red and green lamps. Appearances are DARK, RED, GREEN,
// FLASHRED and FLASHGREEN.
package wire
