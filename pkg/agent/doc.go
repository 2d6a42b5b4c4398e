// Package agent implements the peripheral end of a link.
//
// An Agent owns one connection.Session toward its controller, with the same
// liveness and backoff rules the controller applies, since either end may
// restart on its own. Received commands are applied through a Driver:
//
//   - SETANGLE moves a servo at once. An angle the channel already holds is
//     not written again, and nothing is acknowledged. Angles outside the
//     configured range are answered with ERROR.
//   - WATCH adds a pin to the watch list and reports its current level.
//   - SIGNAL sets a signal head through the driver's SignalDriver side. A
//     flashing appearance runs one goroutine per head that toggles the lamp
//     every FlashInterval; it is stopped before the head changes again.
//
// Watched pins are polled. Every observed level change is queued as a PIN
// message; while disconnected only the newest level per pin is kept, so the
// controller learns the current level after reconnecting but never a level
// that was not observed.
package agent
