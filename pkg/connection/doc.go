// Package connection keeps a link to one peer alive.
//
// A Session owns a single goroutine that walks this state machine:
//
//	DISCONNECTED --Start--> CONNECTING --HELLO ok--> CONNECTED
//	                            |                       |
//	                         failure            read/write error,
//	                            |               liveness timeout,
//	                            v               decode error
//	                         BACKOFF <------------------+
//	                            |
//	                       delay elapsed
//	                            |
//	                            v
//	                        CONNECTING ...
//
// Close moves any state to CLOSED, which is terminal.
//
// # Reconnection Strategy
//
// Failed attempts are retried forever with exponential backoff:
//
//  1. Initial delay: 500 milliseconds
//  2. Exponential increase: 1s, 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds
//  4. Reset to the initial delay once a connection is established
//
// Each delay gets up to 25% random jitter added so that a layout full of
// peripherals does not reconnect in lockstep after a controller restart.
//
// # Pending Commands
//
// Submitted messages are held in an Outbox keyed by slot (kind and
// channel or pin). While the link is down only the newest message per slot
// survives, and everything pending is flushed right after the handshake.
package connection
