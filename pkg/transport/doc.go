// Package transport carries wire messages over TCP.
//
// The transport layer handles:
//   - newline framing with a per-line size limit (Framer)
//   - message encode/decode on a connection with deadlines (Conn)
//   - obtaining connections by dialing or accepting (Connector)
//   - heartbeat and dead-peer timing (LivenessConfig)
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   wire messages (text lines)   │
//	├────────────────────────────────┤
//	│   "\n" framing, max 256 bytes  │
//	├────────────────────────────────┤
//	│             TCP                │
//	└────────────────────────────────┘
//
// There is no TLS and no authentication; the system is meant for an
// isolated layout LAN.
//
// # Liveness
//
// Each side writes HEARTBEAT every 5 seconds and drops a connection on
// which nothing has been received for 15 seconds.
package transport
