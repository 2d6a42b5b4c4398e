package transport

import (
	"net"
	"time"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

// MessageConn is a connection carrying wire messages.
// Implemented by Conn.
type MessageConn interface {
	ID() string
	RemoteAddr() net.Addr
	Send(m wire.Message) error
	Receive(timeout time.Duration) (wire.Message, error)
	Close() error
}

// LineReadWriter provides newline-framed I/O.
// Implemented by Framer.
type LineReadWriter interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ MessageConn    = (*Conn)(nil)
	_ LineReadWriter = (*Framer)(nil)
	_ Connector      = (*Dialer)(nil)
	_ Connector      = (*Listener)(nil)
)
