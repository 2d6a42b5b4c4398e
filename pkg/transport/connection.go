package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/log"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

// ErrConnectionClosed is returned by Send and Receive after Close.
var ErrConnectionClosed = errors.New("connection closed")

// ConnConfig configures a Conn.
type ConnConfig struct {
	// Logger receives a trace event per line (optional).
	Logger log.Logger

	// Role and Endpoint label trace events.
	Role     log.Role
	Endpoint string

	// WriteTimeout bounds a single Send (0 = no timeout).
	WriteTimeout time.Duration

	// MaxLineSize defaults to DefaultMaxLineSize.
	MaxLineSize int
}

// Conn carries wire messages over one TCP connection.
type Conn struct {
	id     string
	conn   net.Conn
	framer *Framer
	config ConnConfig

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewConn wraps an established network connection.
func NewConn(nc net.Conn, config ConnConfig) *Conn {
	if config.MaxLineSize <= 0 {
		config.MaxLineSize = DefaultMaxLineSize
	}

	c := &Conn{
		id:      uuid.New().String(),
		conn:    nc,
		framer:  NewFramerWithMaxSize(nc, config.MaxLineSize),
		config:  config,
		closeCh: make(chan struct{}),
	}
	if config.Logger != nil {
		c.framer.SetLogger(config.Logger, TraceInfo{
			ConnectionID: c.id,
			Role:         config.Role,
			Endpoint:     config.Endpoint,
			RemoteAddr:   nc.RemoteAddr().String(),
		})
	}
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send encodes and writes one message.
func (c *Conn) Send(m wire.Message) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	line, err := wire.Encode(m)
	if err != nil {
		return err
	}
	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return c.framer.WriteLine(line)
}

// Receive reads and decodes one message. A positive timeout sets the read
// deadline for this call; IsTimeout reports whether it expired.
func (c *Conn) Receive(timeout time.Duration) (wire.Message, error) {
	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	line, err := c.framer.ReadLine()
	if err != nil {
		return nil, err
	}
	return wire.Decode(line)
}

// Close closes the connection. Blocked Send and Receive calls return.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// IsTimeout reports whether err is a network deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
