package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultConnectTimeout bounds a single dial attempt.
const DefaultConnectTimeout = 3 * time.Second

// Connector produces the next network connection for a session. The
// controller side dials; the peripheral side accepts.
type Connector interface {
	// Connect blocks until a connection is available, ctx is done, or the
	// attempt fails.
	Connect(ctx context.Context) (net.Conn, error)

	// String names the remote or local address for logs.
	String() string
}

// Dialer connects to a fixed TCP address.
type Dialer struct {
	address string
	timeout time.Duration
	dialer  net.Dialer
}

// NewDialer returns a Dialer for address. A zero timeout selects
// DefaultConnectTimeout.
func NewDialer(address string, timeout time.Duration) *Dialer {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &Dialer{address: address, timeout: timeout}
}

// Connect dials the address once.
func (d *Dialer) Connect(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := d.dialer.DialContext(ctx, "tcp", d.address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.address, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return conn, nil
}

func (d *Dialer) String() string {
	return d.address
}

// Listener accepts connections on a bound TCP socket, one per Connect call.
type Listener struct {
	ln net.Listener

	// acceptMu serialises Connect so that a cancelled accept cannot clear
	// the deadline of a newer one.
	acceptMu sync.Mutex
}

// Listen binds address, for example ":10000".
func Listen(address string) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", address, err)
	}
	return NewListener(ln), nil
}

// NewListener wraps an existing listener.
func NewListener(ln net.Listener) *Listener {
	return &Listener{ln: ln}
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// Connect accepts the next inbound connection. Cancelling ctx unblocks the
// pending accept without closing the listener.
func (l *Listener) Connect(ctx context.Context) (net.Conn, error) {
	l.acceptMu.Lock()
	defer l.acceptMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan acceptResult, 1)
	go func() {
		conn, err := l.ln.Accept()
		done <- acceptResult{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("accept on %s: %w", l.ln.Addr(), res.err)
		}
		if tcp, ok := res.conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
		return res.conn, nil

	case <-ctx.Done():
		dl, ok := l.ln.(deadliner)
		if !ok {
			l.ln.Close()
			<-done
			return nil, ctx.Err()
		}
		dl.SetDeadline(time.Now())
		res := <-done
		dl.SetDeadline(time.Time{})
		if res.conn != nil {
			res.conn.Close()
		}
		return nil, ctx.Err()
	}
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops listening.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) String() string {
	return l.ln.Addr().String()
}
