package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/log"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/transport"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

// Session timing defaults.
const (
	DefaultHandshakeTimeout = 3 * time.Second
	DefaultWriteTimeout     = 3 * time.Second
)

// Config configures a Session.
type Config struct {
	// Name labels logs and trace events, usually the peer endpoint.
	Name string

	// Role is recorded in trace events.
	Role log.Role

	// HandshakeTimeout bounds the wait for the peer's HELLO.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single line write.
	WriteTimeout time.Duration

	Liveness transport.LivenessConfig
	Backoff  BackoffConfig
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		Liveness:         transport.DefaultLivenessConfig(),
		Backoff:          DefaultBackoffConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	c.Liveness = c.Liveness.WithDefaults()
	c.Backoff = c.Backoff.withDefaults()
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if err := c.Liveness.Validate(); err != nil {
		return err
	}
	return nil
}

// Handler receives the messages a session reads, one at a time and in
// wire order. HEARTBEAT and HELLO are consumed by the session. Handlers run
// on the connection's reader goroutine and must not call Close.
type Handler interface {
	HandleMessage(s *Session, msg wire.Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(s *Session, msg wire.Message)

// HandleMessage calls f(s, msg).
func (f HandlerFunc) HandleMessage(s *Session, msg wire.Message) {
	f(s, msg)
}

// Session keeps one logical link to a peer alive across any number of TCP
// connections. It owns a single goroutine that connects, serves, backs off
// and retries until Close.
type Session struct {
	config    Config
	connector transport.Connector
	handler   Handler
	logger    *zap.Logger
	trace     log.Logger

	mu       sync.RWMutex
	state    State
	conn     *transport.Conn
	lastErr  error
	onChange func(oldState, newState State)
	onUp     func()

	attempts atomic.Uint64
	lastSeen atomic.Int64

	backoff *Backoff
	outbox  *Outbox
	wakeCh  chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewSession creates a session in StateDisconnected. Nothing happens on
// the network until Start.
func NewSession(config Config, connector transport.Connector, handler Handler, logger *zap.Logger, trace log.Logger) *Session {
	config = config.withDefaults()
	if config.Name == "" {
		config.Name = connector.String()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		config:    config,
		connector: connector,
		handler:   handler,
		logger:    logger.With(zap.String("endpoint", config.Name)),
		trace:     log.OrNoop(trace),
		state:     StateDisconnected,
		backoff:   NewBackoffWithConfig(config.Backoff),
		outbox:    NewOutbox(),
		wakeCh:    make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Name returns the session label.
func (s *Session) Name() string {
	return s.config.Name
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether a connection is up.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Attempts returns the number of connect attempts started so far. It only
// ever grows.
func (s *Session) Attempts() uint64 {
	return s.attempts.Load()
}

// Retries returns the failures since the session was last connected. It
// drops back to zero on every successful connect.
func (s *Session) Retries() int {
	return s.backoff.Attempts()
}

// RetryDelay returns the base delay, before jitter, of the next backoff.
func (s *Session) RetryDelay() time.Duration {
	return s.backoff.Current()
}

// LastSeen returns when a line was last received, or the zero time.
func (s *Session) LastSeen() time.Time {
	ns := s.lastSeen.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LastError returns the cause of the most recent failure.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Pending returns the number of messages waiting to be sent.
func (s *Session) Pending() int {
	return s.outbox.Len()
}

// Outbox returns the queue of messages waiting to be sent.
func (s *Session) Outbox() *Outbox {
	return s.outbox
}

// OnStateChange registers a callback invoked on the session goroutine after
// every transition. Set it before Start.
func (s *Session) OnStateChange(fn func(oldState, newState State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// OnConnected registers a callback invoked each time a connection is
// established, before pending messages are flushed. Messages submitted from
// it go out on the new connection. Set it before Start.
func (s *Session) OnConnected(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUp = fn
}

// Start launches the session goroutine. Calling it again, or after Close,
// does nothing.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		if s.ctx.Err() != nil {
			return
		}
		s.wg.Add(1)
		go s.run()
	})
}

// Close stops the session, closes any connection and waits for the
// session goroutine to exit. Pending messages are discarded.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.setState(StateClosed, nil, 0)
	})
}

// Submit queues m for sending and returns immediately. While disconnected
// only the newest message per slot is kept.
func (s *Session) Submit(m wire.Slotted) {
	s.outbox.Put(m)
	s.wake()
}

// Reply writes m at once on the current connection. It is meant for
// responses that are only meaningful on the connection that caused them.
func (s *Session) Reply(m wire.Message) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Send(m); err != nil {
		return fmt.Errorf("%w: %w", ErrReadWrite, err)
	}
	return nil
}

func (s *Session) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Session) run() {
	defer s.wg.Done()

	for s.ctx.Err() == nil {
		attempt := s.attempts.Add(1)
		s.setState(StateConnecting, nil, 0)

		conn, err := s.establish()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("Connect attempt failed", zap.Uint64("attempt", attempt), zap.Error(err))
			s.traceError(err, "connect")
			if !s.pause(err) {
				return
			}
			continue
		}

		s.backoff.Reset()
		err = s.serve(conn)
		conn.Close()
		s.setConn(nil)

		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("Connection lost", zap.String("conn_id", conn.ID()), zap.Error(err))
		s.traceError(err, "serve")
		if !s.pause(err) {
			return
		}
	}
}

// establish obtains a connection and exchanges HELLO.
func (s *Session) establish() (*transport.Conn, error) {
	nc, err := s.connector.Connect(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailure, err)
	}

	conn := transport.NewConn(nc, transport.ConnConfig{
		Logger:       s.trace,
		Role:         s.config.Role,
		Endpoint:     s.config.Name,
		WriteTimeout: s.config.WriteTimeout,
	})
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	if err := s.handshake(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %w", ErrConnectFailure, nc.RemoteAddr(), err)
	}
	return conn, nil
}

func (s *Session) handshake(conn *transport.Conn) error {
	if err := conn.Send(wire.Hello{Version: wire.ProtocolVersion}); err != nil {
		return err
	}
	msg, err := conn.Receive(s.config.HandshakeTimeout)
	if err != nil {
		return err
	}
	hello, ok := msg.(wire.Hello)
	if !ok {
		return fmt.Errorf("%w: expected HELLO, got %s", ErrProtocolDecode, msg.Kind())
	}
	if hello.Version != wire.ProtocolVersion {
		return fmt.Errorf("%w: peer speaks %d, we speak %d", ErrVersionMismatch, hello.Version, wire.ProtocolVersion)
	}
	s.touch()
	return nil
}

// serve runs one connection until it fails or the session is closed.
func (s *Session) serve(conn *transport.Conn) error {
	s.setConn(conn)
	s.setState(StateConnected, nil, 0)
	s.logger.Info("Session connected",
		zap.String("conn_id", conn.ID()),
		zap.String("remote", conn.RemoteAddr().String()),
		zap.Uint64("attempt", s.attempts.Load()),
	)

	s.mu.RLock()
	onUp := s.onUp
	s.mu.RUnlock()
	if onUp != nil {
		onUp()
	}

	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	readErr := make(chan error, 1)
	go func() { readErr <- s.readLoop(conn) }()

	abort := func(err error) error {
		conn.Close()
		<-readErr
		return err
	}

	heartbeat := time.NewTicker(s.config.Liveness.HeartbeatInterval)
	defer heartbeat.Stop()

	if err := s.flush(conn); err != nil {
		return abort(err)
	}
	for {
		select {
		case err := <-readErr:
			return err
		case <-s.wakeCh:
			if err := s.flush(conn); err != nil {
				return abort(err)
			}
		case <-heartbeat.C:
			if err := conn.Send(wire.Heartbeat{}); err != nil {
				return abort(fmt.Errorf("%w: %w", ErrReadWrite, err))
			}
		}
	}
}

// flush writes every pending message. Messages not written are put back.
func (s *Session) flush(conn *transport.Conn) error {
	pending := s.outbox.Drain()
	for i, m := range pending {
		err := conn.Send(m)
		if err == nil {
			continue
		}
		if errors.Is(err, wire.ErrInvalidMessage) {
			s.logger.Error("Dropping unsendable message", zap.Stringer("message", m), zap.Error(err))
			continue
		}
		s.outbox.Restore(pending[i:])
		return fmt.Errorf("%w: %w", ErrReadWrite, err)
	}
	return nil
}

func (s *Session) readLoop(conn *transport.Conn) error {
	for {
		msg, err := conn.Receive(s.config.Liveness.Timeout)
		if err != nil {
			return s.classifyReadError(err)
		}
		s.touch()

		switch msg.(type) {
		case wire.Heartbeat:
		case wire.Hello:
			return fmt.Errorf("%w: HELLO after handshake", ErrProtocolDecode)
		default:
			if s.handler != nil {
				s.handler.HandleMessage(s, msg)
			}
		}
	}
}

func (s *Session) classifyReadError(err error) error {
	switch {
	case transport.IsTimeout(err):
		return fmt.Errorf("%w: nothing received for %s", ErrLivenessTimeout, s.config.Liveness.Timeout)
	case errors.Is(err, wire.ErrDecode), errors.Is(err, transport.ErrLineTooLong):
		return fmt.Errorf("%w: %w", ErrProtocolDecode, err)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: closed by peer", ErrReadWrite)
	default:
		return fmt.Errorf("%w: %w", ErrReadWrite, err)
	}
}

// pause enters BACKOFF and waits. It returns false if the session was
// closed during the wait.
func (s *Session) pause(cause error) bool {
	delay := s.backoff.Next()
	s.setState(StateBackoff, cause, delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) setConn(conn *transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) setState(newState State, cause error, delay time.Duration) {
	s.mu.Lock()
	oldState := s.state
	if oldState == newState || oldState == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = newState
	if cause != nil {
		s.lastErr = cause
	}
	onChange := s.onChange
	s.mu.Unlock()

	fields := []zap.Field{
		zap.Stringer("from", oldState),
		zap.Stringer("to", newState),
	}
	change := &log.StateChangeEvent{
		OldState: oldState.String(),
		NewState: newState.String(),
		Attempt:  s.attempts.Load(),
	}
	if cause != nil {
		fields = append(fields, zap.NamedError("cause", cause))
		change.Reason = cause.Error()
	}
	if delay > 0 {
		fields = append(fields, zap.Duration("delay", delay))
		change.Delay = delay
	}

	if newState == StateBackoff || newState == StateClosed {
		s.logger.Info("Session state changed", fields...)
	} else {
		s.logger.Debug("Session state changed", fields...)
	}
	s.trace.Log(log.Event{
		Timestamp:   time.Now(),
		Layer:       log.LayerSession,
		Category:    log.CategoryState,
		LocalRole:   s.config.Role,
		Endpoint:    s.config.Name,
		StateChange: change,
	})

	if onChange != nil {
		onChange(oldState, newState)
	}
}

func (s *Session) traceError(err error, op string) {
	s.trace.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerSession,
		Category:  log.CategoryError,
		LocalRole: s.config.Role,
		Endpoint:  s.config.Name,
		Error: &log.ErrorEventData{
			Layer:   log.LayerSession,
			Message: err.Error(),
			Context: op,
		},
	})
}
