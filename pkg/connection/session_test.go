package connection

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/transport"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

func testConfig() Config {
	return Config{
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
		Liveness: transport.LivenessConfig{
			HeartbeatInterval: time.Second,
			Timeout:           3 * time.Second,
		},
		Backoff: BackoffConfig{
			Initial:    20 * time.Millisecond,
			Max:        100 * time.Millisecond,
			Multiplier: 2,
			Jitter:     0,
		},
	}
}

// fakePeer is a bare TCP peer driven line by line from the test.
type fakePeer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakePeer(t *testing.T) *fakePeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return startFakePeer(t, ln)
}

func startFakePeer(t *testing.T, ln net.Listener) *fakePeer {
	p := &fakePeer{ln: ln, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			p.conns <- c
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return p
}

func (p *fakePeer) addr() string {
	return p.ln.Addr().String()
}

// accept waits for the next connection and, if hello is non-empty, runs
// the handshake answering with that line.
func (p *fakePeer) accept(t *testing.T, hello string) *peerConn {
	t.Helper()
	select {
	case c := <-p.conns:
		pc := &peerConn{conn: c, r: bufio.NewReader(c)}
		t.Cleanup(func() { c.Close() })
		if hello != "" {
			line, err := pc.readAny(2 * time.Second)
			require.NoError(t, err)
			require.Equal(t, "HELLO 1", line)
			pc.send(t, hello)
		}
		return pc
	case <-time.After(5 * time.Second):
		t.Fatal("peer saw no connection")
		return nil
	}
}

type peerConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func (c *peerConn) send(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (c *peerConn) readAny(timeout time.Duration) (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// next returns the next line that is not a heartbeat.
func (c *peerConn) next(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		line, err := c.readAny(time.Until(deadline))
		if err != nil {
			return "", err
		}
		if line != "HEARTBEAT" {
			return line, nil
		}
	}
}

// stateRecorder collects transitions for assertions.
type stateRecorder struct {
	mu          sync.Mutex
	transitions [][2]State
	ch          chan State
}

func newStateRecorder(s *Session) *stateRecorder {
	r := &stateRecorder{ch: make(chan State, 256)}
	s.OnStateChange(func(oldState, newState State) {
		r.mu.Lock()
		r.transitions = append(r.transitions, [2]State{oldState, newState})
		r.mu.Unlock()
		select {
		case r.ch <- newState:
		default:
		}
	})
	return r
}

func (r *stateRecorder) waitFor(t *testing.T, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case got := <-r.ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %s not reached within %s", want, timeout)
		}
	}
}

func (r *stateRecorder) snapshot() [][2]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]State(nil), r.transitions...)
}

type recordingHandler struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (h *recordingHandler) HandleMessage(_ *Session, msg wire.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

func (h *recordingHandler) received() []wire.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]wire.Message(nil), h.msgs...)
}

func TestSessionInitialState(t *testing.T) {
	s := NewSession(testConfig(), transport.NewDialer("127.0.0.1:1", time.Second), nil, zaptest.NewLogger(t), nil)
	defer s.Close()

	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, uint64(0), s.Attempts())
	assert.True(t, s.LastSeen().IsZero())
	assert.Equal(t, "127.0.0.1:1", s.Name())
	assert.ErrorIs(t, s.Reply(wire.Error{Text: "x"}), ErrNotConnected)
}

func TestSessionCoalescesBeforeConnect(t *testing.T) {
	peer := newFakePeer(t)
	s := NewSession(testConfig(), transport.NewDialer(peer.addr(), time.Second), nil, zaptest.NewLogger(t), nil)
	defer s.Close()

	s.Submit(wire.SetAngle{Channel: 0, Angle: 10})
	s.Submit(wire.SetAngle{Channel: 0, Angle: 20})
	assert.Equal(t, 1, s.Pending())

	s.Start()
	pc := peer.accept(t, "HELLO 1")

	line, err := pc.next(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "SETANGLE 0 20", line)

	// Nothing else but heartbeats follows.
	_, err = pc.next(300 * time.Millisecond)
	assert.True(t, transport.IsTimeout(err), "unexpected extra line: %v", err)
	assert.Equal(t, StateConnected, s.State())
}

func TestSessionSendsWhileConnected(t *testing.T) {
	peer := newFakePeer(t)
	s := NewSession(testConfig(), transport.NewDialer(peer.addr(), time.Second), nil, zaptest.NewLogger(t), nil)
	rec := newStateRecorder(s)
	defer s.Close()

	s.Start()
	pc := peer.accept(t, "HELLO 1")
	rec.waitFor(t, StateConnected, 2*time.Second)

	s.Submit(wire.SetAngle{Channel: 3, Angle: 45.5})
	line, err := pc.next(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "SETANGLE 3 45.5", line)
	assert.Equal(t, 0, s.Pending())
}

func TestSessionRetriesIndefinitely(t *testing.T) {
	// Reserve a port nobody listens on yet.
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := reserved.Addr().String()
	reserved.Close()

	s := NewSession(testConfig(), transport.NewDialer(addr, 200*time.Millisecond), nil, zaptest.NewLogger(t), nil)
	rec := newStateRecorder(s)
	defer s.Close()

	s.Submit(wire.SetAngle{Channel: 1, Angle: 80})
	s.Start()

	require.Eventually(t, func() bool { return s.Attempts() >= 5 }, 5*time.Second, 10*time.Millisecond)
	before := s.Attempts()
	assert.ErrorIs(t, s.LastError(), ErrConnectFailure)

	// Attempt N+1 follows N failures.
	require.Eventually(t, func() bool { return s.Attempts() > before }, 2*time.Second, 10*time.Millisecond)

	for _, tr := range rec.snapshot() {
		if tr[0] == StateConnecting {
			assert.Equal(t, StateBackoff, tr[1], "CONNECTING must only lead to BACKOFF while the peer is down")
		}
	}

	// The peripheral comes up; the pending command is delivered.
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	peer := startFakePeer(t, ln)
	pc := peer.accept(t, "HELLO 1")

	line, err := pc.next(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "SETANGLE 1 80", line)
	rec.waitFor(t, StateConnected, 2*time.Second)
	assert.GreaterOrEqual(t, s.Attempts(), before)
}

func TestSessionAttemptsCountFailures(t *testing.T) {
	var calls int
	var mu sync.Mutex
	connector := connectorFunc(func(ctx context.Context) (net.Conn, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errors.New("no route to host")
	})

	s := NewSession(testConfig(), connector, nil, zaptest.NewLogger(t), nil)
	defer s.Close()
	s.Start()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 4
	}, 3*time.Second, 5*time.Millisecond)

	s.Close()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint64(calls), s.Attempts())
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionRetriesResetOnConnect(t *testing.T) {
	peer := newFakePeer(t)
	var down atomic.Bool
	down.Store(true)
	connector := connectorFunc(func(ctx context.Context) (net.Conn, error) {
		if down.Load() {
			return nil, errors.New("connection refused")
		}
		var d net.Dialer
		return d.DialContext(ctx, "tcp", peer.addr())
	})

	s := NewSession(testConfig(), connector, nil, zaptest.NewLogger(t), nil)
	rec := newStateRecorder(s)
	defer s.Close()

	assert.Zero(t, s.Retries())
	assert.Equal(t, 20*time.Millisecond, s.RetryDelay())

	s.Start()
	require.Eventually(t, func() bool { return s.Retries() >= 4 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, s.RetryDelay(), "delay is capped at Max")

	down.Store(false)
	peer.accept(t, "HELLO 1")
	rec.waitFor(t, StateConnected, 2*time.Second)

	assert.Zero(t, s.Retries())
	assert.Equal(t, 20*time.Millisecond, s.RetryDelay())
	assert.GreaterOrEqual(t, s.Attempts(), uint64(5), "Attempts keeps counting across connects")
}

func TestSessionLivenessTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Liveness = transport.LivenessConfig{HeartbeatInterval: 100 * time.Millisecond, Timeout: 300 * time.Millisecond}

	peer := newFakePeer(t)
	s := NewSession(cfg, transport.NewDialer(peer.addr(), time.Second), nil, zaptest.NewLogger(t), nil)
	rec := newStateRecorder(s)
	defer s.Close()

	s.Start()
	// Handshake, then go silent.
	peer.accept(t, "HELLO 1")

	rec.waitFor(t, StateConnected, 2*time.Second)
	rec.waitFor(t, StateBackoff, 2*time.Second)
	rec.waitFor(t, StateConnecting, 2*time.Second)

	assert.ErrorIs(t, s.LastError(), ErrLivenessTimeout)
	assert.Contains(t, rec.snapshot(), [2]State{StateConnected, StateBackoff})
	assert.Contains(t, rec.snapshot(), [2]State{StateBackoff, StateConnecting})
}

func TestSessionHeartbeatKeepsAlive(t *testing.T) {
	cfg := testConfig()
	cfg.Liveness = transport.LivenessConfig{HeartbeatInterval: 50 * time.Millisecond, Timeout: 200 * time.Millisecond}

	peer := newFakePeer(t)
	s := NewSession(cfg, transport.NewDialer(peer.addr(), time.Second), nil, zaptest.NewLogger(t), nil)
	defer s.Close()
	s.Start()

	pc := peer.accept(t, "HELLO 1")

	// Answer heartbeats for longer than the liveness timeout.
	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		line, err := pc.readAny(time.Second)
		require.NoError(t, err)
		assert.Equal(t, "HEARTBEAT", line)
		pc.send(t, "HEARTBEAT")
	}

	assert.Equal(t, StateConnected, s.State())
	assert.WithinDuration(t, time.Now(), s.LastSeen(), 200*time.Millisecond)
}

func TestSessionDecodeErrorDropsConnection(t *testing.T) {
	peer := newFakePeer(t)
	s := NewSession(testConfig(), transport.NewDialer(peer.addr(), time.Second), nil, zaptest.NewLogger(t), nil)
	rec := newStateRecorder(s)
	defer s.Close()
	s.Start()

	pc := peer.accept(t, "HELLO 1")
	rec.waitFor(t, StateConnected, 2*time.Second)
	pc.send(t, "PIN 3 SIDEWAYS")

	rec.waitFor(t, StateBackoff, 2*time.Second)
	assert.ErrorIs(t, s.LastError(), ErrProtocolDecode)
}

func TestSessionVersionMismatch(t *testing.T) {
	peer := newFakePeer(t)
	s := NewSession(testConfig(), transport.NewDialer(peer.addr(), time.Second), nil, zaptest.NewLogger(t), nil)
	rec := newStateRecorder(s)
	defer s.Close()
	s.Start()

	peer.accept(t, "HELLO 2")
	rec.waitFor(t, StateBackoff, 2*time.Second)

	err := s.LastError()
	assert.ErrorIs(t, err, ErrConnectFailure)
	assert.ErrorIs(t, err, ErrVersionMismatch)
	assert.NotContains(t, rec.snapshot(), [2]State{StateConnecting, StateConnected})
}

func TestSessionDeliversInOrder(t *testing.T) {
	peer := newFakePeer(t)
	handler := &recordingHandler{}
	s := NewSession(testConfig(), transport.NewDialer(peer.addr(), time.Second), handler, zaptest.NewLogger(t), nil)
	defer s.Close()
	s.Start()

	pc := peer.accept(t, "HELLO 1")
	pc.send(t, "PIN 1 ACTIVE")
	pc.send(t, "HEARTBEAT")
	pc.send(t, "PIN 1 INACTIVE")
	pc.send(t, "ERROR servo 9 not fitted")

	require.Eventually(t, func() bool { return len(handler.received()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []wire.Message{
		wire.PinState{Pin: 1, Level: wire.LevelActive},
		wire.PinState{Pin: 1, Level: wire.LevelInactive},
		wire.Error{Text: "servo 9 not fitted"},
	}, handler.received())
}

func TestSessionReconnectRedeliversLatest(t *testing.T) {
	peer := newFakePeer(t)
	s := NewSession(testConfig(), transport.NewDialer(peer.addr(), time.Second), nil, zaptest.NewLogger(t), nil)
	rec := newStateRecorder(s)

	var connects int
	var mu sync.Mutex
	s.OnConnected(func() {
		mu.Lock()
		connects++
		mu.Unlock()
		s.Submit(wire.Watch{Pin: 7})
	})
	defer s.Close()
	s.Start()

	first := peer.accept(t, "HELLO 1")
	line, err := first.next(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "WATCH 7", line)

	// Drop the connection and queue commands while it is down.
	first.conn.Close()
	rec.waitFor(t, StateBackoff, 2*time.Second)
	s.Submit(wire.SetAngle{Channel: 2, Angle: 10})
	s.Submit(wire.SetAngle{Channel: 2, Angle: 30})

	second := peer.accept(t, "HELLO 1")
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		line, err := second.next(2 * time.Second)
		require.NoError(t, err)
		got[line] = true
	}
	assert.Equal(t, map[string]bool{"SETANGLE 2 30": true, "WATCH 7": true}, got)
	assert.ErrorIs(t, s.LastError(), ErrReadWrite)

	mu.Lock()
	assert.Equal(t, 2, connects)
	mu.Unlock()
}

func TestSessionReply(t *testing.T) {
	peer := newFakePeer(t)
	s := NewSession(testConfig(), transport.NewDialer(peer.addr(), time.Second), nil, zaptest.NewLogger(t), nil)
	rec := newStateRecorder(s)
	defer s.Close()
	s.Start()

	pc := peer.accept(t, "HELLO 1")
	rec.waitFor(t, StateConnected, 2*time.Second)

	require.NoError(t, s.Reply(wire.Error{Text: "bad angle"}))
	line, err := pc.next(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ERROR bad angle", line)
}

func TestSessionCloseUnblocksAccept(t *testing.T) {
	ln, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := NewSession(testConfig(), ln, nil, zaptest.NewLogger(t), nil)
	rec := newStateRecorder(s)
	s.Start()
	rec.waitFor(t, StateConnecting, time.Second)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while accept was pending")
	}
	assert.Equal(t, StateClosed, s.State())

	// Start after Close is a no-op.
	s.Start()
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionCloseWhileConnected(t *testing.T) {
	peer := newFakePeer(t)
	s := NewSession(testConfig(), transport.NewDialer(peer.addr(), time.Second), nil, zaptest.NewLogger(t), nil)
	rec := newStateRecorder(s)
	s.Start()

	pc := peer.accept(t, "HELLO 1")
	rec.waitFor(t, StateConnected, 2*time.Second)

	s.Close()
	assert.Equal(t, StateClosed, s.State())

	// The peer sees the socket close.
	_, err := pc.next(2 * time.Second)
	assert.Error(t, err)
	assert.False(t, transport.IsTimeout(err))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{}.Validate())

	bad := DefaultConfig()
	bad.Liveness = transport.LivenessConfig{HeartbeatInterval: 10 * time.Second, Timeout: 5 * time.Second}
	assert.ErrorIs(t, bad.Validate(), transport.ErrInvalidLiveness)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "DISCONNECTED", StateDisconnected.String())
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "BACKOFF", StateBackoff.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

type connectorFunc func(ctx context.Context) (net.Conn, error)

func (f connectorFunc) Connect(ctx context.Context) (net.Conn, error) { return f(ctx) }
func (f connectorFunc) String() string                                { return "func" }
