package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/log"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

func TestDialerAndListener(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Connect(context.Background())
		if err == nil {
			accepted <- conn
		}
	}()

	d := NewDialer(ln.Addr().String(), time.Second)
	assert.Equal(t, ln.Addr().String(), d.String())

	client, err := d.Connect(context.Background())
	require.NoError(t, err)
	defer client.Close()

	select {
	case server := <-accepted:
		server.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not accept")
	}
}

func TestDialerRefused(t *testing.T) {
	// Bind and release a port so nothing listens on it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewDialer(addr, 500*time.Millisecond).Connect(context.Background())
	assert.Error(t, err)
}

func TestDialerDefaultTimeout(t *testing.T) {
	d := NewDialer("127.0.0.1:1", 0)
	assert.Equal(t, DefaultConnectTimeout, d.timeout)
}

func TestListenerCancel(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := ln.Connect(ctx)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after cancel")
	}

	// The listener stays usable after a cancelled accept.
	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			defer c.Close()
			time.Sleep(200 * time.Millisecond)
		}
	}()
	conn, err := ln.Connect(context.Background())
	require.NoError(t, err)
	conn.Close()
}

func TestConnSendReceive(t *testing.T) {
	a, b := net.Pipe()
	rec := &recordingLogger{}
	left := NewConn(a, ConnConfig{Logger: rec, Role: log.RoleController, Endpoint: "pi"})
	right := NewConn(b, ConnConfig{})
	defer left.Close()
	defer right.Close()

	assert.NotEmpty(t, left.ID())
	assert.NotEqual(t, left.ID(), right.ID())

	received := make(chan wire.Message, 1)
	go func() {
		msg, _ := right.Receive(time.Second)
		received <- msg
	}()

	require.NoError(t, left.Send(wire.SetAngle{Channel: 2, Angle: 95}))
	assert.Equal(t, wire.SetAngle{Channel: 2, Angle: 95}, <-received)

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, left.ID(), events[0].ConnectionID)
	assert.Equal(t, "SETANGLE 2 95", events[0].Line.Text)
}

func TestConnReceiveTimeout(t *testing.T) {
	a, b := net.Pipe()
	conn := NewConn(a, ConnConfig{})
	defer conn.Close()
	defer b.Close()

	_, err := conn.Receive(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestConnReceiveDecodeError(t *testing.T) {
	a, b := net.Pipe()
	conn := NewConn(a, ConnConfig{})
	defer conn.Close()
	defer b.Close()

	go b.Write([]byte("GARBAGE 1\n"))

	_, err := conn.Receive(time.Second)
	assert.ErrorIs(t, err, wire.ErrDecode)
	assert.False(t, IsTimeout(err))
}

func TestConnClose(t *testing.T) {
	a, b := net.Pipe()
	conn := NewConn(a, ConnConfig{})
	defer b.Close()

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	assert.ErrorIs(t, conn.Send(wire.Heartbeat{}), ErrConnectionClosed)
	_, err := conn.Receive(0)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestLivenessConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		c := DefaultLivenessConfig()
		require.NoError(t, c.Validate())
		assert.Equal(t, 3, c.MissedHeartbeats())
		assert.Equal(t, c, LivenessConfig{}.WithDefaults())
	})

	t.Run("TimeoutMustExceedInterval", func(t *testing.T) {
		c := LivenessConfig{HeartbeatInterval: time.Second, Timeout: time.Second}
		assert.ErrorIs(t, c.Validate(), ErrInvalidLiveness)
	})

	t.Run("Positive", func(t *testing.T) {
		assert.ErrorIs(t, LivenessConfig{Timeout: time.Second}.Validate(), ErrInvalidLiveness)
	})
}
