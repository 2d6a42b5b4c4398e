package agent_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/agent"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/connection"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/hardware"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/transport"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

var (
	_ agent.Driver = (*hardware.Sim)(nil)
	_ agent.Driver = (*hardware.RPIO)(nil)
	_ agent.Driver = (*mockDriver)(nil)

	_ agent.SignalDriver = (*hardware.Sim)(nil)
	_ agent.SignalDriver = (*hardware.MCP)(nil)
	_ agent.SignalDriver = hardware.Pi{}
	_ agent.Driver       = hardware.Pi{}
)

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) SetChannelAngle(channel int, angle float64) error {
	return m.Called(channel, angle).Error(0)
}

func (m *mockDriver) ReadPinLevel(pin int) (bool, error) {
	args := m.Called(pin)
	return args.Bool(0), args.Error(1)
}

func sessionConfig() connection.Config {
	return connection.Config{
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
		Liveness:         transport.LivenessConfig{HeartbeatInterval: 200 * time.Millisecond, Timeout: time.Second},
		Backoff:          connection.BackoffConfig{Initial: 20 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 2},
	}
}

// controller is the far end of the link, recording what the agent sends.
type controller struct {
	*connection.Session

	mu   sync.Mutex
	msgs []wire.Message
}

func (c *controller) HandleMessage(_ *connection.Session, msg wire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *controller) received() []wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Message(nil), c.msgs...)
}

func (c *controller) waitFor(t *testing.T, want wire.Message) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, m := range c.received() {
			if m == want {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond, "never received %s", want)
}

// startPair starts an agent listening on loopback and a controller session
// dialing it.
func startPair(t *testing.T, driver agent.Driver, logger *zap.Logger) (*agent.Agent, *controller) {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}

	ln, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	cfg := agent.DefaultConfig()
	cfg.Session = sessionConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.FlashInterval = 10 * time.Millisecond
	a, err := agent.New(driver, ln, cfg, logger, nil)
	require.NoError(t, err)
	a.Start()
	t.Cleanup(a.Stop)

	c := &controller{}
	c.Session = connection.NewSession(sessionConfig(), transport.NewDialer(ln.Addr().String(), time.Second), c, zaptest.NewLogger(t), nil)
	c.Start()
	t.Cleanup(c.Close)

	require.Eventually(t, func() bool {
		return c.IsConnected() && a.Session().IsConnected()
	}, 3*time.Second, 5*time.Millisecond)
	return a, c
}

func TestAgentAppliesAngles(t *testing.T) {
	sim := hardware.NewSim(4)
	_, c := startPair(t, sim, nil)

	c.Submit(wire.SetAngle{Channel: 2, Angle: 80})
	require.Eventually(t, func() bool {
		a, ok := sim.Angle(2)
		return ok && a == 80
	}, 2*time.Second, 5*time.Millisecond)

	// The same angle again is not written to the hardware.
	c.Submit(wire.SetAngle{Channel: 2, Angle: 80})
	c.Submit(wire.SetAngle{Channel: 1, Angle: 45})
	require.Eventually(t, func() bool {
		_, ok := sim.Angle(1)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, sim.Writes())

	// No acknowledgement is sent.
	assert.Empty(t, c.received())
}

func TestAgentRejectsOutOfRange(t *testing.T) {
	sim := hardware.NewSim(4)
	_, c := startPair(t, sim, nil)

	c.Submit(wire.SetAngle{Channel: 0, Angle: 200})
	require.Eventually(t, func() bool { return len(c.received()) == 1 }, 2*time.Second, 5*time.Millisecond)

	e, ok := c.received()[0].(wire.Error)
	require.True(t, ok)
	assert.Contains(t, e.Text, "out of range")
	assert.Equal(t, 0, sim.Writes())
}

func TestAgentReportsDriverErrors(t *testing.T) {
	driver := &mockDriver{}
	driver.On("SetChannelAngle", 7, 90.0).Return(errors.New("servo not fitted")).Once()
	applied := make(chan struct{})
	driver.On("SetChannelAngle", 1, 90.0).Return(nil).Once().Run(func(mock.Arguments) { close(applied) })

	_, c := startPair(t, driver, nil)

	c.Submit(wire.SetAngle{Channel: 7, Angle: 90})
	c.waitFor(t, wire.Error{Text: "channel 7: servo not fitted"})

	c.Submit(wire.SetAngle{Channel: 1, Angle: 90})
	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("channel 1 never reached the driver")
	}
	driver.AssertExpectations(t)
}

func TestAgentWatchReportsLevelAndTransitions(t *testing.T) {
	sim := hardware.NewSim(0)
	sim.SetGrounded(8, true)
	a, c := startPair(t, sim, nil)

	c.Submit(wire.Watch{Pin: 8})
	c.waitFor(t, wire.PinState{Pin: 8, Level: wire.LevelActive})
	assert.Equal(t, []int{8}, a.Watched())

	sim.SetGrounded(8, false)
	c.waitFor(t, wire.PinState{Pin: 8, Level: wire.LevelInactive})

	sim.SetGrounded(8, true)
	require.Eventually(t, func() bool { return len(c.received()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []wire.Message{
		wire.PinState{Pin: 8, Level: wire.LevelActive},
		wire.PinState{Pin: 8, Level: wire.LevelInactive},
		wire.PinState{Pin: 8, Level: wire.LevelActive},
	}, c.received())
}

func TestAgentUnwatchedPinsAreSilent(t *testing.T) {
	sim := hardware.NewSim(0)
	_, c := startPair(t, sim, nil)

	sim.SetGrounded(3, true)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, c.received())
}

func TestAgentWatchReadFailure(t *testing.T) {
	sim := hardware.NewSim(0)
	sim.FailReads(9, errors.New("bus error"))
	a, c := startPair(t, sim, nil)

	c.Submit(wire.Watch{Pin: 9})
	c.waitFor(t, wire.Error{Text: "pin 9: bus error"})
	assert.Empty(t, a.Watched())
}

func TestAgentPollFailureLoggedOnce(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sim := hardware.NewSim(0)
	_, c := startPair(t, sim, zap.New(core))

	c.Submit(wire.Watch{Pin: 4})
	c.waitFor(t, wire.PinState{Pin: 4, Level: wire.LevelInactive})

	sim.FailReads(4, errors.New("bus error"))
	time.Sleep(100 * time.Millisecond)
	sim.FailReads(4, nil)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Pin read recovered").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("Pin read failed").Len())
}

func TestAgentCoalescesWhileDisconnected(t *testing.T) {
	sim := hardware.NewSim(0)
	a, c := startPair(t, sim, nil)

	c.Submit(wire.Watch{Pin: 6})
	c.waitFor(t, wire.PinState{Pin: 6, Level: wire.LevelInactive})

	// Take the controller away; transitions pile up on the agent.
	c.Close()
	require.Eventually(t, func() bool { return !a.Session().IsConnected() }, 3*time.Second, 5*time.Millisecond)

	sim.SetGrounded(6, true)
	time.Sleep(50 * time.Millisecond)
	sim.SetGrounded(6, false)
	time.Sleep(50 * time.Millisecond)
	sim.SetGrounded(6, true)
	require.Eventually(t, func() bool {
		m, ok := a.Session().Outbox().Get(wire.Slot{Kind: wire.KindPinState, Index: 6})
		return ok && m == wire.PinState{Pin: 6, Level: wire.LevelActive}
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, a.Session().Pending())
}

// brokenLamps is a simulator whose lamp writes fail.
type brokenLamps struct {
	*hardware.Sim
}

func (brokenLamps) SetLamp(int, int, bool) error {
	return errors.New("i2c nack")
}

func headSignal(a wire.Appearance) wire.Signal {
	return wire.Signal{Head: "SH1", Board: 0x24, Red: 6, Green: 14, Appearance: a}
}

func TestAgentSwitchesAppearance(t *testing.T) {
	sim := hardware.NewSim(0)
	a, c := startPair(t, sim, nil)

	lamps := func() (bool, bool) { return sim.Lamp(0x24, 6), sim.Lamp(0x24, 14) }
	steps := []struct {
		appearance wire.Appearance
		red, green bool
	}{
		{wire.AppearanceRed, true, false},
		{wire.AppearanceGreen, false, true},
		{wire.AppearanceDark, false, false},
		{wire.AppearanceRed, true, false},
	}
	for _, step := range steps {
		c.Submit(headSignal(step.appearance))
		require.Eventually(t, func() bool {
			got, ok := a.Appearance("SH1")
			return ok && got == step.appearance
		}, 2*time.Second, 5*time.Millisecond, "%s never applied", step.appearance)
		red, green := lamps()
		assert.Equal(t, step.red, red, "red lamp for %s", step.appearance)
		assert.Equal(t, step.green, green, "green lamp for %s", step.appearance)
	}
	assert.Equal(t, []string{"SH1"}, a.SignalHeads())
	assert.Equal(t, 2*len(steps), sim.LampWrites())
	assert.Empty(t, c.received())
}

func TestAgentSkipsUnchangedAppearance(t *testing.T) {
	sim := hardware.NewSim(0)
	a, c := startPair(t, sim, nil)

	c.Submit(headSignal(wire.AppearanceGreen))
	require.Eventually(t, func() bool {
		_, ok := a.Appearance("SH1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	c.Submit(headSignal(wire.AppearanceGreen))
	c.Submit(wire.Signal{Head: "SH2", Board: 0x24, Red: 0, Green: 1, Appearance: wire.AppearanceRed})
	require.Eventually(t, func() bool {
		_, ok := a.Appearance("SH2")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, sim.LampWrites())
	assert.Equal(t, []string{"SH1", "SH2"}, a.SignalHeads())
}

func TestAgentFlashesUntilChanged(t *testing.T) {
	sim := hardware.NewSim(0)
	a, c := startPair(t, sim, nil)

	c.Submit(headSignal(wire.AppearanceFlashGreen))
	var seenLit, seenDark bool
	require.Eventually(t, func() bool {
		if sim.Lamp(0x24, 14) {
			seenLit = true
		} else {
			seenDark = true
		}
		return seenLit && seenDark && sim.LampWrites() > 6
	}, 2*time.Second, time.Millisecond, "green lamp never blinked")
	assert.False(t, sim.Lamp(0x24, 6), "red stays dark while green flashes")

	c.Submit(headSignal(wire.AppearanceRed))
	require.Eventually(t, func() bool {
		got, _ := a.Appearance("SH1")
		return got == wire.AppearanceRed
	}, 2*time.Second, 5*time.Millisecond)

	writes := sim.LampWrites()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, writes, sim.LampWrites(), "flashing continued after the change")
	assert.True(t, sim.Lamp(0x24, 6))
	assert.False(t, sim.Lamp(0x24, 14))
}

func TestAgentStopEndsFlashing(t *testing.T) {
	sim := hardware.NewSim(0)
	a, c := startPair(t, sim, nil)

	c.Submit(headSignal(wire.AppearanceFlashRed))
	require.Eventually(t, func() bool { return sim.LampWrites() > 4 }, 2*time.Second, 5*time.Millisecond)

	a.Stop()
	writes := sim.LampWrites()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, writes, sim.LampWrites())
}

func TestAgentRejectsSignalWithoutLamps(t *testing.T) {
	_, c := startPair(t, &mockDriver{}, nil)

	c.Submit(headSignal(wire.AppearanceRed))
	c.waitFor(t, wire.Error{Text: "signal head SH1: no signal driver"})
}

func TestAgentReportsLampErrors(t *testing.T) {
	a, c := startPair(t, brokenLamps{hardware.NewSim(0)}, nil)

	c.Submit(headSignal(wire.AppearanceGreen))
	c.waitFor(t, wire.Error{Text: "signal head SH1: red lamp: i2c nack"})
	_, ok := a.Appearance("SH1")
	assert.False(t, ok)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, agent.DefaultConfig().Validate())

	cfg := agent.DefaultConfig()
	cfg.MinAngle, cfg.MaxAngle = 100, 10
	assert.Error(t, cfg.Validate())

	cfg = agent.DefaultConfig()
	cfg.FlashInterval = -time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg = agent.DefaultConfig()
	cfg.PollInterval = -time.Millisecond
	_, err := agent.New(hardware.NewSim(0), transport.NewDialer("127.0.0.1:1", time.Second), cfg, nil, nil)
	assert.Error(t, err)
}
