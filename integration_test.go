package rpitrain_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/agent"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/connection"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/hardware"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/layout"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/registry"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/transport"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

func sessionConfig() connection.Config {
	return connection.Config{
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
		Liveness: transport.LivenessConfig{
			HeartbeatInterval: 200 * time.Millisecond,
			Timeout:           time.Second,
		},
		Backoff: connection.BackoffConfig{
			Initial:    20 * time.Millisecond,
			Max:        100 * time.Millisecond,
			Multiplier: 2,
		},
	}
}

// device is a simulated peripheral listening on a fixed address.
type device struct {
	sim   *hardware.Sim
	agent *agent.Agent
	ln    *transport.Listener
}

func startDevice(t *testing.T, addr string) *device {
	t.Helper()
	ln, err := transport.Listen(addr)
	require.NoError(t, err)

	sim := hardware.NewSim(16)
	cfg := agent.DefaultConfig()
	cfg.Session = sessionConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.FlashInterval = 20 * time.Millisecond

	a, err := agent.New(sim, ln, cfg, zaptest.NewLogger(t).Named(addr), nil)
	require.NoError(t, err)
	a.Start()

	d := &device{sim: sim, agent: a, ln: ln}
	t.Cleanup(d.stop)
	return d
}

func (d *device) stop() {
	d.agent.Stop()
	d.ln.Close()
}

type sensorEvent struct {
	name     string
	grounded bool
}

// waitSensor waits for want. A watch can be answered more than once around
// a connect, so repeated reports of other levels are skipped.
func waitSensor(t *testing.T, ch <-chan sensorEvent, want sensorEvent) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %+v", want)
		}
	}
}

func TestE2E_LayoutAgainstSimulatedDevices(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	west := startDevice(t, "127.0.0.1:0")
	east := startDevice(t, "127.0.0.1:0")

	doc := fmt.Sprintf(`
turnouts:
  - name: yard
    address: "0[80][100]:%[1]s"
    initial: closed
  - name: siding
    address: "3[60][120]:%[1]s"
  - name: mainline
    address: "1[45][135]:%[2]s"
    initial: thrown
sensors:
  - name: platform
    address: "8:%[2]s"
`, west.ln.Addr(), east.ln.Addr())

	lay, err := layout.Parse([]byte(doc))
	require.NoError(t, err)

	rcfg := registry.DefaultConfig()
	rcfg.Session = sessionConfig()
	reg, err := registry.New(rcfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
	})

	sensors := make(chan sensorEvent, 16)
	bound, err := lay.Bind(reg, func(name string, grounded bool) {
		sensors <- sensorEvent{name, grounded}
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, reg.Sessions(), 2)

	// Initial positions reach the hardware.
	require.Eventually(t, func() bool {
		a, ok := west.sim.Angle(0)
		b, ok2 := east.sim.Angle(1)
		return ok && ok2 && a == 100 && b == 45
	}, 5*time.Second, 10*time.Millisecond)
	_, moved := west.sim.Angle(3)
	assert.False(t, moved, "turnout without initial position stays put")

	// The sensor reports its level on watch, then follows the pin.
	waitSensor(t, sensors, sensorEvent{"platform", false})
	east.sim.SetGrounded(8, true)
	waitSensor(t, sensors, sensorEvent{"platform", true})
	grounded, known, err := bound.SensorState("platform")
	require.NoError(t, err)
	assert.True(t, known)
	assert.True(t, grounded)

	// Commands by name.
	require.NoError(t, bound.Throw("siding"))
	require.Eventually(t, func() bool {
		a, ok := west.sim.Angle(3)
		return ok && a == 60
	}, 5*time.Second, 10*time.Millisecond)

	for _, s := range reg.Sessions() {
		assert.Equal(t, connection.StateConnected, s.State, s.Endpoint.String())
	}
}

func TestE2E_DeviceRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Reserve a port so the restarted device comes back on the same address.
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := reserved.Addr().String()
	reserved.Close()

	first := startDevice(t, addr)

	doc := fmt.Sprintf(`
turnouts:
  - name: yard
    address: "0[80][100]:%[1]s"
    initial: closed
sensors:
  - name: platform
    address: "8:%[1]s"
`, addr)
	lay, err := layout.Parse([]byte(doc))
	require.NoError(t, err)

	rcfg := registry.DefaultConfig()
	rcfg.Session = sessionConfig()
	reg, err := registry.New(rcfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
	})

	sensors := make(chan sensorEvent, 16)
	bound, err := lay.Bind(reg, func(name string, grounded bool) {
		sensors <- sensorEvent{name, grounded}
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, ok := first.sim.Angle(0)
		return ok && a == 100
	}, 5*time.Second, 10*time.Millisecond)
	waitSensor(t, sensors, sensorEvent{"platform", false})
	first.sim.SetGrounded(8, true)
	waitSensor(t, sensors, sensorEvent{"platform", true})

	// Take the device away and command while it is gone.
	first.stop()
	require.Eventually(t, func() bool {
		return reg.Sessions()[0].State != connection.StateConnected
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, bound.Throw("yard"))
	require.NoError(t, bound.SetAngle("yard", 90))
	assert.Equal(t, 1, reg.Sessions()[0].Pending, "commands to one channel coalesce")

	// A fresh device on the same address gets the latest angle and the
	// sensor watch again.
	second := startDevice(t, addr)
	require.Eventually(t, func() bool {
		a, ok := second.sim.Angle(0)
		return ok && a == 90
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, second.sim.Writes(), "only the newest command is delivered")

	waitSensor(t, sensors, sensorEvent{"platform", false})
	assert.Equal(t, []int{8}, second.agent.Watched())
}

func TestE2E_Signals(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dev := startDevice(t, "127.0.0.1:0")
	doc := fmt.Sprintf(`
signals:
  - name: home
    address: "SM1-SH1$0x24$R6$G14:%[1]s"
    initial: red
  - name: distant
    address: "SM1-SH2$0x24$R0$G1:%[1]s"
    initial: flashgreen
`, dev.ln.Addr())

	lay, err := layout.Parse([]byte(doc))
	require.NoError(t, err)

	rcfg := registry.DefaultConfig()
	rcfg.Session = sessionConfig()
	reg, err := registry.New(rcfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
	})

	bound, err := lay.Bind(reg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	// The initial appearances reach the lamps; the distant green blinks.
	require.Eventually(t, func() bool {
		return dev.sim.Lamp(0x24, 6) && !dev.sim.Lamp(0x24, 14)
	}, 5*time.Second, 10*time.Millisecond)
	var lit, dark bool
	require.Eventually(t, func() bool {
		if dev.sim.Lamp(0x24, 1) {
			lit = true
		} else {
			dark = true
		}
		return lit && dark
	}, 5*time.Second, 2*time.Millisecond)
	assert.False(t, dev.sim.Lamp(0x24, 0))

	require.NoError(t, bound.SetSignal("distant", wire.AppearanceGreen))
	require.NoError(t, bound.SetSignal("home", wire.AppearanceGreen))
	require.Eventually(t, func() bool {
		a, _ := dev.agent.Appearance("SM1-SH2")
		b, _ := dev.agent.Appearance("SM1-SH1")
		return a == wire.AppearanceGreen && b == wire.AppearanceGreen
	}, 5*time.Second, 10*time.Millisecond)

	writes := dev.sim.LampWrites()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, writes, dev.sim.LampWrites(), "no lamp blinks after the change")
	assert.Equal(t, map[int][]int{0x24: {1, 14}}, dev.sim.LitLamps())
	assert.Equal(t, []string{"SM1-SH1", "SM1-SH2"}, dev.agent.SignalHeads())
}
