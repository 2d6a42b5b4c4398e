package hardware

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSim(t *testing.T) {
	t.Run("Angles", func(t *testing.T) {
		s := NewSim(4)
		require.NoError(t, s.SetChannelAngle(0, 80))
		require.NoError(t, s.SetChannelAngle(3, 100.5))

		a, ok := s.Angle(0)
		assert.True(t, ok)
		assert.Equal(t, 80.0, a)
		_, ok = s.Angle(1)
		assert.False(t, ok)
		assert.Equal(t, map[int]float64{0: 80, 3: 100.5}, s.Angles())
		assert.Equal(t, 2, s.Writes())

		assert.ErrorIs(t, s.SetChannelAngle(4, 90), ErrNoSuchChannel)
		assert.ErrorIs(t, s.SetChannelAngle(-1, 90), ErrNoSuchChannel)
		assert.Equal(t, 2, s.Writes())
	})

	t.Run("UnlimitedChannels", func(t *testing.T) {
		s := NewSim(0)
		assert.NoError(t, s.SetChannelAngle(99, 10))
	})

	t.Run("Inputs", func(t *testing.T) {
		s := NewSim(0)
		g, err := s.ReadPinLevel(8)
		require.NoError(t, err)
		assert.False(t, g, "unset pins read released")

		s.SetGrounded(8, true)
		s.SetGrounded(3, true)
		g, err = s.ReadPinLevel(8)
		require.NoError(t, err)
		assert.True(t, g)
		assert.Equal(t, []int{3, 8}, s.GroundedPins())

		s.SetGrounded(3, false)
		assert.Equal(t, []int{8}, s.GroundedPins())

		_, err = s.ReadPinLevel(-2)
		assert.ErrorIs(t, err, ErrNoSuchPin)
	})

	t.Run("ReadFaults", func(t *testing.T) {
		s := NewSim(0)
		boom := errors.New("bus error")
		s.FailReads(5, boom)
		_, err := s.ReadPinLevel(5)
		assert.ErrorIs(t, err, boom)

		s.FailReads(5, nil)
		_, err = s.ReadPinLevel(5)
		assert.NoError(t, err)
	})
}

func TestPWMConfig(t *testing.T) {
	c := DefaultPWMConfig()
	require.NoError(t, c.Validate())

	assert.Equal(t, uint32(20000), c.cycleLength())
	assert.Equal(t, uint32(500), c.dutyLength(0))
	assert.Equal(t, uint32(1500), c.dutyLength(90))
	assert.Equal(t, uint32(2500), c.dutyLength(180))
	assert.Equal(t, uint32(2500), c.dutyLength(270), "angles are clamped")
	assert.Equal(t, uint32(500), c.dutyLength(-10))

	bad := []PWMConfig{
		{FrequencyHz: 0, MinPulse: time.Millisecond, MaxPulse: 2 * time.Millisecond},
		{FrequencyHz: 50, MinPulse: 2 * time.Millisecond, MaxPulse: time.Millisecond},
		{FrequencyHz: 500, MinPulse: time.Millisecond, MaxPulse: 2500 * time.Microsecond},
	}
	for _, b := range bad {
		assert.ErrorIs(t, b.Validate(), ErrInvalidServo, "%+v", b)
	}
}

func TestOpenRPIORejectsNonPWMPins(t *testing.T) {
	_, err := OpenRPIO([]Servo{{Channel: 0, Pin: 4}}, DefaultPWMConfig())
	assert.ErrorIs(t, err, ErrInvalidServo)

	_, err = OpenRPIO([]Servo{{Channel: 0, Pin: 18}, {Channel: 0, Pin: 19}}, DefaultPWMConfig())
	assert.ErrorIs(t, err, ErrInvalidServo)
}

func TestOpenRPIORejectsSharedPWMChannel(t *testing.T) {
	for _, pins := range [][2]int{{12, 18}, {13, 19}, {19, 13}} {
		_, err := OpenRPIO([]Servo{{Channel: 0, Pin: pins[0]}, {Channel: 1, Pin: pins[1]}}, DefaultPWMConfig())
		require.ErrorIs(t, err, ErrInvalidServo, "BCM %d and %d", pins[0], pins[1])
		assert.Contains(t, err.Error(), "shares PWM")
	}
}

func TestSimLamps(t *testing.T) {
	s := NewSim(0)
	require.NoError(t, s.SetLamp(0x24, 6, true))
	require.NoError(t, s.SetLamp(0x24, 14, true))
	require.NoError(t, s.SetLamp(0x24, 14, false))

	assert.True(t, s.Lamp(0x24, 6))
	assert.False(t, s.Lamp(0x24, 14))
	assert.False(t, s.Lamp(0x21, 6))
	assert.Equal(t, map[int][]int{0x24: {6}}, s.LitLamps())
	assert.Equal(t, 3, s.LampWrites())

	assert.ErrorIs(t, s.SetLamp(0x24, 16, true), ErrNoSuchLamp)
	assert.ErrorIs(t, s.SetLamp(0x24, -1, true), ErrNoSuchLamp)
	assert.Equal(t, 3, s.LampWrites())
}

// fakeBoard records pin levels in place of an expander.
type fakeBoard struct {
	outputs map[uint8]bool
	levels  map[uint8]bool
	failPin int
	closed  bool
}

func (b *fakeBoard) setOutput(pin uint8) error {
	b.outputs[pin] = true
	return nil
}

func (b *fakeBoard) write(pin uint8, lit bool) error {
	if int(pin) == b.failPin {
		return errors.New("nack")
	}
	b.levels[pin] = lit
	return nil
}

func (b *fakeBoard) Close() error {
	b.closed = true
	return nil
}

func newTestMCP(failPin int) (*MCP, map[uint8]*fakeBoard) {
	opened := make(map[uint8]*fakeBoard)
	m := NewMCP(1)
	m.open = func(bus, devNum uint8) (lampBoard, error) {
		if devNum == 7 {
			return nil, errors.New("no device")
		}
		b := &fakeBoard{outputs: map[uint8]bool{}, levels: map[uint8]bool{}, failPin: failPin}
		opened[devNum] = b
		return b, nil
	}
	return m, opened
}

func TestMCP(t *testing.T) {
	t.Run("OpensBoardsOnFirstUse", func(t *testing.T) {
		m, opened := newTestMCP(-1)
		require.NoError(t, m.SetLamp(0x24, 6, true))
		require.NoError(t, m.SetLamp(0x24, 14, true))
		require.NoError(t, m.SetLamp(0x24, 14, false))

		require.Len(t, opened, 1)
		b := opened[4]
		assert.Len(t, b.outputs, LampPins, "every pin is an output")
		assert.True(t, b.levels[6])
		assert.False(t, b.levels[14])
		assert.False(t, b.levels[0])
		assert.Equal(t, 1, m.Boards())

		require.NoError(t, m.Close())
		assert.True(t, b.closed)
		assert.False(t, b.levels[6], "close darkens the lamps")
		assert.Zero(t, m.Boards())
	})

	t.Run("RejectsOutOfRange", func(t *testing.T) {
		m, opened := newTestMCP(-1)
		assert.ErrorIs(t, m.SetLamp(0x1f, 0, true), ErrNoSuchLamp)
		assert.ErrorIs(t, m.SetLamp(0x28, 0, true), ErrNoSuchLamp)
		assert.ErrorIs(t, m.SetLamp(0x20, 16, true), ErrNoSuchLamp)
		assert.Empty(t, opened)
	})

	t.Run("OpenFailure", func(t *testing.T) {
		m, _ := newTestMCP(-1)
		err := m.SetLamp(0x27, 0, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "open expander 0x27")
		assert.Zero(t, m.Boards())
	})

	t.Run("ConfigureFailureClosesBoard", func(t *testing.T) {
		m, opened := newTestMCP(3)
		err := m.SetLamp(0x20, 0, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pin 3")
		assert.True(t, opened[0].closed)
		assert.Zero(t, m.Boards())
	})
}
