package hardware

import (
	"fmt"
	"sort"
	"sync"
)

// Sim is an in-memory peripheral. Servo angles are recorded and input
// levels are set by the caller, which makes it usable both in tests and as
// the backend of a simulated device.
type Sim struct {
	mu       sync.RWMutex
	channels int
	angles   map[int]float64
	grounded map[int]bool
	readErr  map[int]error
	writes   int

	lamps      map[lampKey]bool
	lampWrites int
}

type lampKey struct{ board, pin int }

// NewSim returns a simulator with the given number of servo channels. A
// count of zero accepts any channel.
func NewSim(channels int) *Sim {
	return &Sim{
		channels: channels,
		angles:   make(map[int]float64),
		grounded: make(map[int]bool),
		readErr:  make(map[int]error),
		lamps:    make(map[lampKey]bool),
	}
}

// SetChannelAngle records the angle for the channel.
func (s *Sim) SetChannelAngle(channel int, angle float64) error {
	if channel < 0 || (s.channels > 0 && channel >= s.channels) {
		return fmt.Errorf("%w: %d", ErrNoSuchChannel, channel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.angles[channel] = angle
	s.writes++
	return nil
}

// ReadPinLevel returns the level last set with SetGrounded. Pins never set
// read as released, as an input with a pull-up would.
func (s *Sim) ReadPinLevel(pin int) (bool, error) {
	if pin < 0 {
		return false, fmt.Errorf("%w: %d", ErrNoSuchPin, pin)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readErr[pin]; err != nil {
		return false, err
	}
	return s.grounded[pin], nil
}

// SetGrounded changes the level of an input pin.
func (s *Sim) SetGrounded(pin int, grounded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grounded[pin] = grounded
}

// FailReads makes reads of pin return err until called again with nil.
func (s *Sim) FailReads(pin int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.readErr, pin)
		return
	}
	s.readErr[pin] = err
}

// Angle returns the last angle written to the channel.
func (s *Sim) Angle(channel int) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.angles[channel]
	return a, ok
}

// Angles returns a copy of every channel's last angle.
func (s *Sim) Angles() map[int]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]float64, len(s.angles))
	for ch, a := range s.angles {
		out[ch] = a
	}
	return out
}

// GroundedPins returns the pins currently grounded, in ascending order.
func (s *Sim) GroundedPins() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pins []int
	for pin, g := range s.grounded {
		if g {
			pins = append(pins, pin)
		}
	}
	sort.Ints(pins)
	return pins
}

// Writes returns how many angle writes reached the simulator.
func (s *Sim) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// SetLamp records the level of an expander pin.
func (s *Sim) SetLamp(board, pin int, lit bool) error {
	if pin < 0 || pin >= LampPins {
		return fmt.Errorf("%w: board 0x%02x pin %d", ErrNoSuchLamp, board, pin)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lamps[lampKey{board, pin}] = lit
	s.lampWrites++
	return nil
}

// Lamp reports whether an expander pin is lit.
func (s *Sim) Lamp(board, pin int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lamps[lampKey{board, pin}]
}

// LitLamps returns the lit pins per board.
func (s *Sim) LitLamps() map[int][]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int][]int)
	for k, lit := range s.lamps {
		if lit {
			out[k.board] = append(out[k.board], k.pin)
		}
	}
	for _, pins := range out {
		sort.Ints(pins)
	}
	return out
}

// LampWrites returns how many lamp writes reached the simulator.
func (s *Sim) LampWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lampWrites
}

// Close does nothing.
func (s *Sim) Close() error {
	return nil
}
