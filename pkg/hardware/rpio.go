package hardware

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"
)

// Errors returned by the drivers.
var (
	ErrNoSuchChannel = errors.New("no such servo channel")
	ErrNoSuchPin     = errors.New("no such input pin")
	ErrInvalidServo  = errors.New("invalid servo configuration")
)

// pwmChannel maps the BCM pins with hardware PWM to the PWM channel that
// drives them. Pins on the same channel output the same pulse, so at most
// two servos can be fitted.
var pwmChannel = map[int]int{12: 0, 18: 0, 13: 1, 19: 1}

// Servo maps a servo channel to the BCM pin that drives it. Channels are
// logical numbers used on the wire, not PWM hardware channels.
type Servo struct {
	Channel int `mapstructure:"channel" yaml:"channel"`
	Pin     int `mapstructure:"pin" yaml:"pin"`
}

// PWMConfig describes the servo pulse train.
type PWMConfig struct {
	// Frequency of the pulse train, 50Hz for hobby servos.
	FrequencyHz int `mapstructure:"frequency_hz"`

	// Pulse widths for 0 and 180 degrees.
	MinPulse time.Duration `mapstructure:"min_pulse"`
	MaxPulse time.Duration `mapstructure:"max_pulse"`
}

// DefaultPWMConfig returns 50Hz with 0.5ms to 2.5ms pulses.
func DefaultPWMConfig() PWMConfig {
	return PWMConfig{
		FrequencyHz: 50,
		MinPulse:    500 * time.Microsecond,
		MaxPulse:    2500 * time.Microsecond,
	}
}

// Validate checks the pulse configuration.
func (c PWMConfig) Validate() error {
	if c.FrequencyHz <= 0 {
		return fmt.Errorf("%w: frequency must be positive", ErrInvalidServo)
	}
	if c.MinPulse <= 0 || c.MaxPulse <= c.MinPulse {
		return fmt.Errorf("%w: need 0 < min_pulse < max_pulse", ErrInvalidServo)
	}
	if period := time.Second / time.Duration(c.FrequencyHz); c.MaxPulse >= period {
		return fmt.Errorf("%w: max_pulse %s exceeds period %s", ErrInvalidServo, c.MaxPulse, period)
	}
	return nil
}

// cycleLength is the number of PWM clock ticks per period; one tick is a
// microsecond.
func (c PWMConfig) cycleLength() uint32 {
	return uint32(time.Second / time.Duration(c.FrequencyHz) / time.Microsecond)
}

// dutyLength converts an angle in degrees to the number of high ticks.
func (c PWMConfig) dutyLength(angle float64) uint32 {
	if angle < 0 {
		angle = 0
	}
	if angle > 180 {
		angle = 180
	}
	span := float64(c.MaxPulse - c.MinPulse)
	pulse := c.MinPulse + time.Duration(span*angle/180)
	return uint32(pulse / time.Microsecond)
}

// RPIO drives servos and reads inputs through the Raspberry Pi GPIO
// registers. Inputs are configured with pull-ups, so a grounded input
// reads low.
type RPIO struct {
	pwm    PWMConfig
	servos map[int]rpio.Pin

	mu     sync.Mutex
	inputs map[int]bool
}

// OpenRPIO maps the GPIO memory and configures every servo pin for PWM.
func OpenRPIO(servos []Servo, pwm PWMConfig) (*RPIO, error) {
	if err := pwm.Validate(); err != nil {
		return nil, err
	}
	pins := make(map[int]rpio.Pin, len(servos))
	used := make(map[int]int, 2)
	for _, s := range servos {
		block, ok := pwmChannel[s.Pin]
		if !ok {
			return nil, fmt.Errorf("%w: BCM %d has no hardware PWM", ErrInvalidServo, s.Pin)
		}
		if _, dup := pins[s.Channel]; dup {
			return nil, fmt.Errorf("%w: channel %d mapped twice", ErrInvalidServo, s.Channel)
		}
		if other, taken := used[block]; taken {
			return nil, fmt.Errorf("%w: BCM %d shares PWM%d with BCM %d", ErrInvalidServo, s.Pin, block, other)
		}
		used[block] = s.Pin
		pins[s.Channel] = rpio.Pin(s.Pin)
	}

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	for _, pin := range pins {
		pin.Mode(rpio.Pwm)
		pin.Freq(pwm.FrequencyHz * int(pwm.cycleLength()))
	}

	return &RPIO{
		pwm:    pwm,
		servos: pins,
		inputs: make(map[int]bool),
	}, nil
}

// SetChannelAngle sets the pulse width for the channel's servo.
func (r *RPIO) SetChannelAngle(channel int, angle float64) error {
	pin, ok := r.servos[channel]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSuchChannel, channel)
	}
	pin.DutyCycle(r.pwm.dutyLength(angle), r.pwm.cycleLength())
	return nil
}

// ReadPinLevel reads a BCM input pin, configuring it on first use.
func (r *RPIO) ReadPinLevel(pin int) (bool, error) {
	if pin < 0 || pin > 27 {
		return false, fmt.Errorf("%w: BCM %d", ErrNoSuchPin, pin)
	}
	p := rpio.Pin(pin)

	r.mu.Lock()
	if !r.inputs[pin] {
		p.Input()
		p.PullUp()
		r.inputs[pin] = true
	}
	r.mu.Unlock()

	return p.Read() == rpio.Low, nil
}

// Close stops the PWM outputs and unmaps the GPIO memory.
func (r *RPIO) Close() error {
	for _, pin := range r.servos {
		pin.DutyCycle(0, r.pwm.cycleLength())
	}
	return rpio.Close()
}
