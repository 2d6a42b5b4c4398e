package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/address"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/agent"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/hardware"
)

// Hardware driver names.
const (
	DriverSim  = "sim"
	DriverRPIO = "rpio"
)

// DeviceConfig is the configuration of a peripheral.
type DeviceConfig struct {
	Log     LogConfig     `mapstructure:"log"`
	Session SessionConfig `mapstructure:"session"`

	// Listen is the address the device accepts its controller on.
	Listen string `mapstructure:"listen"`

	// Controller, if set, makes the device dial this address instead of
	// listening.
	Controller string `mapstructure:"controller"`

	// PollInterval is how often watched input pins are sampled.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	MinAngle float64 `mapstructure:"min_angle"`
	MaxAngle float64 `mapstructure:"max_angle"`

	// FlashInterval is the on and off time of a flashing signal lamp.
	FlashInterval time.Duration `mapstructure:"flash_interval"`

	Hardware HardwareConfig `mapstructure:"hardware"`

	// ProtocolLog, if set, records every line exchanged to this CBOR file.
	ProtocolLog string `mapstructure:"protocol_log"`
}

// HardwareConfig selects and configures the driver.
type HardwareConfig struct {
	// Driver is "sim" or "rpio".
	Driver string `mapstructure:"driver"`

	// Channels limits the simulator's servo channels; 0 means unlimited.
	Channels int `mapstructure:"channels"`

	// Servos maps channels to BCM pins for the rpio driver.
	Servos []hardware.Servo `mapstructure:"servos"`

	PWM hardware.PWMConfig `mapstructure:"pwm"`

	Signals SignalsConfig `mapstructure:"signals"`
}

// SignalsConfig enables signal lamps on MCP23017 expanders for the rpio
// driver. The sim driver always accepts lamps.
type SignalsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Bus is the I2C bus number, 1 on current boards.
	Bus int `mapstructure:"i2c_bus"`
}

// DefaultDevice returns the device defaults.
func DefaultDevice() *DeviceConfig {
	return &DeviceConfig{
		Log:          defaultLog("rpitrain-device"),
		Session:       defaultSession(),
		Listen:        fmt.Sprintf(":%d", address.DefaultPort),
		PollInterval:  agent.DefaultPollInterval,
		MinAngle:      agent.DefaultMinAngle,
		MaxAngle:      agent.DefaultMaxAngle,
		FlashInterval: agent.DefaultFlashInterval,
		Hardware: HardwareConfig{
			Driver:   DriverSim,
			Channels: 16,
			PWM:      hardware.DefaultPWMConfig(),
			Signals:  SignalsConfig{Bus: 1},
		},
	}
}

// Agent converts the settings to an agent configuration.
func (c *DeviceConfig) Agent() agent.Config {
	return agent.Config{
		Session:       c.Session.Connection(),
		PollInterval:  c.PollInterval,
		MinAngle:      c.MinAngle,
		MaxAngle:      c.MaxAngle,
		FlashInterval: c.FlashInterval,
	}
}

// LoadDevice reads the device configuration the same way LoadController
// does, from rpitrain-device.yaml by default.
func LoadDevice(path string) (*DeviceConfig, error) {
	cfg := DefaultDevice()

	v := newViper(path, "rpitrain-device")
	seedLog(v, cfg.Log)
	seedSession(v, cfg.Session)
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("controller", cfg.Controller)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("min_angle", cfg.MinAngle)
	v.SetDefault("max_angle", cfg.MaxAngle)
	v.SetDefault("flash_interval", cfg.FlashInterval)
	v.SetDefault("hardware.driver", cfg.Hardware.Driver)
	v.SetDefault("hardware.channels", cfg.Hardware.Channels)
	v.SetDefault("hardware.pwm.frequency_hz", cfg.Hardware.PWM.FrequencyHz)
	v.SetDefault("hardware.pwm.min_pulse", cfg.Hardware.PWM.MinPulse)
	v.SetDefault("hardware.pwm.max_pulse", cfg.Hardware.PWM.MaxPulse)
	v.SetDefault("hardware.signals.enabled", cfg.Hardware.Signals.Enabled)
	v.SetDefault("hardware.signals.i2c_bus", cfg.Hardware.Signals.Bus)
	v.SetDefault("protocol_log", cfg.ProtocolLog)

	if err := read(v, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *DeviceConfig) validate() error {
	if err := c.Log.validate(); err != nil {
		return err
	}
	if err := c.Session.validate(); err != nil {
		return err
	}
	if c.Listen == "" && c.Controller == "" {
		return fmt.Errorf("one of listen or controller must be set")
	}
	if err := c.Agent().Validate(); err != nil {
		return err
	}

	c.Hardware.Driver = strings.ToLower(strings.TrimSpace(c.Hardware.Driver))
	switch c.Hardware.Driver {
	case DriverSim:
	case DriverRPIO:
		if len(c.Hardware.Servos) == 0 {
			return fmt.Errorf("hardware.servos is empty for the rpio driver")
		}
		if err := c.Hardware.PWM.Validate(); err != nil {
			return err
		}
		if c.Hardware.Signals.Enabled && (c.Hardware.Signals.Bus < 0 || c.Hardware.Signals.Bus > 255) {
			return fmt.Errorf("invalid hardware.signals.i2c_bus: %d", c.Hardware.Signals.Bus)
		}
	default:
		return fmt.Errorf("invalid hardware.driver: %q", c.Hardware.Driver)
	}
	return nil
}
