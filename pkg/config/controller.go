package config

import (
	"fmt"
	"time"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/registry"
)

// ControllerConfig is the configuration of the layout controller.
type ControllerConfig struct {
	Log     LogConfig     `mapstructure:"log"`
	Session SessionConfig `mapstructure:"session"`

	// Layout is the YAML file naming turnouts and sensors.
	Layout string `mapstructure:"layout"`

	// ProtocolLog, if set, records every line exchanged to this CBOR file.
	ProtocolLog string `mapstructure:"protocol_log"`

	// ShutdownTimeout bounds closing all device sessions.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultController returns the controller defaults.
func DefaultController() *ControllerConfig {
	return &ControllerConfig{
		Log:             defaultLog("rpitrain-controller"),
		Session:         defaultSession(),
		Layout:          "layout.yaml",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Registry converts the settings to a registry configuration.
func (c *ControllerConfig) Registry() registry.Config {
	return registry.Config{
		Session:        c.Session.Connection(),
		ConnectTimeout: c.Session.ConnectTimeout,
	}
}

// LoadController reads the controller configuration from path, or from
// rpitrain-controller.yaml in the working directory, /etc/rpitrain or
// ~/.rpitrain. A missing file is not an error. Environment variables with
// prefix RPITRAIN override file values, e.g. RPITRAIN_SESSION_LIVENESS_TIMEOUT=10s.
func LoadController(path string) (*ControllerConfig, error) {
	cfg := DefaultController()

	v := newViper(path, "rpitrain-controller")
	seedLog(v, cfg.Log)
	seedSession(v, cfg.Session)
	v.SetDefault("layout", cfg.Layout)
	v.SetDefault("protocol_log", cfg.ProtocolLog)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)

	if err := read(v, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ControllerConfig) validate() error {
	if err := c.Log.validate(); err != nil {
		return err
	}
	if err := c.Session.validate(); err != nil {
		return err
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown_timeout: %s", c.ShutdownTimeout)
	}
	return nil
}
