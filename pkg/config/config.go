package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/connection"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/transport"
)

// EnvPrefix prefixes every environment override, e.g. RPITRAIN_LOG_LEVEL.
const EnvPrefix = "RPITRAIN"

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SessionConfig holds the link timing shared by controller and device.
type SessionConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LivenessTimeout   time.Duration `mapstructure:"liveness_timeout"`
	Backoff           BackoffConfig `mapstructure:"backoff"`
}

// BackoffConfig is the reconnect delay policy.
type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     float64       `mapstructure:"jitter"`
}

// Connection converts the settings to a session configuration.
func (s SessionConfig) Connection() connection.Config {
	return connection.Config{
		HandshakeTimeout: s.HandshakeTimeout,
		WriteTimeout:     s.WriteTimeout,
		Liveness: transport.LivenessConfig{
			HeartbeatInterval: s.HeartbeatInterval,
			Timeout:           s.LivenessTimeout,
		},
		Backoff: connection.BackoffConfig{
			Initial:    s.Backoff.Initial,
			Max:        s.Backoff.Max,
			Multiplier: s.Backoff.Multiplier,
			Jitter:     s.Backoff.Jitter,
		},
	}
}

func defaultLog(name string) LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "console",
		Outputs:     []string{"stderr"},
		Development: false,
		Rotation: RotationConfig{
			Enable:     false,
			Filename:   "logs/" + name + ".log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

func defaultSession() SessionConfig {
	b := connection.DefaultBackoffConfig()
	return SessionConfig{
		ConnectTimeout:    transport.DefaultConnectTimeout,
		HandshakeTimeout:  connection.DefaultHandshakeTimeout,
		WriteTimeout:      connection.DefaultWriteTimeout,
		HeartbeatInterval: transport.DefaultHeartbeatInterval,
		LivenessTimeout:   transport.DefaultLivenessTimeout,
		Backoff: BackoffConfig{
			Initial:    b.Initial,
			Max:        b.Max,
			Multiplier: b.Multiplier,
			Jitter:     b.Jitter,
		},
	}
}

// newViper prepares a viper instance reading name.yaml from path or the
// usual locations, with environment overrides.
func newViper(path, name string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(name)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rpitrain")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".rpitrain"))
		}
	}
	return v
}

// read loads the config file if there is one and decodes into out.
func read(v *viper.Viper, out any) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func seedLog(v *viper.Viper, c LogConfig) {
	v.SetDefault("log.level", c.Level)
	v.SetDefault("log.format", c.Format)
	v.SetDefault("log.outputs", c.Outputs)
	v.SetDefault("log.development", c.Development)
	v.SetDefault("log.rotation.enable", c.Rotation.Enable)
	v.SetDefault("log.rotation.filename", c.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", c.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", c.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", c.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", c.Rotation.Compress)
}

func seedSession(v *viper.Viper, c SessionConfig) {
	v.SetDefault("session.connect_timeout", c.ConnectTimeout)
	v.SetDefault("session.handshake_timeout", c.HandshakeTimeout)
	v.SetDefault("session.write_timeout", c.WriteTimeout)
	v.SetDefault("session.heartbeat_interval", c.HeartbeatInterval)
	v.SetDefault("session.liveness_timeout", c.LivenessTimeout)
	v.SetDefault("session.backoff.initial", c.Backoff.Initial)
	v.SetDefault("session.backoff.max", c.Backoff.Max)
	v.SetDefault("session.backoff.multiplier", c.Backoff.Multiplier)
	v.SetDefault("session.backoff.jitter", c.Backoff.Jitter)
}

func (c *LogConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "":
		c.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Format)
	}
	if len(c.Outputs) == 0 {
		c.Outputs = []string{"stderr"}
	}
	return nil
}

func (c SessionConfig) validate() error {
	if c.ConnectTimeout < 0 || c.HandshakeTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("session timeouts must not be negative")
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		return fmt.Errorf("invalid session.backoff.jitter: %g", c.Backoff.Jitter)
	}
	if c.Backoff.Max > 0 && c.Backoff.Initial > c.Backoff.Max {
		return fmt.Errorf("session.backoff.initial %s exceeds max %s", c.Backoff.Initial, c.Backoff.Max)
	}
	if err := c.Connection().Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}
