package transport

import (
	"errors"
	"fmt"
	"time"
)

// Liveness defaults. A peer that sends a heartbeat every 5s is declared
// dead after three missed heartbeats.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultLivenessTimeout   = 15 * time.Second
)

// ErrInvalidLiveness is returned by LivenessConfig.Validate.
var ErrInvalidLiveness = errors.New("invalid liveness configuration")

// LivenessConfig configures heartbeat sending and dead-peer detection.
type LivenessConfig struct {
	// HeartbeatInterval is the time between two HEARTBEAT lines sent on an
	// otherwise idle connection.
	HeartbeatInterval time.Duration

	// Timeout is how long a connection may go without receiving any line
	// before it is considered dead.
	Timeout time.Duration
}

// DefaultLivenessConfig returns the default liveness configuration.
func DefaultLivenessConfig() LivenessConfig {
	return LivenessConfig{
		HeartbeatInterval: DefaultHeartbeatInterval,
		Timeout:           DefaultLivenessTimeout,
	}
}

// WithDefaults fills zero fields with the defaults.
func (c LivenessConfig) WithDefaults() LivenessConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultLivenessTimeout
	}
	return c
}

// Validate checks that a peer sending at HeartbeatInterval can never trip
// Timeout on a healthy link.
func (c LivenessConfig) Validate() error {
	if c.HeartbeatInterval <= 0 || c.Timeout <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidLiveness)
	}
	if c.Timeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w: timeout %s must exceed heartbeat interval %s",
			ErrInvalidLiveness, c.Timeout, c.HeartbeatInterval)
	}
	return nil
}

// MissedHeartbeats returns how many consecutive heartbeats may be lost
// before the connection is declared dead.
func (c LivenessConfig) MissedHeartbeats() int {
	if c.HeartbeatInterval <= 0 {
		return 0
	}
	return int(c.Timeout / c.HeartbeatInterval)
}
