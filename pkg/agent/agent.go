package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/connection"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/log"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/transport"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

// Agent defaults.
const (
	DefaultPollInterval = 20 * time.Millisecond
	DefaultMinAngle     = 0
	DefaultMaxAngle     = 180

	// DefaultFlashInterval is the on and off time of a flashing lamp,
	// giving 2Hz at half duty.
	DefaultFlashInterval = 250 * time.Millisecond
)

// Driver is the physical side of a peripheral.
type Driver interface {
	// SetChannelAngle moves a servo. It must be safe to call with the
	// angle the channel already holds.
	SetChannelAngle(channel int, angle float64) error

	// ReadPinLevel reports whether an input pin is pulled to ground.
	ReadPinLevel(pin int) (grounded bool, err error)
}

// Config configures an Agent.
type Config struct {
	Session connection.Config

	// PollInterval is how often watched pins are sampled.
	PollInterval time.Duration

	// Accepted servo angle range in degrees.
	MinAngle float64
	MaxAngle float64

	// FlashInterval is how long a flashing lamp stays on, and then off.
	FlashInterval time.Duration
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		Session:       connection.DefaultConfig(),
		PollInterval:  DefaultPollInterval,
		MinAngle:      DefaultMinAngle,
		MaxAngle:      DefaultMaxAngle,
		FlashInterval: DefaultFlashInterval,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PollInterval < 0 {
		return fmt.Errorf("poll interval must not be negative: %s", c.PollInterval)
	}
	if c.FlashInterval < 0 {
		return fmt.Errorf("flash interval must not be negative: %s", c.FlashInterval)
	}
	if c.MaxAngle < c.MinAngle {
		return fmt.Errorf("angle range [%g, %g] is empty", c.MinAngle, c.MaxAngle)
	}
	return c.Session.Validate()
}

// pinWatch is the last level reported for a watched pin.
type pinWatch struct {
	grounded bool
	failing  bool
}

// Agent is the device side of a link: it applies SETANGLE commands to the
// driver and reports input transitions on watched pins.
type Agent struct {
	config  Config
	driver  Driver
	signals SignalDriver
	session *connection.Session
	logger  *zap.Logger

	mu      sync.Mutex
	angles  map[int]float64
	watched map[int]*pinWatch

	headMu sync.Mutex
	heads  map[string]*head

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an agent that reaches its controller through connector,
// usually a transport.Listener. If driver also implements SignalDriver the
// agent accepts SIGNAL commands; otherwise it answers them with ERROR.
func New(driver Driver, connector transport.Connector, config Config, logger *zap.Logger, trace log.Logger) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.FlashInterval == 0 {
		config.FlashInterval = DefaultFlashInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		config:  config,
		driver:  driver,
		logger:  logger.Named("agent"),
		angles:  make(map[int]float64),
		watched: make(map[int]*pinWatch),
		heads:   make(map[string]*head),
		ctx:     ctx,
		cancel:  cancel,
	}
	a.signals, _ = driver.(SignalDriver)

	sc := config.Session
	sc.Role = log.RolePeripheral
	a.session = connection.NewSession(sc, connector, a, a.logger, trace)
	return a, nil
}

// Session returns the agent's session.
func (a *Agent) Session() *connection.Session {
	return a.session
}

// Start starts the session and the input poller.
func (a *Agent) Start() {
	a.session.Start()
	a.wg.Add(1)
	go a.poll()
}

// Stop closes the session and stops polling and flashing.
func (a *Agent) Stop() {
	a.cancel()
	a.session.Close()
	a.wg.Wait()
}

// Watched returns the watched pins in ascending order.
func (a *Agent) Watched() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	pins := make([]int, 0, len(a.watched))
	for pin := range a.watched {
		pins = append(pins, pin)
	}
	sort.Ints(pins)
	return pins
}

// HandleMessage implements connection.Handler.
func (a *Agent) HandleMessage(s *connection.Session, msg wire.Message) {
	switch m := msg.(type) {
	case wire.SetAngle:
		a.setAngle(s, m)
	case wire.Watch:
		a.watch(s, m.Pin)
	case wire.Signal:
		a.setSignal(s, m)
	case wire.Error:
		a.logger.Warn("Controller reported error", zap.String("text", m.Text))
	default:
		a.logger.Debug("Ignoring message", zap.Stringer("kind", msg.Kind()))
	}
}

func (a *Agent) setAngle(s *connection.Session, m wire.SetAngle) {
	if m.Angle < a.config.MinAngle || m.Angle > a.config.MaxAngle {
		a.reject(s, fmt.Sprintf("angle %g out of range [%g, %g] for channel %d",
			m.Angle, a.config.MinAngle, a.config.MaxAngle, m.Channel))
		return
	}

	a.mu.Lock()
	current, known := a.angles[m.Channel]
	a.mu.Unlock()
	if known && current == m.Angle {
		a.logger.Debug("Angle unchanged", zap.Int("channel", m.Channel), zap.Float64("angle", m.Angle))
		return
	}

	if err := a.driver.SetChannelAngle(m.Channel, m.Angle); err != nil {
		a.reject(s, fmt.Sprintf("channel %d: %v", m.Channel, err))
		return
	}

	a.mu.Lock()
	a.angles[m.Channel] = m.Angle
	a.mu.Unlock()
	a.logger.Debug("Angle applied", zap.Int("channel", m.Channel), zap.Float64("angle", m.Angle))
}

func (a *Agent) watch(s *connection.Session, pin int) {
	grounded, err := a.driver.ReadPinLevel(pin)
	if err != nil {
		a.reject(s, fmt.Sprintf("pin %d: %v", pin, err))
		return
	}

	a.mu.Lock()
	if _, ok := a.watched[pin]; !ok {
		a.logger.Info("Watching pin", zap.Int("pin", pin))
	}
	a.watched[pin] = &pinWatch{grounded: grounded}
	a.mu.Unlock()

	s.Submit(wire.PinState{Pin: pin, Level: wire.LevelFromGrounded(grounded)})
}

func (a *Agent) reject(s *connection.Session, text string) {
	a.logger.Warn("Rejecting command", zap.String("reason", text))
	if err := s.Reply(wire.Error{Text: text}); err != nil {
		a.logger.Debug("Error reply not sent", zap.Error(err))
	}
}

// poll samples the watched pins and submits a PIN message for every level
// change it observes.
func (a *Agent) poll() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.sample()
		}
	}
}

func (a *Agent) sample() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for pin, w := range a.watched {
		grounded, err := a.driver.ReadPinLevel(pin)
		if err != nil {
			if !w.failing {
				a.logger.Warn("Pin read failed", zap.Int("pin", pin), zap.Error(err))
				w.failing = true
			}
			continue
		}
		if w.failing {
			a.logger.Info("Pin read recovered", zap.Int("pin", pin))
			w.failing = false
		}
		if grounded == w.grounded {
			continue
		}
		w.grounded = grounded
		a.session.Submit(wire.PinState{Pin: pin, Level: wire.LevelFromGrounded(grounded)})
	}
}
