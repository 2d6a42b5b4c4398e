package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/address"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/connection"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/log"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/transport"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

// ErrRegistryClosed is returned by resolve calls after Shutdown.
var ErrRegistryClosed = errors.New("registry closed")

// InputCallback receives input transitions. grounded is true when the pin
// is pulled to ground, which is how track sensors and switches signal.
type InputCallback func(in address.Input, grounded bool)

// Config configures a Registry.
type Config struct {
	// Session is applied to every device session. Name and Role are set by
	// the registry.
	Session connection.Config

	// ConnectTimeout bounds a single TCP dial.
	ConnectTimeout time.Duration
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		Session:        connection.DefaultConfig(),
		ConnectTimeout: transport.DefaultConnectTimeout,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout must not be negative: %s", c.ConnectTimeout)
	}
	return c.Session.Validate()
}

// SessionInfo is a point-in-time view of one device session.
type SessionInfo struct {
	Endpoint  address.Endpoint
	State     connection.State
	Attempts  uint64
	LastSeen  time.Time
	LastError error
	Pending   int

	// Retries counts failures since the session was last connected and
	// RetryDelay is the base delay the next failure will wait.
	Retries    int
	RetryDelay time.Duration
}

// Registry owns one session per peripheral endpoint. Sessions are created
// on the first resolve that names their endpoint and live until Shutdown.
type Registry struct {
	config Config
	logger *zap.Logger
	trace  log.Logger

	// dial is replaced in tests.
	dial func(ep address.Endpoint) transport.Connector

	mu       sync.RWMutex
	devices  map[address.Endpoint]*device
	onChange func(ep address.Endpoint, oldState, newState connection.State)
	closed   bool
}

// device is the registry's bookkeeping for one endpoint.
type device struct {
	endpoint address.Endpoint
	session  *connection.Session

	mu     sync.RWMutex
	inputs map[int][]InputCallback
}

// New creates an empty registry.
func New(config Config, logger *zap.Logger, trace log.Logger) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = transport.DefaultConnectTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		config:  config,
		logger:  logger.Named("registry"),
		trace:   log.OrNoop(trace),
		devices: make(map[address.Endpoint]*device),
	}
	r.dial = func(ep address.Endpoint) transport.Connector {
		return transport.NewDialer(ep.Address(), r.config.ConnectTimeout)
	}
	return r, nil
}

// OnStateChange registers a callback for session transitions of every
// endpoint. Set it before the first resolve.
func (r *Registry) OnStateChange(fn func(ep address.Endpoint, oldState, newState connection.State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// ResolveOutput binds a servo output to its endpoint's session.
func (r *Registry) ResolveOutput(addr address.Output) (*Output, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	d, err := r.device(addr.Endpoint)
	if err != nil {
		return nil, err
	}
	return &Output{addr: addr, device: d}, nil
}

// ResolveOutputString parses text and resolves the output it names.
func (r *Registry) ResolveOutputString(text string) (*Output, error) {
	addr, err := address.ParseOutput(text)
	if err != nil {
		return nil, err
	}
	return r.ResolveOutput(addr)
}

// ResolveInput registers cb for transitions of the input pin and asks the
// peripheral to watch it. Several callbacks may share a pin.
func (r *Registry) ResolveInput(addr address.Input, cb InputCallback) error {
	if cb == nil {
		return errors.New("nil input callback")
	}
	if err := addr.Validate(); err != nil {
		return err
	}
	d, err := r.device(addr.Endpoint)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.inputs[addr.Pin] = append(d.inputs[addr.Pin], cb)
	d.mu.Unlock()

	d.session.Submit(wire.Watch{Pin: addr.Pin})
	return nil
}

// ResolveInputString parses text and resolves the input it names.
func (r *Registry) ResolveInputString(text string, cb InputCallback) error {
	addr, err := address.ParseInput(text)
	if err != nil {
		return err
	}
	return r.ResolveInput(addr, cb)
}

// ResolveSignalHead binds a signal head to its endpoint's session.
func (r *Registry) ResolveSignalHead(addr address.SignalHead) (*SignalHead, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	d, err := r.device(addr.Endpoint)
	if err != nil {
		return nil, err
	}
	return &SignalHead{addr: addr, device: d}, nil
}

// ResolveSignalHeadString parses text and resolves the signal head it
// names.
func (r *Registry) ResolveSignalHeadString(text string) (*SignalHead, error) {
	addr, err := address.ParseSignalHead(text)
	if err != nil {
		return nil, err
	}
	return r.ResolveSignalHead(addr)
}

// SetAppearance queues a SIGNAL for the head. Like SendAngle it never
// waits for the network.
func (r *Registry) SetAppearance(h *SignalHead, a wire.Appearance) {
	h.SetAppearance(a)
}

// SendAngle queues a SETANGLE for the output's channel. It never waits for
// the network; an angle not yet sent is replaced by a newer one.
func (r *Registry) SendAngle(out *Output, angle float64) {
	out.SendAngle(angle)
}

// Sessions returns a snapshot of every session, ordered by endpoint.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.RLock()
	result := make([]SessionInfo, 0, len(r.devices))
	for _, d := range r.devices {
		s := d.session
		result = append(result, SessionInfo{
			Endpoint:  d.endpoint,
			State:     s.State(),
			Attempts:  s.Attempts(),
			LastSeen:  s.LastSeen(),
			LastError: s.LastError(),
			Pending:   s.Pending(),

			Retries:    s.Retries(),
			RetryDelay: s.RetryDelay(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Endpoint, result[j].Endpoint
		if a.Host != b.Host {
			return a.Host < b.Host
		}
		return a.Port < b.Port
	})
	return result
}

// Shutdown closes every session. It returns ctx.Err() if the sessions did
// not all stop before ctx was done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	devices := make([]*device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func(d *device) {
			defer wg.Done()
			d.session.Close()
		}(d)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Registry shut down", zap.Int("sessions", len(devices)))
		return nil
	case <-ctx.Done():
		r.logger.Warn("Registry shutdown timed out", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// device returns the entry for ep, creating and starting its session on
// first use.
func (r *Registry) device(ep address.Endpoint) (*device, error) {
	r.mu.RLock()
	d, ok := r.devices[ep]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if ok {
		return d, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if d, ok := r.devices[ep]; ok {
		return d, nil
	}

	d = &device{
		endpoint: ep,
		inputs:   make(map[int][]InputCallback),
	}
	cfg := r.config.Session
	cfg.Name = ep.String()
	cfg.Role = log.RoleController
	d.session = connection.NewSession(cfg, r.dial(ep), connection.HandlerFunc(d.handle(r)), r.logger, r.trace)
	d.session.OnConnected(d.rewatch)

	onChange := r.onChange
	d.session.OnStateChange(func(oldState, newState connection.State) {
		if onChange != nil {
			onChange(ep, oldState, newState)
		}
	})

	r.devices[ep] = d
	d.session.Start()
	r.logger.Info("Session created", zap.Stringer("endpoint", ep))
	return d, nil
}

// handle returns the session handler for d. It runs on the session's reader
// goroutine, so callbacks for one endpoint see messages in wire order.
func (d *device) handle(r *Registry) func(*connection.Session, wire.Message) {
	return func(_ *connection.Session, msg wire.Message) {
		switch m := msg.(type) {
		case wire.PinState:
			d.mu.RLock()
			callbacks := d.inputs[m.Pin]
			d.mu.RUnlock()

			if len(callbacks) == 0 {
				r.logger.Warn("State for unregistered pin",
					zap.Stringer("endpoint", d.endpoint), zap.Int("pin", m.Pin))
				return
			}
			in := address.Input{Pin: m.Pin, Endpoint: d.endpoint}
			grounded := m.Level.Grounded()
			for _, cb := range callbacks {
				cb(in, grounded)
			}
		case wire.Error:
			r.logger.Warn("Peripheral reported error",
				zap.Stringer("endpoint", d.endpoint), zap.String("text", m.Text))
		default:
			r.logger.Debug("Ignoring message",
				zap.Stringer("endpoint", d.endpoint), zap.Stringer("kind", msg.Kind()))
		}
	}
}

// rewatch re-registers every watched pin on a fresh connection, since the
// peripheral forgets its watch list when the connection drops.
func (d *device) rewatch() {
	d.mu.RLock()
	pins := make([]int, 0, len(d.inputs))
	for pin := range d.inputs {
		pins = append(pins, pin)
	}
	d.mu.RUnlock()

	sort.Ints(pins)
	for _, pin := range pins {
		d.session.Submit(wire.Watch{Pin: pin})
	}
}
