package layout

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/address"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/connection"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/registry"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

// ErrUnknownName is returned for a turnout, sensor or signal not in the
// layout.
var ErrUnknownName = errors.New("unknown name")

// Resolver binds addresses to device sessions. *registry.Registry
// implements it.
type Resolver interface {
	ResolveOutput(addr address.Output) (*registry.Output, error)
	ResolveInput(addr address.Input, cb registry.InputCallback) error
	ResolveSignalHead(addr address.SignalHead) (*registry.SignalHead, error)
}

var _ Resolver = (*registry.Registry)(nil)

// SensorFunc is called on every sensor transition.
type SensorFunc func(name string, grounded bool)

// TurnoutStatus describes a bound turnout.
type TurnoutStatus struct {
	Name    string
	Address address.Output
	// Position is the last commanded position, PositionNone if the turnout
	// was only moved to an explicit angle or never moved.
	Position Position
	Angle    float64
	Moved    bool
	State    connection.State
}

// SensorStatus describes a bound sensor.
type SensorStatus struct {
	Name     string
	Address  address.Input
	Grounded bool
	Known    bool
}

// SignalStatus describes a bound signal.
type SignalStatus struct {
	Name    string
	Address address.SignalHead
	// Appearance is the last commanded appearance, valid when Set.
	Appearance wire.Appearance
	Set        bool
	State      connection.State
}

// Bound is a layout whose turnouts, sensors and signals are resolved.
type Bound struct {
	logger *zap.Logger

	turnouts map[string]*boundTurnout
	sensors  map[string]*boundSensor
	signals  map[string]*boundSignal
}

type boundSignal struct {
	name string
	head *registry.SignalHead

	mu         sync.Mutex
	appearance wire.Appearance
	commanded  bool
}

type boundTurnout struct {
	name   string
	output *registry.Output

	mu       sync.Mutex
	position Position
	angle    float64
	moved    bool
}

type boundSensor struct {
	name  string
	input address.Input

	mu       sync.Mutex
	grounded bool
	known    bool
}

// Bind resolves every turnout and sensor, moves turnouts with an initial
// position there, and reports sensor transitions to onSensor, which may be
// nil.
func (l *Layout) Bind(r Resolver, onSensor SensorFunc, logger *zap.Logger) (*Bound, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bound{
		logger:   logger.Named("layout"),
		turnouts: make(map[string]*boundTurnout, len(l.Turnouts)),
		sensors:  make(map[string]*boundSensor, len(l.Sensors)),
		signals:  make(map[string]*boundSignal, len(l.Signals)),
	}

	for _, t := range l.Turnouts {
		out, err := r.ResolveOutput(t.Output())
		if err != nil {
			return nil, fmt.Errorf("turnout %q: %w", t.Name, err)
		}
		bt := &boundTurnout{name: t.Name, output: out}
		b.turnouts[t.Name] = bt
		if t.Initial != PositionNone {
			bt.set(t.Initial)
		}
	}

	for _, s := range l.Sensors {
		bs := &boundSensor{name: s.Name, input: s.Input()}
		b.sensors[s.Name] = bs
		err := r.ResolveInput(s.Input(), func(_ address.Input, grounded bool) {
			bs.mu.Lock()
			changed := !bs.known || bs.grounded != grounded
			bs.grounded, bs.known = grounded, true
			bs.mu.Unlock()

			if changed {
				b.logger.Debug("Sensor changed", zap.String("sensor", bs.name), zap.Bool("grounded", grounded))
			}
			if onSensor != nil {
				onSensor(bs.name, grounded)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("sensor %q: %w", s.Name, err)
		}
	}

	for _, s := range l.Signals {
		h, err := r.ResolveSignalHead(s.Head())
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", s.Name, err)
		}
		bs := &boundSignal{name: s.Name, head: h}
		b.signals[s.Name] = bs
		if a, ok := s.InitialAppearance(); ok {
			bs.set(a)
		}
	}

	b.logger.Info("Layout bound",
		zap.Int("turnouts", len(b.turnouts)),
		zap.Int("sensors", len(b.sensors)),
		zap.Int("signals", len(b.signals)),
	)
	return b, nil
}

// Throw moves a turnout to its thrown angle.
func (b *Bound) Throw(name string) error {
	return b.setPosition(name, PositionThrown)
}

// Close moves a turnout to its closed angle.
func (b *Bound) Close(name string) error {
	return b.setPosition(name, PositionClosed)
}

// SetAngle moves a turnout's servo to an explicit angle.
func (b *Bound) SetAngle(name string, angle float64) error {
	t, ok := b.turnouts[name]
	if !ok {
		return fmt.Errorf("%w: turnout %q", ErrUnknownName, name)
	}
	t.mu.Lock()
	t.position, t.angle, t.moved = PositionNone, angle, true
	t.mu.Unlock()
	t.output.SendAngle(angle)
	return nil
}

func (b *Bound) setPosition(name string, p Position) error {
	t, ok := b.turnouts[name]
	if !ok {
		return fmt.Errorf("%w: turnout %q", ErrUnknownName, name)
	}
	t.set(p)
	b.logger.Debug("Turnout commanded", zap.String("turnout", name), zap.String("position", string(p)))
	return nil
}

func (t *boundTurnout) set(p Position) {
	angle := t.output.Address().Angle(p.Thrown())
	t.mu.Lock()
	t.position, t.angle, t.moved = p, angle, true
	t.mu.Unlock()
	t.output.Set(p.Thrown())
}

// SetSignal changes the appearance of a signal.
func (b *Bound) SetSignal(name string, a wire.Appearance) error {
	s, ok := b.signals[name]
	if !ok {
		return fmt.Errorf("%w: signal %q", ErrUnknownName, name)
	}
	if !a.IsValid() {
		return fmt.Errorf("signal %q: invalid appearance %d", name, a)
	}
	s.set(a)
	b.logger.Debug("Signal commanded", zap.String("signal", name), zap.Stringer("appearance", a))
	return nil
}

func (s *boundSignal) set(a wire.Appearance) {
	s.mu.Lock()
	s.appearance, s.commanded = a, true
	s.mu.Unlock()
	s.head.SetAppearance(a)
}

// SensorState returns the last reported level of a sensor. known is false
// until the peripheral has reported the pin.
func (b *Bound) SensorState(name string) (grounded, known bool, err error) {
	s, ok := b.sensors[name]
	if !ok {
		return false, false, fmt.Errorf("%w: sensor %q", ErrUnknownName, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grounded, s.known, nil
}

// Turnouts returns the status of every turnout, sorted by name.
func (b *Bound) Turnouts() []TurnoutStatus {
	out := make([]TurnoutStatus, 0, len(b.turnouts))
	for _, t := range b.turnouts {
		t.mu.Lock()
		out = append(out, TurnoutStatus{
			Name:     t.name,
			Address:  t.output.Address(),
			Position: t.position,
			Angle:    t.angle,
			Moved:    t.moved,
			State:    t.output.State(),
		})
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Sensors returns the status of every sensor, sorted by name.
func (b *Bound) Sensors() []SensorStatus {
	out := make([]SensorStatus, 0, len(b.sensors))
	for _, s := range b.sensors {
		s.mu.Lock()
		out = append(out, SensorStatus{
			Name:     s.name,
			Address:  s.input,
			Grounded: s.grounded,
			Known:    s.known,
		})
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Signals returns the status of every signal, sorted by name.
func (b *Bound) Signals() []SignalStatus {
	out := make([]SignalStatus, 0, len(b.signals))
	for _, s := range b.signals {
		s.mu.Lock()
		out = append(out, SignalStatus{
			Name:       s.name,
			Address:    s.head.Address(),
			Appearance: s.appearance,
			Set:        s.commanded,
			State:      s.head.State(),
		})
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TurnoutNames returns the turnout names, sorted.
func (b *Bound) TurnoutNames() []string {
	names := make([]string, 0, len(b.turnouts))
	for n := range b.turnouts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
