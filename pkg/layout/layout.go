package layout

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/address"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

// ErrInvalidLayout is wrapped by every validation error.
var ErrInvalidLayout = errors.New("invalid layout")

// Position is a turnout position.
type Position string

// Turnout positions. PositionNone leaves the servo alone until commanded.
const (
	PositionNone   Position = ""
	PositionThrown Position = "thrown"
	PositionClosed Position = "closed"
)

// Thrown reports whether p is the thrown position.
func (p Position) Thrown() bool {
	return p == PositionThrown
}

// Turnout is a named servo-driven turnout.
type Turnout struct {
	Name    string   `yaml:"name"`
	Address string   `yaml:"address"`
	Initial Position `yaml:"initial,omitempty"`

	output address.Output
}

// Output returns the parsed address. It is valid after Validate.
func (t Turnout) Output() address.Output {
	return t.output
}

// Sensor is a named track sensor on an input pin.
type Sensor struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`

	input address.Input
}

// Input returns the parsed address. It is valid after Validate.
func (s Sensor) Input() address.Input {
	return s.input
}

// Signal is a named two-lamp signal head.
type Signal struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	// Initial is an appearance such as "red" or "flashgreen"; empty leaves
	// the head alone until commanded.
	Initial string `yaml:"initial,omitempty"`

	head    address.SignalHead
	initial wire.Appearance
}

// Head returns the parsed address. It is valid after Validate.
func (s Signal) Head() address.SignalHead {
	return s.head
}

// InitialAppearance returns the parsed initial appearance and whether one
// is set.
func (s Signal) InitialAppearance() (wire.Appearance, bool) {
	return s.initial, s.Initial != ""
}

// ParseAppearance accepts an appearance name in any case.
func ParseAppearance(s string) (wire.Appearance, error) {
	return wire.ParseAppearance(strings.ToUpper(strings.TrimSpace(s)))
}

// Layout lists the turnouts, sensors and signals of a model railway.
type Layout struct {
	Turnouts []Turnout `yaml:"turnouts"`
	Sensors  []Sensor  `yaml:"sensors"`
	Signals  []Signal  `yaml:"signals,omitempty"`
}

// Load reads and validates a layout file.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a layout document.
func Parse(data []byte) (*Layout, error) {
	var l Layout
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		if errors.Is(err, io.EOF) {
			return &l, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidLayout, err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Validate parses every address and checks that names are unique within
// each kind. Two signals may not use the same head ID on one endpoint.
func (l *Layout) Validate() error {
	seen := make(map[string]bool)
	for i := range l.Turnouts {
		t := &l.Turnouts[i]
		if t.Name == "" {
			return fmt.Errorf("%w: turnout %d has no name", ErrInvalidLayout, i)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate turnout %q", ErrInvalidLayout, t.Name)
		}
		seen[t.Name] = true

		out, err := address.ParseOutput(t.Address)
		if err != nil {
			return fmt.Errorf("%w: turnout %q: %w", ErrInvalidLayout, t.Name, err)
		}
		t.output = out

		switch t.Initial {
		case PositionNone, PositionThrown, PositionClosed:
		default:
			return fmt.Errorf("%w: turnout %q: unknown position %q", ErrInvalidLayout, t.Name, t.Initial)
		}
	}

	seen = make(map[string]bool)
	for i := range l.Sensors {
		s := &l.Sensors[i]
		if s.Name == "" {
			return fmt.Errorf("%w: sensor %d has no name", ErrInvalidLayout, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate sensor %q", ErrInvalidLayout, s.Name)
		}
		seen[s.Name] = true

		in, err := address.ParseInput(s.Address)
		if err != nil {
			return fmt.Errorf("%w: sensor %q: %w", ErrInvalidLayout, s.Name, err)
		}
		s.input = in
	}

	seen = make(map[string]bool)
	heads := make(map[string]string)
	for i := range l.Signals {
		s := &l.Signals[i]
		if s.Name == "" {
			return fmt.Errorf("%w: signal %d has no name", ErrInvalidLayout, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate signal %q", ErrInvalidLayout, s.Name)
		}
		seen[s.Name] = true

		h, err := address.ParseSignalHead(s.Address)
		if err != nil {
			return fmt.Errorf("%w: signal %q: %w", ErrInvalidLayout, s.Name, err)
		}
		key := h.ID + "@" + h.Endpoint.String()
		if other, dup := heads[key]; dup {
			return fmt.Errorf("%w: signals %q and %q share head %s", ErrInvalidLayout, other, s.Name, key)
		}
		heads[key] = s.Name
		s.head = h

		if s.Initial != "" {
			a, err := ParseAppearance(s.Initial)
			if err != nil {
				return fmt.Errorf("%w: signal %q: %w", ErrInvalidLayout, s.Name, err)
			}
			s.initial = a
		}
	}
	return nil
}

// Marshal encodes the layout as YAML.
func (l *Layout) Marshal() ([]byte, error) {
	return yaml.Marshal(l)
}
