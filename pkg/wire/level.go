package wire

import "fmt"

// Level is the electrical state of an input pin. Inputs are wired with a
// pull-up, so a closed contact pulls the pin to ground and reads ACTIVE.
type Level uint8

const (
	// LevelInactive means the pin sits at supply voltage.
	LevelInactive Level = iota
	// LevelActive means the pin is pulled to ground.
	LevelActive
)

// String returns the wire token for the level.
func (l Level) String() string {
	switch l {
	case LevelInactive:
		return "INACTIVE"
	case LevelActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Grounded reports whether the pin is pulled to ground.
func (l Level) Grounded() bool {
	return l == LevelActive
}

// IsValid reports whether l is one of the defined levels.
func (l Level) IsValid() bool {
	return l == LevelInactive || l == LevelActive
}

// LevelFromGrounded converts a pin reading to a Level.
func LevelFromGrounded(grounded bool) Level {
	if grounded {
		return LevelActive
	}
	return LevelInactive
}

// ParseLevel parses a wire token.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "ACTIVE":
		return LevelActive, nil
	case "INACTIVE":
		return LevelInactive, nil
	default:
		return 0, fmt.Errorf("unknown level %q", s)
	}
}
