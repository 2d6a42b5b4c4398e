package wire

import "fmt"

// Appearance is what a two-lamp signal head shows.
type Appearance uint8

const (
	AppearanceDark Appearance = iota
	AppearanceRed
	AppearanceGreen
	AppearanceFlashRed
	AppearanceFlashGreen
)

// String returns the wire token for the appearance.
func (a Appearance) String() string {
	switch a {
	case AppearanceDark:
		return "DARK"
	case AppearanceRed:
		return "RED"
	case AppearanceGreen:
		return "GREEN"
	case AppearanceFlashRed:
		return "FLASHRED"
	case AppearanceFlashGreen:
		return "FLASHGREEN"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether a is one of the defined appearances.
func (a Appearance) IsValid() bool {
	return a <= AppearanceFlashGreen
}

// Flashing reports whether the lit lamp blinks.
func (a Appearance) Flashing() bool {
	return a == AppearanceFlashRed || a == AppearanceFlashGreen
}

// Lamps returns which lamps are lit. For a flashing appearance the blinking
// lamp is reported lit.
func (a Appearance) Lamps() (red, green bool) {
	switch a {
	case AppearanceRed, AppearanceFlashRed:
		return true, false
	case AppearanceGreen, AppearanceFlashGreen:
		return false, true
	default:
		return false, false
	}
}

// ParseAppearance parses a wire token.
func ParseAppearance(s string) (Appearance, error) {
	switch s {
	case "DARK":
		return AppearanceDark, nil
	case "RED":
		return AppearanceRed, nil
	case "GREEN":
		return AppearanceGreen, nil
	case "FLASHRED":
		return AppearanceFlashRed, nil
	case "FLASHGREEN":
		return AppearanceFlashGreen, nil
	default:
		return 0, fmt.Errorf("unknown appearance %q", s)
	}
}
