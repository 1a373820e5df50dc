package format

import "strings"

// Mode is the index-mode bitmask stored in the file header. A sub-header's
// tag byte carries exactly one of these bits.
type Mode uint8

const (
	// ModeOrdinal indexes every Nth packet by packet number.
	ModeOrdinal Mode = 0x01

	// ModeTemporal indexes packets at a minimum timestamp spacing.
	ModeTemporal Mode = 0x02
)

// Has reports whether every bit in m2 is set in m.
func (m Mode) Has(m2 Mode) bool {
	return m2 != 0 && m&m2 == m2
}

// Name returns the mode name used in index and extract specs.
func (m Mode) Name() string {
	switch m {
	case ModeOrdinal:
		return "pkt-num"
	case ModeTemporal:
		return "timestamp"
	default:
		return "unknown"
	}
}

// String renders single modes by name and combinations joined by '+'.
func (m Mode) String() string {
	if m == ModeOrdinal || m == ModeTemporal {
		return m.Name()
	}
	var parts []string
	for _, single := range []Mode{ModeOrdinal, ModeTemporal} {
		if m.Has(single) {
			parts = append(parts, single.Name())
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// ModeByName looks up a single mode by its spec name.
func ModeByName(name string) (Mode, bool) {
	switch name {
	case "pkt-num":
		return ModeOrdinal, true
	case "timestamp":
		return ModeTemporal, true
	default:
		return 0, false
	}
}

// Modes lists the supported single modes in tag order.
func Modes() []Mode {
	return []Mode{ModeOrdinal, ModeTemporal}
}
