package motion

import (
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Mode selects the positioning algorithm.
type Mode int

const (
	// ModeReferenceInput writes the absolute target and lets the desk drive itself.
	ModeReferenceInput Mode = iota
	// ModeUpDown holds a directional command until the target is crossed.
	ModeUpDown
)

func (m Mode) String() string {
	switch m {
	case ModeReferenceInput:
		return "reference_input"
	case ModeUpDown:
		return "up_down"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the String form of a mode plus the short aliases "reference" and "updown".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reference_input", "reference", "ref", "":
		return ModeReferenceInput, nil
	case "up_down", "updown":
		return ModeUpDown, nil
	default:
		return 0, fmt.Errorf("unknown motion mode %q", s)
	}
}

// Request is a single move. It exists only while the move is in flight.
type Request struct {
	ID       ulid.ULID
	TargetMm int
	Mode     Mode
}

// NewRequest creates a request with a fresh id.
func NewRequest(targetMm int, mode Mode) Request {
	return Request{ID: ulid.Make(), TargetMm: targetMm, Mode: mode}
}
