package analysis

import (
	"fmt"
	"strings"
)

// Quality classifies how clearly the pulse stands out of the in-band noise.
type Quality int

// Quality levels, ordered from worst to best.
const (
	Poor Quality = iota
	Fair
	Good
	Excellent
)

// String returns the display label.
func (q Quality) String() string {
	switch q {
	case Poor:
		return "Poor"
	case Fair:
		return "Fair"
	case Good:
		return "Good"
	case Excellent:
		return "Excellent"
	default:
		return "Unknown"
	}
}

// Color returns the hex colour used by overlays for this level.
func (q Quality) Color() string {
	switch q {
	case Good, Excellent:
		return "#4caf50"
	case Fair:
		return "#ffeb3b"
	default:
		return "#f44336"
	}
}

// MarshalText encodes the label so JSON snapshots carry "Good" instead of 2.
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText parses a label (case-insensitive).
func (q *Quality) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "poor":
		*q = Poor
	case "fair":
		*q = Fair
	case "good":
		*q = Good
	case "excellent":
		*q = Excellent
	default:
		return fmt.Errorf("unknown quality label: '%s'", text)
	}
	return nil
}

// Classify maps a smoothed peak/noise ratio onto a level. Poor is never
// returned here; it is reserved for evaluations without a usable peak.
func Classify(ratio, goodAbove, excellentAbove float64) Quality {
	switch {
	case ratio > excellentAbove:
		return Excellent
	case ratio > goodAbove:
		return Good
	default:
		return Fair
	}
}
