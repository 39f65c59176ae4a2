package domain

import "fmt"

// Classification is the verdict for a destination.
type Classification uint8

const (
	// Suspicious is the zero value so that an unclassified destination is never trusted.
	Suspicious Classification = iota
	Trusted
)

// String returns a stable string representation of the classification.
func (c Classification) String() string {
	switch c {
	case Suspicious:
		return "suspicious"
	case Trusted:
		return "trusted"
	default:
		return fmt.Sprintf("Classification(%d)", c)
	}
}

// IsTrusted is a convenience accessor.
func (c Classification) IsTrusted() bool { return c == Trusted }
