package classifier

import "github.com/haukened/egress-guard/internal/guard/domain"

// TrustList answers allow-list membership for a destination name.
// Implementations must be safe for concurrent use and must not change
// their answers after construction.
type TrustList interface {
	Decide(name string) domain.TrustDecision
}
