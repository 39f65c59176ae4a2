// Package classifier decides whether an observed destination is trusted.
package classifier

import (
	"github.com/haukened/egress-guard/internal/guard/domain"
)

// Reason explains which check produced a verdict.
type Reason string

const (
	ReasonAllowList  Reason = "allow_list"
	ReasonLocalScope Reason = "local_scope"
	ReasonNoMatch    Reason = "no_match"
)

// Verdict is a classification plus the evidence behind it.
type Verdict struct {
	Classification domain.Classification
	Reason         Reason
	// Rule is the allow-list entry that matched, if any.
	Rule   string
	Source string
}

// Classifier is a pure function of its trust list. It holds no mutable state
// of its own and is safe for concurrent use.
type Classifier struct {
	trust TrustList
}

// New returns a Classifier over trust. A nil trust list trusts nothing by name.
func New(trust TrustList) *Classifier {
	return &Classifier{trust: trust}
}

// Classify returns Trusted or Suspicious for dst.
func (c *Classifier) Classify(dst domain.Endpoint) domain.Classification {
	return c.Evaluate(dst).Classification
}

// Evaluate classifies dst and reports why. Anything that is neither on the
// allow-list nor a local-scope literal is Suspicious, including garbage input.
func (c *Classifier) Evaluate(dst domain.Endpoint) Verdict {
	if dst.IsZero() {
		return Verdict{Classification: domain.Suspicious, Reason: ReasonNoMatch}
	}

	if c.trust != nil {
		if d := c.trust.Decide(dst.String()); d.Trusted {
			return Verdict{
				Classification: domain.Trusted,
				Reason:         ReasonAllowList,
				Rule:           d.MatchedRule,
				Source:         d.Source,
			}
		}
	}

	if addr, ok := dst.Addr(); ok && domain.IsLocalScope(addr) {
		return Verdict{Classification: domain.Trusted, Reason: ReasonLocalScope}
	}

	return Verdict{Classification: domain.Suspicious, Reason: ReasonNoMatch}
}
