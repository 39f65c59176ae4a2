package domain

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// TrustRuleKind defines how an allow-list entry matches destinations.
//
// exact  - matches the name only
// suffix - matches the name and any name below it (apex-inclusive)
type TrustRuleKind uint8

const (
	// TrustRuleExact matches only the exact name or address.
	TrustRuleExact TrustRuleKind = iota
	// TrustRuleSuffix matches the name and all its sub-names.
	TrustRuleSuffix
)

// String returns a stable string representation of the rule kind.
func (k TrustRuleKind) String() string {
	switch k {
	case TrustRuleExact:
		return "exact"
	case TrustRuleSuffix:
		return "suffix"
	default:
		return fmt.Sprintf("TrustRuleKind(%d)", k)
	}
}

// ParseTrustRuleKind converts a string into a TrustRuleKind.
// Accepts: "exact", "suffix" (case-insensitive).
func ParseTrustRuleKind(s string) (TrustRuleKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact":
		return TrustRuleExact, nil
	case "suffix":
		return TrustRuleSuffix, nil
	default:
		return 0, fmt.Errorf("unsupported TrustRuleKind: %q", s)
	}
}

// TrustRule is a single allow-list entry.
//
// Notes:
// - Name is canonical: lowercase, no trailing dot.
// - Source identifies where the rule came from (config key, file path).
// - IP literals are always exact; suffix matching is meaningless for addresses.
type TrustRule struct {
	Name    string
	Kind    TrustRuleKind
	Source  string
	AddedAt time.Time
}

// NewTrustRule constructs a TrustRule and validates its fields.
// A suffix rule naming an IP literal is downgraded to exact.
func NewTrustRule(name string, kind TrustRuleKind, source string, addedAt time.Time) (TrustRule, error) {
	r := TrustRule{
		Name:    strings.TrimSpace(name),
		Kind:    kind,
		Source:  strings.TrimSpace(source),
		AddedAt: addedAt,
	}
	if _, err := netip.ParseAddr(r.Name); err == nil {
		r.Kind = TrustRuleExact
	}
	if err := r.Validate(); err != nil {
		return TrustRule{}, err
	}
	return r, nil
}

// NewExactTrustRule convenience constructor for an exact rule.
func NewExactTrustRule(name, source string, addedAt time.Time) (TrustRule, error) {
	return NewTrustRule(name, TrustRuleExact, source, addedAt)
}

// NewSuffixTrustRule convenience constructor for a suffix rule (apex-inclusive).
func NewSuffixTrustRule(name, source string, addedAt time.Time) (TrustRule, error) {
	return NewTrustRule(name, TrustRuleSuffix, source, addedAt)
}

// Validate checks the TrustRule for required fields and supported values.
func (r TrustRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	if r.Source == "" {
		return fmt.Errorf("rule source must not be empty")
	}
	if r.AddedAt.IsZero() {
		return fmt.Errorf("rule addedAt must be set")
	}
	switch r.Kind {
	case TrustRuleExact, TrustRuleSuffix:
	default:
		return fmt.Errorf("unsupported TrustRuleKind: %d", r.Kind)
	}
	return nil
}

// IsExact returns true when the rule kind is exact.
func (r TrustRule) IsExact() bool { return r.Kind == TrustRuleExact }

// IsSuffix returns true when the rule kind is suffix (apex-inclusive).
func (r TrustRule) IsSuffix() bool { return r.Kind == TrustRuleSuffix }

// TrustDecision is the outcome of matching a name against the allow-list.
type TrustDecision struct {
	Trusted     bool
	MatchedRule string
	Source      string
	Kind        TrustRuleKind
}

// IsTrusted is a convenience accessor.
func (d TrustDecision) IsTrusted() bool { return d.Trusted }

// UntrustedDecision returns a no-match decision.
func UntrustedDecision() TrustDecision { return TrustDecision{Trusted: false} }
