package monitor

import (
	"context"
	"net/netip"

	"github.com/haukened/egress-guard/internal/guard/domain"
	"github.com/haukened/egress-guard/internal/guard/services/classifier"
)

// LineSource yields captured lines with bufio.Scanner semantics.
// It is lazy, unbounded and not restartable.
type LineSource interface {
	Scan() bool
	Text() string
	Err() error
}

// Decoder extracts a flow from one captured line.
type Decoder interface {
	Decode(line string) domain.FlowEvent
}

// Classifier decides whether a destination is trusted.
type Classifier interface {
	Evaluate(dst domain.Endpoint) classifier.Verdict
}

// Resolver turns a hostname into a single address.
type Resolver interface {
	Resolve(ctx context.Context, name string) (netip.Addr, error)
}

// Firewall installs DROP rules.
type Firewall interface {
	Block(ctx context.Context, target string) (domain.RuleStatus, error)
}

// AuditLog persists detections. Append must report every failure.
type AuditLog interface {
	Append(ctx context.Context, e domain.AuditEntry) (int64, error)
}
