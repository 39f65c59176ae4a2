// Package monitor drives captured traffic through classification, resolution,
// auditing and blocking, one line at a time.
package monitor

import (
	"context"
	"errors"
	"net/netip"

	"github.com/haukened/egress-guard/internal/guard/common/clock"
	"github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/common/metrics"
	"github.com/haukened/egress-guard/internal/guard/common/utils"
	"github.com/haukened/egress-guard/internal/guard/domain"
	"github.com/haukened/egress-guard/internal/guard/gateways/firewall"
)

// Monitor is the engine's control loop. It is not safe for concurrent Run calls;
// a single goroutine processing events in arrival order keeps the firewall's
// check-then-insert free of self-races.
type Monitor struct {
	codec      Decoder
	classifier Classifier
	resolver   Resolver
	firewall   Firewall
	audit      AuditLog
	clock      clock.Clock
	logger     log.Logger
	metrics    metrics.Recorder
}

// Options wires a Monitor to its collaborators. Codec, Classifier,
// Resolver, Firewall and AuditLog are required.
type Options struct {
	Codec      Decoder
	Classifier Classifier
	Resolver   Resolver
	Firewall   Firewall
	AuditLog   AuditLog
	Clock      clock.Clock
	Logger     log.Logger
	// Metrics may be nil.
	Metrics metrics.Recorder
}

// Outcome summarizes what happened to one line.
type Outcome struct {
	Event    domain.FlowEvent
	Decision *domain.BlockDecision
	// AuditID is zero when nothing was appended.
	AuditID     int64
	AuditErr    error
	Rule        domain.RuleStatus
	FirewallErr error
}

// Skipped reports whether the line produced no decision.
func (o Outcome) Skipped() bool { return !o.Event.HasDestination() }

// New builds a Monitor from opts. A nil Clock, Logger or Metrics falls
// back to the real clock, the global logger and a no-op recorder.
func New(opts Options) *Monitor {
	m := &Monitor{
		codec:      opts.Codec,
		classifier: opts.Classifier,
		resolver:   opts.Resolver,
		firewall:   opts.Firewall,
		audit:      opts.AuditLog,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
	if m.clock == nil {
		m.clock = clock.RealClock{}
	}
	if m.logger == nil {
		m.logger = log.GetLogger()
	}
	if m.metrics == nil {
		m.metrics = (*metrics.Registry)(nil)
	}
	return m
}

// Run consumes src until it is exhausted or ctx is canceled. Stream closure is
// the normal exit: Run returns src.Err(), which is nil at EOF. Cancellation
// returns nil.
func (m *Monitor) Run(ctx context.Context, src LineSource) error {
	m.logger.Info(nil, "monitor started")
	var lines uint64
	for src.Scan() {
		if ctx.Err() != nil {
			break
		}
		lines++
		m.Process(ctx, src.Text())
	}
	m.logger.Info(map[string]any{"lines": lines}, "monitor stopped")
	if ctx.Err() != nil {
		return nil
	}
	return src.Err()
}

// Process takes one line through the state machine to completion.
func (m *Monitor) Process(ctx context.Context, line string) Outcome {
	out := Outcome{Event: m.codec.Decode(line)}
	if !out.Event.HasDestination() {
		m.metrics.Event(metrics.OutcomeSkipped)
		return out
	}
	src, dst := out.Event.Source, out.Event.Destination

	verdict := m.classifier.Evaluate(dst)
	if verdict.Classification.IsTrusted() {
		m.metrics.Event(metrics.OutcomeTrusted)
		m.logger.Debug(map[string]any{
			"destination": dst.String(),
			"reason":      string(verdict.Reason),
			"rule":        verdict.Rule,
		}, "trusted destination skipped")
		return out
	}
	m.metrics.Event(metrics.OutcomeSuspicious)

	fields := map[string]any{"source": sourceLabel(src), "destination": dst.String()}
	if !dst.IsIP() {
		fields["apex"] = utils.GetApexDomain(dst.String())
	}
	m.logger.Warn(fields, "suspicious destination")

	decision := domain.BlockDecision{Source: src, Destination: dst, Status: domain.StatusBlocked}
	target := dst.String()
	if !dst.IsIP() {
		if addr, ok := m.resolve(ctx, dst.String()); ok {
			decision.Destination = domain.Endpoint(addr.String())
			decision.ResolvedHostname = dst.String()
			target = addr.String()
		}
	}
	out.Decision = &decision

	// Detection is recorded before the firewall is touched, whatever it reports.
	out.AuditID, out.AuditErr = m.audit.Append(ctx, domain.NewAuditEntry(decision, m.clock.Now()))
	if out.AuditErr != nil {
		m.metrics.AuditFailure()
		m.logger.Error(map[string]any{
			"destination": decision.Destination.String(),
			"error":       out.AuditErr.Error(),
		}, "audit log append failed, block has no audit trail")
	}

	bctx := ctx
	if decision.ResolvedHostname != "" {
		bctx = firewall.ContextWithHostname(ctx, decision.ResolvedHostname)
	}
	out.Rule, out.FirewallErr = m.firewall.Block(bctx, target)
	m.reportBlock(target, out.Rule, out.FirewallErr)
	return out
}

func (m *Monitor) resolve(ctx context.Context, name string) (netip.Addr, bool) {
	addr, err := m.resolver.Resolve(ctx, name)
	if err != nil {
		m.metrics.Resolution(false)
		m.logger.Warn(map[string]any{"hostname": name, "error": err.Error()}, "hostname not resolved")
		return netip.Addr{}, false
	}
	m.metrics.Resolution(true)
	m.logger.Debug(map[string]any{"hostname": name, "addr": addr.String()}, "hostname resolved")
	return addr, true
}

func (m *Monitor) reportBlock(target string, st domain.RuleStatus, err error) {
	if err == nil {
		m.metrics.Firewall(st.String())
		if st == domain.RuleBlocked {
			m.logger.Info(map[string]any{"target": target}, "destination blocked")
		} else {
			m.logger.Debug(map[string]any{"target": target, "status": st.String()}, "destination already blocked")
		}
		return
	}

	m.metrics.Firewall(firewallFailure(err))
	fields := map[string]any{"target": target, "error": err.Error()}
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		m.logger.Error(fields, "firewall refused: insufficient privilege")
	default:
		m.logger.Warn(fields, "block failed")
	}
}

func firewallFailure(err error) string {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, domain.ErrToolMissing):
		return "tool_missing"
	case errors.Is(err, domain.ErrLocalAddress):
		return "local_address"
	case errors.Is(err, domain.ErrInvalidAddress):
		return "invalid_address"
	default:
		return "failed"
	}
}

func sourceLabel(src domain.Endpoint) string {
	if src.IsZero() {
		return "?"
	}
	return src.String()
}
