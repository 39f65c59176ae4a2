package firewall

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"go.uber.org/multierr"

	"github.com/haukened/egress-guard/internal/guard/common/clock"
	"github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/domain"
)

// Registry persists which addresses are blocked.
type Registry interface {
	Record(rec domain.BlockRecord) error
	Remove(addr netip.Addr, at time.Time) (bool, error)
	List() ([]domain.BlockRecord, error)
}

// Recording wraps a Manager and mirrors successful changes into a Registry.
// Registry failures are logged; the rule table stays authoritative.
type Recording struct {
	next   Manager
	reg    Registry
	clock  clock.Clock
	logger log.Logger
}

// NewRecording decorates next. A nil clock uses the real clock.
func NewRecording(next Manager, reg Registry, clk clock.Clock, logger log.Logger) *Recording {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Recording{next: next, reg: reg, clock: clk, logger: logger}
}

func (r *Recording) Block(ctx context.Context, target string) (domain.RuleStatus, error) {
	st, err := r.next.Block(ctx, target)
	if err != nil || st != domain.RuleBlocked {
		return st, err
	}
	addr, _ := ParseTarget(target)
	rec := domain.BlockRecord{Addr: addr, Hostname: HostnameFromContext(ctx), BlockedAt: r.clock.Now()}
	if rerr := r.reg.Record(rec); rerr != nil {
		r.logger.Warn(map[string]any{"addr": addr.String(), "error": rerr.Error()}, "block not recorded in registry")
	}
	return st, nil
}

func (r *Recording) Unblock(ctx context.Context, target string) (domain.RuleStatus, error) {
	st, err := r.next.Unblock(ctx, target)
	addr, perr := ParseTarget(target)
	if perr != nil {
		return st, err
	}
	// an absent rule still clears a stale registry entry
	if err == nil || errors.Is(err, domain.ErrRuleAbsent) {
		if _, rerr := r.reg.Remove(addr, r.clock.Now()); rerr != nil {
			r.logger.Warn(map[string]any{"addr": addr.String(), "error": rerr.Error()}, "unblock not recorded in registry")
		}
	}
	return st, err
}

// Restore re-applies every registered block through m, typically after a
// reboot or a flushed rule table. It returns how many rules were inserted;
// failures are combined and do not stop the pass.
func Restore(ctx context.Context, m Manager, reg Registry, logger log.Logger) (int, error) {
	recs, err := reg.List()
	if err != nil {
		return 0, err
	}
	var (
		restored int
		errs     error
	)
	for _, rec := range recs {
		st, err := m.Block(ctx, rec.Addr.String())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if st == domain.RuleBlocked {
			restored++
		}
	}
	logger.Info(map[string]any{"registered": len(recs), "restored": restored}, "block registry restored")
	return restored, errs
}
