package firewall

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/haukened/egress-guard/internal/guard/domain"
)

// Memory is an in-process rule table with the same contract as IPTables.
// It backs tests and the dry-run firewall_backend.
type Memory struct {
	mu    sync.Mutex
	rules map[netip.Addr]struct{}
}

// NewMemory returns an empty rule table.
func NewMemory() *Memory {
	return &Memory{rules: make(map[netip.Addr]struct{})}
}

func (m *Memory) Block(ctx context.Context, target string) (domain.RuleStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.RuleUnchanged, fmt.Errorf("%w: %w", domain.ErrFirewallAction, err)
	}
	addr, err := ParseBlockTarget(target)
	if err != nil {
		return domain.RuleUnchanged, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[addr]; ok {
		return domain.RuleAlreadyBlocked, nil
	}
	m.rules[addr] = struct{}{}
	return domain.RuleBlocked, nil
}

func (m *Memory) Unblock(ctx context.Context, target string) (domain.RuleStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.RuleUnchanged, fmt.Errorf("%w: %w", domain.ErrFirewallAction, err)
	}
	addr, err := ParseTarget(target)
	if err != nil {
		return domain.RuleUnchanged, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[addr]; !ok {
		return domain.RuleUnchanged, fmt.Errorf("%w: %s", domain.ErrRuleAbsent, addr)
	}
	delete(m.rules, addr)
	return domain.RuleUnblocked, nil
}

// Rules returns the blocked addresses in sorted order.
func (m *Memory) Rules() []netip.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]netip.Addr, 0, len(m.rules))
	for a := range m.rules {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
