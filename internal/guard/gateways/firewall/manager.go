// Package firewall manages outbound DROP rules keyed by destination address.
package firewall

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/domain"
)

// Backend names accepted by NewBackend.
const (
	BackendIPTables = "iptables"
	BackendMemory   = "memory"
)

// Manager ensures a DROP rule for an address exists (Block) or is absent (Unblock).
//
// Block returns RuleBlocked or RuleAlreadyBlocked on success. Unblock returns
// RuleUnblocked, or ErrRuleAbsent when there was nothing to remove. Failures
// wrap one of the domain firewall sentinels and are never fatal to the caller.
type Manager interface {
	Block(ctx context.Context, target string) (domain.RuleStatus, error)
	Unblock(ctx context.Context, target string) (domain.RuleStatus, error)
}

// NewBackend builds the named rule manager. chain only applies to iptables.
func NewBackend(name, chain string, logger log.Logger) (Manager, error) {
	switch name {
	case BackendIPTables:
		return NewIPTables(IPTablesOptions{Chain: chain, Logger: logger}), nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown firewall backend %q", name)
	}
}

// ParseTarget accepts an IP literal and returns it unmapped.
func ParseTarget(target string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(target))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q is not an IP literal", domain.ErrInvalidAddress, target)
	}
	return addr.Unmap(), nil
}

// ParseBlockTarget is ParseTarget that also refuses local-scope addresses.
func ParseBlockTarget(target string) (netip.Addr, error) {
	addr, err := ParseTarget(target)
	if err != nil {
		return netip.Addr{}, err
	}
	if domain.IsLocalScope(addr) {
		return netip.Addr{}, fmt.Errorf("%w: %s", domain.ErrLocalAddress, addr)
	}
	return addr, nil
}

type hostnameKey struct{}

// ContextWithHostname attaches the hostname a block target was resolved from.
func ContextWithHostname(ctx context.Context, hostname string) context.Context {
	return context.WithValue(ctx, hostnameKey{}, hostname)
}

// HostnameFromContext returns the hostname set by ContextWithHostname, if any.
func HostnameFromContext(ctx context.Context) string {
	v, _ := ctx.Value(hostnameKey{}).(string)
	return v
}
