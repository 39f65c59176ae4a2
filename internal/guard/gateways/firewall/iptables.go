package firewall

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"
	"strings"

	"github.com/coreos/go-iptables/iptables"

	"github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/domain"
)

const (
	filterTable  = "filter"
	defaultChain = "OUTPUT"
)

// ruleTable is the subset of *iptables.IPTables used here.
type ruleTable interface {
	Exists(table, chain string, rulespec ...string) (bool, error)
	Insert(table, chain string, pos int, rulespec ...string) error
	Delete(table, chain string, rulespec ...string) error
}

// TableFactory opens the rule table for one address family.
type TableFactory func(proto iptables.Protocol) (ruleTable, error)

// IPTablesOptions configures an IPTables manager.
type IPTablesOptions struct {
	Chain  string
	Logger log.Logger
	// NewTable overrides how tables are opened, for tests.
	NewTable TableFactory
}

// IPTables manages DROP rules with iptables and ip6tables.
//
// The tool binaries are located once at construction. A missing binary is not
// a startup error; every call against that family fails with ErrToolMissing.
type IPTables struct {
	chain  string
	logger log.Logger
	v4, v6 ruleTable
	v4Err  error
	v6Err  error
}

func openTable(proto iptables.Protocol) (ruleTable, error) {
	t, err := iptables.NewWithProtocol(proto)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NewIPTables opens the IPv4 and IPv6 tables.
func NewIPTables(opts IPTablesOptions) *IPTables {
	if opts.Chain == "" {
		opts.Chain = defaultChain
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	if opts.NewTable == nil {
		opts.NewTable = openTable
	}
	m := &IPTables{chain: opts.Chain, logger: opts.Logger}
	m.v4, m.v4Err = opts.NewTable(iptables.ProtocolIPv4)
	m.v6, m.v6Err = opts.NewTable(iptables.ProtocolIPv6)
	if m.v4Err != nil {
		m.logger.Warn(map[string]any{"error": m.v4Err.Error()}, "iptables unavailable")
	}
	if m.v6Err != nil {
		m.logger.Warn(map[string]any{"error": m.v6Err.Error()}, "ip6tables unavailable")
	}
	return m
}

// Block inserts a DROP rule for target at the head of the chain unless one exists.
func (m *IPTables) Block(ctx context.Context, target string) (domain.RuleStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.RuleUnchanged, fmt.Errorf("%w: %w", domain.ErrFirewallAction, err)
	}
	addr, err := ParseBlockTarget(target)
	if err != nil {
		return domain.RuleUnchanged, err
	}
	tbl, err := m.tableFor(addr)
	if err != nil {
		return domain.RuleUnchanged, err
	}

	spec := dropSpec(addr)
	exists, err := tbl.Exists(filterTable, m.chain, spec...)
	if err != nil {
		return domain.RuleUnchanged, classify("check", addr, err)
	}
	if exists {
		return domain.RuleAlreadyBlocked, nil
	}
	if err := tbl.Insert(filterTable, m.chain, 1, spec...); err != nil {
		return domain.RuleUnchanged, classify("insert", addr, err)
	}
	return domain.RuleBlocked, nil
}

// Unblock deletes the DROP rule for target. An absent rule is reported as ErrRuleAbsent.
func (m *IPTables) Unblock(ctx context.Context, target string) (domain.RuleStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.RuleUnchanged, fmt.Errorf("%w: %w", domain.ErrFirewallAction, err)
	}
	addr, err := ParseTarget(target)
	if err != nil {
		return domain.RuleUnchanged, err
	}
	tbl, err := m.tableFor(addr)
	if err != nil {
		return domain.RuleUnchanged, err
	}

	spec := dropSpec(addr)
	exists, err := tbl.Exists(filterTable, m.chain, spec...)
	if err != nil {
		return domain.RuleUnchanged, classify("check", addr, err)
	}
	if !exists {
		return domain.RuleUnchanged, fmt.Errorf("%w: %s", domain.ErrRuleAbsent, addr)
	}
	if err := tbl.Delete(filterTable, m.chain, spec...); err != nil {
		return domain.RuleUnchanged, classify("delete", addr, err)
	}
	return domain.RuleUnblocked, nil
}

func (m *IPTables) tableFor(addr netip.Addr) (ruleTable, error) {
	if addr.Is4() {
		if m.v4Err != nil {
			return nil, fmt.Errorf("%w: iptables: %w", domain.ErrToolMissing, m.v4Err)
		}
		return m.v4, nil
	}
	if m.v6Err != nil {
		return nil, fmt.Errorf("%w: ip6tables: %w", domain.ErrToolMissing, m.v6Err)
	}
	return m.v6, nil
}

func dropSpec(addr netip.Addr) []string {
	return []string{"-d", addr.String(), "-j", "DROP"}
}

// classify maps a tool failure onto the firewall sentinels using its exit
// diagnostics, which are the only signal iptables gives.
func classify(op string, addr netip.Addr, err error) error {
	msg := err.Error()
	var sentinel error
	switch {
	case errors.Is(err, exec.ErrNotFound):
		sentinel = domain.ErrToolMissing
	case strings.Contains(msg, "Permission denied"),
		strings.Contains(msg, "must be root"),
		strings.Contains(msg, "Operation not permitted"):
		sentinel = domain.ErrPermissionDenied
	case op == "delete" && (strings.Contains(msg, "Bad rule") || strings.Contains(msg, "does a matching rule exist")):
		sentinel = domain.ErrRuleAbsent
	default:
		sentinel = domain.ErrFirewallAction
	}

	var ipErr *iptables.Error
	if errors.As(err, &ipErr) {
		return fmt.Errorf("%w: %s %s (exit %d): %w", sentinel, op, addr, ipErr.ExitStatus(), err)
	}
	return fmt.Errorf("%w: %s %s: %w", sentinel, op, addr, err)
}
