package domain

import (
	"fmt"
	"net/netip"
	"time"
)

// RuleStatus is the non-error outcome of a firewall operation.
type RuleStatus uint8

const (
	RuleUnchanged RuleStatus = iota
	RuleBlocked
	RuleAlreadyBlocked
	RuleUnblocked
)

// String returns a stable string representation of the rule status.
func (s RuleStatus) String() string {
	switch s {
	case RuleUnchanged:
		return "unchanged"
	case RuleBlocked:
		return "blocked"
	case RuleAlreadyBlocked:
		return "already_blocked"
	case RuleUnblocked:
		return "unblocked"
	default:
		return fmt.Sprintf("RuleStatus(%d)", s)
	}
}

// BlockRecord remembers an address this host has firewalled.
type BlockRecord struct {
	Addr      netip.Addr
	Hostname  string
	BlockedAt time.Time
}
