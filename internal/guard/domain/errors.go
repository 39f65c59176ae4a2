package domain

import "errors"

var (
	// ErrNotResolvable marks a destination with no evidence of being a DNS name; no lookup is attempted.
	ErrNotResolvable = errors.New("not a resolvable hostname")
	// ErrResolutionFailed marks a lookup that returned an error or no addresses.
	ErrResolutionFailed = errors.New("hostname resolution failed")

	// ErrInvalidAddress marks a firewall target that is not an IP literal.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrLocalAddress marks a private, loopback, or multicast target that must not be blocked.
	ErrLocalAddress = errors.New("refusing to firewall local-scope address")
	// ErrPermissionDenied marks a firewall call rejected for lack of privilege.
	ErrPermissionDenied = errors.New("firewall permission denied")
	// ErrToolMissing marks a firewall backend whose binary could not be found.
	ErrToolMissing = errors.New("firewall tool missing")
	// ErrRuleAbsent marks an unblock of a rule that does not exist.
	ErrRuleAbsent = errors.New("firewall rule absent")
	// ErrFirewallAction marks any other failed firewall invocation.
	ErrFirewallAction = errors.New("firewall action failed")

	// ErrLogStoreUnavailable marks an audit log write or read that could not be completed.
	ErrLogStoreUnavailable = errors.New("audit log store unavailable")
)
