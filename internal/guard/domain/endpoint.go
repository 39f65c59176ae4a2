package domain

import (
	"net/netip"
	"strings"
)

// Endpoint identifies one side of an observed flow: an IP literal or a hostname.
type Endpoint string

// IsZero reports whether no endpoint was captured.
func (e Endpoint) IsZero() bool { return strings.TrimSpace(string(e)) == "" }

// String returns the endpoint as observed.
func (e Endpoint) String() string { return string(e) }

// Addr parses the endpoint as an IP literal. IPv4-mapped IPv6 addresses are unmapped.
func (e Endpoint) Addr() (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(string(e)))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// IsIP reports whether the endpoint is an IP literal.
func (e Endpoint) IsIP() bool {
	_, ok := e.Addr()
	return ok
}

// FlowEvent is the (source, destination) pair decoded from one captured line.
// Source may be empty when only the destination could be recognized.
type FlowEvent struct {
	Source      Endpoint
	Destination Endpoint
}

// HasDestination reports whether the event carries a destination and should be processed.
func (f FlowEvent) HasDestination() bool { return !f.Destination.IsZero() }
