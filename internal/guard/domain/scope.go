package domain

import "net/netip"

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// IsLocalScope reports whether addr belongs to infrastructure that must never be
// firewalled: private, loopback, multicast, link-local, unspecified, or the IPv4
// limited broadcast address.
func IsLocalScope(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	return addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsMulticast() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsUnspecified() ||
		addr == limitedBroadcast
}
