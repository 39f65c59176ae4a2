package utils

import "strings"

// CanonicalDNSName returns a DNS name in canonical form:
// - Lowercased
// - Trimmed of surrounding whitespace
// - No trailing dot
//
// IP literals pass through unchanged apart from case, so the same form works
// as a lookup key for both hostnames and addresses.
func CanonicalDNSName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	return name
}

// LooksResolvable reports whether name carries enough evidence of being a DNS
// name to be worth a lookup: at least four characters, not purely numeric, and
// at least one label separator.
func LooksResolvable(name string) bool {
	name = CanonicalDNSName(name)
	if len(name) < 4 || isAllDigits(name) {
		return false
	}
	return strings.Contains(name, ".")
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
