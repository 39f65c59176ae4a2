package parsers

import (
	"strings"
	"unicode"

	"github.com/haukened/egress-guard/internal/guard/common/utils"
	"github.com/haukened/egress-guard/internal/guard/domain"
)

// ruleKindFromRaw returns TrustRuleSuffix when raw begins with "*." or ".",
// otherwise fallback.
func ruleKindFromRaw(raw string, fallback domain.TrustRuleKind) domain.TrustRuleKind {
	if strings.HasPrefix(raw, "*.") || strings.HasPrefix(raw, ".") {
		return domain.TrustRuleSuffix
	}
	return fallback
}

// isValidName checks label lengths and the leading character of a DNS name.
// minLabels is 2 for list entries and 1 for hosts files, where bare host
// names like "localhost" are normal.
func isValidName(name string, minLabels int) bool {
	if name == "" || len(name) > 255 || strings.ContainsFunc(name, unicode.IsSpace) {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < minLabels {
		return false
	}
	for _, label := range labels {
		if len(label) > 63 || len(label) == 0 {
			return false
		}
	}
	first := []rune(labels[0])[0]
	return isAlphaNumeric(first) || first == '_'
}

// isValidFQDN requires at least two labels, e.g. example.com.
func isValidFQDN(name string) bool { return isValidName(name, 2) }

// isValidHostname allows single-label names.
func isValidHostname(name string) bool { return isValidName(name, 1) }

// normalizeDomainName strips a leading "*." or "." marker and canonicalizes.
func normalizeDomainName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "*.")
	name = strings.TrimPrefix(name, ".")
	return utils.CanonicalDNSName(name)
}

func isAlphaNumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func stripLineBOM(line string) string {
	return strings.TrimPrefix(line, "\uFEFF")
}

// classifyLine reports whether line is blank or a whole-line comment.
func classifyLine(line string) (isEmpty, isComment bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true, false
	}
	return false, strings.HasPrefix(trimmed, "#")
}

func stripInlineComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}
