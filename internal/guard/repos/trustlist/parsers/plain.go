package parsers

import (
	"bufio"
	"io"
	"strings"
	"time"

	logpkg "github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/domain"
)

// ParsePlainList parses a newline-delimited list of names into TrustRule values.
// Entries prefixed with "*." or "." are always suffix rules; other entries take
// defaultKind. IP literals are always exact.
//
// Behavior:
// - Supports comments starting with '#' (inline or whole-line)
// - A line may hold several whitespace-separated names
// - Skips blank lines and tokens that are not valid names
// - De-duplicates by canonical name and kind, preserving first-seen order
func ParsePlainList(r io.Reader, source string, defaultKind domain.TrustRuleKind, logger logpkg.Logger, now time.Time) ([]domain.TrustRule, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]domain.TrustRule, 0, 64)
	logger.Debug(map[string]any{"source": source}, "parse_plain_list_start")
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())

		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}

		for _, s := range strings.Fields(stripInlineComment(line)) {
			kind := ruleKindFromRaw(s, defaultKind)
			name := normalizeDomainName(s)

			if !isValidFQDN(name) {
				logger.Debug(map[string]any{"line": lineNum, "raw": s}, "skip_invalid_name")
				continue
			}

			rule, err := domain.NewTrustRule(name, kind, source, now)
			if err != nil {
				logger.Debug(map[string]any{"line": lineNum, "name": name, "error": err.Error()}, "skip_constructor_error")
				continue
			}

			seenKey := rule.Name + "|" + rule.Kind.String()
			if _, ok := seen[seenKey]; ok {
				continue
			}
			out = append(out, rule)
			seen[seenKey] = struct{}{}
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_plain_list_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_plain_list_done")
	return out, nil
}
