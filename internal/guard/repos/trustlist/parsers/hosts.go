package parsers

import (
	"bufio"
	"io"
	"net/netip"
	"strings"
	"time"

	logpkg "github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/common/utils"
	"github.com/haukened/egress-guard/internal/guard/domain"
)

// ParseHostsFile parses /etc/hosts-style files into exact TrustRules.
//
// Every hostname and alias after the address is trusted exactly. The
// address itself is not: a hosts entry vouches for the name, and local
// addresses are already exempt by scope. Lines mapping to an unspecified
// address (0.0.0.0 or ::) are sinkhole entries that block a name, so they
// trust nothing. Wildcards and names starting with '.' are skipped.
// Duplicates keep the first occurrence.
func ParseHostsFile(r io.Reader, source string, logger logpkg.Logger, now time.Time) ([]domain.TrustRule, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]domain.TrustRule, 0, 16)

	logger.Debug(map[string]any{"source": source}, "parse_hosts_start")

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())

		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}

		fields := strings.Fields(stripInlineComment(line))
		if len(fields) < 2 {
			logger.Debug(map[string]any{"line": lineNum}, "hosts_no_hostnames")
			continue
		}

		if addr, err := netip.ParseAddr(fields[0]); err == nil && addr.IsUnspecified() {
			logger.Debug(map[string]any{"line": lineNum, "address": fields[0]}, "hosts_skip_sinkhole")
			continue
		}

		for _, raw := range fields[1:] {
			if strings.HasPrefix(raw, ".") || strings.Contains(raw, "*") {
				logger.Debug(map[string]any{"line": lineNum, "raw": raw}, "hosts_skip_invalid_token")
				continue
			}

			name := utils.CanonicalDNSName(raw)
			if !isValidHostname(name) {
				logger.Debug(map[string]any{"line": lineNum, "name": name}, "hosts_skip_invalid_name")
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}

			rule, err := domain.NewExactTrustRule(name, source, now)
			if err != nil {
				logger.Debug(map[string]any{"line": lineNum, "name": name, "error": err.Error()}, "hosts_skip_constructor_error")
				continue
			}
			out = append(out, rule)
			seen[name] = struct{}{}
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_hosts_scan_error")
		return nil, err
	}

	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_hosts_done")
	return out, nil
}
