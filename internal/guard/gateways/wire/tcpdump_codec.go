// Package wire decodes the line-oriented text emitted by capture tools.
package wire

import (
	"net/netip"
	"regexp"

	"github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/domain"
)

var (
	// IP 10.0.0.5.54321 > 93.184.216.34.443: ...
	ipv4Pair = regexp.MustCompile(`IP\s+(\d+\.\d+\.\d+\.\d+)\.\d+\s+>\s+(\d+\.\d+\.\d+\.\d+)\.\d+`)
	// IP6 fe80::1.546 > ff02::1:2.547: ...
	ipv6Pair = regexp.MustCompile(`IP6\s+([0-9A-Fa-f:.]+)\.\d+\s+>\s+([0-9A-Fa-f:.]+)\.\d+`)
	// IP laptop.lan.54321 > tracker.example.net.https: ...
	hostPair = regexp.MustCompile(`IP6?\s+\S+\.\w+\s+>\s+([A-Za-z0-9.-]+)\.\w+`)
)

// tcpdumpCodec decodes tcpdump -l output.
type tcpdumpCodec struct {
	logger log.Logger
}

// NewTcpdumpCodec returns a FlowCodec for tcpdump line output.
func NewTcpdumpCodec(logger log.Logger) FlowCodec {
	return &tcpdumpCodec{logger: logger}
}

// Decode tries the IPv4 pair, the IPv6 pair, then the hostname fallback.
// A literal pair that does not parse falls through to the next pattern.
// The hostname fallback yields no source.
func (c *tcpdumpCodec) Decode(line string) domain.FlowEvent {
	for _, re := range []*regexp.Regexp{ipv4Pair, ipv6Pair} {
		if ev, ok := matchLiteralPair(re, line); ok {
			return ev
		}
	}
	if m := hostPair.FindStringSubmatch(line); m != nil {
		return domain.FlowEvent{Destination: domain.Endpoint(m[1])}
	}
	c.logger.Debug(map[string]any{"line": line}, "no flow in line")
	return domain.FlowEvent{}
}

func matchLiteralPair(re *regexp.Regexp, line string) (domain.FlowEvent, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return domain.FlowEvent{}, false
	}
	src, err := netip.ParseAddr(m[1])
	if err != nil {
		return domain.FlowEvent{}, false
	}
	dst, err := netip.ParseAddr(m[2])
	if err != nil {
		return domain.FlowEvent{}, false
	}
	return domain.FlowEvent{
		Source:      domain.Endpoint(src.String()),
		Destination: domain.Endpoint(dst.String()),
	}, true
}
