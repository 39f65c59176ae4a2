// Package resolver turns suspicious hostnames into addresses a firewall rule can name.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/common/utils"
	"github.com/haukened/egress-guard/internal/guard/domain"
)

const defaultTimeout = 3 * time.Second

var errNoAddress = errors.New("no address records")

// Resolver maps a hostname to one IP literal.
type Resolver interface {
	Resolve(ctx context.Context, name string) (netip.Addr, error)
}

// LookupFunc matches net.Resolver.LookupNetIP.
type LookupFunc func(ctx context.Context, network, host string) ([]netip.Addr, error)

// Options configures a DNSResolver.
type Options struct {
	// Servers are queried in order with A then AAAA. Empty uses Lookup.
	Servers []string
	// Timeout bounds one Resolve call.
	Timeout time.Duration
	Logger  log.Logger
	// Lookup overrides the system resolver, mainly for tests.
	Lookup LookupFunc
}

// DNSResolver resolves through configured DNS servers or the system resolver.
// Each call makes a single pass over its servers; it never retries.
type DNSResolver struct {
	servers []string
	timeout time.Duration
	client  *dns.Client
	lookup  LookupFunc
	logger  log.Logger
}

// New creates a DNSResolver from opts.
func New(opts Options) *DNSResolver {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Lookup == nil {
		opts.Lookup = net.DefaultResolver.LookupNetIP
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	return &DNSResolver{
		servers: opts.Servers,
		timeout: opts.Timeout,
		client:  &dns.Client{Net: "udp", Timeout: opts.Timeout},
		lookup:  opts.Lookup,
		logger:  opts.Logger,
	}
}

// Resolve returns an address for name, preferring IPv4.
// Names without a dot, shorter than four characters, or purely numeric fail
// with ErrNotResolvable and no query is sent. Every other failure wraps
// ErrResolutionFailed.
func (r *DNSResolver) Resolve(ctx context.Context, name string) (netip.Addr, error) {
	cn := utils.CanonicalDNSName(name)
	if addr, err := netip.ParseAddr(cn); err == nil {
		return addr.Unmap(), nil
	}
	if !utils.LooksResolvable(cn) {
		return netip.Addr{}, fmt.Errorf("%w: %q", domain.ErrNotResolvable, name)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		addrs []netip.Addr
		err   error
	)
	if len(r.servers) > 0 {
		addrs, err = r.exchange(ctx, cn)
	} else {
		addrs, err = r.lookup(ctx, "ip", cn)
	}
	if err == nil && len(addrs) == 0 {
		err = errNoAddress
	}
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %w", domain.ErrResolutionFailed, cn, err)
	}

	addr := pick(addrs)
	r.logger.Debug(map[string]any{"name": cn, "addr": addr.String(), "candidates": len(addrs)}, "resolved")
	return addr, nil
}

// exchange asks each server for A then AAAA and returns the first non-empty answer.
func (r *DNSResolver) exchange(ctx context.Context, fqdn string) ([]netip.Addr, error) {
	var lastErr error
	for _, server := range r.servers {
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			m := new(dns.Msg)
			m.SetQuestion(dns.Fqdn(fqdn), qtype)

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				lastErr = fmt.Errorf("server %s: %w", server, err)
				if ctx.Err() != nil {
					return nil, lastErr
				}
				break
			}
			if resp.Rcode != dns.RcodeSuccess {
				lastErr = fmt.Errorf("server %s: %s", server, dns.RcodeToString[resp.Rcode])
				break
			}
			if addrs := answerAddrs(resp); len(addrs) > 0 {
				return addrs, nil
			}
		}
	}
	if lastErr == nil {
		lastErr = errNoAddress
	}
	return nil, lastErr
}

func answerAddrs(m *dns.Msg) []netip.Addr {
	var out []netip.Addr
	for _, rr := range m.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, addr.Unmap())
		}
	}
	return out
}

// pick returns the first IPv4 address, or the first address when there is none.
func pick(addrs []netip.Addr) netip.Addr {
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return a.Unmap()
		}
	}
	return addrs[0].Unmap()
}
