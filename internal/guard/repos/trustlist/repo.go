package trustlist

import (
	"net/netip"
	"strings"

	"github.com/haukened/egress-guard/internal/guard/common/utils"
	"github.com/haukened/egress-guard/internal/guard/domain"
)

// DefaultFPRate is the Bloom filter false-positive target used by the daemon.
const DefaultFPRate = 0.001

// repository implements Repository over an immutable in-memory index.
// Reads go bloom → cache → index. The rule set never changes after
// construction, so the only shared mutable state is the cache, which
// synchronizes itself.
type repository struct {
	exact  map[string]domain.TrustRule
	suffix map[string]domain.TrustRule
	bloom  BloomFilter
	cache  DecisionCache
}

// NewRepository indexes rules and builds a Bloom filter from factory.
// A nil factory skips the Bloom stage; a nil cache disables memoization.
// Duplicate rules keep the first occurrence.
func NewRepository(rules []domain.TrustRule, cache DecisionCache, factory BloomFactory, fpRate float64) Repository {
	r := &repository{
		exact:  make(map[string]domain.TrustRule),
		suffix: make(map[string]domain.TrustRule),
		cache:  cache,
	}
	if r.cache == nil {
		r.cache = nopCache{}
	}

	for _, ru := range rules {
		name := utils.CanonicalDNSName(ru.Name)
		if name == "" {
			continue
		}
		ru.Name = name
		switch ru.Kind {
		case domain.TrustRuleExact:
			if _, ok := r.exact[name]; !ok {
				r.exact[name] = ru
			}
		case domain.TrustRuleSuffix:
			if _, ok := r.suffix[name]; !ok {
				r.suffix[name] = ru
			}
		}
	}

	if factory != nil {
		bf := factory.New(uint64(len(r.exact)+len(r.suffix)), fpRate)
		for name := range r.exact {
			bf.Add([]byte(name))
		}
		for name := range r.suffix {
			bf.Add([]byte(reverseString(name)))
		}
		r.bloom = bf
	}
	return r
}

// Decide returns the trust decision for name. Matching is case-insensitive
// and ignores trailing dots. A suffix rule matches its own name and any name
// ending in "." followed by it; a bare string suffix never matches.
func (r *repository) Decide(name string) domain.TrustDecision {
	cn := utils.CanonicalDNSName(name)
	if cn == "" {
		return domain.UntrustedDecision()
	}
	if !r.checkBloom(cn) {
		return domain.UntrustedDecision()
	}
	if d, ok := r.cache.Get(cn); ok {
		return d
	}
	dec := r.checkIndex(cn)
	r.cache.Put(cn, dec)
	return dec
}

// RepoStats returns rule counts and cache counters.
func (r *repository) RepoStats() RepoStats {
	hits, misses, evictions := r.cache.Stats()
	return RepoStats{
		ExactRules:  len(r.exact),
		SuffixRules: len(r.suffix),
		Hits:        hits,
		Misses:      misses,
		Evictions:   evictions,
	}
}

// checkBloom returns false when no rule can possibly match cn.
func (r *repository) checkBloom(cn string) bool {
	if r.bloom == nil {
		return true
	}
	if r.bloom.MightContain([]byte(cn)) {
		return true
	}
	if isIPLiteral(cn) {
		return false
	}
	found := false
	walkSuffixes(cn, func(anchor string) bool {
		found = r.bloom.MightContain([]byte(reverseString(anchor)))
		return !found
	})
	return found
}

// checkIndex consults the authoritative maps, exact first, then the
// most specific suffix anchor.
func (r *repository) checkIndex(cn string) domain.TrustDecision {
	if ru, ok := r.exact[cn]; ok {
		return decisionFor(ru)
	}
	if isIPLiteral(cn) {
		return domain.UntrustedDecision()
	}
	dec := domain.UntrustedDecision()
	walkSuffixes(cn, func(anchor string) bool {
		if ru, ok := r.suffix[anchor]; ok {
			dec = decisionFor(ru)
			return false
		}
		return true
	})
	return dec
}

func decisionFor(ru domain.TrustRule) domain.TrustDecision {
	return domain.TrustDecision{Trusted: true, MatchedRule: ru.Name, Source: ru.Source, Kind: ru.Kind}
}

// walkSuffixes calls visit with name and each parent on a label boundary,
// most specific first, until visit returns false.
func walkSuffixes(name string, visit func(anchor string) bool) {
	a := name
	for a != "" {
		if !visit(a) {
			return
		}
		i := strings.IndexByte(a, '.')
		if i < 0 {
			return
		}
		a = a[i+1:]
	}
}

func isIPLiteral(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

// reverseString reverses the string runes so suffix anchors share a prefix
// space distinct from exact keys.
func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

type nopCache struct{}

func (nopCache) Get(string) (domain.TrustDecision, bool) { return domain.TrustDecision{}, false }
func (nopCache) Put(string, domain.TrustDecision)        {}
func (nopCache) Len() int                                { return 0 }
func (nopCache) Purge()                                  {}
func (nopCache) Stats() (uint64, uint64, uint64)         { return 0, 0, 0 }
