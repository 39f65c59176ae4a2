package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/egress-guard/internal/guard/domain"
	"github.com/haukened/egress-guard/internal/guard/repos/trustlist"
)

// decisionCache is an LRU-backed trustlist.DecisionCache tracking hits, misses, and evictions.
type decisionCache struct {
	lru       *lru.Cache[string, domain.TrustDecision]
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// disabledCache always misses. Used when size <= 0.
type disabledCache struct{}

// New creates a DecisionCache holding up to size decisions.
// If size <= 0, a disabled cache is returned.
func New(size int) (trustlist.DecisionCache, error) {
	if size <= 0 {
		return disabledCache{}, nil
	}

	dc := &decisionCache{}
	cache, err := lru.NewWithEvict(size, func(_ string, _ domain.TrustDecision) {
		dc.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	dc.lru = cache
	return dc, nil
}

func (c *decisionCache) Get(name string) (domain.TrustDecision, bool) {
	if val, ok := c.lru.Get(name); ok {
		c.hits.Add(1)
		return val, true
	}
	c.misses.Add(1)
	return domain.TrustDecision{}, false
}

func (c *decisionCache) Put(name string, d domain.TrustDecision) {
	c.lru.Add(name, d)
}

func (c *decisionCache) Len() int { return c.lru.Len() }

// Purge clears all entries. Evictions are counted via the eviction callback.
func (c *decisionCache) Purge() { c.lru.Purge() }

func (c *decisionCache) Stats() (hits, misses, evictions uint64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

func (disabledCache) Get(string) (domain.TrustDecision, bool) { return domain.TrustDecision{}, false }
func (disabledCache) Put(string, domain.TrustDecision)        {}
func (disabledCache) Len() int                                { return 0 }
func (disabledCache) Purge()                                  {}
func (disabledCache) Stats() (uint64, uint64, uint64)         { return 0, 0, 0 }

var _ trustlist.DecisionCache = (*decisionCache)(nil)
var _ trustlist.DecisionCache = disabledCache{}
