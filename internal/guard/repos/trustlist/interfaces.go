package trustlist

import "github.com/haukened/egress-guard/internal/guard/domain"

// BloomFilter is the minimal interface the repository needs from Bloom filters.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
	Clear()
}

// BloomFactory builds Bloom filters sized for a dataset.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// DecisionCache caches trust decisions by canonical name with basic metrics.
// Implementations must be safe for concurrent use.
type DecisionCache interface {
	Get(name string) (domain.TrustDecision, bool)
	Put(name string, d domain.TrustDecision)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// RepoStats exposes rule counts and cache counters.
type RepoStats struct {
	ExactRules  int
	SuffixRules int
	Hits        uint64
	Misses      uint64
	Evictions   uint64
}

// Repository answers whether a destination name is on the allow-list.
// Decide returns a value-type TrustDecision for any input; it never fails.
type Repository interface {
	Decide(name string) domain.TrustDecision
	RepoStats() RepoStats
}
