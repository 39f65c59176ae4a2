package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/egress-guard/internal/guard/repos/trustlist"
)

// factory implements trustlist.BloomFactory using Sizer.
type factory struct {
	sizer Sizer
}

// NewFactory returns a BloomFactory that sizes filters from capacity and FP rate.
func NewFactory() trustlist.BloomFactory { return factory{sizer: NewSizer()} }

// New constructs a filter sized for capacity entries at fpRate.
func (f factory) New(capacity uint64, fpRate float64) trustlist.BloomFilter {
	m, k := f.sizer.Size(capacity, fpRate)
	return &filter{bf: bitsbloom.New(uint(m), uint(k))}
}
