// internal/policy/cache.go
package policy

import (
	"fmt"
	"slices"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
)

// ThresholdCache maps (period, inventory) to the cash a state needs before an
// order pays off. Each key is written at most once.
type ThresholdCache struct {
	entries map[domain.ThresholdKey]float64
}

// NewThresholdCache returns an empty cache.
func NewThresholdCache() *ThresholdCache {
	return &ThresholdCache{entries: make(map[domain.ThresholdKey]float64)}
}

// Put records c for (period, inventory). A second write to the same key panics.
func (c *ThresholdCache) Put(period int, inventory, threshold float64) {
	key := domain.ThresholdKey{Period: period, Inventory: inventory}
	if _, exists := c.entries[key]; exists {
		panic(fmt.Sprintf("policy: cash threshold for period %d inventory %g written twice", period, inventory))
	}
	c.entries[key] = threshold
}

// Lookup returns the threshold of (period, inventory) if one was recorded.
func (c *ThresholdCache) Lookup(period int, inventory float64) (float64, bool) {
	v, ok := c.entries[domain.ThresholdKey{Period: period, Inventory: inventory}]
	return v, ok
}

// Len is the number of recorded thresholds.
func (c *ThresholdCache) Len() int {
	return len(c.entries)
}

// Entries flattens the cache ordered by period then inventory.
func (c *ThresholdCache) Entries() []domain.CashThreshold {
	out := make([]domain.CashThreshold, 0, len(c.entries))
	for k, v := range c.entries {
		out = append(out, domain.CashThreshold{Period: k.Period, Inventory: k.Inventory, Threshold: v})
	}
	slices.SortFunc(out, func(a, b domain.CashThreshold) int {
		if a.Period != b.Period {
			return a.Period - b.Period
		}
		switch {
		case a.Inventory < b.Inventory:
			return -1
		case a.Inventory > b.Inventory:
			return 1
		}
		return 0
	})
	return out
}

// CacheFromEntries rebuilds a cache from its flattened form, e.g. after loading
// a persisted run.
func CacheFromEntries(entries []domain.CashThreshold) *ThresholdCache {
	c := NewThresholdCache()
	for _, e := range entries {
		c.Put(e.Period, e.Inventory, e.Threshold)
	}
	return c
}
