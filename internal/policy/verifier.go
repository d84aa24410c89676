// internal/policy/verifier.go
package policy

import (
	"math"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
)

const quantityTolerance = 1e-9

// Limits are the ordering constraints a threshold policy must respect.
type Limits struct {
	MinCash          float64
	MaxOrderQuantity float64
	FixedOrderCost   float64
	VariableCost     float64
	// StepSize is the action grid; affordable quantities are floored onto it.
	StepSize float64
}

// LimitsFrom reads the ordering constraints of p.
func LimitsFrom(p domain.Parameters) Limits {
	return Limits{
		MinCash:          p.MinCashRequired,
		MaxOrderQuantity: p.MaxOrderQuantity,
		FixedOrderCost:   p.FixedOrderCost,
		VariableCost:     p.VariableCost,
		StepSize:         p.StepSize,
	}
}

// Affordable is the largest quantity cash pays for after keeping the floor and
// the fixed cost, on the action grid and never negative.
func (l Limits) Affordable(cash float64) float64 {
	q := (cash - l.MinCash - l.FixedOrderCost) / l.VariableCost
	step := l.StepSize
	if step <= 0 {
		step = 1
	}
	return math.Max(0, math.Floor(q/step+quantityTolerance)*step)
}

// OrderUpTo is the quantity that brings inventory to target, capped by cash and
// the global maximum.
func (l Limits) OrderUpTo(target, inventory, cash float64) float64 {
	q := math.Min(target-inventory, l.Affordable(cash))
	q = math.Min(q, l.MaxOrderQuantity)
	return math.Max(0, q)
}

// Report breaks down the disagreements between a threshold policy and the
// optimal table.
type Report struct {
	Checked int `json:"checked"`
	// Mismatches is the sum of the three counters below.
	Mismatches        int `json:"mismatches"`
	OrderAboveReorder int `json:"order_above_reorder"`
	OrderBelowCash    int `json:"order_below_cash"`
	QuantityDiffers   int `json:"quantity_differs"`
	// CacheMisses counts states below s without a cached threshold; those fall
	// back to the period's scalar C.
	CacheMisses int `json:"cache_misses"`
}

// Check replays rows against every record of periods 2..T. Period 1 is a
// single copied state and is not checked.
func Check(rows []domain.ThresholdPolicyRow, cache *ThresholdCache, table []domain.OptimalActionRecord, lim Limits) Report {
	var rep Report
	for _, rec := range table {
		if rec.Period < 2 || rec.Period > len(rows) {
			continue
		}
		row := rows[rec.Period-1]
		rep.Checked++

		c, hit := threshold(row, cache, rec.Period, rec.Inventory)
		if !hit {
			rep.CacheMisses++
		}

		below := rec.Inventory < row.ReorderPoint
		if !below && rec.Orders() {
			rep.OrderAboveReorder++
		}
		if rec.Cash <= c && rec.Orders() {
			rep.OrderBelowCash++
		}
		if below && rec.Cash > c {
			want := lim.OrderUpTo(row.OrderUpTo, rec.Inventory, rec.Cash)
			if math.Abs(rec.OrderQuantity-want) > quantityTolerance {
				rep.QuantityDiffers++
			}
		}
	}
	rep.Mismatches = rep.OrderAboveReorder + rep.OrderBelowCash + rep.QuantityDiffers
	return rep
}

// CheckPolicy counts the states of table where rows disagrees with the optimal
// action, using an integer action grid.
func CheckPolicy(rows []domain.ThresholdPolicyRow, cache *ThresholdCache, table []domain.OptimalActionRecord, minCash, maxOrderQty, fixedCost, variCost float64) int {
	return Check(rows, cache, table, Limits{
		MinCash:          minCash,
		MaxOrderQuantity: maxOrderQty,
		FixedOrderCost:   fixedCost,
		VariableCost:     variCost,
		StepSize:         1,
	}).Mismatches
}

// threshold returns the C that applies at (period, inventory). Below s the
// cached per-inventory value wins; hit is false when it was missing and the
// scalar C was used instead.
func threshold(row domain.ThresholdPolicyRow, cache *ThresholdCache, period int, inventory float64) (c float64, hit bool) {
	if inventory >= row.ReorderPoint {
		return row.CashThreshold, true
	}
	if cache != nil {
		if v, ok := cache.Lookup(period, inventory); ok {
			return v, true
		}
	}
	return row.CashThreshold, false
}
