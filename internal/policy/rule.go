// internal/policy/rule.go
package policy

import "github.com/andresuchdata/cashflow-sdp/internal/domain"

// Rule orders according to an extracted (s, C, S) policy.
type Rule struct {
	rows   []domain.ThresholdPolicyRow
	cache  *ThresholdCache
	limits Limits
}

// NewRule returns the ordering rule of an extraction.
func NewRule(ex Extraction, lim Limits) *Rule {
	return &Rule{rows: ex.Rows, cache: ex.Cache, limits: lim}
}

// Order returns the quantity the policy orders in st. The first period orders up
// to its S; later periods order only below s with cash above C.
func (r *Rule) Order(st domain.DecisionState) float64 {
	if st.Period < 1 || st.Period > len(r.rows) {
		return 0
	}
	row := r.rows[st.Period-1]
	if st.Period == 1 {
		return r.limits.OrderUpTo(row.OrderUpTo, st.Inventory, st.Cash)
	}

	c, _ := threshold(row, r.cache, st.Period, st.Inventory)
	if st.Inventory >= row.ReorderPoint || st.Cash <= c {
		return 0
	}
	return r.limits.OrderUpTo(row.OrderUpTo, st.Inventory, st.Cash)
}
