// Package policy mines an (s, C, S) ordering policy out of an optimal action
// table, replays it against the table, and exposes it as an ordering rule.
package policy

import (
	"math"

	"github.com/andresuchdata/cashflow-sdp/internal/demand"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
	"github.com/rs/zerolog"
)

// Extractor derives one threshold row per period from an optimal table.
type Extractor struct {
	params  domain.Parameters
	demand  demand.Model
	horizon int
	log     zerolog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithExtractorLogger replaces the component logger.
func WithExtractorLogger(l zerolog.Logger) ExtractorOption {
	return func(e *Extractor) { e.log = l }
}

// NewExtractor returns an extractor for the instance p with demand dm.
func NewExtractor(p domain.Parameters, dm demand.Model, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		params:  p,
		demand:  dm,
		horizon: dm.Horizon(),
		log:     logger.Log.With().Str("component", "policy").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extraction is the output of one extraction pass.
type Extraction struct {
	Rows  []domain.ThresholdPolicyRow
	Cache *ThresholdCache
}

// Extract scans table, which must be sorted by period, inventory and cash, and
// returns the (s, C, S) row of every period together with the per-inventory cash
// thresholds. minCash is the floor C falls back to when nothing better is known.
//
// Period 1 is copied from its first record. Periods 2..T-1 read s and S off the
// table and C off criteria. The last period uses the newsvendor fractile.
func (e *Extractor) Extract(table []domain.OptimalActionRecord, minCash float64, criteria domain.Criteria) Extraction {
	out := Extraction{
		Rows:  make([]domain.ThresholdPolicyRow, e.horizon),
		Cache: NewThresholdCache(),
	}
	byPeriod := groupByPeriod(table, e.horizon)

	for t := 1; t <= e.horizon; t++ {
		var row domain.ThresholdPolicyRow
		switch {
		case t == 1:
			row = firstPeriodRow(byPeriod[0])
		case t == e.horizon:
			row = e.terminalRow(minCash, out.Cache)
		default:
			row = e.periodRow(t, byPeriod[t-1], minCash, criteria, out.Cache)
		}
		row.Period = t
		out.Rows[t-1] = row

		e.log.Debug().
			Int("period", t).
			Float64("s", row.ReorderPoint).
			Float64("C", row.CashThreshold).
			Float64("S", row.OrderUpTo).
			Msg("threshold row extracted")
	}

	e.log.Info().
		Str("criteria", string(criteria)).
		Int("periods", e.horizon).
		Int("cached_thresholds", out.Cache.Len()).
		Msg("policy extracted")
	return out
}

func groupByPeriod(table []domain.OptimalActionRecord, horizon int) [][]domain.OptimalActionRecord {
	groups := make([][]domain.OptimalActionRecord, horizon)
	for _, r := range table {
		if r.Period < 1 || r.Period > horizon {
			continue
		}
		groups[r.Period-1] = append(groups[r.Period-1], r)
	}
	return groups
}

func firstPeriodRow(rows []domain.OptimalActionRecord) domain.ThresholdPolicyRow {
	if len(rows) == 0 {
		return domain.ThresholdPolicyRow{}
	}
	r := rows[0]
	return domain.ThresholdPolicyRow{
		ReorderPoint:  r.Inventory,
		CashThreshold: r.Cash,
		OrderUpTo:     r.Inventory + r.OrderQuantity,
	}
}

func (e *Extractor) periodRow(t int, rows []domain.OptimalActionRecord, minCash float64, criteria domain.Criteria, cache *ThresholdCache) domain.ThresholdPolicyRow {
	row := domain.ThresholdPolicyRow{CashThreshold: minCash}

	ordering := false
	var candidates []float64
	for j := len(rows) - 1; j >= 0; j-- {
		r := rows[j]
		if r.Orders() {
			if !ordering {
				if j+1 < len(rows) {
					row.ReorderPoint = rows[j+1].Inventory
				} else {
					row.ReorderPoint = r.Inventory + 1
				}
				ordering = true
			}
			row.OrderUpTo = math.Max(row.OrderUpTo, r.Inventory+r.OrderQuantity)
			continue
		}
		if ordering {
			candidates = append(candidates, r.Cash)
		}
	}

	switch criteria {
	case domain.CriteriaMax:
		row.CashThreshold = reduce(candidates, minCash, math.Max)
	case domain.CriteriaMin:
		row.CashThreshold = reduce(candidates, minCash, math.Min)
	case domain.CriteriaAvg:
		row.CashThreshold = average(candidates, minCash)
		// AVG deliberately continues into the analytic search; a qualifying
		// inventory level overrides the average.
		fallthrough
	case domain.CriteriaXRelate:
		if c, ok := e.kConvexThresholds(t, e.orderUpTo(t), cache); ok {
			row.CashThreshold = c
		}
	}
	return row
}

func (e *Extractor) terminalRow(minCash float64, cache *ThresholdCache) domain.ThresholdPolicyRow {
	t := e.horizon
	S := e.orderUpTo(t)
	row := domain.ThresholdPolicyRow{OrderUpTo: S, CashThreshold: minCash}

	target := e.L(S, t) - e.params.FixedOrderCost
	for j := math.Floor(S); j >= 0; j-- {
		if e.L(j, t) < target {
			row.ReorderPoint = j + 1
			break
		}
	}
	if c, ok := e.kConvexThresholds(t, S, cache); ok {
		row.CashThreshold = c
	}
	return row
}

// orderUpTo is the newsvendor order-up-to level of period t.
func (e *Extractor) orderUpTo(t int) float64 {
	ratio := e.params.CriticalRatio()
	if t == e.horizon {
		ratio = e.params.TerminalCriticalRatio()
	}
	return e.demand.Period(t).Quantile(ratio)
}

// kConvexThresholds searches, for every inventory j from floor(S) down to 0, the
// smallest order-up-to level jj <= floor(S) whose profit L beats L(j) by more
// than the fixed cost. The cash needed to reach jj-1 plus the fixed cost is
// cached under (t, j). It returns the threshold of the lowest such j.
func (e *Extractor) kConvexThresholds(t int, S float64, cache *ThresholdCache) (float64, bool) {
	top := int(math.Floor(S))
	if top < 0 {
		return 0, false
	}
	L := make([]float64, top+1)
	for y := range L {
		L[y] = e.L(float64(y), t)
	}

	K, v := e.params.FixedOrderCost, e.params.VariableCost
	var (
		last  float64
		found bool
	)
	for j := top; j >= 0; j-- {
		for jj := j + 1; jj <= top; jj++ {
			if L[jj] > K+L[j] {
				last = K + v*float64(jj-1-j)
				found = true
				cache.Put(t, float64(j), last)
				break
			}
		}
	}
	return last, found
}

// L is the expected profit of raising inventory to y in period t. Non-terminal
// periods look one period ahead by aggregating demand of t and t+1; the last
// period credits salvage for leftovers.
func (e *Extractor) L(y float64, t int) float64 {
	p := e.params
	terminal := t == e.horizon

	d := e.demand.Span(t, t)
	if !terminal {
		d = e.demand.Span(t, t+1)
	}

	meanLeftover := 0.0
	for i := 0.0; i < y; i++ {
		meanLeftover += (y - i) * (d.CDF(i+0.5) - d.CDF(i-0.5))
	}

	penalty := p.Price + p.HoldingCost
	if terminal {
		penalty -= p.SalvageValue
	}
	return (p.Price-p.VariableCost)*y - penalty*meanLeftover
}

func reduce(values []float64, fallback float64, pick func(a, b float64) float64) float64 {
	if len(values) == 0 {
		return fallback
	}
	acc := values[0]
	for _, v := range values[1:] {
		acc = pick(acc, v)
	}
	return acc
}

func average(values []float64, fallback float64) float64 {
	if len(values) == 0 {
		return fallback
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
