package pipeline

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
)

// Pattern is a named mean demand series.
type Pattern struct {
	Name       string
	MeanDemand []float64
}

// ReferencePatterns are the ten 10-period demand shapes of the classic lot
// sizing test bed.
func ReferencePatterns() []Pattern {
	return []Pattern{
		{"stationary", []float64{20, 20, 20, 20, 20, 20, 20, 20, 20, 20}},
		{"increasing", []float64{5.4, 7.2, 9.6, 12.2, 15.4, 18.6, 22, 25.2, 28.2, 30.6}},
		{"decreasing", []float64{33.2, 32.4, 30.6, 28.2, 25.2, 22, 18.6, 15.4, 12.2, 9.6}},
		{"seasonal-low", []float64{24.2, 20, 15.8, 14, 15.8, 20, 24.2, 26, 24.2, 20}},
		{"seasonal-high", []float64{31.4, 20, 8.6, 4, 8.6, 20, 31.4, 36, 31.4, 20}},
		{"random", []float64{41.8, 18.2, 6.6, 15.8, 0.4, 15.2, 21.8, 23, 44.8, 4.4}},
		{"erratic-1", []float64{0.4, 10.2, 30.4, 93.4, 53.6, 97.8, 89.2, 49.6, 56.2, 72.6}},
		{"erratic-2", []float64{9.4, 16.2, 47.2, 78.8, 32.8, 57.4, 101.6, 78.2, 150.8, 138.8}},
		{"erratic-3", []float64{8.8, 23.2, 52.8, 28.8, 29.2, 39.6, 14.8, 36.6, 40.8, 22.8}},
		{"erratic-4", []float64{9.8, 37.6, 12.8, 55.8, 90.6, 44.8, 44.6, 103.4, 58.2, 109.4}},
	}
}

// Grid is the cartesian product a sweep enumerates. Fields not varied by the
// grid come from Base.
type Grid struct {
	Base          domain.Parameters
	Patterns      []Pattern
	FixedCosts    []float64
	VariableCosts []float64
	Prices        []float64
	// Capacities multiply the rounded average demand of a pattern to give its
	// max order quantity.
	Capacities []float64
	// Horizon truncates every pattern to its first periods when positive.
	Horizon int
}

// ReferenceGrid is the full test bed: 10 patterns x 3 fixed costs x 3
// variable costs x 3 prices x 3 capacities.
func ReferenceGrid(base domain.Parameters) Grid {
	return Grid{
		Base:          base,
		Patterns:      ReferencePatterns(),
		FixedCosts:    []float64{2000, 1000, 500},
		VariableCosts: []float64{2, 5, 10},
		Prices:        []float64{20, 10, 5},
		Capacities:    []float64{3, 5, 7},
	}
}

// MaxOrderQuantity is round(average demand) * capacity.
func MaxOrderQuantity(meanDemand []float64, capacity float64) float64 {
	if len(meanDemand) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range meanDemand {
		sum += d
	}
	return math.Round(sum/float64(len(meanDemand))) * capacity
}

// Scenarios enumerates the grid in a fixed order: fixed cost, variable cost,
// price, pattern, capacity.
func (g Grid) Scenarios() []Scenario {
	var out []Scenario
	for _, k := range g.FixedCosts {
		for _, v := range g.VariableCosts {
			for _, p := range g.Prices {
				for _, pat := range g.Patterns {
					demand := slices.Clone(pat.MeanDemand)
					if g.Horizon > 0 && g.Horizon < len(demand) {
						demand = demand[:g.Horizon]
					}
					for _, c := range g.Capacities {
						params := g.Base
						params.MeanDemand = demand
						params.FixedOrderCost = k
						params.VariableCost = v
						params.Price = p
						params.MaxOrderQuantity = MaxOrderQuantity(demand, c)
						out = append(out, Scenario{
							Name:     scenarioName(pat.Name, k, v, p, c),
							Pattern:  pat.Name,
							Capacity: c,
							Params:   params,
						})
					}
				}
			}
		}
	}
	return out
}

func scenarioName(pattern string, k, v, p, c float64) string {
	f := func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
	return fmt.Sprintf("%s_K%s_v%s_p%s_c%s", pattern, f(k), f(v), f(p), f(c))
}

// SelectPatterns keeps the patterns named in names, or numbered 1..10 in the
// reference order. An empty selection keeps all.
func SelectPatterns(all []Pattern, names []string) ([]Pattern, error) {
	if len(names) == 0 {
		return all, nil
	}
	var out []Pattern
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if n, err := strconv.Atoi(name); err == nil {
			if n < 1 || n > len(all) {
				return nil, fmt.Errorf("pattern number %d outside 1..%d", n, len(all))
			}
			out = append(out, all[n-1])
			continue
		}
		idx := slices.IndexFunc(all, func(p Pattern) bool { return strings.EqualFold(p.Name, name) })
		if idx < 0 {
			return nil, fmt.Errorf("unknown demand pattern %q", name)
		}
		out = append(out, all[idx])
	}
	return out, nil
}
