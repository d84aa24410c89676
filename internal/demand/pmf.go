// internal/demand/pmf.go
package demand

import "math"

// Outcome is one support point of a discretised demand pmf.
type Outcome struct {
	Value       float64 `json:"value"`
	Probability float64 `json:"probability"`
}

// PMF is a finite demand distribution whose probabilities sum to 1.
type PMF []Outcome

// Discretize truncates every period's distribution to its [1-q, q] quantile range
// and lays a grid of width stepSize over it. Each grid point gets the mass of the
// cell centred on it, renormalised over the truncated support. The result is
// indexed by period-1.
func Discretize(m Model, truncationQuantile, stepSize float64) []PMF {
	out := make([]PMF, m.Horizon())
	for t := 1; t <= m.Horizon(); t++ {
		out[t-1] = discretizePeriod(m.Period(t), truncationQuantile, stepSize)
	}
	return out
}

func discretizePeriod(d Distribution, q, step float64) PMF {
	lb := math.Floor(d.Quantile(1 - q))
	ub := math.Floor(d.Quantile(q))
	if ub < lb {
		ub = lb
	}

	half := 0.5 * step
	total := d.CDF(ub+half) - d.CDF(lb-half)
	if total <= 0 {
		return PMF{{Value: lb, Probability: 1}}
	}

	n := int(math.Floor((ub-lb)/step)) + 1
	pmf := make(PMF, 0, n)
	for j := 0; j < n; j++ {
		v := lb + float64(j)*step
		p := (d.CDF(v+half) - d.CDF(v-half)) / total
		if p <= 0 {
			continue
		}
		pmf = append(pmf, Outcome{Value: v, Probability: p})
	}
	return pmf
}

// Mean returns the expectation of the pmf.
func (p PMF) Mean() float64 {
	m := 0.0
	for _, o := range p {
		m += o.Value * o.Probability
	}
	return m
}

// Sample maps a uniform draw u in [0, 1) to a support point by inversion.
func (p PMF) Sample(u float64) float64 {
	acc := 0.0
	for _, o := range p {
		acc += o.Probability
		if u < acc {
			return o.Value
		}
	}
	return p[len(p)-1].Value
}
