// internal/demand/distribution.go
package demand

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution is the view of a period's demand the solver and extractor need.
type Distribution interface {
	// CDF returns P(D <= x).
	CDF(x float64) float64
	// Prob returns P(D == x).
	Prob(x float64) float64
	// Quantile returns the smallest support point v with CDF(v) >= p.
	Quantile(p float64) float64
	Mean() float64
}

// maxQuantileProb keeps Quantile finite for unbounded supports.
const maxQuantileProb = 1 - 1e-12

// Poisson is a Poisson demand distribution backed by gonum.
type Poisson struct {
	dist distuv.Poisson
}

// NewPoisson returns a Poisson distribution with the given mean. A zero mean
// yields the point mass at zero.
func NewPoisson(mean float64) *Poisson {
	return &Poisson{dist: distuv.Poisson{Lambda: mean}}
}

func (p *Poisson) CDF(x float64) float64 {
	if x < 0 {
		return 0
	}
	if p.dist.Lambda == 0 {
		return 1
	}
	return p.dist.CDF(x)
}

func (p *Poisson) Prob(x float64) float64 {
	if x < 0 || x != math.Floor(x) {
		return 0
	}
	if p.dist.Lambda == 0 {
		if x == 0 {
			return 1
		}
		return 0
	}
	return p.dist.Prob(x)
}

// Quantile walks the support upwards from zero.
func (p *Poisson) Quantile(prob float64) float64 {
	if prob <= 0 || p.dist.Lambda == 0 {
		return 0
	}
	if prob > maxQuantileProb {
		prob = maxQuantileProb
	}
	k := 0.0
	for p.CDF(k) < prob {
		k++
	}
	return k
}

func (p *Poisson) Mean() float64 {
	return p.dist.Lambda
}

// Empirical is a finite discrete distribution given by values and probabilities.
type Empirical struct {
	values []float64
	probs  []float64
	cum    []float64
}

// NewEmpirical builds a distribution over values; probs are normalised to sum to 1.
// Duplicate values are merged.
func NewEmpirical(values, probs []float64) (*Empirical, error) {
	if len(values) == 0 || len(values) != len(probs) {
		return nil, fmt.Errorf("empirical distribution needs matching values and probabilities, got %d and %d", len(values), len(probs))
	}

	merged := make(map[float64]float64, len(values))
	total := 0.0
	for i, v := range values {
		if probs[i] < 0 {
			return nil, fmt.Errorf("negative probability %v for value %v", probs[i], v)
		}
		merged[v] += probs[i]
		total += probs[i]
	}
	if total <= 0 {
		return nil, fmt.Errorf("empirical probabilities sum to %v", total)
	}

	e := &Empirical{}
	for v := range merged {
		e.values = append(e.values, v)
	}
	sort.Float64s(e.values)
	e.probs = make([]float64, len(e.values))
	e.cum = make([]float64, len(e.values))
	acc := 0.0
	for i, v := range e.values {
		e.probs[i] = merged[v] / total
		acc += e.probs[i]
		e.cum[i] = acc
	}
	e.cum[len(e.cum)-1] = 1
	return e, nil
}

func (e *Empirical) CDF(x float64) float64 {
	i := sort.Search(len(e.values), func(i int) bool { return e.values[i] > x })
	if i == 0 {
		return 0
	}
	return e.cum[i-1]
}

func (e *Empirical) Prob(x float64) float64 {
	i := sort.SearchFloat64s(e.values, x)
	if i < len(e.values) && e.values[i] == x {
		return e.probs[i]
	}
	return 0
}

func (e *Empirical) Quantile(prob float64) float64 {
	if prob <= 0 {
		return e.values[0]
	}
	i := sort.Search(len(e.cum), func(i int) bool { return e.cum[i] >= prob-1e-12 })
	if i == len(e.cum) {
		i--
	}
	return e.values[i]
}

func (e *Empirical) Mean() float64 {
	m := 0.0
	for i, v := range e.values {
		m += v * e.probs[i]
	}
	return m
}

// convolve returns the distribution of the sum of two independent empiricals.
func convolve(a, b *Empirical) *Empirical {
	values := make([]float64, 0, len(a.values)*len(b.values))
	probs := make([]float64, 0, len(a.values)*len(b.values))
	for i, va := range a.values {
		for j, vb := range b.values {
			values = append(values, va+vb)
			probs = append(probs, a.probs[i]*b.probs[j])
		}
	}
	// Inputs are already valid, so construction cannot fail.
	out, _ := NewEmpirical(values, probs)
	return out
}

var (
	_ Distribution = (*Poisson)(nil)
	_ Distribution = (*Empirical)(nil)
)
