// internal/demand/model.go
package demand

import "fmt"

// Model supplies the demand distribution of every period of the horizon.
// Periods are 1-based.
type Model interface {
	Horizon() int
	Period(t int) Distribution
	// Span is the distribution of total demand over periods first..last.
	Span(first, last int) Distribution
}

// PoissonModel has independent Poisson demand per period.
type PoissonModel struct {
	means []float64
	dists []*Poisson
}

// NewPoissonModel builds a model from per-period means.
func NewPoissonModel(means []float64) *PoissonModel {
	m := &PoissonModel{means: append([]float64(nil), means...)}
	for _, mean := range means {
		m.dists = append(m.dists, NewPoisson(mean))
	}
	return m
}

func (m *PoissonModel) Horizon() int { return len(m.means) }

func (m *PoissonModel) Period(t int) Distribution { return m.dists[t-1] }

// Span uses the closure of the Poisson family under independent sums.
func (m *PoissonModel) Span(first, last int) Distribution {
	if first == last {
		return m.dists[first-1]
	}
	total := 0.0
	for t := first; t <= last; t++ {
		total += m.means[t-1]
	}
	return NewPoisson(total)
}

// EmpiricalModel has an independent finite distribution per period.
type EmpiricalModel struct {
	dists []*Empirical
}

// NewEmpiricalModel builds a model from one empirical distribution per period.
func NewEmpiricalModel(dists ...*Empirical) (*EmpiricalModel, error) {
	if len(dists) == 0 {
		return nil, fmt.Errorf("empirical model needs at least one period")
	}
	return &EmpiricalModel{dists: dists}, nil
}

// NewStationaryEmpiricalModel repeats the same distribution for horizon periods.
func NewStationaryEmpiricalModel(horizon int, values, probs []float64) (*EmpiricalModel, error) {
	d, err := NewEmpirical(values, probs)
	if err != nil {
		return nil, err
	}
	dists := make([]*Empirical, horizon)
	for i := range dists {
		dists[i] = d
	}
	return NewEmpiricalModel(dists...)
}

func (m *EmpiricalModel) Horizon() int { return len(m.dists) }

func (m *EmpiricalModel) Period(t int) Distribution { return m.dists[t-1] }

func (m *EmpiricalModel) Span(first, last int) Distribution {
	out := m.dists[first-1]
	for t := first + 1; t <= last; t++ {
		out = convolve(out, m.dists[t-1])
	}
	return out
}

var (
	_ Model = (*PoissonModel)(nil)
	_ Model = (*EmpiricalModel)(nil)
)
