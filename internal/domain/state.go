// internal/domain/state.go
package domain

import "fmt"

// DecisionState is a (period, inventory, cash) triple. It is comparable and used
// directly as the memo key of the solver.
type DecisionState struct {
	Period    int     `json:"period" db:"period"`
	Inventory float64 `json:"inventory" db:"inventory"`
	Cash      float64 `json:"cash" db:"cash"`
}

// Compare orders states lexicographically by period, inventory, then cash.
func (s DecisionState) Compare(o DecisionState) int {
	switch {
	case s.Period < o.Period:
		return -1
	case s.Period > o.Period:
		return 1
	case s.Inventory < o.Inventory:
		return -1
	case s.Inventory > o.Inventory:
		return 1
	case s.Cash < o.Cash:
		return -1
	case s.Cash > o.Cash:
		return 1
	}
	return 0
}

// Less reports whether s sorts before o.
func (s DecisionState) Less(o DecisionState) bool {
	return s.Compare(o) < 0
}

func (s DecisionState) String() string {
	return fmt.Sprintf("(t=%d, x=%g, w=%g)", s.Period, s.Inventory, s.Cash)
}

// OptimalActionRecord is one row of the solver output table.
type OptimalActionRecord struct {
	Period        int     `json:"period" db:"period"`
	Inventory     float64 `json:"inventory" db:"inventory"`
	Cash          float64 `json:"cash" db:"cash"`
	OrderQuantity float64 `json:"order_quantity" db:"order_quantity"`
}

// State returns the decision state the record was computed for.
func (r OptimalActionRecord) State() DecisionState {
	return DecisionState{Period: r.Period, Inventory: r.Inventory, Cash: r.Cash}
}

// Orders reports whether the optimal action places a positive order.
func (r OptimalActionRecord) Orders() bool {
	return r.OrderQuantity != 0
}
