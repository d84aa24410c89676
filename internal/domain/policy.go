// internal/domain/policy.go
package domain

import (
	"fmt"
	"strings"
)

// ThresholdPolicyRow holds the (s, C, S) triple of a single period.
//
// A period orders iff inventory < ReorderPoint and cash > CashThreshold, bringing
// inventory up to OrderUpTo subject to what cash can pay for.
type ThresholdPolicyRow struct {
	Period        int     `json:"period" db:"period"`
	ReorderPoint  float64 `json:"s" db:"reorder_point"`
	CashThreshold float64 `json:"C" db:"cash_threshold"`
	OrderUpTo     float64 `json:"S" db:"order_up_to"`
}

// ThresholdKey identifies a cached cash threshold.
type ThresholdKey struct {
	Period    int     `json:"period" db:"period"`
	Inventory float64 `json:"inventory" db:"inventory"`
}

// CashThreshold is one flattened entry of the cash threshold cache.
type CashThreshold struct {
	Period    int     `json:"period" db:"period"`
	Inventory float64 `json:"inventory" db:"inventory"`
	Threshold float64 `json:"threshold" db:"threshold"`
}

// Criteria selects how the extractor derives C for non-terminal periods.
type Criteria string

const (
	CriteriaMax     Criteria = "max"
	CriteriaMin     Criteria = "min"
	CriteriaAvg     Criteria = "avg"
	CriteriaXRelate Criteria = "xrelate"
)

// ParseCriteria returns the criteria for a case-insensitive label.
func ParseCriteria(label string) (Criteria, error) {
	switch c := Criteria(strings.ToLower(strings.TrimSpace(label))); c {
	case CriteriaMax, CriteriaMin, CriteriaAvg, CriteriaXRelate:
		return c, nil
	case "":
		return CriteriaXRelate, nil
	}
	return "", fmt.Errorf("%w: unknown criteria %q", ErrInvalidParameters, label)
}

// Direction of the optimisation.
type Direction string

const (
	Maximize Direction = "max"
	Minimize Direction = "min"
)

// Better reports whether candidate improves on incumbent in this direction.
func (d Direction) Better(candidate, incumbent float64) bool {
	if d == Minimize {
		return candidate < incumbent
	}
	return candidate > incumbent
}
