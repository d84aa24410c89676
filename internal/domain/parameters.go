// internal/domain/parameters.go
package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParameters is returned when a problem definition cannot be solved.
var ErrInvalidParameters = errors.New("invalid parameters")

// Parameters fully describe one cash-constrained lot sizing instance. The value is
// passed by copy into the solver and extractor and never mutated afterwards.
type Parameters struct {
	MeanDemand []float64 `json:"mean_demand" mapstructure:"mean_demand"`

	FixedOrderCost float64 `json:"fixed_order_cost" mapstructure:"fixed_order_cost"`
	VariableCost   float64 `json:"variable_cost" mapstructure:"variable_cost"`
	Price          float64 `json:"price" mapstructure:"price"`
	HoldingCost    float64 `json:"holding_cost" mapstructure:"holding_cost"`
	SalvageValue   float64 `json:"salvage_value" mapstructure:"salvage_value"`

	InitialCash      float64 `json:"initial_cash" mapstructure:"initial_cash"`
	InitialInventory float64 `json:"initial_inventory" mapstructure:"initial_inventory"`
	MinCashRequired  float64 `json:"min_cash_required" mapstructure:"min_cash_required"`
	MaxOrderQuantity float64 `json:"max_order_quantity" mapstructure:"max_order_quantity"`

	TruncationQuantile float64 `json:"truncation_quantile" mapstructure:"truncation_quantile"`
	StepSize           float64 `json:"step_size" mapstructure:"step_size"`

	MinInventoryState float64 `json:"min_inventory_state" mapstructure:"min_inventory_state"`
	MaxInventoryState float64 `json:"max_inventory_state" mapstructure:"max_inventory_state"`
	MinCashState      float64 `json:"min_cash_state" mapstructure:"min_cash_state"`
	MaxCashState      float64 `json:"max_cash_state" mapstructure:"max_cash_state"`
	CashGranularity   float64 `json:"cash_granularity" mapstructure:"cash_granularity"`

	DiscountFactor float64   `json:"discount_factor" mapstructure:"discount_factor"`
	Criteria       Criteria  `json:"criteria" mapstructure:"criteria"`
	Direction      Direction `json:"direction" mapstructure:"direction"`
}

// DefaultParameters returns the reference eight-period instance.
func DefaultParameters() Parameters {
	return Parameters{
		MeanDemand:         []float64{15, 15, 15, 15, 15, 15, 15, 15},
		FixedOrderCost:     10,
		VariableCost:       1,
		Price:              8,
		HoldingCost:        2,
		SalvageValue:       0.5,
		InitialCash:        15,
		InitialInventory:   0,
		MinCashRequired:    0,
		MaxOrderQuantity:   150,
		TruncationQuantile: 0.9999,
		StepSize:           1,
		MinInventoryState:  0,
		MaxInventoryState:  500,
		MinCashState:       -100,
		MaxCashState:       2000,
		CashGranularity:    1,
		DiscountFactor:     1,
		Criteria:           CriteriaXRelate,
		Direction:          Maximize,
	}
}

// Horizon is the number of periods T.
func (p Parameters) Horizon() int {
	return len(p.MeanDemand)
}

// InitialState is the period-1 state the solve starts from.
func (p Parameters) InitialState() DecisionState {
	return DecisionState{Period: 1, Inventory: p.InitialInventory, Cash: p.InitialCash}
}

// WithDefaults fills zero-valued knobs that have a sensible default.
func (p Parameters) WithDefaults() Parameters {
	if p.TruncationQuantile == 0 {
		p.TruncationQuantile = 0.9999
	}
	if p.StepSize == 0 {
		p.StepSize = 1
	}
	if p.CashGranularity == 0 {
		p.CashGranularity = 1
	}
	if p.DiscountFactor == 0 {
		p.DiscountFactor = 1
	}
	if p.Criteria == "" {
		p.Criteria = CriteriaXRelate
	}
	if p.Direction == "" {
		p.Direction = Maximize
	}
	if p.MaxInventoryState == 0 {
		p.MaxInventoryState = 500
	}
	if p.MaxCashState == 0 {
		p.MaxCashState = 2000
	}
	return p
}

// Validate rejects instances the solver cannot represent. Bounds that merely
// degrade policy quality, such as MinCashState above -FixedOrderCost, pass.
func (p Parameters) Validate() error {
	if p.Horizon() == 0 {
		return fmt.Errorf("%w: mean demand must cover at least one period", ErrInvalidParameters)
	}
	for i, d := range p.MeanDemand {
		if d < 0 || math.IsNaN(d) {
			return fmt.Errorf("%w: mean demand of period %d is %v", ErrInvalidParameters, i+1, d)
		}
	}
	if p.StepSize <= 0 {
		return fmt.Errorf("%w: step size must be positive", ErrInvalidParameters)
	}
	if p.CashGranularity <= 0 {
		return fmt.Errorf("%w: cash granularity must be positive", ErrInvalidParameters)
	}
	if p.TruncationQuantile <= 0 || p.TruncationQuantile >= 1 {
		return fmt.Errorf("%w: truncation quantile must lie in (0, 1)", ErrInvalidParameters)
	}
	if p.VariableCost <= 0 {
		return fmt.Errorf("%w: variable cost must be positive", ErrInvalidParameters)
	}
	if p.FixedOrderCost < 0 || p.HoldingCost < 0 || p.Price < 0 || p.MaxOrderQuantity < 0 {
		return fmt.Errorf("%w: costs, price and max order quantity must be non-negative", ErrInvalidParameters)
	}
	if p.MinInventoryState > p.MaxInventoryState {
		return fmt.Errorf("%w: inventory bounds are inverted", ErrInvalidParameters)
	}
	if p.MinCashState > p.MaxCashState {
		return fmt.Errorf("%w: cash bounds are inverted", ErrInvalidParameters)
	}
	if p.DiscountFactor < 0 || p.DiscountFactor > 1 {
		return fmt.Errorf("%w: discount factor must lie in [0, 1]", ErrInvalidParameters)
	}
	if _, err := ParseCriteria(string(p.Criteria)); err != nil {
		return err
	}
	if p.Direction != Maximize && p.Direction != Minimize {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidParameters, p.Direction)
	}
	return nil
}

// CriticalRatio is the newsvendor fractile of a non-terminal period.
func (p Parameters) CriticalRatio() float64 {
	return (p.Price - p.VariableCost) / (p.HoldingCost + p.Price)
}

// TerminalCriticalRatio is the newsvendor fractile adjusted for salvage value.
func (p Parameters) TerminalCriticalRatio() float64 {
	return (p.Price - p.VariableCost) / (p.HoldingCost + p.Price - p.SalvageValue)
}

// Hash is a stable fingerprint of the instance, used as a cache key.
func (p Parameters) Hash() string {
	payload, err := json.Marshal(p)
	if err != nil {
		// Parameters only hold numbers and strings.
		panic(fmt.Sprintf("domain: marshal parameters: %v", err))
	}
	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:])
}
