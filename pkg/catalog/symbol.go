// Package catalog holds the static, read-mostly set of tradable symbols
// and their margin/fee/tick rules. Generalized from the teacher's
// pkg/app/core/market.go and market_params.go.
package catalog

import (
	"fmt"

	"github.com/nyxara/exchange-core/pkg/money"
)

// Symbol is the opaque tradable-instrument identifier and its static
// trading rules (spec.md §3 "Symbol").
type Symbol struct {
	Name string

	TickSize     money.Price // minimum price increment
	LotSize      money.Qty   // minimum quantity increment
	ContractSize int64       // multiplier from lots to underlying units

	MarginRate float64 // initial margin as a fraction of notional, (0, 1]
	MaintRate  float64 // maintenance margin as a fraction of notional

	MakerFeeBps int64 // can be negative (rebate)
	TakerFeeBps int64

	MinNotional int64
	MinFee      int64

	Active bool

	// HedgeSymbol links this symbol to an external hedging instrument.
	// Empty string means no hedging linkage.
	HedgeSymbol string
}

// Validate checks the static-rule invariants spec.md §3 requires.
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("catalog: symbol name cannot be empty")
	}
	if s.TickSize <= 0 {
		return fmt.Errorf("catalog: %s tick size must be positive", s.Name)
	}
	if s.LotSize <= 0 {
		return fmt.Errorf("catalog: %s lot size must be positive", s.Name)
	}
	if s.ContractSize <= 0 {
		return fmt.Errorf("catalog: %s contract size must be positive", s.Name)
	}
	if s.MarginRate <= 0 || s.MarginRate > 1 {
		return fmt.Errorf("catalog: %s margin rate must be in (0, 1]", s.Name)
	}
	if s.MaintRate <= 0 || s.MaintRate > s.MarginRate {
		return fmt.Errorf("catalog: %s maintenance rate must be in (0, margin rate]", s.Name)
	}
	if s.MinNotional < 0 {
		return fmt.Errorf("catalog: %s min notional cannot be negative", s.Name)
	}
	if s.MinFee < 0 {
		return fmt.Errorf("catalog: %s min fee cannot be negative", s.Name)
	}
	return nil
}

// SnapPrice rounds a price to the symbol's tick size.
func (s *Symbol) SnapPrice(p money.Price) money.Price {
	return money.SnapToTick(p, s.TickSize)
}

// InitialMargin returns the initial margin required to open qty at price.
func (s *Symbol) InitialMargin(price money.Price, qty money.Qty) int64 {
	notional := money.Notional(price, qty, s.ContractSize)
	if notional < 0 {
		notional = -notional
	}
	return int64(float64(notional) * s.MarginRate)
}

// MaintenanceMargin returns the maintenance margin for a |qty| position
// marked at price.
func (s *Symbol) MaintenanceMargin(price money.Price, qty money.Qty) int64 {
	notional := money.Notional(price, qty, s.ContractSize)
	if notional < 0 {
		notional = -notional
	}
	return int64(float64(notional) * s.MaintRate)
}
