// Package money provides the fixed-point integer primitives every other
// package settles trades in. Prices are micro-units of quote currency
// (1 unit = 1,000,000 micro-units); quantities are lots. This package
// uses no float64. Margin requirements (pkg/catalog) and the insurance
// fund's fee contribution (pkg/account) are computed by float64
// multiplication and truncated to int64.
package money

import "fmt"

// Price is a price expressed in micro-units of quote currency.
type Price int64

// Qty is a quantity expressed in lots.
type Qty int64

// MicroUnit is the number of micro-units per whole unit of quote currency.
const MicroUnit = 1_000_000

// BpsDenominator is the denominator basis-point fees are expressed over.
const BpsDenominator = 10_000

// SnapToTick rounds p to the nearest multiple of tick. tick must be positive.
func SnapToTick(p Price, tick Price) Price {
	if tick <= 0 {
		return p
	}
	half := tick / 2
	if p >= 0 {
		return ((p + half) / tick) * tick
	}
	return ((p - half) / tick) * tick
}

// IsMultiple reports whether v is an exact multiple of unit.
func IsMultiple(v, unit int64) bool {
	if unit <= 0 {
		return false
	}
	return v%unit == 0
}

// Notional returns price * qty * contractSize as a plain int64. Overflow is
// the caller's responsibility to bound via exchange-level order size limits;
// this is the same raw multiply the teacher uses throughout market.go.
func Notional(p Price, q Qty, contractSize int64) int64 {
	if contractSize <= 0 {
		contractSize = 1
	}
	return int64(p) * int64(q) * contractSize
}

// Fee computes a basis-point fee on notional, floored at minFee. A negative
// bps (maker rebate) is allowed to go negative and is not floored.
func Fee(notional int64, bps int64, minFee int64) int64 {
	fee := (notional * bps) / BpsDenominator
	if bps >= 0 && fee < minFee {
		return minFee
	}
	return fee
}

// AddQty adds two quantities, erroring on overflow past the int64 range.
func AddQty(a, b Qty) (Qty, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("money: qty overflow adding %d + %d", a, b)
	}
	return sum, nil
}

// SubQty subtracts b from a, erroring if the result would go negative.
func SubQty(a, b Qty) (Qty, error) {
	if b > a {
		return 0, fmt.Errorf("money: qty underflow subtracting %d from %d", b, a)
	}
	return a - b, nil
}

// Abs returns the absolute value of q.
func (q Qty) Abs() Qty {
	if q < 0 {
		return -q
	}
	return q
}

// Abs returns the absolute value of p.
func (p Price) Abs() Price {
	if p < 0 {
		return -p
	}
	return p
}

// String renders a price as whole-unit decimal for logs, e.g. "12.340000".
func (p Price) String() string {
	whole := int64(p) / MicroUnit
	frac := int64(p) % MicroUnit
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%06d", whole, frac)
}
