// Package account tracks balances, positions, and margin usage,
// spec.md §4.G. Generalized from the teacher's
// pkg/app/core/account/account.go to money's fixed-point types and to a
// reduce/reverse position algorithm the teacher's open/increase-only
// model never implemented.
package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nyxara/exchange-core/pkg/money"
)

// Position is one symbol's open exposure for a user, spec.md §3 "Position".
type Position struct {
	Symbol string

	Size  money.Qty   // + long, - short, in lots
	Entry money.Price // volume-weighted average entry price

	Margin int64 // collateral snapshot reserved for this position
}

func (p *Position) IsLong() bool  { return p.Size > 0 }
func (p *Position) IsShort() bool { return p.Size < 0 }

// UnrealizedPnL returns (mark - entry) * size.
func (p *Position) UnrealizedPnL(mark money.Price) int64 {
	if p.Size == 0 {
		return 0
	}
	return int64(mark-p.Entry) * int64(p.Size)
}

// Notional returns |size| * price.
func (p *Position) Notional(price money.Price) int64 {
	return int64(p.Size.Abs()) * int64(price)
}

// Account is one user's balance, margin usage, and open positions,
// spec.md §3 "Account".
type Account struct {
	Owner common.Address

	Balance    int64 // cash, in micro-units of quote currency
	MarginUsed int64

	Positions map[string]*Position

	RealizedPnL   int64
	TotalFeesPaid int64
	TradeCount    int64
}

// NewAccount creates a zero-balance account.
func NewAccount(owner common.Address) *Account {
	return &Account{Owner: owner, Positions: make(map[string]*Position)}
}

// Available returns balance not locked as margin.
func (a *Account) Available() int64 {
	return a.Balance - a.MarginUsed
}

// Equity returns balance plus unrealized PnL across every position at the
// given mark prices, spec.md §4.G step 4.
func (a *Account) Equity(marks map[string]money.Price) int64 {
	eq := a.Balance
	for symbol, pos := range a.Positions {
		if pos.Size == 0 {
			continue
		}
		mark, ok := marks[symbol]
		if !ok {
			continue
		}
		eq += pos.UnrealizedPnL(mark)
	}
	return eq
}

// MarginRatio returns MarginUsed / Equity, or 0 if equity is non-positive.
func (a *Account) MarginRatio(marks map[string]money.Price) float64 {
	eq := a.Equity(marks)
	if eq <= 0 {
		return 0
	}
	return float64(a.MarginUsed) / float64(eq)
}

// position returns the account's position in symbol, creating a zero one
// if it doesn't exist yet so callers can mutate in place.
func (a *Account) position(symbol string) *Position {
	p, ok := a.Positions[symbol]
	if !ok {
		p = &Position{Symbol: symbol}
		a.Positions[symbol] = p
	}
	return p
}

// Validate checks the account-level invariants spec.md §4.G assumes.
func (a *Account) Validate() error {
	if a.MarginUsed < 0 {
		return fmt.Errorf("account: negative margin used for %s", a.Owner.Hex())
	}
	if a.MarginUsed > a.Balance {
		return fmt.Errorf("account: margin used (%d) exceeds balance (%d) for %s", a.MarginUsed, a.Balance, a.Owner.Hex())
	}
	var total int64
	for symbol, p := range a.Positions {
		if p.Margin < 0 {
			return fmt.Errorf("account: negative margin for %s/%s", a.Owner.Hex(), symbol)
		}
		total += p.Margin
	}
	if total > a.MarginUsed {
		return fmt.Errorf("account: sum of position margins (%d) exceeds margin used (%d) for %s", total, a.MarginUsed, a.Owner.Hex())
	}
	return nil
}
