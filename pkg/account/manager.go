package account

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nyxara/exchange-core/pkg/catalog"
	"github.com/nyxara/exchange-core/pkg/money"
)

// Sink receives the events apply_trade/deposit/withdraw/liquidate produce,
// spec.md §4.H's event kinds. Implemented by pkg/journal; kept as an
// interface here so account never imports journal's storage machinery.
type Sink interface {
	Append(kind string, payload interface{}) error
}

// Fill is one side of a trade as seen by the account manager: a single
// participant's symbol, side, quantity, price and fee.
type Fill struct {
	Owner  common.Address
	Symbol string
	Side   money.Qty // +1 buy, -1 sell; multiplies Qty to get signed size delta
	Qty    money.Qty
	Price  money.Price
	Fee    int64
}

// Manager owns every account's balance, margin, and positions, and is the
// single place apply_trade/liquidate/deposit/withdraw run, spec.md §4.G.
// Grounded on the teacher's pkg/app/core/account/manager.go shape
// (RWMutex-guarded map, numbered-step methods with fmt.Errorf returns),
// generalized to money types and the reduce/reverse algorithm the teacher
// never implemented.
type Manager struct {
	mu       sync.RWMutex
	accounts map[common.Address]*Account
	cat      *catalog.Catalog

	InsuranceFund int64
	InsuranceContribFraction float64 // fraction of taker fee that accrues to the fund

	netExposure map[string]money.Qty // symbol -> net client size

	Sink Sink
}

// New creates an account manager backed by cat for margin-rate lookups.
func New(cat *catalog.Catalog, insuranceContribFraction float64, sink Sink) *Manager {
	return &Manager{
		accounts:                 make(map[common.Address]*Account),
		cat:                      cat,
		InsuranceContribFraction: insuranceContribFraction,
		netExposure:              make(map[string]money.Qty),
		Sink:                     sink,
	}
}

func (m *Manager) account(owner common.Address) *Account {
	a, ok := m.accounts[owner]
	if !ok {
		a = NewAccount(owner)
		m.accounts[owner] = a
	}
	return a
}

func (m *Manager) publish(kind string, payload interface{}) {
	if m.Sink == nil {
		return
	}
	_ = m.Sink.Append(kind, payload)
}

// Deposit increments balance and publishes a Deposit event, spec.md §4.G.
func (m *Manager) Deposit(owner common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("account: deposit amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.account(owner)
	a.Balance += amount
	m.publish("Deposit", map[string]interface{}{"user": owner.Hex(), "amount": amount})
	return nil
}

// Withdraw decrements balance, failing if amount exceeds available.
func (m *Manager) Withdraw(owner common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("account: withdraw amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.account(owner)
	if amount > a.Available() {
		return fmt.Errorf("account: withdraw %d exceeds available %d", amount, a.Available())
	}
	a.Balance -= amount
	m.publish("Withdraw", map[string]interface{}{"user": owner.Hex(), "amount": amount})
	return nil
}

// GetAccount returns the account for owner, creating an empty one if
// needed. Callers must not mutate fields directly outside this package.
func (m *Manager) GetAccount(owner common.Address) *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account(owner)
}

// ApplyTrade posts both legs of a trade to their owners' accounts in a
// single critical section, spec.md §4.G "apply_trade". Returns each side's
// realized-PnL delta from this fill so callers (the risk engine's daily
// loss tracking, spec.md §4.E step 6) see the real number instead of 0.
func (m *Manager) ApplyTrade(taker, maker Fill) (takerRealized, makerRealized int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sym, ok := m.cat.Get(taker.Symbol)
	if !ok {
		return 0, 0, fmt.Errorf("account: unknown symbol %s", taker.Symbol)
	}

	takerRealized = m.postFillLocked(taker, sym)
	makerRealized = m.postFillLocked(maker, sym)

	// Step 1: fees. Taker's fee partially funds the insurance pool.
	contrib := int64(float64(taker.Fee) * m.InsuranceContribFraction)
	if contrib > 0 {
		m.InsuranceFund += contrib
		m.publish("InsuranceContribution", map[string]interface{}{"symbol": taker.Symbol, "amount": contrib})
	}

	m.netExposure[taker.Symbol] += signedDelta(taker)
	m.netExposure[maker.Symbol] += signedDelta(maker)
	m.publish("ExposureChanged", map[string]interface{}{"symbol": taker.Symbol, "net": m.netExposure[taker.Symbol]})

	return takerRealized, makerRealized, nil
}

func signedDelta(f Fill) money.Qty {
	return f.Side * f.Qty
}

// postFillLocked applies one participant's leg of a trade: fee deduction,
// position open/reduce/reverse, and realized PnL, spec.md §4.G steps 1-3.
// Caller holds m.mu.
func (m *Manager) postFillLocked(f Fill, sym *catalog.Symbol) int64 {
	a := m.account(f.Owner)
	a.Balance -= f.Fee
	a.TotalFeesPaid += f.Fee
	a.TradeCount++

	pos := a.position(f.Symbol)
	signedQty := signedDelta(f)

	var realized int64

	switch {
	case pos.Size == 0 || sameSign(pos.Size, signedQty):
		// Open or increase: VWAP entry, no realized PnL.
		newSize := pos.Size + signedQty
		oldNotional := int64(pos.Size.Abs()) * int64(pos.Entry)
		addNotional := int64(signedQty.Abs()) * int64(f.Price)
		pos.Entry = money.Price((oldNotional + addNotional) / int64(newSize.Abs()))
		pos.Size = newSize

	case signedQty.Abs() <= pos.Size.Abs():
		// Reduce: realize PnL on the closed portion, entry unchanged.
		sign := int64(1)
		if pos.Size < 0 {
			sign = -1
		}
		realized = int64(signedQty.Abs()) * int64(f.Price-pos.Entry) * sign
		pos.Size += signedQty

	default:
		// Reverse: close the existing size fully, then open the remainder
		// fresh at the fill price.
		sign := int64(1)
		if pos.Size < 0 {
			sign = -1
		}
		realized = int64(pos.Size.Abs()) * int64(f.Price-pos.Entry) * sign
		remainder := signedQty + pos.Size // what's left after fully closing pos.Size
		pos.Size = remainder
		pos.Entry = f.Price
	}

	a.RealizedPnL += realized
	a.Balance += realized

	margin := sym.InitialMargin(f.Price, pos.Size)
	delta := margin - pos.Margin
	pos.Margin = margin
	a.MarginUsed += delta

	return realized
}

func sameSign(a, b money.Qty) bool {
	if a == 0 || b == 0 {
		return true
	}
	return (a > 0) == (b > 0)
}

// Liquidator submits a reduce-only closing order for size on symbol against
// the live book (spec.md §9's "liquidation goes through Engine.Submit, same
// as any other order" design) and reports the price it actually closed at.
// Because it resubmits through the matching engine, the trade it produces
// comes back through the engine's normal OnTrade callback — which calls
// ApplyTrade on this same Manager — before Liquidator returns.
type Liquidator func(owner common.Address, symbol string, size money.Qty, mark money.Price) (closePrice money.Price, err error)

// UpdateAllPnL recomputes unrealized PnL for every tracked account against
// current mark prices and liquidates any account whose equity has fallen
// below its maintenance margin, spec.md §4.G "update_all_pnl". liquidator
// is invoked once per undercollateralized position; it is expected to
// submit the closing order through the matching engine, so UpdateAllPnL
// must not hold m.mu while calling it (the resulting trade re-enters
// ApplyTrade on this same goroutine). The bankruptcy check that follows —
// insurance draw and loss socialization — runs after the close settles,
// against whatever the real fill actually closed.
func (m *Manager) UpdateAllPnL(marks map[string]money.Price, liquidator Liquidator) []LiquidationResult {
	type candidate struct {
		owner          common.Address
		symbol         string
		size           money.Qty
		mark           money.Price
		realizedBefore int64
	}

	m.mu.Lock()
	var candidates []candidate
	for owner, a := range m.accounts {
		for symbol, pos := range a.Positions {
			if pos.Size == 0 {
				continue
			}
			mark, ok := marks[symbol]
			if !ok {
				continue
			}
			sym, ok := m.cat.Get(symbol)
			if !ok {
				continue
			}
			maint := sym.MaintenanceMargin(mark, pos.Size)
			eq := a.Equity(marks)
			if eq >= maint {
				continue
			}
			candidates = append(candidates, candidate{owner, symbol, pos.Size, mark, a.RealizedPnL})
		}
	}
	m.mu.Unlock()

	if liquidator == nil || len(candidates) == 0 {
		return nil
	}

	var results []LiquidationResult
	for _, c := range candidates {
		closePrice, err := liquidator(c.owner, c.symbol, c.size, c.mark)
		if err != nil {
			continue
		}
		results = append(results, m.settleLiquidationLocked(c.owner, c.symbol, c.size, c.realizedBefore, closePrice))
	}
	return results
}

// LiquidationResult records how a liquidation was settled, spec.md §4.G
// "Liquidation".
type LiquidationResult struct {
	Owner          common.Address
	Symbol         string
	ClosedSize     money.Qty
	ClosePrice     money.Price
	RealizedPnL    int64
	InsuranceDraw  int64
	SocializedLoss int64
}

// settleLiquidationLocked runs after the liquidator's closing order has
// already traded (and so already posted through ApplyTrade): it measures
// how much of the original size actually closed, then handles the
// bankruptcy path — drawing the insurance fund for a negative balance and
// socializing whatever the fund can't cover, spec.md §4.G "Liquidation".
func (m *Manager) settleLiquidationLocked(owner common.Address, symbol string, originalSize money.Qty, realizedBefore int64, closePrice money.Price) LiquidationResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.account(owner)
	pos := a.position(symbol)

	res := LiquidationResult{
		Owner:       owner,
		Symbol:      symbol,
		ClosedSize:  originalSize - pos.Size,
		ClosePrice:  closePrice,
		RealizedPnL: a.RealizedPnL - realizedBefore,
	}

	if a.Balance < 0 {
		shortfall := -a.Balance
		draw := shortfall
		if draw > m.InsuranceFund {
			draw = m.InsuranceFund
		}
		m.InsuranceFund -= draw
		a.Balance += draw
		res.InsuranceDraw = draw

		if a.Balance < 0 {
			res.SocializedLoss = -a.Balance
			a.Balance = 0
			m.publish("SocializedLoss", map[string]interface{}{
				"user": owner.Hex(), "symbol": symbol, "amount": res.SocializedLoss,
			})
		}
		if draw > 0 {
			m.publish("InsuranceDraw", map[string]interface{}{"symbol": symbol, "amount": draw})
		}
	}

	m.publish("Liquidation", map[string]interface{}{
		"user": owner.Hex(), "symbol": symbol, "close_price": closePrice.String(),
		"closed_size": int64(res.ClosedSize), "realized_pnl": res.RealizedPnL,
	})
	return res
}

// NetExposure returns the aggregate client position for symbol.
func (m *Manager) NetExposure(symbol string) money.Qty {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.netExposure[symbol]
}
