// Package exchange is the composition root, spec.md §4.K. Grounded on
// the teacher's pkg/app/perp/app.go NewApp(): build every component in
// dependency order, wire their callbacks together, own the process
// lifecycle. Unlike the teacher's App (which wires a consensus engine
// and ABCI handlers), BuildCore wires the trading-core pipeline of
// spec.md §2: command loop → circuit breaker + risk → matching engine
// → account manager + journal.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nyxara/exchange-core/pkg/account"
	"github.com/nyxara/exchange-core/pkg/catalog"
	"github.com/nyxara/exchange-core/pkg/circuitbreaker"
	"github.com/nyxara/exchange-core/pkg/commandloop"
	"github.com/nyxara/exchange-core/pkg/journal"
	"github.com/nyxara/exchange-core/pkg/matching"
	"github.com/nyxara/exchange-core/pkg/money"
	"github.com/nyxara/exchange-core/pkg/orderbook"
	"github.com/nyxara/exchange-core/pkg/rates"
	"github.com/nyxara/exchange-core/pkg/risk"
	"github.com/nyxara/exchange-core/params"
)

// Core owns every trading-core component and the single command-loop
// goroutine that serializes all book/account mutation, spec.md §5.
type Core struct {
	Catalog     *catalog.Catalog
	Risk        *risk.Engine
	Breaker     *circuitbreaker.Manager
	Matching    *matching.Engine
	Accounts    *account.Manager
	Journal     *journal.Store
	Rates       *rates.Provider
	CommandLoop *commandloop.Loop

	log *zap.Logger
}

// BuildCore constructs catalog, risk engine, circuit breaker manager,
// account manager, matching engine, journal, and command loop in
// dependency order and wires their callbacks, spec.md §4.K. No package-
// level globals: every component lives on the returned *Core.
func BuildCore(cfg params.Config, log *zap.Logger) (*Core, error) {
	if log == nil {
		log = zap.NewNop()
	}

	cat := catalog.New()
	for _, s := range cfg.Symbols {
		sym := &catalog.Symbol{
			Name:         s.Name,
			TickSize:     money.Price(s.TickSize),
			LotSize:      money.Qty(s.LotSize),
			ContractSize: s.ContractSize,
			MarginRate:   s.MarginRate,
			MaintRate:    s.MaintenanceMarginRate,
			MakerFeeBps:  cfg.Fees.MakerFeeBps,
			TakerFeeBps:  cfg.Fees.TakerFeeBps,
			MinNotional:  s.MinNotional,
			MinFee:       s.MinFee,
			Active:       true,
		}
		if err := cat.Register(sym); err != nil {
			return nil, fmt.Errorf("exchange: register symbol %s: %w", s.Name, err)
		}
	}

	jrnl, err := journal.Open(cfg.Journal.DBPath)
	if err != nil {
		return nil, fmt.Errorf("exchange: open journal: %w", err)
	}

	riskEngine := risk.New(risk.Limits{
		MaxPositionSize:    money.Qty(cfg.Risk.MaxPositionSize),
		MaxOrdersPerSecond: cfg.Risk.MaxOrdersPerSecond,
		FatFingerThreshold: cfg.Risk.FatFingerThreshold,
		DailyLossLimit:     cfg.Risk.DailyLossLimit,
	})

	breaker := circuitbreaker.New()
	breakerParams := circuitbreaker.Params{
		PriceLimitPct:    cfg.Breaker.PriceLimitPct,
		HaltThresholdPct: cfg.Breaker.HaltThresholdPct,
		HaltDuration:     cfg.Breaker.HaltDuration,
		WindowDuration:   cfg.Breaker.WindowDuration,
	}

	acctMgr := account.New(cat, cfg.Fees.InsuranceContribFraction, jrnl)

	ratesProvider := rates.New(cfg.Rates.MaxStale)

	match := matching.New(cat, log)

	// Every book's trade callback feeds the journal, the account
	// manager, and the circuit breaker, per spec.md §4.D.
	match.OnTrade = func(t orderbook.Trade) {
		onTrade(log, acctMgr, riskEngine, breaker, jrnl, t)
	}
	match.OnOrderUpdate = func(o *orderbook.Order) {
		jrnl.Append("OrderUpdated", map[string]interface{}{
			"order_id": uint64(o.ID),
			"symbol":   o.Symbol,
			"status":   o.Status.String(),
		})
	}

	for _, s := range cfg.Symbols {
		sym, _ := cat.Get(s.Name)
		breaker.Seed(s.Name, sym.SnapPrice(money.Price(s.ReferencePrice)), breakerParams)
	}

	loop := commandloop.New(cat, riskEngine, breaker, match, acctMgr, log, cfg.CommandLoop.QueueDepth)

	return &Core{
		Catalog:     cat,
		Risk:        riskEngine,
		Breaker:     breaker,
		Matching:    match,
		Accounts:    acctMgr,
		Journal:     jrnl,
		Rates:       ratesProvider,
		CommandLoop: loop,
		log:         log,
	}, nil
}

// onTrade fans a single trade out to the account manager, journal, risk
// engine, and circuit breaker, spec.md §4.D "the engine uses [callbacks]
// to (a) append to the journal, (b) hand Trades to the Position & Account
// manager, ... (d) inform the circuit breaker of each traded price."
// ApplyTrade runs first: its realized-PnL deltas feed both the risk
// engine's daily-loss tracking (spec.md §4.E step 6) and the ledger
// posting carried in the Trade event's payload (spec.md §4.H).
func onTrade(log *zap.Logger, acctMgr *account.Manager, riskEngine *risk.Engine, breaker *circuitbreaker.Manager, jrnl *journal.Store, t orderbook.Trade) {
	takerSigned := t.Qty
	makerSigned := -t.Qty
	if t.TakerSide == orderbook.Sell {
		takerSigned = -t.Qty
		makerSigned = t.Qty
	}

	taker := account.Fill{Owner: t.TakerOwner, Symbol: t.Symbol, Side: sign(takerSigned), Qty: t.Qty, Price: t.Price, Fee: t.TakerFee}
	maker := account.Fill{Owner: t.MakerOwner, Symbol: t.Symbol, Side: sign(makerSigned), Qty: t.Qty, Price: t.Price, Fee: t.MakerFee}

	takerRealized, makerRealized, err := acctMgr.ApplyTrade(taker, maker)
	if err != nil {
		log.Error("exchange: apply trade failed", zap.Error(err), zap.String("symbol", t.Symbol))
	}

	jrnl.Append("Trade", map[string]interface{}{
		"trade_id":           uint64(t.ID),
		"symbol":             t.Symbol,
		"maker_order":        uint64(t.MakerOrder),
		"taker_order":        uint64(t.TakerOrder),
		"price":              int64(t.Price),
		"qty":                int64(t.Qty),
		"taker_owner":        t.TakerOwner.Hex(),
		"maker_owner":        t.MakerOwner.Hex(),
		"taker_fee":          t.TakerFee,
		"maker_fee":          t.MakerFee,
		"taker_realized_pnl": takerRealized,
		"maker_realized_pnl": makerRealized,
	})

	riskEngine.UpdatePosition(t.TakerOwner, t.Symbol, takerSigned, takerRealized)
	riskEngine.UpdatePosition(t.MakerOwner, t.Symbol, makerSigned, makerRealized)

	breaker.OnTrade(t.Symbol, t.Price)
}

func sign(signed money.Qty) money.Qty {
	if signed < 0 {
		return -1
	}
	return 1
}

// SymbolBBO is one symbol's best bid/ask in a StateSnapshot.
type SymbolBBO struct {
	Symbol string
	Bid    *money.Price
	Ask    *money.Price
}

// StateSnapshot answers spec.md §6's "get_state": a user's account,
// positions, open orders, and the BBO of every symbol with an
// initialized book. Reads the account manager, matching engine, and
// catalog directly rather than going through the command loop — these
// are the same concurrent-read paths BBO/Depth/GetOrder already use,
// not book/position mutation.
type StateSnapshot struct {
	Account    *account.Account
	OpenOrders []*orderbook.Order
	BBO        []SymbolBBO
}

// GetState builds a StateSnapshot for owner, spec.md §6 "get_state".
func (c *Core) GetState(owner common.Address) StateSnapshot {
	snap := StateSnapshot{
		Account:    c.Accounts.GetAccount(owner),
		OpenOrders: c.Matching.OpenOrdersByOwner(owner),
	}
	for _, s := range c.Catalog.List() {
		bid, ask, ok := c.Matching.BBO(s.Name)
		if !ok {
			continue
		}
		snap.BBO = append(snap.BBO, SymbolBBO{Symbol: s.Name, Bid: bid, Ask: ask})
	}
	return snap
}

// markTickInterval is how often Core re-marks every open position against
// the book's current BBO and checks maintenance margin, spec.md §4.G
// "update_all_pnl".
const markTickInterval = 5 * time.Second

// Start launches the command-loop worker goroutine and the mark-to-market
// ticker, spec.md §6.
func (c *Core) Start(ctx context.Context) {
	c.CommandLoop.Start(ctx)
	go c.runMarkTicks(ctx)
}

// runMarkTicks periodically marks every symbol at its book mid and runs a
// liquidation pass through the command loop, spec.md §4.G "update_all_pnl".
// A symbol with no BBO on either side this tick is simply skipped — there's
// nothing to mark it against.
func (c *Core) runMarkTicks(ctx context.Context) {
	ticker := time.NewTicker(markTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			marks := make(map[string]money.Price)
			for _, s := range c.Catalog.List() {
				bid, ask, ok := c.Matching.BBO(s.Name)
				if !ok {
					continue
				}
				switch {
				case bid != nil && ask != nil:
					marks[s.Name] = (*bid + *ask) / 2
				case bid != nil:
					marks[s.Name] = *bid
				case ask != nil:
					marks[s.Name] = *ask
				}
			}
			if len(marks) == 0 {
				continue
			}
			tickCtx, cancel := context.WithTimeout(ctx, markTickInterval)
			res := c.CommandLoop.MarkTick(tickCtx, marks)
			cancel()
			if res.Err != nil {
				c.log.Warn("exchange: mark tick failed", zap.Error(res.Err))
			}
			for _, liq := range res.Liquidations {
				c.log.Info("exchange: position liquidated",
					zap.String("owner", liq.Owner.Hex()), zap.String("symbol", liq.Symbol),
					zap.Int64("closed_size", int64(liq.ClosedSize)), zap.Int64("close_price", int64(liq.ClosePrice)),
					zap.Int64("realized_pnl", liq.RealizedPnL), zap.Int64("insurance_draw", liq.InsuranceDraw),
					zap.Int64("socialized_loss", liq.SocializedLoss))
			}
		}
	}
}

// Shutdown stops the command loop and flushes and closes the journal,
// spec.md §6 "Exit codes / signals".
func (c *Core) Shutdown(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.CommandLoop.Stop(stopCtx); err != nil {
		c.log.Warn("exchange: command loop stop did not complete cleanly", zap.Error(err))
	}
	if err := c.Journal.Close(); err != nil {
		return fmt.Errorf("exchange: close journal: %w", err)
	}
	return nil
}
