// Package commandloop is the single-writer MPSC command queue of
// spec.md §4.I. Grounded on the teacher's pkg/app/core/mempool/mempool.go
// (classify → enqueue → drain in order) and pkg/consensus/engine.go's
// single-goroutine Run(ctx) loop shape, rebuilt as an idiomatic Go
// channel-based queue: one buffered chan Command, one worker goroutine
// draining it, synchronous callers attaching a buffered chan Result and
// waiting on it with a bounded timeout.
package commandloop

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nyxara/exchange-core/pkg/account"
	"github.com/nyxara/exchange-core/pkg/catalog"
	"github.com/nyxara/exchange-core/pkg/circuitbreaker"
	"github.com/nyxara/exchange-core/pkg/matching"
	"github.com/nyxara/exchange-core/pkg/money"
	"github.com/nyxara/exchange-core/pkg/orderbook"
	"github.com/nyxara/exchange-core/pkg/risk"
)

// resultTimeout is spec.md §4.I's synchronous-caller wait bound. A timeout
// does not revoke the command; the worker still executes it.
const resultTimeout = 5 * time.Second

// kind distinguishes the command variants accepted by the loop.
type kind int

const (
	kindSubmitOrder kind = iota
	kindCancelOrder
	kindCancelAll
	kindModifyOrder
	kindMarkTick
	kindStop
)

// SubmitOrderInput is the payload of a SubmitOrder command.
type SubmitOrderInput struct {
	Symbol     string
	Owner      common.Address
	Side       orderbook.Side
	Type       orderbook.Type
	Price      money.Price
	StopPrice  money.Price
	Qty        money.Qty
	ReduceOnly bool
	ClientTag  string
}

// Result is what a synchronous caller receives back from the worker.
// Err is set for a rejection; Trades/Order are set on success.
type Result struct {
	Trades       []orderbook.Trade
	Order        *orderbook.Order
	Count        int                       // set by CancelAll: number of orders cancelled
	Liquidations []account.LiquidationResult // set by MarkTick
	Err          error
}

// command is one entry in the MPSC queue. Exactly one of its Input fields
// is populated, selected by kind.
type command struct {
	kind kind

	submit SubmitOrderInput

	symbol string
	id     orderbook.OrderID
	owner  common.Address

	newPrice *money.Price
	newQty   *money.Qty

	marks map[string]money.Price

	reply chan Result
}

// Loop is the single-writer command queue: one buffered channel, one
// worker goroutine, spec.md §4.I.
type Loop struct {
	commands chan command

	cat   *catalog.Catalog
	risk  *risk.Engine
	cb    *circuitbreaker.Manager
	match *matching.Engine
	acct  *account.Manager
	log   *zap.Logger

	done chan struct{}
}

// New builds a command loop wiring the admission chain of spec.md §2:
// circuit breaker → risk → matching engine. Account and journal fan-out
// from ordinary trades is attached to match's OnTrade/OnOrderUpdate
// callbacks by the composition root, not by the loop itself. acctMgr is
// held only so MarkTick can run the mark-to-market/liquidation pass on
// the worker goroutine, spec.md §4.G "update_all_pnl".
func New(cat *catalog.Catalog, riskEngine *risk.Engine, cb *circuitbreaker.Manager, match *matching.Engine, acctMgr *account.Manager, log *zap.Logger, queueDepth int) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	return &Loop{
		commands: make(chan command, queueDepth),
		cat:      cat,
		risk:     riskEngine,
		cb:       cb,
		match:    match,
		acct:     acctMgr,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine. It returns immediately; the worker
// runs until ctx is cancelled or a Stop command is processed.
func (l *Loop) Start(ctx context.Context) {
	go l.run(ctx)
}

// Done closes once the worker goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-l.commands:
			if cmd.kind == kindStop {
				l.reply(cmd, Result{})
				return
			}
			l.execute(cmd)
		}
	}
}

func (l *Loop) execute(cmd command) {
	switch cmd.kind {
	case kindSubmitOrder:
		trades, order, err := l.submitOrder(cmd.submit)
		l.reply(cmd, Result{Trades: trades, Order: order, Err: err})
	case kindCancelOrder:
		order, ok := l.match.Cancel(cmd.symbol, cmd.id)
		if !ok {
			l.reply(cmd, Result{Err: fmt.Errorf("commandloop: order %d not found", cmd.id)})
			return
		}
		l.reply(cmd, Result{Order: order})
	case kindCancelAll:
		l.reply(cmd, Result{Count: l.match.CancelAll(cmd.owner)})
	case kindMarkTick:
		l.reply(cmd, Result{Liquidations: l.runMarkTick(cmd.marks)})
	case kindModifyOrder:
		ok, err := l.match.Modify(cmd.symbol, cmd.id, cmd.newPrice, cmd.newQty)
		if err != nil {
			l.reply(cmd, Result{Err: err})
			return
		}
		if !ok {
			l.reply(cmd, Result{Err: fmt.Errorf("commandloop: modify %d rejected", cmd.id)})
			return
		}
		order, _ := l.match.GetOrder(cmd.symbol, cmd.id)
		l.reply(cmd, Result{Order: order})
	}
}

// submitOrder runs the admission chain of spec.md §2: circuit breaker
// state check, then the risk engine's seven-step gate, then the matching
// engine. Every step runs on the worker goroutine, so no further
// synchronization is needed against concurrent submits.
func (l *Loop) submitOrder(in SubmitOrderInput) ([]orderbook.Trade, *orderbook.Order, error) {
	sym, ok := l.cat.Get(in.Symbol)
	if !ok {
		return nil, nil, fmt.Errorf("commandloop: unknown symbol %s", in.Symbol)
	}
	if !sym.Active {
		return nil, nil, fmt.Errorf("commandloop: symbol %s is not active", in.Symbol)
	}

	if l.cb != nil {
		state := l.cb.CheckOrder(in.Symbol, in.Side == orderbook.Buy, in.Price)
		if state == circuitbreaker.Halted {
			return nil, nil, fmt.Errorf("commandloop: %s is halted", in.Symbol)
		}
		if state == circuitbreaker.LimitUp && in.Side == orderbook.Buy {
			return nil, nil, fmt.Errorf("commandloop: %s is limit-up, buys rejected", in.Symbol)
		}
		if state == circuitbreaker.LimitDown && in.Side == orderbook.Sell {
			return nil, nil, fmt.Errorf("commandloop: %s is limit-down, sells rejected", in.Symbol)
		}
	}

	if l.risk != nil {
		signedQty := in.Qty
		if in.Side == orderbook.Sell {
			signedQty = -signedQty
		}
		var reference money.Price
		if bid, ask, ok := l.match.BBO(in.Symbol); ok {
			if bid != nil && ask != nil {
				reference = (*bid + *ask) / 2
			} else if bid != nil {
				reference = *bid
			} else if ask != nil {
				reference = *ask
			}
		}
		if err := l.risk.CheckOrder(in.Owner, in.Symbol, signedQty, in.Price, reference); err != nil {
			return nil, nil, err
		}
	}

	order := &orderbook.Order{
		ID:         orderbook.NextOrderID(),
		Symbol:     in.Symbol,
		Owner:      in.Owner,
		Side:       in.Side,
		Type:       in.Type,
		Price:      in.Price,
		StopPrice:  in.StopPrice,
		OrigQty:    in.Qty,
		ReduceOnly: in.ReduceOnly,
		ClientTag:  in.ClientTag,
	}

	// Position bookkeeping for the risk engine happens in the matching
	// engine's OnTrade callback (wired by the composition root), which
	// sees both the taker and maker side of every trade exactly once.
	// Updating it again here would double-count the taker's side.
	trades, err := l.match.Submit(order)
	if err != nil {
		return nil, order, err
	}
	return trades, order, nil
}

// runMarkTick re-marks every tracked position against marks and liquidates
// any account that has fallen below maintenance margin, spec.md §4.G
// "update_all_pnl". The liquidator closes a position by submitting a
// reduce-only market order through the same l.match.Submit path any other
// order takes (spec.md §9): it can fill fully or partially (the unfilled
// remainder of a market order is cancelled, not rested), and it is turned
// away while the symbol's circuit breaker is HALTED.
func (l *Loop) runMarkTick(marks map[string]money.Price) []account.LiquidationResult {
	if l.acct == nil {
		return nil
	}
	return l.acct.UpdateAllPnL(marks, func(owner common.Address, symbol string, size money.Qty, mark money.Price) (money.Price, error) {
		side := orderbook.Sell
		if size < 0 {
			side = orderbook.Buy
		}
		if l.cb != nil && l.cb.State(symbol) == circuitbreaker.Halted {
			return 0, fmt.Errorf("commandloop: liquidation for %s/%s refused: %s is halted", owner.Hex(), symbol, symbol)
		}
		order := &orderbook.Order{
			ID:         orderbook.NextOrderID(),
			Symbol:     symbol,
			Owner:      owner,
			Side:       side,
			Type:       orderbook.Market,
			Price:      mark,
			OrigQty:    size.Abs(),
			ReduceOnly: true,
			ClientTag:  "liquidation",
		}
		trades, err := l.match.Submit(order)
		if err != nil {
			return 0, fmt.Errorf("commandloop: liquidation submit for %s/%s: %w", owner.Hex(), symbol, err)
		}
		if len(trades) == 0 {
			return 0, fmt.Errorf("commandloop: liquidation order for %s/%s produced no fill (halted or no liquidity)", owner.Hex(), symbol)
		}
		return weightedAvgPrice(trades), nil
	})
}

// weightedAvgPrice is the notional-weighted average fill price across
// trades, used to report what a liquidation order actually closed at.
func weightedAvgPrice(trades []orderbook.Trade) money.Price {
	var notional, qty int64
	for _, t := range trades {
		notional += int64(t.Price) * int64(t.Qty)
		qty += int64(t.Qty)
	}
	if qty == 0 {
		return 0
	}
	return money.Price(notional / qty)
}

func (l *Loop) reply(cmd command, res Result) {
	if cmd.reply == nil {
		return
	}
	select {
	case cmd.reply <- res:
	default:
	}
}

// enqueueSync sends cmd and blocks for its reply up to resultTimeout. A
// timed-out caller gets a zero Result and an error; the command itself
// keeps running on the worker, per spec.md §4.I's idempotent-caller rule.
func (l *Loop) enqueueSync(ctx context.Context, cmd command) Result {
	cmd.reply = make(chan Result, 1)

	select {
	case l.commands <- cmd:
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, resultTimeout)
	defer cancel()

	select {
	case res := <-cmd.reply:
		return res
	case <-timeoutCtx.Done():
		return Result{Err: fmt.Errorf("commandloop: result timed out after %s", resultTimeout)}
	}
}

// SubmitOrder enqueues an order and waits for its result.
func (l *Loop) SubmitOrder(ctx context.Context, in SubmitOrderInput) Result {
	return l.enqueueSync(ctx, command{kind: kindSubmitOrder, submit: in})
}

// SubmitOrderAsync fires an order without waiting for a result.
func (l *Loop) SubmitOrderAsync(in SubmitOrderInput) {
	select {
	case l.commands <- command{kind: kindSubmitOrder, submit: in}:
	default:
		l.log.Warn("commandloop: queue full, dropping async submit", zap.String("symbol", in.Symbol))
	}
}

// CancelOrder enqueues a cancel and waits for its result.
func (l *Loop) CancelOrder(ctx context.Context, symbol string, id orderbook.OrderID) Result {
	return l.enqueueSync(ctx, command{kind: kindCancelOrder, symbol: symbol, id: id})
}

// CancelAll enqueues a cancel-all for owner and waits for the count
// cancelled, spec.md §6 "cancel_all".
func (l *Loop) CancelAll(ctx context.Context, owner common.Address) Result {
	return l.enqueueSync(ctx, command{kind: kindCancelAll, owner: owner})
}

// MarkTick enqueues a mark-to-market/liquidation pass over marks and waits
// for the liquidations it triggered, spec.md §4.G "update_all_pnl".
func (l *Loop) MarkTick(ctx context.Context, marks map[string]money.Price) Result {
	return l.enqueueSync(ctx, command{kind: kindMarkTick, marks: marks})
}

// ModifyOrder enqueues a modify and waits for its result.
func (l *Loop) ModifyOrder(ctx context.Context, symbol string, id orderbook.OrderID, newPrice *money.Price, newQty *money.Qty) Result {
	return l.enqueueSync(ctx, command{kind: kindModifyOrder, symbol: symbol, id: id, newPrice: newPrice, newQty: newQty})
}

// Stop enqueues a Stop command and waits for the worker to exit.
func (l *Loop) Stop(ctx context.Context) error {
	res := l.enqueueSync(ctx, command{kind: kindStop})
	if res.Err != nil {
		return res.Err
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
