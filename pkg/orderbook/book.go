// Package orderbook implements price-time priority matching for a single
// symbol, spec.md §4.C. Heap-based best-price tracking and the FIFO
// per-level queues are adapted from the teacher's
// pkg/app/core/orderbook/{orderbook,heap}.go; everything past "find the
// best opposing level" is a rewrite to cover the full spec.md order-type
// and self-trade-prevention surface the teacher never implemented.
package orderbook

import (
	"container/heap"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nyxara/exchange-core/pkg/catalog"
	"github.com/nyxara/exchange-core/pkg/money"
)

// Depth is one (price, aggregate quantity) rung returned by GetDepth.
type Depth struct {
	Price money.Price
	Qty   money.Qty
}

// Book owns every order resting for one symbol, spec.md §3 "OrderBook".
// A Book is single-writer: all mutating calls are expected to arrive from
// one goroutine (the command loop, spec.md §4.I); the mutex exists to let
// reads (BBO, depth, GetOrder) run concurrently from other goroutines.
type Book struct {
	mu sync.RWMutex

	symbol string

	bids    map[money.Price][]*Order
	bidHeap maxPriceHeap
	asks    map[money.Price][]*Order
	askHeap minPriceHeap

	index map[OrderID]Side // resting order -> which side tree holds it

	stops *parkedStops

	lastPrice money.Price
	volume    []volumePoint // trailing 24h trade volume, pruned lazily

	// Now returns the current time in microseconds. Overridable for tests.
	Now func() int64

	OnTrade       func(Trade)
	OnOrderUpdate func(*Order)
}

type volumePoint struct {
	ts  int64
	qty money.Qty
}

// New creates an empty book for symbol.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   make(map[money.Price][]*Order),
		asks:   make(map[money.Price][]*Order),
		index:  make(map[OrderID]Side),
		stops:  newParkedStops(),
		Now:    nowMicros,
	}
}

func (b *Book) emitTrade(t Trade) {
	if b.OnTrade != nil {
		b.OnTrade(t)
	}
}

func (b *Book) emitOrderUpdate(o *Order) {
	if b.OnOrderUpdate != nil {
		b.OnOrderUpdate(o)
	}
}

// ---- side-tree helpers (deliberately parallel bid/ask pairs, matching
// the teacher's addBid/addAsk duplication in orderbook.go rather than a
// generic abstraction over two different heap types) ----

func (b *Book) addBid(o *Order) {
	if len(b.bids[o.Price]) == 0 {
		heap.Push(&b.bidHeap, o.Price)
	}
	b.bids[o.Price] = append(b.bids[o.Price], o)
	b.index[o.ID] = Buy
}

func (b *Book) addAsk(o *Order) {
	if len(b.asks[o.Price]) == 0 {
		heap.Push(&b.askHeap, o.Price)
	}
	b.asks[o.Price] = append(b.asks[o.Price], o)
	b.index[o.ID] = Sell
}

func (b *Book) removeFromBidHeap(price money.Price) {
	for i, p := range b.bidHeap {
		if p == price {
			heap.Remove(&b.bidHeap, i)
			return
		}
	}
}

func (b *Book) removeFromAskHeap(price money.Price) {
	for i, p := range b.askHeap {
		if p == price {
			heap.Remove(&b.askHeap, i)
			return
		}
	}
}

// removeOrderLocked deletes o from whichever side tree currently holds it.
func (b *Book) removeOrderLocked(o *Order) {
	side, ok := b.index[o.ID]
	if !ok {
		return
	}
	if side == Buy {
		arr := b.bids[o.Price]
		for i, r := range arr {
			if r.ID == o.ID {
				b.bids[o.Price] = append(arr[:i], arr[i+1:]...)
				break
			}
		}
		if len(b.bids[o.Price]) == 0 {
			delete(b.bids, o.Price)
			b.removeFromBidHeap(o.Price)
		}
	} else {
		arr := b.asks[o.Price]
		for i, r := range arr {
			if r.ID == o.ID {
				b.asks[o.Price] = append(arr[:i], arr[i+1:]...)
				break
			}
		}
		if len(b.asks[o.Price]) == 0 {
			delete(b.asks, o.Price)
			b.removeFromAskHeap(o.Price)
		}
	}
	delete(b.index, o.ID)
}

func (b *Book) restLocked(o *Order) {
	if o.Side == Buy {
		b.addBid(o)
	} else {
		b.addAsk(o)
	}
}

func (b *Book) bestOpposing(side Side) (money.Price, bool) {
	if side == Buy {
		return b.askHeap.Peek()
	}
	return b.bidHeap.Peek()
}

func (b *Book) opposingLevel(side Side, price money.Price) []*Order {
	if side == Buy {
		return b.asks[price]
	}
	return b.bids[price]
}

// crosses reports whether an incoming order of the given side/type/price
// would execute against the best opposing price.
func (b *Book) crosses(side Side, typ Type, price money.Price) bool {
	opp, ok := b.bestOpposing(side)
	if !ok {
		return false
	}
	if typ == Market {
		return true
	}
	if side == Buy {
		return price >= opp
	}
	return price <= opp
}

// ---- validation ----

func (b *Book) validate(o *Order, sym *catalog.Symbol) error {
	if o.Type == StopLimit {
		if o.StopPrice <= 0 {
			return newError(ReasonInvalidStop, "stop price must be positive")
		}
		o.StopPrice = sym.SnapPrice(o.StopPrice)
	}
	if o.Type != Market {
		o.Price = sym.SnapPrice(o.Price)
	}
	if o.OrigQty <= 0 || !money.IsMultiple(int64(o.OrigQty), int64(sym.LotSize)) {
		return newError(ReasonInvalidQty, "quantity must be a positive multiple of lot size")
	}
	if o.Type != Market {
		notional := money.Notional(o.Price, o.OrigQty, sym.ContractSize)
		if notional < sym.MinNotional {
			return newError(ReasonInvalidTick, "notional below minimum")
		}
	}
	return nil
}

// ---- public operations (spec.md §4.C contract) ----

// Submit admits o into the book, matching it against resting liquidity per
// price-time priority, spec.md §4.C steps 1-5.
func (b *Book) Submit(o *Order, sym *catalog.Symbol) ([]Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitLocked(o, sym)
}

func (b *Book) submitLocked(o *Order, sym *catalog.Symbol) ([]Trade, error) {
	if o.CreatedAt == 0 {
		o.CreatedAt = b.Now()
	}
	o.UpdatedAt = b.Now()

	if err := b.validate(o, sym); err != nil {
		o.Status = Rejected
		b.emitOrderUpdate(o)
		return nil, err
	}

	// Step 2: park untriggered stop-limit orders.
	if o.Type == StopLimit && !o.Triggered {
		o.Status = New
		b.stops.add(o)
		b.emitOrderUpdate(o)
		return nil, nil
	}

	// POST_ONLY must never take: reject up front, book untouched.
	if o.Type == PostOnly && b.crosses(o.Side, o.Type, o.Price) {
		o.Status = Rejected
		b.emitOrderUpdate(o)
		return nil, newError(ReasonPostOnlyWouldTake, "")
	}

	// FOK must be all-or-nothing: check achievable quantity from non-self
	// resting liquidity before mutating anything.
	if o.Type == FOK {
		if b.achievable(o) < o.OrigQty {
			o.Status = Rejected
			b.emitOrderUpdate(o)
			return nil, newError(ReasonFOKUnfillable, "")
		}
	}

	trades := b.matchLocked(o, sym)

	b.finalizeLocked(o, sym)

	// Step 5: cascade stop triggers from every trade price produced here.
	for _, tr := range trades {
		trades = append(trades, b.processTriggersLocked(tr.Price, sym)...)
	}

	return trades, nil
}

// achievable sums the resting opposing quantity this order could actually
// take, excluding levels/orders it cannot cross and quantity belonging to
// the order's own owner (which self-trade prevention would cancel, not
// fill). Used by FOK's atomicity check (spec.md §4.C step 4).
func (b *Book) achievable(o *Order) money.Qty {
	var total money.Qty
	opp := o.Side.Opposite()
	var levels map[money.Price][]*Order
	var prices []money.Price
	if opp == Sell {
		levels = b.asks
		cp := append(minPriceHeap{}, b.askHeap...)
		for cp.Len() > 0 {
			p := heap.Pop(&cp).(money.Price)
			prices = append(prices, p)
		}
	} else {
		levels = b.bids
		cp := append(maxPriceHeap{}, b.bidHeap...)
		for cp.Len() > 0 {
			p := heap.Pop(&cp).(money.Price)
			prices = append(prices, p)
		}
	}
	for _, p := range prices {
		if o.Type != Market {
			if o.Side == Buy && p > o.Price {
				break
			}
			if o.Side == Sell && p < o.Price {
				break
			}
		}
		for _, maker := range levels[p] {
			if maker.Owner == o.Owner {
				continue
			}
			total += maker.Remaining()
		}
	}
	return total
}

// matchLocked runs the price-time priority cross loop, spec.md §4.C step 3.
func (b *Book) matchLocked(o *Order, sym *catalog.Symbol) []Trade {
	var trades []Trade

	for o.Remaining() > 0 {
		oppSide := o.Side.Opposite()
		bestPrice, ok := b.bestOpposing(o.Side)
		if !ok {
			break
		}
		if o.Type != Market {
			if o.Side == Buy && o.Price < bestPrice {
				break
			}
			if o.Side == Sell && o.Price > bestPrice {
				break
			}
		}

		level := b.opposingLevel(o.Side, bestPrice)
		if len(level) == 0 {
			// stale empty level left by a prior partial cleanup; drop it.
			if oppSide == Sell {
				delete(b.asks, bestPrice)
				b.removeFromAskHeap(bestPrice)
			} else {
				delete(b.bids, bestPrice)
				b.removeFromBidHeap(bestPrice)
			}
			continue
		}

		maker := level[0]

		if maker.Owner == o.Owner {
			// Self-trade prevention: cancel the resting maker, no trade.
			maker.Status = Cancelled
			maker.UpdatedAt = b.Now()
			b.removeOrderLocked(maker)
			b.emitOrderUpdate(maker)
			continue
		}

		fillQty := o.Remaining()
		if maker.Remaining() < fillQty {
			fillQty = maker.Remaining()
		}

		filledTaker, err := money.AddQty(o.FilledQty, fillQty)
		if err != nil {
			// Unreachable in practice (order sizes are bounded well below
			// int64 range by risk.CheckOrder's position limit), but
			// never silently wrap a fill quantity.
			break
		}
		filledMaker, err := money.AddQty(maker.FilledQty, fillQty)
		if err != nil {
			break
		}
		o.FilledQty = filledTaker
		maker.FilledQty = filledMaker
		maker.UpdatedAt = b.Now()

		trade := Trade{
			ID:         NextTradeID(),
			Symbol:     b.symbol,
			MakerOrder: maker.ID,
			TakerOrder: o.ID,
			MakerOwner: maker.Owner,
			TakerOwner: o.Owner,
			TakerSide:  o.Side,
			Price:      bestPrice, // price improvement goes to the taker
			Qty:        fillQty,
			Timestamp:  b.Now(),
		}
		if sym != nil {
			notional := money.Notional(trade.Price, trade.Qty, sym.ContractSize)
			trade.MakerFee = money.Fee(notional, sym.MakerFeeBps, sym.MinFee)
			trade.TakerFee = money.Fee(notional, sym.TakerFeeBps, sym.MinFee)
		}
		trades = append(trades, trade)
		b.emitTrade(trade)
		b.recordVolume(trade)
		b.lastPrice = bestPrice

		if maker.Remaining() == 0 {
			maker.Status = Filled
			b.removeOrderLocked(maker)
		} else {
			maker.Status = PartiallyFilled
		}
		b.emitOrderUpdate(maker)
	}

	return trades
}

// finalizeLocked applies the per-type post-processing of spec.md §4.C
// step 4 once the cross loop has run.
func (b *Book) finalizeLocked(o *Order, sym *catalog.Symbol) {
	switch {
	case o.Remaining() == 0:
		o.Status = Filled
	case o.Type == Market, o.Type == IOC, o.Type == FOK:
		// Any remainder is cancelled; FOK never reaches here with a
		// remainder because it was rejected up front when unfillable.
		o.Status = Cancelled
	default: // Limit, PostOnly, triggered StopLimit
		if o.FilledQty == 0 {
			o.Status = New
		} else {
			o.Status = PartiallyFilled
		}
		o.UpdatedAt = b.Now()
		b.restLocked(o)
	}
	b.emitOrderUpdate(o)
}

func (b *Book) processTriggersLocked(price money.Price, sym *catalog.Symbol) []Trade {
	fired := b.stops.triggered(price)
	var out []Trade
	for _, stopOrder := range fired {
		stopOrder.Triggered = true
		trades, _ := b.submitLocked(stopOrder, sym)
		out = append(out, trades...)
	}
	return out
}

// CheckStopOrders re-evaluates parked stop orders against an externally
// observed trigger price (e.g. a mark-price update), spec.md §4.C contract.
func (b *Book) CheckStopOrders(triggerPrice money.Price, sym *catalog.Symbol) []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processTriggersLocked(triggerPrice, sym)
}

// Cancel removes order id if it is still active, returning it.
func (b *Book) Cancel(id OrderID) (*Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o, ok := b.findRestingLocked(id); ok {
		o.Status = Cancelled
		o.UpdatedAt = b.Now()
		b.removeOrderLocked(o)
		b.emitOrderUpdate(o)
		return o, true
	}
	if o, ok := b.stops.remove(id); ok {
		o.Status = Cancelled
		o.UpdatedAt = b.Now()
		b.emitOrderUpdate(o)
		return o, true
	}
	return nil, false
}

// OpenOrdersByOwner returns every order resting or parked for owner,
// spec.md §6 "get_state" / "cancel_all". Order is unspecified.
func (b *Book) OpenOrdersByOwner(owner common.Address) []*Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Order
	for _, arr := range b.bids {
		for _, o := range arr {
			if o.Owner == owner {
				out = append(out, o)
			}
		}
	}
	for _, arr := range b.asks {
		for _, o := range arr {
			if o.Owner == owner {
				out = append(out, o)
			}
		}
	}
	out = append(out, b.stops.byOwner(owner)...)
	return out
}

func (b *Book) findRestingLocked(id OrderID) (*Order, bool) {
	side, ok := b.index[id]
	if !ok {
		return nil, false
	}
	var levels map[money.Price][]*Order
	if side == Buy {
		levels = b.bids
	} else {
		levels = b.asks
	}
	for _, arr := range levels {
		for _, o := range arr {
			if o.ID == id {
				return o, true
			}
		}
	}
	return nil, false
}

// Modify implements spec.md §4.C "Modify": a price change or quantity
// increase is cancel+resubmit (loses time priority); a quantity decrease
// shrinks the resting order in place (keeps priority).
func (b *Book) Modify(id OrderID, newPrice *money.Price, newQty *money.Qty, sym *catalog.Symbol) (bool, error) {
	b.mu.Lock()

	o, ok := b.findRestingLocked(id)
	if !ok {
		b.mu.Unlock()
		return false, nil
	}

	priceChanged := newPrice != nil && *newPrice != o.Price
	qtyUp := newQty != nil && *newQty > o.OrigQty

	if priceChanged || qtyUp {
		clone := o.Clone()
		clone.ID = NextOrderID()
		clone.FilledQty = 0
		clone.Status = New
		clone.CreatedAt = 0
		if newPrice != nil {
			clone.Price = *newPrice
		}
		if newQty != nil {
			clone.OrigQty = *newQty
		}
		o.Status = Cancelled
		o.UpdatedAt = b.Now()
		b.removeOrderLocked(o)
		b.emitOrderUpdate(o)
		b.mu.Unlock()

		_, err := b.Submit(clone, sym)
		return err == nil, err
	}

	// Quantity-down in place.
	if newQty != nil {
		if *newQty <= o.FilledQty {
			o.OrigQty = o.FilledQty
			o.Status = Filled
			b.removeOrderLocked(o)
		} else {
			o.OrigQty = *newQty
			if o.FilledQty > 0 {
				o.Status = PartiallyFilled
			}
		}
		o.UpdatedAt = b.Now()
		b.emitOrderUpdate(o)
	}
	b.mu.Unlock()
	return true, nil
}

// GetOrder returns a resting or parked order by id.
func (b *Book) GetOrder(id OrderID) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if o, ok := b.findRestingLocked(id); ok {
		return o, true
	}
	for _, arr := range b.stops.buyLevels {
		for _, o := range arr {
			if o.ID == id {
				return o, true
			}
		}
	}
	for _, arr := range b.stops.sellLevels {
		for _, o := range arr {
			if o.ID == id {
				return o, true
			}
		}
	}
	return nil, false
}

// BBO returns the best bid and best ask, spec.md §4.C contract.
func (b *Book) BBO() (bid *money.Price, ask *money.Price) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.bidHeap.Peek(); ok {
		bid = &p
	}
	if p, ok := b.askHeap.Peek(); ok {
		ask = &p
	}
	return
}

// GetDepth returns up to `levels` price rungs on each side, best first.
func (b *Book) GetDepth(levels int) (bids, asks []Depth) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bidHeapCopy := append(maxPriceHeap{}, b.bidHeap...)
	for bidHeapCopy.Len() > 0 && len(bids) < levels {
		p := heap.Pop(&bidHeapCopy).(money.Price)
		bids = append(bids, Depth{Price: p, Qty: sumQty(b.bids[p])})
	}
	askHeapCopy := append(minPriceHeap{}, b.askHeap...)
	for askHeapCopy.Len() > 0 && len(asks) < levels {
		p := heap.Pop(&askHeapCopy).(money.Price)
		asks = append(asks, Depth{Price: p, Qty: sumQty(b.asks[p])})
	}
	return
}

func sumQty(orders []*Order) money.Qty {
	var total money.Qty
	for _, o := range orders {
		total += o.Remaining()
	}
	return total
}

// LastPrice returns the most recent trade price, or 0 if none yet.
func (b *Book) LastPrice() money.Price {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice
}

func (b *Book) recordVolume(t Trade) {
	b.volume = append(b.volume, volumePoint{ts: t.Timestamp, qty: t.Qty})
	cutoff := t.Timestamp - 24*3600*1_000_000
	i := 0
	for i < len(b.volume) && b.volume[i].ts < cutoff {
		i++
	}
	if i > 0 {
		b.volume = b.volume[i:]
	}
}

// Volume24h returns the trailing 24-hour traded quantity.
func (b *Book) Volume24h() money.Qty {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total money.Qty
	for _, v := range b.volume {
		total += v.qty
	}
	return total
}

// CheckInvariants verifies the book-level invariants spec.md §4.C lists,
// intended for test use after every Submit/Cancel/Modify.
func (b *Book) CheckInvariants() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for price, arr := range b.bids {
		if len(arr) == 0 {
			return invariantErr("empty bid level at %s", price)
		}
		for _, o := range arr {
			if b.index[o.ID] != Buy {
				return invariantErr("bid order %d missing from index", o.ID)
			}
		}
	}
	for price, arr := range b.asks {
		if len(arr) == 0 {
			return invariantErr("empty ask level at %s", price)
		}
		for _, o := range arr {
			if b.index[o.ID] != Sell {
				return invariantErr("ask order %d missing from index", o.ID)
			}
		}
	}
	return nil
}

func invariantErr(format string, args ...interface{}) error {
	return newError(RejectReason("INVARIANT_VIOLATION"), sprintf(format, args...))
}
