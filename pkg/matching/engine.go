// Package matching is the book registry and entrypoint for order
// admission, spec.md §4.D. Adapted from the teacher's
// pkg/app/core/market/registry.go (registration/lookup/status shape);
// the per-symbol match itself lives in pkg/orderbook.
package matching

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nyxara/exchange-core/pkg/catalog"
	"github.com/nyxara/exchange-core/pkg/money"
	"github.com/nyxara/exchange-core/pkg/orderbook"
)

// Engine routes orders to the right per-symbol book, creating books lazily
// the first time a registered symbol is traded.
type Engine struct {
	mu     sync.RWMutex
	books  map[string]*orderbook.Book
	cat    *catalog.Catalog
	log    *zap.Logger
	nowFn  func() int64

	OnTrade       func(orderbook.Trade)
	OnOrderUpdate func(*orderbook.Order)
}

// New builds an engine backed by cat for symbol lookup.
func New(cat *catalog.Catalog, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		books: make(map[string]*orderbook.Book),
		cat:   cat,
		log:   log,
	}
}

func (e *Engine) bookFor(symbol string) (*orderbook.Book, *catalog.Symbol, error) {
	sym, ok := e.cat.Get(symbol)
	if !ok {
		return nil, nil, fmt.Errorf("matching: unknown symbol %s", symbol)
	}
	if !sym.Active {
		return nil, nil, fmt.Errorf("matching: symbol %s is not active", symbol)
	}

	e.mu.RLock()
	b, ok := e.books[symbol]
	e.mu.RUnlock()
	if ok {
		return b, sym, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.books[symbol]; ok {
		return b, sym, nil
	}
	b = orderbook.New(symbol)
	if e.nowFn != nil {
		b.Now = e.nowFn
	}
	b.OnTrade = func(t orderbook.Trade) {
		if e.OnTrade != nil {
			e.OnTrade(t)
		}
	}
	b.OnOrderUpdate = func(o *orderbook.Order) {
		if e.OnOrderUpdate != nil {
			e.OnOrderUpdate(o)
		}
	}
	e.books[symbol] = b
	e.log.Info("matching: book created", zap.String("symbol", symbol))
	return b, sym, nil
}

// Submit admits an order into its symbol's book, spec.md §4.D.
func (e *Engine) Submit(o *orderbook.Order) ([]orderbook.Trade, error) {
	b, sym, err := e.bookFor(o.Symbol)
	if err != nil {
		return nil, err
	}
	return b.Submit(o, sym)
}

// Cancel removes an order from its symbol's book.
func (e *Engine) Cancel(symbol string, id orderbook.OrderID) (*orderbook.Order, bool) {
	e.mu.RLock()
	b, ok := e.books[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return b.Cancel(id)
}

// Modify changes a resting order's price and/or quantity.
func (e *Engine) Modify(symbol string, id orderbook.OrderID, newPrice *money.Price, newQty *money.Qty) (bool, error) {
	e.mu.RLock()
	b, found := e.books[symbol]
	e.mu.RUnlock()
	if !found {
		return false, fmt.Errorf("matching: unknown symbol %s", symbol)
	}
	sym, ok := e.cat.Get(symbol)
	if !ok {
		return false, fmt.Errorf("matching: unknown symbol %s", symbol)
	}
	return b.Modify(id, newPrice, newQty, sym)
}

// BBO returns the best bid/ask for symbol, if its book has been created.
func (e *Engine) BBO(symbol string) (bid, ask *money.Price, ok bool) {
	e.mu.RLock()
	b, found := e.books[symbol]
	e.mu.RUnlock()
	if !found {
		return nil, nil, false
	}
	bid, ask = b.BBO()
	return bid, ask, true
}

// Depth returns up to `levels` depth rungs on each side for symbol.
func (e *Engine) Depth(symbol string, levels int) (bids, asks []orderbook.Depth, ok bool) {
	e.mu.RLock()
	b, found := e.books[symbol]
	e.mu.RUnlock()
	if !found {
		return nil, nil, false
	}
	bids, asks = b.GetDepth(levels)
	return bids, asks, true
}

// GetOrder looks up an order in symbol's book.
func (e *Engine) GetOrder(symbol string, id orderbook.OrderID) (*orderbook.Order, bool) {
	e.mu.RLock()
	b, found := e.books[symbol]
	e.mu.RUnlock()
	if !found {
		return nil, false
	}
	return b.GetOrder(id)
}

// CheckStopOrders re-evaluates parked stops for symbol against an
// externally observed price (e.g. a mark price feed), spec.md §4.C.
func (e *Engine) CheckStopOrders(symbol string, price money.Price) ([]orderbook.Trade, error) {
	e.mu.RLock()
	b, found := e.books[symbol]
	e.mu.RUnlock()
	if !found {
		return nil, nil
	}
	sym, ok := e.cat.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("matching: unknown symbol %s", symbol)
	}
	return b.CheckStopOrders(price, sym), nil
}

// OpenOrdersByOwner returns every resting or parked order belonging to
// owner across every symbol with an initialized book, spec.md §6
// "get_state".
func (e *Engine) OpenOrdersByOwner(owner common.Address) []*orderbook.Order {
	e.mu.RLock()
	books := make([]*orderbook.Book, 0, len(e.books))
	for _, b := range e.books {
		books = append(books, b)
	}
	e.mu.RUnlock()

	var out []*orderbook.Order
	for _, b := range books {
		out = append(out, b.OpenOrdersByOwner(owner)...)
	}
	return out
}

// CancelAll cancels every order owned by owner across every symbol,
// spec.md §6 "cancel_all". Returns the count cancelled.
func (e *Engine) CancelAll(owner common.Address) int {
	e.mu.RLock()
	books := make([]*orderbook.Book, 0, len(e.books))
	for _, b := range e.books {
		books = append(books, b)
	}
	e.mu.RUnlock()

	n := 0
	for _, b := range books {
		for _, o := range b.OpenOrdersByOwner(owner) {
			if _, ok := b.Cancel(o.ID); ok {
				n++
			}
		}
	}
	return n
}

// Books returns the symbols with an initialized book.
func (e *Engine) Books() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.books))
	for s := range e.books {
		out = append(out, s)
	}
	return out
}
