package orderbook

import (
	"container/heap"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nyxara/exchange-core/pkg/money"
)

// parkedStops holds untriggered STOP_LIMIT orders out of the bid/ask trees
// so they can never be matched against directly (spec.md §9 "Stop-limit
// book"). Keyed by (side, stop price); triggered in price-sorted order:
// BUY stops ascending, SELL stops descending (spec.md §4.C step 5).
type parkedStops struct {
	buyLevels  map[money.Price][]*Order
	sellLevels map[money.Price][]*Order
	buyHeap    minPriceHeap // ascending trigger order for BUY stops
	sellHeap   maxPriceHeap // descending trigger order for SELL stops
}

func newParkedStops() *parkedStops {
	return &parkedStops{
		buyLevels:  make(map[money.Price][]*Order),
		sellLevels: make(map[money.Price][]*Order),
	}
}

func (p *parkedStops) add(o *Order) {
	if o.Side == Buy {
		if len(p.buyLevels[o.StopPrice]) == 0 {
			heap.Push(&p.buyHeap, o.StopPrice)
		}
		p.buyLevels[o.StopPrice] = append(p.buyLevels[o.StopPrice], o)
		return
	}
	if len(p.sellLevels[o.StopPrice]) == 0 {
		heap.Push(&p.sellHeap, o.StopPrice)
	}
	p.sellLevels[o.StopPrice] = append(p.sellLevels[o.StopPrice], o)
}

// remove deletes the order with id from whichever parked level holds it.
// Returns the order and true if found.
func (p *parkedStops) remove(id OrderID) (*Order, bool) {
	for price, orders := range p.buyLevels {
		for i, o := range orders {
			if o.ID == id {
				p.buyLevels[price] = append(orders[:i], orders[i+1:]...)
				if len(p.buyLevels[price]) == 0 {
					delete(p.buyLevels, price)
					p.removeFromHeap(&p.buyHeap, price)
				}
				return o, true
			}
		}
	}
	for price, orders := range p.sellLevels {
		for i, o := range orders {
			if o.ID == id {
				p.sellLevels[price] = append(orders[:i], orders[i+1:]...)
				if len(p.sellLevels[price]) == 0 {
					delete(p.sellLevels, price)
					p.removeFromSellHeap(price)
				}
				return o, true
			}
		}
	}
	return nil, false
}

// byOwner returns every parked stop order belonging to owner.
func (p *parkedStops) byOwner(owner common.Address) []*Order {
	var out []*Order
	for _, orders := range p.buyLevels {
		for _, o := range orders {
			if o.Owner == owner {
				out = append(out, o)
			}
		}
	}
	for _, orders := range p.sellLevels {
		for _, o := range orders {
			if o.Owner == owner {
				out = append(out, o)
			}
		}
	}
	return out
}

func (p *parkedStops) removeFromHeap(h *minPriceHeap, price money.Price) {
	for i, v := range *h {
		if v == price {
			heap.Remove(h, i)
			return
		}
	}
}

func (p *parkedStops) removeFromSellHeap(price money.Price) {
	for i, v := range p.sellHeap {
		if v == price {
			heap.Remove(&p.sellHeap, i)
			return
		}
	}
}

// triggered returns, in deterministic trigger order, every parked stop whose
// condition is satisfied by a trade at lastPrice, removing them from the
// parked set. BUY stop: lastPrice >= stopPrice. SELL stop: lastPrice <= stopPrice.
func (p *parkedStops) triggered(lastPrice money.Price) []*Order {
	var out []*Order

	for {
		price, ok := p.buyHeap.Peek()
		if !ok || lastPrice < price {
			break
		}
		heap.Pop(&p.buyHeap)
		orders := p.buyLevels[price]
		delete(p.buyLevels, price)
		out = append(out, orders...)
	}

	for {
		price, ok := p.sellHeap.Peek()
		if !ok || lastPrice > price {
			break
		}
		heap.Pop(&p.sellHeap)
		orders := p.sellLevels[price]
		delete(p.sellLevels, price)
		out = append(out, orders...)
	}

	return out
}
