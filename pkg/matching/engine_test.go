package matching

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nyxara/exchange-core/pkg/catalog"
	"github.com/nyxara/exchange-core/pkg/orderbook"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	sym := &catalog.Symbol{
		Name:         "BTC-USD",
		TickSize:     1,
		LotSize:      1,
		ContractSize: 1,
		MarginRate:   0.1,
		MaintRate:    0.05,
		MakerFeeBps:  -2,
		TakerFeeBps:  5,
		MinNotional:  1,
		Active:       true,
	}
	if err := cat.Register(sym); err != nil {
		t.Fatalf("register symbol: %v", err)
	}
	return cat
}

func TestEngineCreatesBookLazily(t *testing.T) {
	orderbook.ResetSequencesForTest()
	eng := New(testCatalog(t), nil)

	if got := len(eng.Books()); got != 0 {
		t.Fatalf("want 0 books before first submit, got %d", got)
	}

	var owner common.Address
	owner[19] = 1
	o := &orderbook.Order{ID: orderbook.NextOrderID(), Symbol: "BTC-USD", Owner: owner, Side: orderbook.Buy, Type: orderbook.Limit, Price: 100, OrigQty: 1}
	if _, err := eng.Submit(o); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := len(eng.Books()); got != 1 {
		t.Fatalf("want 1 book after first submit, got %d", got)
	}
}

func TestEngineRejectsUnknownSymbol(t *testing.T) {
	orderbook.ResetSequencesForTest()
	eng := New(testCatalog(t), nil)

	o := &orderbook.Order{ID: orderbook.NextOrderID(), Symbol: "ETH-USD", Side: orderbook.Buy, Type: orderbook.Limit, Price: 100, OrigQty: 1}
	if _, err := eng.Submit(o); err == nil {
		t.Fatalf("expected error for unregistered symbol")
	}
}

func TestEngineRejectsInactiveSymbol(t *testing.T) {
	orderbook.ResetSequencesForTest()
	cat := testCatalog(t)
	if err := cat.SetActive("BTC-USD", false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	eng := New(cat, nil)

	o := &orderbook.Order{ID: orderbook.NextOrderID(), Symbol: "BTC-USD", Side: orderbook.Buy, Type: orderbook.Limit, Price: 100, OrigQty: 1}
	if _, err := eng.Submit(o); err == nil {
		t.Fatalf("expected error for inactive symbol")
	}
}

func TestEngineTradeCallback(t *testing.T) {
	orderbook.ResetSequencesForTest()
	eng := New(testCatalog(t), nil)

	var trades []orderbook.Trade
	eng.OnTrade = func(t orderbook.Trade) { trades = append(trades, t) }

	var makerOwner, takerOwner common.Address
	makerOwner[19] = 1
	takerOwner[19] = 2

	maker := &orderbook.Order{ID: orderbook.NextOrderID(), Symbol: "BTC-USD", Owner: makerOwner, Side: orderbook.Sell, Type: orderbook.Limit, Price: 100, OrigQty: 1}
	if _, err := eng.Submit(maker); err != nil {
		t.Fatalf("maker submit: %v", err)
	}
	taker := &orderbook.Order{ID: orderbook.NextOrderID(), Symbol: "BTC-USD", Owner: takerOwner, Side: orderbook.Buy, Type: orderbook.Limit, Price: 100, OrigQty: 1}
	if _, err := eng.Submit(taker); err != nil {
		t.Fatalf("taker submit: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("want 1 trade via callback, got %d", len(trades))
	}
}

func TestEngineBBOAndDepth(t *testing.T) {
	orderbook.ResetSequencesForTest()
	eng := New(testCatalog(t), nil)

	var owner common.Address
	owner[19] = 1
	o := &orderbook.Order{ID: orderbook.NextOrderID(), Symbol: "BTC-USD", Owner: owner, Side: orderbook.Buy, Type: orderbook.Limit, Price: 100, OrigQty: 3}
	if _, err := eng.Submit(o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	bid, ask, ok := eng.BBO("BTC-USD")
	if !ok || bid == nil || *bid != 100 || ask != nil {
		t.Fatalf("unexpected BBO: bid=%v ask=%v ok=%v", bid, ask, ok)
	}

	bids, asks, ok := eng.Depth("BTC-USD", 5)
	if !ok || len(bids) != 1 || bids[0].Qty != 3 || len(asks) != 0 {
		t.Fatalf("unexpected depth: bids=%+v asks=%+v", bids, asks)
	}
}

func TestEngineCancelAllSpansSymbolsAndOwnersOnly(t *testing.T) {
	orderbook.ResetSequencesForTest()
	cat := testCatalog(t)
	sym2 := &catalog.Symbol{
		Name: "ETH-USD", TickSize: 1, LotSize: 1, ContractSize: 1,
		MarginRate: 0.1, MaintRate: 0.05, MakerFeeBps: -2, TakerFeeBps: 5, MinNotional: 1, Active: true,
	}
	if err := cat.Register(sym2); err != nil {
		t.Fatalf("register sym2: %v", err)
	}
	eng := New(cat, nil)

	var mine, theirs common.Address
	mine[19] = 1
	theirs[19] = 2

	for _, sym := range []string{"BTC-USD", "ETH-USD"} {
		o := &orderbook.Order{ID: orderbook.NextOrderID(), Symbol: sym, Owner: mine, Side: orderbook.Buy, Type: orderbook.Limit, Price: 100, OrigQty: 1}
		if _, err := eng.Submit(o); err != nil {
			t.Fatalf("submit %s: %v", sym, err)
		}
	}
	otherOrder := &orderbook.Order{ID: orderbook.NextOrderID(), Symbol: "BTC-USD", Owner: theirs, Side: orderbook.Buy, Type: orderbook.Limit, Price: 90, OrigQty: 1}
	if _, err := eng.Submit(otherOrder); err != nil {
		t.Fatalf("submit other: %v", err)
	}

	n := eng.CancelAll(mine)
	if n != 2 {
		t.Fatalf("want 2 orders cancelled across both symbols, got %d", n)
	}
	if open := eng.OpenOrdersByOwner(mine); len(open) != 0 {
		t.Fatalf("want no open orders left for mine, got %d", len(open))
	}
	if open := eng.OpenOrdersByOwner(theirs); len(open) != 1 {
		t.Fatalf("want other owner's order untouched, got %d", len(open))
	}
}
