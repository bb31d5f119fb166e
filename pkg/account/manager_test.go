package account

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nyxara/exchange-core/pkg/catalog"
	"github.com/nyxara/exchange-core/pkg/money"
)

func testAddr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

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
		t.Fatalf("register: %v", err)
	}
	return cat
}

type recordingSink struct {
	events []string
}

func (s *recordingSink) Append(kind string, payload interface{}) error {
	s.events = append(s.events, kind)
	return nil
}

func TestDepositAndWithdraw(t *testing.T) {
	sink := &recordingSink{}
	m := New(testCatalog(t), 0.5, sink)
	u := testAddr(1)

	if err := m.Deposit(u, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := m.GetAccount(u).Available(); got != 1000 {
		t.Fatalf("want available 1000, got %d", got)
	}
	if err := m.Withdraw(u, 400); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := m.GetAccount(u).Available(); got != 600 {
		t.Fatalf("want available 600, got %d", got)
	}
	if err := m.Withdraw(u, 10000); err == nil {
		t.Fatalf("want overdraw rejected")
	}
}

func TestApplyTradeOpensPositionAndChargesFees(t *testing.T) {
	sink := &recordingSink{}
	m := New(testCatalog(t), 0.5, sink)
	taker := testAddr(1)
	maker := testAddr(2)

	if err := m.Deposit(taker, 1_000_000); err != nil {
		t.Fatalf("deposit taker: %v", err)
	}
	if err := m.Deposit(maker, 1_000_000); err != nil {
		t.Fatalf("deposit maker: %v", err)
	}

	takerFill := Fill{Owner: taker, Symbol: "BTC-USD", Side: 1, Qty: 2, Price: 100, Fee: 10}
	makerFill := Fill{Owner: maker, Symbol: "BTC-USD", Side: -1, Qty: 2, Price: 100, Fee: -4}

	if _, _, err := m.ApplyTrade(takerFill, makerFill); err != nil {
		t.Fatalf("apply trade: %v", err)
	}

	takerAcc := m.GetAccount(taker)
	pos := takerAcc.Positions["BTC-USD"]
	if pos == nil || pos.Size != 2 || pos.Entry != 100 {
		t.Fatalf("unexpected taker position: %+v", pos)
	}
	if takerAcc.Balance != 1_000_000-10 {
		t.Fatalf("want balance reduced by fee, got %d", takerAcc.Balance)
	}
	if m.InsuranceFund != 5 {
		t.Fatalf("want insurance fund 5 (half of fee 10), got %d", m.InsuranceFund)
	}

	makerAcc := m.GetAccount(maker)
	makerPos := makerAcc.Positions["BTC-USD"]
	if makerPos == nil || makerPos.Size != -2 {
		t.Fatalf("unexpected maker position: %+v", makerPos)
	}

	found := false
	for _, e := range sink.events {
		if e == "InsuranceContribution" {
			found = true
		}
	}
	if !found {
		t.Fatalf("want InsuranceContribution event published, got %v", sink.events)
	}
}

func TestApplyTradeReduceRealizesPnL(t *testing.T) {
	sink := &recordingSink{}
	m := New(testCatalog(t), 0, sink)
	u := testAddr(1)
	counter := testAddr(2)
	if err := m.Deposit(u, 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := m.Deposit(counter, 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Open a long of 5 @ 100.
	open := Fill{Owner: u, Symbol: "BTC-USD", Side: 1, Qty: 5, Price: 100}
	openCounter := Fill{Owner: counter, Symbol: "BTC-USD", Side: -1, Qty: 5, Price: 100}
	if _, _, err := m.ApplyTrade(open, openCounter); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Sell 2 @ 120: realize (120-100)*2 = 40.
	reduce := Fill{Owner: u, Symbol: "BTC-USD", Side: -1, Qty: 2, Price: 120}
	reduceCounter := Fill{Owner: counter, Symbol: "BTC-USD", Side: 1, Qty: 2, Price: 120}
	takerRealized, makerRealized, err := m.ApplyTrade(reduce, reduceCounter)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if takerRealized != 40 {
		t.Fatalf("want ApplyTrade to report realized PnL 40, got %d", takerRealized)
	}
	if makerRealized != -40 {
		t.Fatalf("want counter's leg (covering its short at a loss) to realize -40, got %d", makerRealized)
	}

	acc := m.GetAccount(u)
	if acc.RealizedPnL != 40 {
		t.Fatalf("want realized PnL 40, got %d", acc.RealizedPnL)
	}
	pos := acc.Positions["BTC-USD"]
	if pos.Size != 3 || pos.Entry != 100 {
		t.Fatalf("unexpected position after reduce: %+v", pos)
	}
}

func TestApplyTradeReverseClosesAndReopens(t *testing.T) {
	sink := &recordingSink{}
	m := New(testCatalog(t), 0, sink)
	u := testAddr(1)
	counter := testAddr(2)
	if err := m.Deposit(u, 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := m.Deposit(counter, 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	open := Fill{Owner: u, Symbol: "BTC-USD", Side: 1, Qty: 5, Price: 100}
	openCounter := Fill{Owner: counter, Symbol: "BTC-USD", Side: -1, Qty: 5, Price: 100}
	if _, _, err := m.ApplyTrade(open, openCounter); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Sell 8 @ 110: closes the 5 long (realize 10*5=50) then opens -3 short at 110.
	reverse := Fill{Owner: u, Symbol: "BTC-USD", Side: -1, Qty: 8, Price: 110}
	reverseCounter := Fill{Owner: counter, Symbol: "BTC-USD", Side: 1, Qty: 8, Price: 110}
	takerRealized, _, err := m.ApplyTrade(reverse, reverseCounter)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if takerRealized != 50 {
		t.Fatalf("want ApplyTrade to report realized PnL 50, got %d", takerRealized)
	}

	acc := m.GetAccount(u)
	if acc.RealizedPnL != 50 {
		t.Fatalf("want realized PnL 50, got %d", acc.RealizedPnL)
	}
	pos := acc.Positions["BTC-USD"]
	if pos.Size != -3 || pos.Entry != 110 {
		t.Fatalf("unexpected position after reverse: %+v", pos)
	}
}

func TestUpdateAllPnLTriggersLiquidation(t *testing.T) {
	sink := &recordingSink{}
	m := New(testCatalog(t), 0, sink)
	u := testAddr(1)
	counter := testAddr(2)
	if err := m.Deposit(u, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := m.Deposit(counter, 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	open := Fill{Owner: u, Symbol: "BTC-USD", Side: 1, Qty: 100, Price: 100}
	openCounter := Fill{Owner: counter, Symbol: "BTC-USD", Side: -1, Qty: 100, Price: 100}
	if _, _, err := m.ApplyTrade(open, openCounter); err != nil {
		t.Fatalf("open: %v", err)
	}

	marks := map[string]money.Price{"BTC-USD": 50} // mark crashes, equity falls hard
	liquidated := false
	// A real liquidator submits the closing order through the matching
	// engine, whose OnTrade callback posts it through ApplyTrade before
	// the liquidator returns. Simulate that here directly.
	results := m.UpdateAllPnL(marks, func(owner common.Address, symbol string, size money.Qty, mark money.Price) (money.Price, error) {
		liquidated = true
		closeSide := money.Qty(-1)
		if size < 0 {
			closeSide = 1
		}
		closing := Fill{Owner: owner, Symbol: symbol, Side: closeSide, Qty: size.Abs(), Price: mark}
		counterClose := Fill{Owner: counter, Symbol: symbol, Side: -closeSide, Qty: size.Abs(), Price: mark}
		if _, _, err := m.ApplyTrade(closing, counterClose); err != nil {
			return 0, err
		}
		return mark, nil
	})
	if !liquidated {
		t.Fatalf("want liquidation callback invoked")
	}
	if len(results) != 1 {
		t.Fatalf("want 1 liquidation result, got %d", len(results))
	}
	if results[0].ClosedSize != 100 {
		t.Fatalf("want closed size 100, got %d", results[0].ClosedSize)
	}
	acc := m.GetAccount(u)
	if acc.Positions["BTC-USD"].Size != 0 {
		t.Fatalf("want position closed after liquidation")
	}
}
