package risk

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nyxara/exchange-core/pkg/money"
)

func testAddr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func newTestEngine(lim Limits) *Engine {
	e := New(lim)
	var clock int64 = 10 * 24 * 3600 * 1_000_000 // arbitrary fixed day
	e.Now = func() int64 { return clock }
	return e
}

func TestCheckOrderAdmitsWithinLimits(t *testing.T) {
	e := newTestEngine(Limits{MaxPositionSize: 100, MaxOrdersPerSecond: 10, DailyLossLimit: 1000})
	u := testAddr(1)
	if err := e.CheckOrder(u, "BTC-USD", 10, 100, 0); err != nil {
		t.Fatalf("want admit, got %v", err)
	}
}

func TestCheckOrderPositionLimit(t *testing.T) {
	e := newTestEngine(Limits{MaxPositionSize: 5})
	u := testAddr(1)
	if err := e.CheckOrder(u, "BTC-USD", 10, 100, 0); err == nil {
		t.Fatalf("want POSITION_LIMIT rejection")
	} else if rerr, ok := err.(*Error); !ok || rerr.Reason != ReasonPositionLimit {
		t.Fatalf("want ReasonPositionLimit, got %v", err)
	}
}

func TestCheckOrderRateLimit(t *testing.T) {
	e := newTestEngine(Limits{MaxPositionSize: 1000, MaxOrdersPerSecond: 2})
	u := testAddr(1)
	if err := e.CheckOrder(u, "BTC-USD", 1, 100, 0); err != nil {
		t.Fatalf("order 1: %v", err)
	}
	if err := e.CheckOrder(u, "BTC-USD", 1, 100, 0); err != nil {
		t.Fatalf("order 2: %v", err)
	}
	err := e.CheckOrder(u, "BTC-USD", 1, 100, 0)
	if err == nil {
		t.Fatalf("want RATE_LIMIT rejection on third order within 1s")
	}
	if rerr, ok := err.(*Error); !ok || rerr.Reason != ReasonRateLimit {
		t.Fatalf("want ReasonRateLimit, got %v", err)
	}
}

func TestCheckOrderFatFinger(t *testing.T) {
	e := newTestEngine(Limits{MaxPositionSize: 1000, FatFingerThreshold: 0.1})
	u := testAddr(1)
	// reference 100, price 120 -> 20% away, above 10% threshold.
	err := e.CheckOrder(u, "BTC-USD", 1, 120, 100)
	if err == nil {
		t.Fatalf("want FAT_FINGER rejection")
	}
	if rerr, ok := err.(*Error); !ok || rerr.Reason != ReasonFatFinger {
		t.Fatalf("want ReasonFatFinger, got %v", err)
	}
}

func TestDailyLossLimitBlocksSubsequentOrders(t *testing.T) {
	e := newTestEngine(Limits{MaxPositionSize: 1000, DailyLossLimit: 10000})
	u := testAddr(1)

	if err := e.CheckOrder(u, "BTC-USD", 1, 100, 0); err != nil {
		t.Fatalf("first order should admit: %v", err)
	}
	// Realize a loss past the daily limit.
	e.UpdatePosition(u, "BTC-USD", 1, -10001)

	err := e.CheckOrder(u, "BTC-USD", 1, 100, 0)
	if err == nil {
		t.Fatalf("want DAILY_LOSS_LIMIT rejection after breach")
	}
	if rerr, ok := err.(*Error); !ok || rerr.Reason != ReasonDailyLossLimit {
		t.Fatalf("want ReasonDailyLossLimit, got %v", err)
	}
	if !e.IsBlocked(u) {
		t.Fatalf("user should be marked blocked")
	}
}

func TestPerUserLimitsOverrideDefault(t *testing.T) {
	e := newTestEngine(Limits{MaxPositionSize: 5})
	u := testAddr(1)
	e.SetUserLimits(u, Limits{MaxPositionSize: 1000})

	if err := e.CheckOrder(u, "BTC-USD", 50, 100, 0); err != nil {
		t.Fatalf("user override should admit larger position, got %v", err)
	}

	other := testAddr(2)
	if err := e.CheckOrder(other, "BTC-USD", 50, 100, 0); err == nil {
		t.Fatalf("other user without override should still hit default limit")
	}
}

func TestUpdatePositionTracksNetSize(t *testing.T) {
	e := newTestEngine(Limits{MaxPositionSize: 1000})
	u := testAddr(1)
	e.UpdatePosition(u, "BTC-USD", money.Qty(5), 0)
	e.UpdatePosition(u, "BTC-USD", money.Qty(-2), 0)
	if got := e.Position(u, "BTC-USD"); got != 3 {
		t.Fatalf("want net position 3, got %d", got)
	}
}
