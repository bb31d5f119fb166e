package orderbook

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nyxara/exchange-core/pkg/money"
)

// OrderID is a monotonically increasing order identifier.
type OrderID uint64

// TradeID is a monotonically increasing trade identifier.
type TradeID uint64

var orderSeq atomic.Uint64
var tradeSeq atomic.Uint64

// NextOrderID returns the next monotonic order id. Grounded on the
// teacher's counter idioms (mempool/account use monotonic in-process
// counters rather than UUIDs for anything on the hot path).
func NextOrderID() OrderID { return OrderID(orderSeq.Add(1)) }

// NextTradeID returns the next monotonic trade id.
func NextTradeID() TradeID { return TradeID(tradeSeq.Add(1)) }

// ResetSequencesForTest rewinds the package-level id counters. Test-only.
func ResetSequencesForTest() {
	orderSeq.Store(0)
	tradeSeq.Store(0)
}

// Order is a single resting or in-flight order, spec.md §3 "Order".
type Order struct {
	ID     OrderID
	Symbol string
	Owner  common.Address
	Side   Side
	Type   Type

	Price     money.Price // 0 for MARKET
	StopPrice money.Price // 0 unless StopLimit

	OrigQty   money.Qty
	FilledQty money.Qty

	Status Status

	CreatedAt int64 // microseconds
	UpdatedAt int64

	ReduceOnly bool
	ClientTag  string
	Triggered  bool // for StopLimit: has it fired?
}

// Remaining returns the unfilled quantity. Invariant: always >= 0.
func (o *Order) Remaining() money.Qty {
	return o.OrigQty - o.FilledQty
}

// IsActive reports whether the order can still match (spec.md §3).
func (o *Order) IsActive() bool {
	return o.Status == New || o.Status == PartiallyFilled
}

// Clone returns a shallow copy of the order, used when a modify re-submits
// a new order instance (cancel + replace path).
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}

// Trade is an immutable execution record, spec.md §3 "Trade".
type Trade struct {
	ID          TradeID
	Symbol      string
	MakerOrder  OrderID
	TakerOrder  OrderID
	MakerOwner  common.Address
	TakerOwner  common.Address
	TakerSide   Side
	Price       money.Price
	Qty         money.Qty
	MakerFee    int64
	TakerFee    int64
	Timestamp   int64
}
