// Package risk implements the pre-trade admission gate, spec.md §4.E.
// Grounded on the teacher's pkg/app/core/account/manager.go
// CheckMarginRequirement/CheckLiquidation idiom: RLock-guarded, numbered
// checks, typed errors returned rather than panics.
package risk

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nyxara/exchange-core/pkg/money"
)

// Reason identifies which check rejected an order.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonDailyLossLimit   Reason = "DAILY_LOSS_LIMIT"
	ReasonRateLimit        Reason = "RATE_LIMIT"
	ReasonPositionLimit    Reason = "POSITION_LIMIT"
	ReasonFatFinger        Reason = "FAT_FINGER"
)

// Error wraps a rejection reason as an error.
type Error struct{ Reason Reason }

func (e *Error) Error() string { return "risk: rejected: " + string(e.Reason) }

// Limits is a set of per-user (or default) risk parameters, spec.md §4.E.
type Limits struct {
	MaxPositionSize    money.Qty
	MaxOrdersPerSecond int
	FatFingerThreshold float64 // fraction, e.g. 0.1 == 10%
	DailyLossLimit     int64
}

type userState struct {
	positions   map[string]money.Qty // symbol -> net size
	dailyPnL    int64
	blocked     bool
	pnlResetDay int64 // days since epoch
	window      []int64 // order timestamps (microseconds) in the last second
	limits      *Limits // nil means use engine default
}

// Engine holds per-user risk state and the default limits applied when a
// user has no override, spec.md §4.E.
type Engine struct {
	mu      sync.Mutex
	users   map[common.Address]*userState
	Default Limits

	// Now returns the current time in microseconds. Overridable for tests.
	Now func() int64
}

// New creates a risk engine with the given default limits.
func New(defaults Limits) *Engine {
	return &Engine{
		users:   make(map[common.Address]*userState),
		Default: defaults,
		Now:     func() int64 { return time.Now().UnixMicro() },
	}
}

func (e *Engine) state(u common.Address) *userState {
	s, ok := e.users[u]
	if !ok {
		s = &userState{positions: make(map[string]money.Qty)}
		e.users[u] = s
	}
	return s
}

func (s *userState) limitsOrDefault(d Limits) Limits {
	if s.limits != nil {
		return *s.limits
	}
	return d
}

// SetUserLimits overrides the default limits for a specific user.
func (e *Engine) SetUserLimits(u common.Address, l Limits) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state(u)
	cp := l
	s.limits = &cp
}

func daysSinceEpoch(us int64) int64 {
	return us / (24 * 3600 * 1_000_000)
}

// CheckOrder runs the seven-step pre-trade admission gate of spec.md §4.E,
// short-circuiting on the first failing check. signedQty is positive for a
// buy and negative for a sell; it is what the user's position would move
// by if this order fills in full.
func (e *Engine) CheckOrder(u common.Address, symbol string, signedQty money.Qty, price money.Price, referencePrice money.Price) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.state(u)
	lim := s.limitsOrDefault(e.Default)
	now := e.Now()

	// 1. Day rollover resets daily PnL and any block.
	today := daysSinceEpoch(now)
	if today != s.pnlResetDay {
		s.dailyPnL = 0
		s.blocked = false
		s.pnlResetDay = today
	}

	// 2. A prior daily-loss breach blocks every subsequent order this day.
	if s.blocked {
		return &Error{Reason: ReasonDailyLossLimit}
	}

	// 3. Sliding-window rate limit.
	cutoff := now - 1_000_000
	s.window = purgeOlderThan(s.window, cutoff)
	if lim.MaxOrdersPerSecond > 0 && len(s.window) >= lim.MaxOrdersPerSecond {
		return &Error{Reason: ReasonRateLimit}
	}

	// 4. Position limit: projected position after this order's qty.
	projected := s.positions[symbol] + signedQty
	if lim.MaxPositionSize > 0 && projected.Abs() > lim.MaxPositionSize {
		return &Error{Reason: ReasonPositionLimit}
	}

	// 5. Fat-finger: price too far from the reference.
	if referencePrice > 0 && lim.FatFingerThreshold > 0 {
		diff := float64((price - referencePrice).Abs()) / float64(referencePrice)
		if diff > lim.FatFingerThreshold {
			return &Error{Reason: ReasonFatFinger}
		}
	}

	// 6. A breach recorded by a prior fill blocks starting now.
	if lim.DailyLossLimit > 0 && s.dailyPnL < -lim.DailyLossLimit {
		s.blocked = true
		return &Error{Reason: ReasonDailyLossLimit}
	}

	// 7. Admit: record this order's timestamp in the rate window.
	s.window = append(s.window, now)
	return nil
}

func purgeOlderThan(window []int64, cutoff int64) []int64 {
	i := 0
	for i < len(window) && window[i] < cutoff {
		i++
	}
	if i == 0 {
		return window
	}
	return append(window[:0], window[i:]...)
}

// UpdatePosition is called after a fill to update the user's net position
// and realized PnL, possibly tripping the daily-loss block, spec.md §4.E.
func (e *Engine) UpdatePosition(u common.Address, symbol string, deltaSize money.Qty, realizedPnLDelta int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.state(u)
	s.positions[symbol] += deltaSize
	s.dailyPnL += realizedPnLDelta

	lim := s.limitsOrDefault(e.Default)
	if lim.DailyLossLimit > 0 && s.dailyPnL < -lim.DailyLossLimit {
		s.blocked = true
	}
}

// Position returns the user's currently tracked net size for symbol.
func (e *Engine) Position(u common.Address, symbol string) money.Qty {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state(u).positions[symbol]
}

// IsBlocked reports whether the user is currently blocked on daily loss.
func (e *Engine) IsBlocked(u common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state(u).blocked
}
