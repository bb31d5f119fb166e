// Package circuitbreaker implements the per-symbol price-limit and halt
// state machine, spec.md §4.F. Grounded on the teacher's
// pkg/app/core/market/registry.go: a state enum, an exclusive-lock state
// map, and a validateStatusTransition-style guard function.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/nyxara/exchange-core/pkg/money"
)

// State is a symbol's circuit-breaker state, spec.md §4.F.
type State int8

const (
	Normal State = iota
	LimitUp
	LimitDown
	Halted
	Auction
)

func (s State) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case LimitUp:
		return "LIMIT_UP"
	case LimitDown:
		return "LIMIT_DOWN"
	case Halted:
		return "HALTED"
	case Auction:
		return "AUCTION"
	default:
		return "UNKNOWN"
	}
}

// Params configures one symbol's breaker thresholds, spec.md §4.F.
type Params struct {
	PriceLimitPct   float64 // upper/lower limit band around reference
	HaltThresholdPct float64 // |trade - reference| / reference trip point
	HaltDuration     time.Duration
	WindowDuration   time.Duration // how often the reference price refreshes
}

type symbolState struct {
	state State
	params Params

	referencePrice money.Price
	upperLimit     money.Price
	lowerLimit     money.Price

	windowStart int64 // microseconds
	haltEnd     int64 // microseconds; 0 means not armed

	triggerCount int

	adminHalted bool
}

// Manager tracks circuit-breaker state for every symbol plus a
// market-wide halt flag, spec.md §4.F / §3 "circuit breaker state".
type Manager struct {
	mu      sync.Mutex
	symbols map[string]*symbolState

	marketHalted    bool
	marketHaltEnd   int64

	// Now returns the current time in microseconds. Overridable for tests.
	Now func() int64
}

// New creates an empty manager.
func New() *Manager {
	return &Manager{
		symbols: make(map[string]*symbolState),
		Now:     func() int64 { return time.Now().UnixMicro() },
	}
}

// Seed initializes (or re-initializes) a symbol's reference price and
// limit band, e.g. at startup or after a HALTED->NORMAL transition.
func (m *Manager) Seed(symbol string, reference money.Price, p Params) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(symbol)
	s.params = p
	m.seedReferenceLocked(s, reference)
}

func (m *Manager) seedReferenceLocked(s *symbolState, reference money.Price) {
	s.referencePrice = reference
	s.upperLimit = money.Price(float64(reference) * (1 + s.params.PriceLimitPct))
	s.lowerLimit = money.Price(float64(reference) * (1 - s.params.PriceLimitPct))
	s.windowStart = m.Now()
}

func (m *Manager) state(symbol string) *symbolState {
	s, ok := m.symbols[symbol]
	if !ok {
		s = &symbolState{state: Normal}
		m.symbols[symbol] = s
	}
	return s
}

// State returns the current effective state for symbol, folding in the
// market-wide halt, spec.md §4.F "pre-empts everything".
func (m *Manager) State(symbol string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveStateLocked(symbol)
}

func (m *Manager) effectiveStateLocked(symbol string) State {
	now := m.Now()
	if m.marketHalted {
		if m.marketHaltEnd != 0 && now >= m.marketHaltEnd {
			m.marketHalted = false
			m.marketHaltEnd = 0
		} else {
			return Halted
		}
	}
	s := m.state(symbol)
	m.maybeClearHaltLocked(symbol, s, now)
	return s.state
}

func (m *Manager) maybeClearHaltLocked(symbol string, s *symbolState, now int64) {
	if s.state == Halted && !s.adminHalted && s.haltEnd != 0 && now >= s.haltEnd {
		s.state = Normal
		s.haltEnd = 0
		s.referencePrice = 0 // re-seeded from the first subsequent trade
	}
}

// CheckOrder returns the effective state a submit should see for
// (symbol, side, price), spec.md §4.F "check_order" contract. It also
// arms the price limit itself: a buy at or above the upper limit moves the
// symbol to LIMIT_UP, a sell at or below the lower limit to LIMIT_DOWN.
func (m *Manager) CheckOrder(symbol string, isBuy bool, price money.Price) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	eff := m.effectiveStateLocked(symbol)
	if eff == Halted || eff == Auction {
		return eff
	}
	s := m.state(symbol)
	m.maybeArmLimitLocked(s, isBuy, price)
	return s.state
}

func (m *Manager) maybeArmLimitLocked(s *symbolState, isBuy bool, price money.Price) {
	if s.referencePrice == 0 {
		return
	}
	if isBuy && price >= s.upperLimit {
		s.state = LimitUp
	} else if !isBuy && price <= s.lowerLimit {
		s.state = LimitDown
	}
}

// OnTrade records a trade price for symbol and trips HALTED if it moves
// too far from the reference price, spec.md §4.F step 3.
func (m *Manager) OnTrade(symbol string, price money.Price) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(symbol)
	now := m.Now()

	if s.referencePrice == 0 {
		m.seedReferenceLocked(s, price)
		s.state = Normal
		return
	}

	diff := float64((price - s.referencePrice).Abs()) / float64(s.referencePrice)
	if s.params.HaltThresholdPct > 0 && diff >= s.params.HaltThresholdPct {
		s.state = Halted
		s.haltEnd = now + s.params.HaltDuration.Microseconds()
		s.triggerCount++
		return
	}

	// A trade within the band returns a previously price-limited symbol to
	// normal; the limit guard only gates order admission, not fills.
	if s.state == LimitUp || s.state == LimitDown {
		s.state = Normal
	}

	if s.params.WindowDuration > 0 && now-s.windowStart >= s.params.WindowDuration.Microseconds() {
		m.seedReferenceLocked(s, price)
	}
}

// AdminHalt forces symbol into HALTED regardless of current state, spec.md
// §4.F "Admin-initiated HALT transitions from any state".
func (m *Manager) AdminHalt(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(symbol)
	s.state = Halted
	s.adminHalted = true
	s.haltEnd = 0
}

// AdminResume clears an admin halt and returns the symbol to NORMAL.
func (m *Manager) AdminResume(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(symbol)
	if !s.adminHalted {
		return fmt.Errorf("circuitbreaker: %s is not admin-halted", symbol)
	}
	s.adminHalted = false
	s.state = Normal
	s.referencePrice = 0
	return nil
}

// MarketHalt trips the market-wide halt, pre-empting every symbol,
// spec.md §5 and §4.F.
func (m *Manager) MarketHalt(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketHalted = true
	if d > 0 {
		m.marketHaltEnd = m.Now() + d.Microseconds()
	} else {
		m.marketHaltEnd = 0
	}
}

// MarketResume clears the market-wide halt immediately.
func (m *Manager) MarketResume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketHalted = false
	m.marketHaltEnd = 0
}

// MarkStale forces symbol into HALTED because its price feed is stale
// beyond a configured threshold, spec.md §5 "Propagation".
func (m *Manager) MarkStale(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(symbol)
	s.state = Halted
	s.haltEnd = 0
}

// TriggerCount returns how many times a trade has tripped symbol into
// HALTED, for monitoring/tests. AdminHalt and MarkStale are not counted.
func (m *Manager) TriggerCount(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(symbol).triggerCount
}
