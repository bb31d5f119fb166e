// Package rates is the FX rate cache of spec.md §4.J. No file in the
// teacher implements one (hyperlicked is single-quote-asset USDC);
// grounded on the sync.RWMutex-guarded-map idiom shared by
// pkg/app/core/market/registry.go and pkg/app/core/account/manager.go,
// applied to a pair->price cache with a staleness check. Nothing in this
// module feeds that staleness into the circuit breaker.
package rates

import (
	"fmt"
	"sync"
	"time"

	"github.com/nyxara/exchange-core/pkg/money"
)

// Pair is a quoted currency pair, e.g. "USD/MNT".
type Pair string

// PriceSource is the narrow contract an external feed (FXCM, a central
// bank rate source, …) implements; the core calls it, never the reverse,
// spec.md §6.
type PriceSource interface {
	Quote(pair Pair) (money.Price, time.Time, error)
}

type quote struct {
	price     money.Price
	updatedAt int64 // microseconds
}

// Provider is a thread-safe cache of the latest quote per pair. Reads are
// frequent and short, writes come from a background refresh driven by a
// PriceSource, per spec.md §5 "Rate provider is a mutex-guarded map".
type Provider struct {
	mu       sync.RWMutex
	quotes   map[Pair]quote
	maxStale time.Duration

	Now func() int64
}

// New creates a rate provider that considers a quote stale after
// maxStale has elapsed since its last update.
func New(maxStale time.Duration) *Provider {
	return &Provider{
		quotes:   make(map[Pair]quote),
		maxStale: maxStale,
		Now:      func() int64 { return time.Now().UnixMicro() },
	}
}

// Update records a freshly observed quote for pair.
func (p *Provider) Update(pair Pair, price money.Price) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[pair] = quote{price: price, updatedAt: p.Now()}
}

// Get returns the last-known price for pair and whether it is stale.
// spec.md §7: "Mark-price updates from a failed external feed degrade to
// the last-known value" — Get always returns the cached value, even
// when stale; callers decide what staleness means for them. The
// composition root does not consult this provider.
func (p *Provider) Get(pair Pair) (price money.Price, stale bool, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, found := p.quotes[pair]
	if !found {
		return 0, false, false
	}
	age := p.Now() - q.updatedAt
	return q.price, age > p.maxStale.Microseconds(), true
}

// Refresh pulls a fresh quote for pair from src and stores it. Returns
// the error from src unchanged so a caller can decide whether to treat a
// feed failure as a staleness event rather than fail the read path.
func (p *Provider) Refresh(src PriceSource, pair Pair) error {
	price, observedAt, err := src.Quote(pair)
	if err != nil {
		return fmt.Errorf("rates: refresh %s: %w", pair, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[pair] = quote{price: price, updatedAt: observedAt.UnixMicro()}
	return nil
}

// Convert applies the pair's rate to an amount expressed in the pair's
// base currency, returning the quote-currency amount. Both price and
// amount are in the same micro-unit fixed-point convention as pkg/money.
func (p *Provider) Convert(pair Pair, amount int64) (int64, error) {
	price, _, ok := p.Get(pair)
	if !ok {
		return 0, fmt.Errorf("rates: no quote for %s", pair)
	}
	return amount * int64(price) / money.MicroUnit, nil
}

// StalePairs returns every pair whose last update is older than maxStale.
// No caller in this module passes the result to circuitbreaker.MarkStale.
func (p *Provider) StalePairs() []Pair {
	p.mu.RLock()
	defer p.mu.RUnlock()
	now := p.Now()
	var out []Pair
	for pair, q := range p.quotes {
		if now-q.updatedAt > p.maxStale.Microseconds() {
			out = append(out, pair)
		}
	}
	return out
}
