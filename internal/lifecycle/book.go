// Package lifecycle implements the per-intent order state machine, the
// partitioned single-writer execution model, and the reflex-tier
// ticker/spread cache the admission pipeline consults before touching the
// state store.
package lifecycle

import (
	"sync"
	"time"
)

// Ticker is the latest known price snapshot for a symbol on a venue.
type Ticker struct {
	Symbol    string
	Bid       float64
	Ask       float64
	LastPrice float64
	UpdatedAt time.Time
}

// SpreadBps returns the bid/ask spread in basis points.
func (t Ticker) SpreadBps() float64 {
	if t.Bid <= 0 || t.Ask <= 0 {
		return 0
	}
	mid := (t.Bid + t.Ask) / 2
	return (t.Ask - t.Bid) / mid * 10_000
}

// Book is an in-memory, lock-guarded cache of the latest ticker per
// (venue, symbol), read by the admission pipeline's reflex checks (<1ms
// budget — no I/O, no store round-trip).
type Book struct {
	mu         sync.RWMutex
	tickers    map[string]Ticker
	velocities map[string]*VelocityTracker
	lastVel    map[string]float64
	staleAfter time.Duration
}

// NewBook returns an empty Book; staleAfter is the staleness_threshold_ms
// configuration value.
func NewBook(staleAfter time.Duration) *Book {
	return &Book{
		tickers:    make(map[string]Ticker),
		velocities: make(map[string]*VelocityTracker),
		lastVel:    make(map[string]float64),
		staleAfter: staleAfter,
	}
}

func bookKey(venue, symbol string) string {
	return venue + "|" + symbol
}

// Update records the latest ticker for (venue, symbol) and advances the
// symbol's velocity estimate from the price change since the previous
// observation.
func (b *Book) Update(venue string, t Ticker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := bookKey(venue, t.Symbol)
	b.tickers[key] = t
	vt, ok := b.velocities[key]
	if !ok {
		vt = &VelocityTracker{}
		b.velocities[key] = vt
	}
	b.lastVel[key] = vt.Observe(t.LastPrice, float64(t.UpdatedAt.UnixMilli())/1000)
}

// Velocity returns the latest observed price velocity (percent per
// second) for (venue, symbol), or 0 before two observations exist.
func (b *Book) Velocity(venue, symbol string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastVel[bookKey(venue, symbol)]
}

// Get returns the cached ticker, or ok=false if never observed.
func (b *Book) Get(venue, symbol string) (Ticker, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tickers[bookKey(venue, symbol)]
	return t, ok
}

// IsStale reports whether the cached ticker for (venue, symbol) is older
// than the configured staleness threshold, or has never been observed.
func (b *Book) IsStale(venue, symbol string, now time.Time) bool {
	t, ok := b.Get(venue, symbol)
	if !ok {
		return true
	}
	return now.Sub(t.UpdatedAt) > b.staleAfter
}
