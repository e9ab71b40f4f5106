package safety

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSet holds one circuit breaker per (venue, account) pair,
// tripping independently so a failing venue does not degrade unrelated
// partitions.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerSet returns an empty set; breakers are created lazily on
// first use per partition key.
func NewBreakerSet() *BreakerSet {
	return &BreakerSet{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (s *BreakerSet) breakerFor(key string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[key]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	s.breakers[key] = b
	return b
}

// Call executes fn through the breaker keyed by key (typically
// "<venue>:<account>"), translating an open breaker into ErrBreakerOpen.
func (s *BreakerSet) Call(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	b := s.breakerFor(key)
	res, err := b.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, ErrBreakerOpen
	}
	return res, err
}

// State reports the current state name of the breaker for key, or
// "closed" if it has never been used (equivalent to a fresh breaker).
func (s *BreakerSet) State(key string) string {
	s.mu.Lock()
	b, ok := s.breakers[key]
	s.mu.Unlock()
	if !ok {
		return "closed"
	}
	return b.State().String()
}
