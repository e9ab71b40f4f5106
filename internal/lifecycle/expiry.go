package lifecycle

import (
	"context"
	"sync"
	"time"
)

// ExpiryScheduler drives order expiry off a monotonic timer rather than
// wall clock (§4.4): each tracked order gets a timer armed at admission
// with the remaining TTL, and firing dispatches an expire job to the
// order's partition. Cancelling or filling an order before the timer
// fires makes the dispatch a harmless no-op, since Expire refuses
// terminal orders.
type ExpiryScheduler struct {
	parts *Partitions
	ttl   time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewExpiryScheduler returns a scheduler expiring orders ttl after they
// are tracked.
func NewExpiryScheduler(parts *Partitions, ttl time.Duration) *ExpiryScheduler {
	return &ExpiryScheduler{parts: parts, ttl: ttl, timers: make(map[string]*time.Timer)}
}

// Track arms a monotonic timer for order. remaining overrides the default
// TTL when recovery re-tracks an order that had already consumed part of
// its budget; pass 0 for a fresh order.
func (s *ExpiryScheduler) Track(ctx context.Context, o *Order, remaining time.Duration) {
	if remaining <= 0 {
		remaining = s.ttl
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.timers[o.OrderID]; exists {
		return
	}
	venueName, account, symbol, orderID := o.Venue, o.Account, o.Symbol, o.OrderID
	s.timers[orderID] = time.AfterFunc(remaining, func() {
		s.Forget(orderID)
		s.parts.DispatchExpire(ctx, venueName, account, symbol, orderID)
	})
}

// Forget stops and discards the timer for orderID, called when an order
// reaches a terminal state before its TTL elapses.
func (s *ExpiryScheduler) Forget(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[orderID]; ok {
		t.Stop()
		delete(s.timers, orderID)
	}
}

// Stop cancels every outstanding timer, for shutdown.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Tracked reports the number of currently armed timers.
func (s *ExpiryScheduler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
