package venue

import (
	"context"
	"time"
)

// CallPolicy bounds every outbound venue call: a per-attempt deadline and
// a bounded retry budget with exponential backoff. The client-order-id is
// preserved across attempts so retried placements stay idempotent on the
// venue side.
type CallPolicy struct {
	Deadline time.Duration
	Attempts int
	Backoff  time.Duration
}

// DefaultCallPolicy matches §5: 3s deadline, 3 attempts, exponential
// backoff between them.
var DefaultCallPolicy = CallPolicy{
	Deadline: 3 * time.Second,
	Attempts: 3,
	Backoff:  250 * time.Millisecond,
}

// RetryAdapter wraps an Adapter, applying the call policy to every
// outbound RPC. After the placement retry budget is exhausted the order's
// fate is unknown and ErrIndeterminate is returned; the caller leaves the
// order open for reconciliation to resolve rather than guessing.
type RetryAdapter struct {
	inner  Adapter
	policy CallPolicy
	sleep  func(time.Duration)
}

// NewRetryAdapter wraps inner with policy. A zero-valued policy field
// falls back to its DefaultCallPolicy counterpart.
func NewRetryAdapter(inner Adapter, policy CallPolicy) *RetryAdapter {
	if policy.Deadline <= 0 {
		policy.Deadline = DefaultCallPolicy.Deadline
	}
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultCallPolicy.Attempts
	}
	if policy.Backoff <= 0 {
		policy.Backoff = DefaultCallPolicy.Backoff
	}
	return &RetryAdapter{inner: inner, policy: policy, sleep: time.Sleep}
}

func (a *RetryAdapter) Name() string { return a.inner.Name() }

// retry runs fn up to Attempts times, each under its own Deadline, backing
// off exponentially between attempts. Context cancellation stops the loop
// immediately.
func (a *RetryAdapter) retry(ctx context.Context, fn func(context.Context) error) error {
	backoff := a.policy.Backoff
	var lastErr error
	for attempt := 0; attempt < a.policy.Attempts; attempt++ {
		if attempt > 0 {
			a.sleep(backoff)
			backoff *= 2
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, a.policy.Deadline)
		lastErr = fn(callCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// PlaceOrder submits req with the retry policy, preserving ClientOrderID
// across attempts. Exhaustion returns ErrIndeterminate: the venue may or
// may not have accepted one of the attempts.
func (a *RetryAdapter) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error) {
	var venueOrderID string
	err := a.retry(ctx, func(ctx context.Context) error {
		id, err := a.inner.PlaceOrder(ctx, req)
		if err != nil {
			return err
		}
		venueOrderID = id
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ErrIndeterminate
	}
	return venueOrderID, nil
}

// CancelOrder cancels with the retry policy. Cancels are idempotent on
// the venue side, so exhaustion surfaces the last error directly.
func (a *RetryAdapter) CancelOrder(ctx context.Context, account, venueOrderID string) error {
	return a.retry(ctx, func(ctx context.Context) error {
		return a.inner.CancelOrder(ctx, account, venueOrderID)
	})
}

// GetPositions reads with the retry policy.
func (a *RetryAdapter) GetPositions(ctx context.Context, account string) ([]RemotePosition, error) {
	var out []RemotePosition
	err := a.retry(ctx, func(ctx context.Context) error {
		positions, err := a.inner.GetPositions(ctx, account)
		if err != nil {
			return err
		}
		out = positions
		return nil
	})
	return out, err
}

// GetBalances reads with the retry policy.
func (a *RetryAdapter) GetBalances(ctx context.Context, account string) ([]Balance, error) {
	var out []Balance
	err := a.retry(ctx, func(ctx context.Context) error {
		balances, err := a.inner.GetBalances(ctx, account)
		if err != nil {
			return err
		}
		out = balances
		return nil
	})
	return out, err
}

// SubscribeFills delegates without a deadline: the stream is long-lived
// and its lifetime is governed by ctx, not the per-call policy.
func (a *RetryAdapter) SubscribeFills(ctx context.Context, account string) (<-chan Fill, error) {
	return a.inner.SubscribeFills(ctx, account)
}

var _ Adapter = (*RetryAdapter)(nil)
