package safety

import (
	"context"
	"errors"
	"testing"
)

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	bs := NewBreakerSet()
	failing := func(ctx context.Context) (any, error) {
		return nil, errors.New("venue unreachable")
	}
	for i := 0; i < 5; i++ {
		if _, err := bs.Call(context.Background(), "binance:acct1", failing); err == nil {
			t.Fatalf("expected failure on attempt %d", i)
		}
	}
	_, err := bs.Call(context.Background(), "binance:acct1", failing)
	if err != ErrBreakerOpen {
		t.Fatalf("expected ErrBreakerOpen after consecutive failures, got %v", err)
	}
}

func TestBreakerIndependentPerPartition(t *testing.T) {
	bs := NewBreakerSet()
	failing := func(ctx context.Context) (any, error) {
		return nil, errors.New("fail")
	}
	for i := 0; i < 5; i++ {
		_, _ = bs.Call(context.Background(), "binance:acct1", failing)
	}
	if _, err := bs.Call(context.Background(), "binance:acct1", failing); err != ErrBreakerOpen {
		t.Fatalf("expected acct1 breaker open, got %v", err)
	}
	ok := func(ctx context.Context) (any, error) { return "ok", nil }
	if _, err := bs.Call(context.Background(), "binance:acct2", ok); err != nil {
		t.Fatalf("expected acct2 breaker to remain closed, got %v", err)
	}
}
