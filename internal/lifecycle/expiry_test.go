package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

func TestExpirySchedulerExpiresOpenOrder(t *testing.T) {
	mgr, core, _, _ := newTestManager(t)
	armCore(t, core, "H")
	parts := NewPartitions(mgr)
	defer parts.Shutdown()

	order := admitTestIntent(t, mgr, "e1", "BTC/USDT:PERP")

	sched := NewExpiryScheduler(parts, 20*time.Millisecond)
	defer sched.Stop()
	sched.Track(context.Background(), order, 0)

	deadline := time.After(2 * time.Second)
	for {
		o, _, _ := GetOrder(mgr.st, order.OrderID)
		if o.State == wire.OrderExpired {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("order never expired, state %s", o.State)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if sched.Tracked() != 0 {
		t.Fatalf("expected timer to be discarded after firing, got %d", sched.Tracked())
	}
}

func TestExpirySchedulerForgetStopsTimer(t *testing.T) {
	mgr, core, _, _ := newTestManager(t)
	armCore(t, core, "H")
	parts := NewPartitions(mgr)
	defer parts.Shutdown()

	order := admitTestIntent(t, mgr, "e2", "ETH/USDT:PERP")

	sched := NewExpiryScheduler(parts, 30*time.Millisecond)
	defer sched.Stop()
	sched.Track(context.Background(), order, 0)
	sched.Forget(order.OrderID)

	time.Sleep(80 * time.Millisecond)
	o, _, _ := GetOrder(mgr.st, order.OrderID)
	if o.State != wire.OrderOpen {
		t.Fatalf("forgotten timer still fired, state %s", o.State)
	}
}
