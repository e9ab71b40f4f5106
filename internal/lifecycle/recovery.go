package lifecycle

import (
	"context"
	"time"

	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/venue"
)

// RecoveryReport summarizes one recovery pass over the order book after a
// restart.
type RecoveryReport struct {
	Scanned     int
	Resubmitted int
	Expired     int
	StillOpen   int
	LastSeq     uint64
}

// Recover resumes every non-terminal order after a crash from its stored
// order record: an order whose placement was left indeterminate is placed
// again with the same client-order-id, an order whose TTL has elapsed is
// expired, and every other order stays open. The venue is not asked for
// an order's current state, and the event log is only counted (reported
// as events_seen), not used to decide an order's state.
// Fills that land after recovery merge idempotently by fill_id, so a
// crash between the order_submitted event and the first fill can never
// double-count (§8 scenario 6).
func (m *Manager) Recover(ctx context.Context) (*RecoveryReport, error) {
	if err := m.core.CheckFencing(m.term.Load()); err != nil {
		return nil, err
	}
	report := &RecoveryReport{}
	lastSeq, err := m.st.LastSeq()
	if err != nil {
		return nil, err
	}
	report.LastSeq = lastSeq

	lastEventKind := make(map[string]string)
	_ = m.st.ReplayFrom(0, func(e store.EventLogEntry) error {
		if e.CorrelationID != "" {
			lastEventKind[e.CorrelationID] = e.Kind
		}
		return nil
	})

	orders, err := openOrders(m.st, "", "")
	if err != nil {
		return nil, err
	}
	report.Scanned = len(orders)

	now := m.now()
	for i := range orders {
		o := &orders[i]

		// An indeterminate placement is retried with the same
		// client-order-id; the venue's idempotency contract means this
		// either surfaces the original order or creates the one that
		// never landed.
		if o.Indeterminate {
			if adapter, ok := m.adapters[o.Venue]; ok {
				venueOrderID, err := adapter.PlaceOrder(ctx, venue.PlaceOrderRequest{
					ClientOrderID: o.SignalID,
					Account:       o.Account,
					Symbol:        o.Symbol,
					Side:          o.Side,
					Size:          o.Size,
					LimitPrice:    o.LimitPrice,
					TIF:           o.TIF,
				})
				if err == nil {
					o.VenueOrderID = venueOrderID
					o.Indeterminate = false
					if err := m.persistOrder(o); err != nil {
						return nil, err
					}
					report.Resubmitted++
				}
			}
		}

		remaining := m.limits.IntentTTL - time.Duration(now.UnixMilli()-o.TSubmit)*time.Millisecond
		if remaining <= 0 {
			if err := m.Expire(ctx, o.OrderID); err == nil {
				report.Expired++
				continue
			}
		}
		report.StillOpen++
	}

	_, _ = m.st.AppendEvent("recovery", "", map[string]any{
		"scanned":     report.Scanned,
		"resubmitted": report.Resubmitted,
		"expired":     report.Expired,
		"still_open":  report.StillOpen,
		"last_seq":    report.LastSeq,
		"events_seen": len(lastEventKind),
		"leader_term": m.term.Load(),
	})
	return report, nil
}

// RetrackOpen re-arms the expiry scheduler for every order Recover left
// open, preserving each order's remaining TTL across the restart.
func (m *Manager) RetrackOpen(ctx context.Context, sched *ExpiryScheduler) error {
	orders, err := openOrders(m.st, "", "")
	if err != nil {
		return err
	}
	now := m.now()
	for i := range orders {
		o := &orders[i]
		remaining := m.limits.IntentTTL - time.Duration(now.UnixMilli()-o.TSubmit)*time.Millisecond
		sched.Track(ctx, o, remaining)
	}
	return nil
}
