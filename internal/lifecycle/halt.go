package lifecycle

import (
	"context"
	"encoding/json"

	"github.com/peycheff-com/titan-execution-core/internal/store"
)

// openOrders scans the order namespace and returns every non-terminal
// order, optionally filtered to one (venue, account).
func openOrders(st *store.Store, venueName, account string) ([]Order, error) {
	var out []Order
	err := st.Scan(store.NSOrders, nil, func(_, value []byte) bool {
		var o Order
		if err := json.Unmarshal(value, &o); err != nil {
			return true
		}
		if o.State.IsTerminal() {
			return true
		}
		if venueName != "" && o.Venue != venueName {
			return true
		}
		if account != "" && o.Account != account {
			return true
		}
		out = append(out, o)
		return true
	})
	return out, err
}

// CancelAllOpen cancels every non-terminal order, recording reason in the
// event log. It is the action behind HARD_HALT ("cancels all in-flight
// orders", §5) and the EMERGENCY drawdown response (§8 scenario 5).
// Cancels go through the same per-order path as operator cancels, so
// idempotency and terminal-finality hold unchanged.
func (m *Manager) CancelAllOpen(ctx context.Context, reason string) (int, error) {
	if err := m.core.CheckFencing(m.term.Load()); err != nil {
		return 0, err
	}
	orders, err := openOrders(m.st, "", "")
	if err != nil {
		return 0, err
	}
	var cancelled int
	for _, o := range orders {
		if err := m.Cancel(ctx, o.OrderID); err != nil {
			continue
		}
		cancelled++
	}
	if cancelled > 0 {
		_, _ = m.st.AppendEvent("cancel_all", reason, map[string]any{
			"cancelled":   cancelled,
			"leader_term": m.term.Load(),
		})
	}
	return cancelled, nil
}

// CancelAllOpen routes the cancel of every non-terminal order through its
// owning partition worker, preserving the single-writer serialization of
// fills and cancels within a partition.
func (p *Partitions) CancelAllOpen(ctx context.Context, reason string) (int, error) {
	if err := p.mgr.core.CheckFencing(p.mgr.term.Load()); err != nil {
		return 0, err
	}
	orders, err := openOrders(p.mgr.st, "", "")
	if err != nil {
		return 0, err
	}
	for _, o := range orders {
		p.DispatchCancel(ctx, o.Venue, o.Account, o.Symbol, o.OrderID)
	}
	if len(orders) > 0 {
		_, _ = p.mgr.st.AppendEvent("cancel_all", reason, map[string]any{
			"cancelled":   len(orders),
			"leader_term": p.mgr.term.Load(),
		})
	}
	return len(orders), nil
}

// OpenOrderCount reports the number of non-terminal orders, used by the
// heartbeat and the admin surface.
func (m *Manager) OpenOrderCount() (int, error) {
	orders, err := openOrders(m.st, "", "")
	return len(orders), err
}
