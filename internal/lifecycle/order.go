package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/venue"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// Order wraps wire.Order with the venue-assigned identifier used to route
// cancel/fill traffic back to the right adapter call, the indeterminate
// marker set when a placement exhausted its retry budget, and the set of
// exchange fill ids already merged so redelivered fills are idempotent.
type Order struct {
	wire.Order
	VenueOrderID  string   `json:"venue_order_id"`
	Indeterminate bool     `json:"indeterminate,omitempty"`
	SeenFillIDs   []string `json:"seen_fill_ids,omitempty"`
}

func (o *Order) sawFill(fillID string) bool {
	for _, id := range o.SeenFillIDs {
		if id == fillID {
			return true
		}
	}
	return false
}

// GetOrder loads an order by id.
func GetOrder(st *store.Store, orderID string) (*Order, bool, error) {
	raw, found, err := st.Get(store.NSOrders, []byte(orderID))
	if err != nil || !found {
		return nil, found, err
	}
	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, false, err
	}
	return &o, true, nil
}

// ApplyFill merges a venue fill into the order and, when it completes the
// order, atomically updates the Position and marks the owning Intent
// EXECUTED in a single durable commit — the "completion is atomic"
// contract from §4.4. Fills are idempotently merged by exchange fill_id:
// a redelivered fill is a no-op.
func (m *Manager) ApplyFill(ctx context.Context, f venue.Fill, fillPrice decimal.Decimal) error {
	// Fill streams outlive demotion; a fenced-out process must not keep
	// writing order/position state.
	if err := m.core.CheckFencing(m.term.Load()); err != nil {
		return err
	}
	order, found, err := GetOrder(m.st, f.ClientOrderID)
	if err != nil {
		return err
	}
	if !found {
		return &wire.DecodeError{Reason: "fill for unknown order"}
	}
	if order.State.IsTerminal() {
		return nil
	}
	if f.FillID != "" && order.sawFill(f.FillID) {
		return nil
	}

	if err := order.Order.ApplyFill(f.Qty, fillPrice, f.Final); err != nil {
		return err
	}
	if f.FillID != "" {
		order.SeenFillIDs = append(order.SeenFillIDs, f.FillID)
	}
	order.Indeterminate = false

	writes := []store.Write{}
	eventKind := "shadow_fill"
	if order.State == wire.OrderFilled {
		eventKind = "fill"
		order.TFill = time.Now().UnixMilli()

		pos, _, _ := GetPosition(m.st, order.Venue, order.Account, order.Symbol)
		pos.Venue, pos.Account, pos.Symbol = order.Venue, order.Account, order.Symbol
		applyToPosition(&pos, order)
		posWrite, err := PutPosition(pos)
		if err != nil {
			return err
		}
		writes = append(writes, posWrite)

		in, intentFound, err := getIntent(m.st, order.SignalID)
		if err == nil && intentFound {
			in.Status = wire.IntentExecuted
			intentRaw, err := json.Marshal(in)
			if err == nil {
				writes = append(writes, store.Write{NS: store.NSIntents, Key: []byte(in.SignalID), Value: intentRaw})
			}
		}
	}

	orderRaw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	writes = append(writes, store.Write{NS: store.NSOrders, Key: []byte(order.OrderID), Value: orderRaw})

	if err := m.st.PutMany(writes); err != nil {
		return err
	}
	if _, err := m.st.AppendEvent(eventKind, order.SignalID, map[string]any{
		"order_id":    order.OrderID,
		"fill_id":     f.FillID,
		"qty":         f.Qty.String(),
		"price":       fillPrice.String(),
		"leader_term": m.term.Load(),
	}); err != nil {
		return err
	}
	if m.publisher != nil {
		evtType := wire.TypeExecShadowFillV1
		if eventKind == "fill" {
			evtType = wire.TypeExecFillV1
		}
		_ = m.publisher.PublishEvent(ctx, evtType, nil, wire.FillEvent{
			OrderID:   order.OrderID,
			SignalID:  order.SignalID,
			Venue:     order.Venue,
			Account:   order.Account,
			Symbol:    order.Symbol,
			FillID:    f.FillID,
			Qty:       f.Qty,
			Price:     fillPrice,
			Filled:    order.FilledSize,
			Remaining: order.Size.Sub(order.FilledSize),
			TS:        time.Now().UnixMilli(),
		})
		if eventKind == "fill" {
			_ = m.publisher.PublishEvent(ctx, wire.TypeExecReportV1, nil, wire.ReportEvent{
				OrderID:      order.OrderID,
				SignalID:     order.SignalID,
				Venue:        order.Venue,
				Account:      order.Account,
				Symbol:       order.Symbol,
				Side:         order.Side,
				State:        order.State,
				FilledSize:   order.FilledSize,
				AvgFillPrice: order.AvgFillPrice,
				Fees:         order.Fees,
				TSubmit:      order.TSubmit,
				TFill:        order.TFill,
			})
		}
	}
	return nil
}

// applyToPosition nets a completed order into the aggregate position:
// same-side orders add exposure with a weighted average entry, opposite
// side orders reduce it, flipping side if they cross through zero.
func applyToPosition(pos *Position, order *Order) {
	now := time.Now().UnixMilli()
	defer func() {
		if pos.OpenedAt == 0 {
			pos.OpenedAt = now
		}
		pos.UpdatedAt = now
	}()

	if pos.Size.IsZero() || pos.Side == order.Side {
		newSize := pos.Size.Add(order.FilledSize)
		if pos.Size.IsZero() {
			pos.AvgEntry = order.AvgFillPrice
		} else if !newSize.IsZero() {
			weighted := pos.AvgEntry.Mul(pos.Size).Add(order.AvgFillPrice.Mul(order.FilledSize))
			pos.AvgEntry = weighted.Div(newSize)
		}
		pos.Side = order.Side
		pos.Size = newSize
		return
	}

	remaining := pos.Size.Sub(order.FilledSize)
	switch {
	case remaining.IsPositive():
		pos.Size = remaining
	case remaining.IsZero():
		pos.Size = decimal.Zero
		pos.AvgEntry = decimal.Zero
	default:
		pos.Side = order.Side
		pos.Size = remaining.Neg()
		pos.AvgEntry = order.AvgFillPrice
	}
}

// Cancel requests cancellation of order; honored only from OPEN or
// PARTIALLY_FILLED, and idempotent — cancelling an already-terminal order
// is a no-op rather than an error. The venue-side cancel goes through the
// partition's circuit breaker; a venue failure does not block the local
// transition, since reconciliation resolves any disagreement.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	if err := m.core.CheckFencing(m.term.Load()); err != nil {
		return err
	}
	order, found, err := GetOrder(m.st, orderID)
	if err != nil || !found {
		return err
	}
	if order.State.IsTerminal() {
		return nil
	}
	if !wire.CanTransition(order.State, wire.OrderCancelled) {
		return &wire.DecodeError{Reason: "illegal cancel from current state"}
	}

	if adapter, ok := m.adapters[order.Venue]; ok && order.VenueOrderID != "" {
		_, _ = m.breakers.Call(ctx, order.Venue+":"+order.Account, func(ctx context.Context) (any, error) {
			return nil, adapter.CancelOrder(ctx, order.Account, order.VenueOrderID)
		})
	}

	order.State = wire.OrderCancelled
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	if err := m.st.PutMany([]store.Write{{NS: store.NSOrders, Key: []byte(order.OrderID), Value: raw}}); err != nil {
		return err
	}
	_, err = m.st.AppendEvent("order_cancelled", order.SignalID, map[string]any{
		"order_id":    order.OrderID,
		"leader_term": m.term.Load(),
	})
	return err
}

// Expire transitions order to EXPIRED. Driven by a monotonic timer
// upstream, never by comparing against wall-clock directly here.
func (m *Manager) Expire(ctx context.Context, orderID string) error {
	if err := m.core.CheckFencing(m.term.Load()); err != nil {
		return err
	}
	order, found, err := GetOrder(m.st, orderID)
	if err != nil || !found {
		return err
	}
	if order.State.IsTerminal() {
		return nil
	}
	if !wire.CanTransition(order.State, wire.OrderExpired) {
		return &wire.DecodeError{Reason: "illegal expire from current state"}
	}

	if adapter, ok := m.adapters[order.Venue]; ok && order.VenueOrderID != "" {
		_, _ = m.breakers.Call(ctx, order.Venue+":"+order.Account, func(ctx context.Context) (any, error) {
			return nil, adapter.CancelOrder(ctx, order.Account, order.VenueOrderID)
		})
	}

	order.State = wire.OrderExpired
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	if err := m.st.PutMany([]store.Write{{NS: store.NSOrders, Key: []byte(order.OrderID), Value: raw}}); err != nil {
		return err
	}
	_, err = m.st.AppendEvent("order_expired", order.SignalID, map[string]any{
		"order_id":    order.OrderID,
		"leader_term": m.term.Load(),
	})
	return err
}

func getIntent(st *store.Store, signalID string) (*wire.Intent, bool, error) {
	raw, found, err := st.Get(store.NSIntents, []byte(signalID))
	if err != nil || !found {
		return nil, found, err
	}
	var in wire.Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, false, err
	}
	return &in, true, nil
}
