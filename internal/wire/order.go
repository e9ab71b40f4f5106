package wire

import "github.com/shopspring/decimal"

// OrderState is a node in the per-intent order lifecycle state machine.
// Terminal states (Filled, Cancelled, Rejected, Expired) never transition
// out once entered.
type OrderState string

const (
	OrderPending          OrderState = "PENDING"
	OrderOpen             OrderState = "OPEN"
	OrderPartiallyFilled  OrderState = "PARTIALLY_FILLED"
	OrderFilled           OrderState = "FILLED"
	OrderExpired          OrderState = "EXPIRED"
	OrderCancelled        OrderState = "CANCELLED"
	OrderRejected         OrderState = "REJECTED"
)

// IsTerminal reports whether s is a final order state.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

// allowedOrderTransitions encodes the graph from §4.4: PENDING -> OPEN ->
// {PARTIALLY_FILLED -> FILLED | EXPIRED | CANCELLED} | REJECTED.
var allowedOrderTransitions = map[OrderState]map[OrderState]bool{
	OrderPending: {
		OrderOpen:     true,
		OrderRejected: true,
	},
	OrderOpen: {
		OrderPartiallyFilled: true,
		OrderFilled:          true,
		OrderExpired:         true,
		OrderCancelled:       true,
		OrderRejected:        true,
	},
	OrderPartiallyFilled: {
		OrderPartiallyFilled: true,
		OrderFilled:          true,
		OrderExpired:         true,
		OrderCancelled:       true,
	},
}

// CanTransition reports whether moving from from to to is a legal edge in
// the order state machine. Terminal states never permit outgoing edges.
func CanTransition(from, to OrderState) bool {
	if from.IsTerminal() {
		return false
	}
	edges, ok := allowedOrderTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Side is the venue-facing buy/sell direction of an Order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TimeInForce enumerates the order duration policies Titan issues.
type TimeInForce string

const (
	TIFGoodTilCancel TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFFillOrKill    TimeInForce = "FOK"
)

// OrderClass is the market-taker aggressiveness tier selected
// deterministically from signal velocity (§4.4).
type OrderClass string

const (
	ClassMarket          OrderClass = "MARKET"
	ClassAggressiveLimit OrderClass = "AGGRESSIVE_LIMIT"
	ClassLimit           OrderClass = "LIMIT"
)

// SelectOrderClass maps an absolute velocity (percent per second) to the
// deterministic order class from §4.4. Ties favor the less aggressive
// class, so the comparisons use strict inequality on the lower boundary.
func SelectOrderClass(absVelocityPctPerSec float64) OrderClass {
	switch {
	case absVelocityPctPerSec > 0.5:
		return ClassMarket
	case absVelocityPctPerSec > 0.1:
		return ClassAggressiveLimit
	default:
		return ClassLimit
	}
}

// Order is the venue-facing realization of an Intent.
type Order struct {
	OrderID      string          `json:"order_id"`
	SignalID     string          `json:"signal_id"`
	Venue        string          `json:"venue"`
	Account      string          `json:"account"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Size         decimal.Decimal `json:"size"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
	TIF          TimeInForce     `json:"tif"`
	State        OrderState      `json:"state"`
	FilledSize   decimal.Decimal `json:"filled_size"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Fees         decimal.Decimal `json:"fees"`
	TSubmit      int64           `json:"t_submit"`
	TFill        int64           `json:"t_fill,omitempty"`
}

// ApplyFill merges a partial or final fill into the order, transitioning
// its state. It returns an error rather than ever letting FilledSize
// exceed Size: the invariant the property "no double fill" depends on.
func (o *Order) ApplyFill(qty, price decimal.Decimal, final bool) error {
	if o.State.IsTerminal() {
		return &DecodeError{Reason: "fill on terminal order"}
	}
	newFilled := o.FilledSize.Add(qty)
	if newFilled.GreaterThan(o.Size) {
		return &DecodeError{Reason: "fill would exceed order size"}
	}
	if o.FilledSize.IsZero() {
		o.AvgFillPrice = price
	} else if !newFilled.IsZero() {
		weighted := o.AvgFillPrice.Mul(o.FilledSize).Add(price.Mul(qty))
		o.AvgFillPrice = weighted.Div(newFilled)
	}
	o.FilledSize = newFilled

	var next OrderState
	switch {
	case final || newFilled.Equal(o.Size):
		next = OrderFilled
	default:
		next = OrderPartiallyFilled
	}
	if !CanTransition(o.State, next) {
		return &DecodeError{Reason: "illegal order transition"}
	}
	o.State = next
	return nil
}
