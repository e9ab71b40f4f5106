package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peycheff-com/titan-execution-core/internal/safety"
	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/venue"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// RejectReason enumerates the typed rejection codes carried on
// titan.evt.execution.reject.v1.
type RejectReason string

const (
	ReasonExpired              RejectReason = "EXPIRED"
	ReasonDuplicateSignal      RejectReason = "DUPLICATE_SIGNAL"
	ReasonSystemDisarmed       RejectReason = "SYSTEM_DISARMED"
	ReasonHardHalt             RejectReason = "HARD_HALT"
	ReasonPolicyHashMismatch   RejectReason = "POLICY_HASH_MISMATCH"
	ReasonTickerStale          RejectReason = "TICKER_STALE"
	ReasonSpreadDrift          RejectReason = "SPREAD_DRIFT"
	ReasonPositionCap          RejectReason = "POSITION_CAP"
	ReasonSlippageCap          RejectReason = "SLIPPAGE_CAP"
	ReasonLeverageCap          RejectReason = "LEVERAGE_CAP"
	ReasonRiskStateBlock       RejectReason = "RISK_STATE_BLOCK"
	ReasonVenueUnavailable     RejectReason = "VENUE_UNAVAILABLE"
	ReasonVenueError           RejectReason = "VENUE_ERROR"
)

// Rejection is returned when the admission pipeline stops an intent
// before it reaches the venue.
type Rejection struct {
	SignalID      string
	Reason        RejectReason
	CorrelationID string
}

func (r *Rejection) Error() string {
	return "lifecycle: intent rejected: " + string(r.Reason)
}

// Publisher is the minimal bus capability the lifecycle manager needs:
// publishing typed events. internal/bus.Adapter satisfies this.
type Publisher interface {
	PublishEvent(ctx context.Context, t wire.Type, partitions []string, payload any) error
}

// Limits holds the configured risk limits the admission pipeline enforces
// (max_position_pct, max_leverage, max_slippage_bps, drift_tolerance).
type Limits struct {
	IntentTTL         time.Duration
	MaxPositionPct    decimal.Decimal
	MaxLeverage       decimal.Decimal
	MaxSlippageBps    int
	MaxSpreadDriftBps decimal.Decimal
	Capital           decimal.Decimal
}

// Manager runs the admission pipeline and owns Order/Position mutation
// for every partition it serves.
type Manager struct {
	st        *store.Store
	core      *safety.Core
	risk      *safety.RiskMachine
	breakers  *safety.BreakerSet
	book      *Book
	adapters  map[string]venue.Adapter
	publisher Publisher
	limits    Limits
	term      atomic.Int64
	now       func() time.Time
}

// SetTerm records the leader term this manager acts under, written into
// every state-changing event as a fencing token. Called on promotion.
func (m *Manager) SetTerm(term int64) {
	m.term.Store(term)
}

// NewManager wires together the components the admission pipeline reads
// on every intent.
func NewManager(st *store.Store, core *safety.Core, risk *safety.RiskMachine, breakers *safety.BreakerSet, book *Book, adapters map[string]venue.Adapter, pub Publisher, limits Limits) *Manager {
	return &Manager{
		st: st, core: core, risk: risk, breakers: breakers, book: book,
		adapters: adapters, publisher: pub, limits: limits, now: time.Now,
	}
}

// Admit runs the 10-step admission pipeline from §4.4 against in, ending
// either in a rejection (published and, except for a duplicate signal_id,
// the intent marked REJECTED) or an
// Order persisted in state OPEN and handed to the venue.
func (m *Manager) Admit(ctx context.Context, in *wire.Intent, venueName, account string) (*Order, error) {
	// A demoted leader carrying a stale fencing token must not mutate
	// state at all — not even to record a rejection.
	if err := m.core.CheckFencing(m.term.Load()); err != nil {
		return nil, err
	}
	correlationID := in.SignalID

	publishReject := func(reason RejectReason) (*Order, error) {
		if m.publisher != nil {
			_ = m.publisher.PublishEvent(ctx, wire.TypeExecRejectV1, nil, wire.RejectEvent{
				SignalID:      in.SignalID,
				ReasonCode:    string(reason),
				CorrelationID: correlationID,
			})
		}
		return nil, &Rejection{SignalID: in.SignalID, Reason: reason, CorrelationID: correlationID}
	}
	reject := func(reason RejectReason) (*Order, error) {
		in.Status = wire.IntentRejected
		m.persistIntent(in)
		return publishReject(reason)
	}

	// Step 2: freshness.
	age := time.Duration(m.now().UnixMilli()-in.TSignal) * time.Millisecond
	if age > m.limits.IntentTTL {
		return reject(ReasonExpired)
	}

	// Step 3: duplicate signal. The ledger already holds the original
	// record under this signal_id, possibly in a terminal status; a
	// duplicate must never write over it.
	if _, found, _ := m.st.Get(store.NSIntents, []byte(in.SignalID)); found {
		return publishReject(ReasonDuplicateSignal)
	}

	// Steps 4-5: disarmed / halt.
	if ok, reason := m.core.AdmitIntent(); !ok {
		if reason == "SYSTEM_DISARMED" {
			return reject(ReasonSystemDisarmed)
		}
		return reject(ReasonHardHalt)
	}

	// Step 6: policy hash.
	opState := m.core.Snapshot()
	if in.PolicyHash != opState.PolicyHash {
		return reject(ReasonPolicyHashMismatch)
	}

	// Step 7: reflex checks (<1ms budget, in-memory only).
	now := m.now()
	if m.book.IsStale(venueName, in.Symbol, now) {
		return reject(ReasonTickerStale)
	}
	ticker, _ := m.book.Get(venueName, in.Symbol)
	spreadBps := decimal.NewFromFloat(ticker.SpreadBps())
	if spreadBps.GreaterThan(m.limits.MaxSpreadDriftBps) {
		return reject(ReasonSpreadDrift)
	}

	// Step 8: transactional checks. The cap compares the netted post-fill
	// position, marked at the last price: reducing or flipping orders
	// shrink exposure and must stay admissible (the EMERGENCY flatten
	// path depends on it), so only an order that grows the position past
	// the cap is rejected.
	size := in.Size
	side := directionToSide(in.Direction)
	pos, _, _ := GetPosition(m.st, venueName, account, in.Symbol)
	projectedSize := projectedPositionSize(pos, side, size)
	projected := projectedSize.Mul(decimal.NewFromFloat(ticker.LastPrice))
	posLimit := m.limits.Capital.Mul(m.limits.MaxPositionPct)
	if !m.limits.Capital.IsZero() && projectedSize.GreaterThan(pos.Size) && projected.GreaterThan(posLimit) {
		return reject(ReasonPositionCap)
	}
	slippageFloor := in.MaxSlippageBps
	if m.limits.MaxSlippageBps > 0 && (slippageFloor == 0 || m.limits.MaxSlippageBps < slippageFloor) {
		slippageFloor = m.limits.MaxSlippageBps
	}
	// Half the quoted spread is the cost of crossing from mid to the far
	// touch — a coarse stand-in for expected slippage until a depth feed
	// exists.
	if slippageFloor > 0 && int(ticker.SpreadBps()/2) > slippageFloor {
		return reject(ReasonSlippageCap)
	}
	if in.Leverage.GreaterThan(m.limits.MaxLeverage) {
		return reject(ReasonLeverageCap)
	}

	// Step 9: strategic checks from current risk_state.
	risk := m.risk.Current()
	switch risk {
	case wire.RiskEmergency:
		if !in.IsFlatten() {
			return reject(ReasonRiskStateBlock)
		}
	case wire.RiskDefensive:
		if !in.IsFlatten() && size.GreaterThan(pos.Size) {
			return reject(ReasonRiskStateBlock)
		}
	case wire.RiskCautious:
		size = size.Mul(decimal.NewFromFloat(0.5))
	}

	// Step 10: venue submit.
	in.Status = wire.IntentValidated
	m.persistIntent(in)

	order := &Order{
		Order: wire.Order{
			OrderID:  in.SignalID,
			SignalID: in.SignalID,
			Venue:    venueName,
			Account:  account,
			Symbol:   in.Symbol,
			Side:     side,
			Size:     size,
			TIF:      wire.TIFGoodTilCancel,
			State:    wire.OrderOpen,
			TSubmit:  now.UnixMilli(),
		},
	}

	// Order class is a deterministic function of velocity; limit classes
	// carry a price from the current book.
	class := ClassFor(m.book.Velocity(venueName, in.Symbol))
	switch class {
	case wire.ClassAggressiveLimit:
		px := crossingPrice(order.Side, ticker)
		order.LimitPrice = &px
	case wire.ClassLimit:
		px := passivePrice(order.Side, ticker)
		order.LimitPrice = &px
	}

	adapter, ok := m.adapters[venueName]
	if !ok {
		return reject(ReasonVenueUnavailable)
	}
	venueOrderID, err := m.breakers.Call(ctx, venueName+":"+account, func(ctx context.Context) (any, error) {
		return adapter.PlaceOrder(ctx, venue.PlaceOrderRequest{
			ClientOrderID: in.SignalID,
			Account:       account,
			Symbol:        in.Symbol,
			Side:          order.Side,
			Size:          size,
			LimitPrice:    order.LimitPrice,
			TIF:           order.TIF,
		})
	})
	switch {
	case errors.Is(err, venue.ErrIndeterminate):
		// The venue may or may not have the order; keep it open and
		// flagged so reconciliation resolves it (§5).
		order.Indeterminate = true
	case err != nil:
		return reject(ReasonVenueError)
	default:
		order.VenueOrderID, _ = venueOrderID.(string)
	}

	if err := m.persistOrder(order); err != nil {
		return nil, err
	}
	if _, err := m.st.AppendEvent("order_submitted", order.SignalID, map[string]any{
		"order_id":      order.OrderID,
		"venue":         venueName,
		"account":       account,
		"symbol":        in.Symbol,
		"size":          size.String(),
		"indeterminate": order.Indeterminate,
		"leader_term":   m.term.Load(),
	}); err != nil {
		return nil, err
	}
	return order, nil
}

// crossingPrice prices an aggressive limit at the far touch so it fills
// immediately under normal conditions.
func crossingPrice(side wire.Side, t Ticker) decimal.Decimal {
	if side == wire.SideBuy {
		return decimal.NewFromFloat(t.Ask)
	}
	return decimal.NewFromFloat(t.Bid)
}

// passivePrice prices a plain limit at the near touch.
func passivePrice(side wire.Side, t Ticker) decimal.Decimal {
	if side == wire.SideBuy {
		return decimal.NewFromFloat(t.Bid)
	}
	return decimal.NewFromFloat(t.Ask)
}

// projectedPositionSize nets an order of side/size into the current
// position and returns the resulting absolute size, mirroring
// applyToPosition: same-side orders add, opposite-side orders reduce and
// may flip through zero.
func projectedPositionSize(pos Position, side wire.Side, size decimal.Decimal) decimal.Decimal {
	if pos.Size.IsZero() || pos.Side == side {
		return pos.Size.Add(size)
	}
	remaining := pos.Size.Sub(size)
	if remaining.IsNegative() {
		return remaining.Neg()
	}
	return remaining
}

func directionToSide(direction int) wire.Side {
	if direction < 0 {
		return wire.SideSell
	}
	return wire.SideBuy
}

func (m *Manager) persistIntent(in *wire.Intent) {
	raw, err := json.Marshal(in)
	if err != nil {
		return
	}
	_ = m.st.PutMany([]store.Write{{NS: store.NSIntents, Key: []byte(in.SignalID), Value: raw}})
}

func (m *Manager) persistOrder(o *Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return m.st.PutMany([]store.Write{{NS: store.NSOrders, Key: []byte(o.OrderID), Value: raw}})
}
