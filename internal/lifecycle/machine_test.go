package lifecycle

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peycheff-com/titan-execution-core/internal/safety"
	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/venue"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

type fakePublisher struct {
	events []publishedEvent
}

type publishedEvent struct {
	typ     wire.Type
	payload any
}

func (f *fakePublisher) PublishEvent(ctx context.Context, t wire.Type, partitions []string, payload any) error {
	f.events = append(f.events, publishedEvent{typ: t, payload: payload})
	return nil
}

func newTestManager(t *testing.T) (*Manager, *safety.Core, *fakePublisher, *venue.MockAdapter) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "exec.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	risk := safety.NewRiskMachine()
	core, err := safety.NewCore(st, risk)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	breakers := safety.NewBreakerSet()
	book := NewBook(10 * time.Second)
	mock := venue.NewMockAdapter("mockex")
	adapters := map[string]venue.Adapter{"mockex": mock}
	pub := &fakePublisher{}

	limits := Limits{
		IntentTTL:         60 * time.Second,
		MaxPositionPct:    decimal.NewFromFloat(0.25),
		MaxLeverage:       decimal.NewFromFloat(10),
		MaxSlippageBps:    50,
		MaxSpreadDriftBps: decimal.NewFromFloat(50),
		Capital:           decimal.Zero,
	}
	mgr := NewManager(st, core, risk, breakers, book, adapters, pub, limits)
	return mgr, core, pub, mock
}

func seedTicker(book *Book, venueName, symbol string) {
	book.Update(venueName, Ticker{
		Symbol:    symbol,
		Bid:       100,
		Ask:       100.1,
		LastPrice: 100.05,
		UpdatedAt: time.Now(),
	})
}

func armCore(t *testing.T, core *safety.Core, policyHash string) {
	t.Helper()
	cmd := &wire.OperatorCommand{CommandID: "c1", Action: wire.ActionArm, ActorID: "admin1"}
	if err := core.Arm(cmd, policyHash); err != nil {
		t.Fatalf("arm: %v", err)
	}
}

func TestAdmitDisarmedRejection(t *testing.T) {
	mgr, _, pub, _ := newTestManager(t)
	seedTicker(mgr.book, "mockex", "BTC/USDT:PERP")

	in := &wire.Intent{
		SignalID:   "s1",
		Symbol:     "BTC/USDT:PERP",
		Direction:  1,
		Type:       wire.IntentBuySetup,
		Size:       decimal.NewFromFloat(0.1),
		TSignal:    time.Now().UnixMilli(),
		PolicyHash: "H",
	}
	_, err := mgr.Admit(context.Background(), in, "mockex", "acct1")
	rej, ok := err.(*Rejection)
	if !ok {
		t.Fatalf("expected *Rejection, got %v", err)
	}
	if rej.Reason != ReasonSystemDisarmed {
		t.Fatalf("expected SYSTEM_DISARMED, got %s", rej.Reason)
	}
	if len(pub.events) != 1 || pub.events[0].typ != wire.TypeExecRejectV1 {
		t.Fatalf("expected exactly one reject event, got %+v", pub.events)
	}
}

func TestAdmitPolicyHashMismatchAfterArm(t *testing.T) {
	mgr, core, _, _ := newTestManager(t)
	seedTicker(mgr.book, "mockex", "ETH/USDT:PERP")
	armCore(t, core, "H1")

	in := &wire.Intent{
		SignalID:   "s2",
		Symbol:     "ETH/USDT:PERP",
		Direction:  -1,
		Type:       wire.IntentSellSetup,
		Size:       decimal.NewFromFloat(0.5),
		TSignal:    time.Now().UnixMilli(),
		PolicyHash: "H0",
	}
	_, err := mgr.Admit(context.Background(), in, "mockex", "acct1")
	rej, ok := err.(*Rejection)
	if !ok {
		t.Fatalf("expected *Rejection, got %v", err)
	}
	if rej.Reason != ReasonPolicyHashMismatch {
		t.Fatalf("expected POLICY_HASH_MISMATCH, got %s", rej.Reason)
	}
}

func TestAdmitHappyPathPartialFills(t *testing.T) {
	mgr, core, pub, mock := newTestManager(t)
	seedTicker(mgr.book, "mockex", "ETH/USDT:PERP")
	armCore(t, core, "H")

	in := &wire.Intent{
		SignalID:   "s3",
		Symbol:     "ETH/USDT:PERP",
		Direction:  -1,
		Type:       wire.IntentSellSetup,
		Size:       decimal.NewFromFloat(0.5),
		TSignal:    time.Now().UnixMilli(),
		PolicyHash: "H",
	}
	order, err := mgr.Admit(context.Background(), in, "mockex", "acct1")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if order.State != wire.OrderOpen {
		t.Fatalf("expected OPEN, got %s", order.State)
	}

	_ = mock // mock currently unused beyond adapter wiring; fills applied directly below

	if err := mgr.ApplyFill(context.Background(), venueFill(order.OrderID, 0.2), decimal.NewFromFloat(1800)); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	mid, _, _ := GetOrder(mgr.st, order.OrderID)
	if mid.State != wire.OrderPartiallyFilled {
		t.Fatalf("expected PARTIALLY_FILLED, got %s", mid.State)
	}

	if err := mgr.ApplyFill(context.Background(), venueFillFinal(order.OrderID, 0.3), decimal.NewFromFloat(1810)); err != nil {
		t.Fatalf("second fill: %v", err)
	}
	final, _, _ := GetOrder(mgr.st, order.OrderID)
	if final.State != wire.OrderFilled {
		t.Fatalf("expected FILLED, got %s", final.State)
	}
	if !final.FilledSize.Equal(final.Size) {
		t.Fatalf("filled_size %s != size %s", final.FilledSize, final.Size)
	}

	in2, found, err := getIntent(mgr.st, in.SignalID)
	if err != nil || !found {
		t.Fatalf("intent lookup: found=%v err=%v", found, err)
	}
	if in2.Status != wire.IntentExecuted {
		t.Fatalf("expected EXECUTED intent, got %s", in2.Status)
	}

	pos, found, err := GetPosition(mgr.st, "mockex", "acct1", "ETH/USDT:PERP")
	if err != nil || !found {
		t.Fatalf("position lookup: found=%v err=%v", found, err)
	}
	if !pos.Size.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected position size 0.5, got %s", pos.Size)
	}

	var shadow, fill int
	for _, e := range pub.events {
		switch e.typ {
		case wire.TypeExecShadowFillV1:
			shadow++
		case wire.TypeExecFillV1:
			fill++
		}
	}
	if shadow != 1 || fill != 1 {
		t.Fatalf("expected exactly one shadow_fill and one fill event, got shadow=%d fill=%d", shadow, fill)
	}
}

func TestAdmitRefusesStaleFencingToken(t *testing.T) {
	mgr, core, pub, _ := newTestManager(t)
	seedTicker(mgr.book, "mockex", "BTC/USDT:PERP")
	armCore(t, core, "H")

	if err := core.SetLeaderTerm(5); err != nil {
		t.Fatalf("set leader term: %v", err)
	}
	mgr.SetTerm(3)

	in := &wire.Intent{
		SignalID:   "fence1",
		Symbol:     "BTC/USDT:PERP",
		Direction:  1,
		Type:       wire.IntentBuySetup,
		Size:       decimal.NewFromFloat(0.1),
		TSignal:    time.Now().UnixMilli(),
		PolicyHash: "H",
	}
	_, err := mgr.Admit(context.Background(), in, "mockex", "acct1")
	if err != safety.ErrStaleLeaderTerm {
		t.Fatalf("expected ErrStaleLeaderTerm, got %v", err)
	}
	// No rejection event either: a fenced-out leader must not publish.
	if len(pub.events) != 0 {
		t.Fatalf("fenced leader published events: %+v", pub.events)
	}
	if _, found, _ := mgr.st.Get(store.NSIntents, []byte("fence1")); found {
		t.Fatal("fenced leader persisted intent state")
	}
}

func venueFill(orderID string, qty float64) venue.Fill {
	return venue.Fill{ClientOrderID: orderID, Qty: decimal.NewFromFloat(qty), Final: false}
}

func venueFillFinal(orderID string, qty float64) venue.Fill {
	return venue.Fill{ClientOrderID: orderID, Qty: decimal.NewFromFloat(qty), Final: true}
}

func TestAdmitDuplicateSignalRejected(t *testing.T) {
	mgr, core, _, _ := newTestManager(t)
	seedTicker(mgr.book, "mockex", "BTC/USDT:PERP")
	armCore(t, core, "H")

	in := &wire.Intent{
		SignalID:   "dup1",
		Symbol:     "BTC/USDT:PERP",
		Direction:  1,
		Type:       wire.IntentBuySetup,
		Size:       decimal.NewFromFloat(0.1),
		TSignal:    time.Now().UnixMilli(),
		PolicyHash: "H",
	}
	if _, err := mgr.Admit(context.Background(), in, "mockex", "acct1"); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	_, err := mgr.Admit(context.Background(), in, "mockex", "acct1")
	rej, ok := err.(*Rejection)
	if !ok || rej.Reason != ReasonDuplicateSignal {
		t.Fatalf("expected DUPLICATE_SIGNAL, got %v", err)
	}

	// The original ledger record keeps its status; the duplicate must not
	// write a REJECTED copy over it.
	raw, found, err := mgr.st.Get(store.NSIntents, []byte("dup1"))
	if err != nil || !found {
		t.Fatalf("ledger record missing after duplicate: found=%v err=%v", found, err)
	}
	var stored wire.Intent
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("unmarshal ledger record: %v", err)
	}
	if stored.Status != wire.IntentValidated {
		t.Fatalf("duplicate clobbered ledger status: %s", stored.Status)
	}
}

func TestAdmitExpiredIntent(t *testing.T) {
	mgr, core, _, _ := newTestManager(t)
	seedTicker(mgr.book, "mockex", "BTC/USDT:PERP")
	armCore(t, core, "H")

	in := &wire.Intent{
		SignalID:   "old1",
		Symbol:     "BTC/USDT:PERP",
		Direction:  1,
		Type:       wire.IntentBuySetup,
		Size:       decimal.NewFromFloat(0.1),
		TSignal:    time.Now().Add(-5 * time.Minute).UnixMilli(),
		PolicyHash: "H",
	}
	_, err := mgr.Admit(context.Background(), in, "mockex", "acct1")
	rej, ok := err.(*Rejection)
	if !ok || rej.Reason != ReasonExpired {
		t.Fatalf("expected EXPIRED, got %v", err)
	}
}

func TestAdmitEmergencyBlocksNonFlatten(t *testing.T) {
	mgr, core, _, _ := newTestManager(t)
	seedTicker(mgr.book, "mockex", "BTC/USDT:PERP")
	armCore(t, core, "H")
	if !mgr.risk.Escalate(wire.RiskEmergency) {
		t.Fatal("expected escalation to EMERGENCY to succeed")
	}

	in := &wire.Intent{
		SignalID:   "emg1",
		Symbol:     "BTC/USDT:PERP",
		Direction:  1,
		Type:       wire.IntentBuySetup,
		Size:       decimal.NewFromFloat(0.1),
		TSignal:    time.Now().UnixMilli(),
		PolicyHash: "H",
	}
	_, err := mgr.Admit(context.Background(), in, "mockex", "acct1")
	rej, ok := err.(*Rejection)
	if !ok || rej.Reason != ReasonRiskStateBlock {
		t.Fatalf("expected RISK_STATE_BLOCK, got %v", err)
	}

	flatten := &wire.Intent{
		SignalID:   "emg2",
		Symbol:     "BTC/USDT:PERP",
		Direction:  -1,
		Type:       wire.IntentClose,
		Size:       decimal.NewFromFloat(0.1),
		TSignal:    time.Now().UnixMilli(),
		PolicyHash: "H",
	}
	if _, err := mgr.Admit(context.Background(), flatten, "mockex", "acct1"); err != nil {
		t.Fatalf("expected flatten intent to be admitted during EMERGENCY, got %v", err)
	}
}

func TestAdmitPositionCapDirectionAware(t *testing.T) {
	mgr, core, _, _ := newTestManager(t)
	seedTicker(mgr.book, "mockex", "BTC/USDT:PERP")
	armCore(t, core, "H")
	mgr.limits.Capital = decimal.NewFromInt(1000)
	mgr.limits.MaxPositionPct = decimal.NewFromFloat(0.25)

	// An existing long near the cap (2 units, ~200 notional at the last
	// price against a 250 limit).
	write, err := PutPosition(Position{
		Venue: "mockex", Account: "acct1", Symbol: "BTC/USDT:PERP",
		Side: wire.SideBuy, Size: decimal.NewFromInt(2), AvgEntry: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("put position: %v", err)
	}
	if err := mgr.st.PutMany([]store.Write{write}); err != nil {
		t.Fatalf("persist position: %v", err)
	}

	grow := &wire.Intent{
		SignalID:   "cap-grow",
		Symbol:     "BTC/USDT:PERP",
		Direction:  1,
		Type:       wire.IntentBuySetup,
		Size:       decimal.NewFromInt(1),
		TSignal:    time.Now().UnixMilli(),
		PolicyHash: "H",
	}
	_, err = mgr.Admit(context.Background(), grow, "mockex", "acct1")
	rej, ok := err.(*Rejection)
	if !ok || rej.Reason != ReasonPositionCap {
		t.Fatalf("expected POSITION_CAP for growing intent, got %v", err)
	}

	// A position-reducing CLOSE shrinks exposure and must pass the cap.
	reduce := &wire.Intent{
		SignalID:   "cap-close",
		Symbol:     "BTC/USDT:PERP",
		Direction:  -1,
		Type:       wire.IntentClose,
		Size:       decimal.NewFromInt(2),
		TSignal:    time.Now().UnixMilli(),
		PolicyHash: "H",
	}
	if _, err := mgr.Admit(context.Background(), reduce, "mockex", "acct1"); err != nil {
		t.Fatalf("reducing intent rejected by position cap: %v", err)
	}
}

func TestProjectedPositionSizeNetting(t *testing.T) {
	long := Position{Side: wire.SideBuy, Size: decimal.NewFromInt(2)}
	cases := []struct {
		side wire.Side
		size int64
		want int64
	}{
		{wire.SideBuy, 1, 3},  // same side adds
		{wire.SideSell, 1, 1}, // opposite side reduces
		{wire.SideSell, 2, 0}, // full close
		{wire.SideSell, 5, 3}, // flip through zero
	}
	for i, c := range cases {
		got := projectedPositionSize(long, c.side, decimal.NewFromInt(c.size))
		if !got.Equal(decimal.NewFromInt(c.want)) {
			t.Fatalf("case %d: projected %s, want %d", i, got, c.want)
		}
	}
}
