package reconcile

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/peycheff-com/titan-execution-core/internal/lifecycle"
	"github.com/peycheff-com/titan-execution-core/internal/safety"
	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/venue"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []wire.Type
}

func (c *capturePublisher) PublishEvent(ctx context.Context, t wire.Type, partitions []string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, t)
	return nil
}

func (c *capturePublisher) seen(t wire.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, typ := range c.events {
		if typ == t {
			return true
		}
	}
	return false
}

type loopFixture struct {
	st    *store.Store
	core  *safety.Core
	risk  *safety.RiskMachine
	book  *lifecycle.Book
	mgr   *lifecycle.Manager
	parts *lifecycle.Partitions
	mock  *venue.MockAdapter
	pub   *capturePublisher
	loop  *Loop
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "loop.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	risk := safety.NewRiskMachine()
	core, err := safety.NewCore(st, risk)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	book := lifecycle.NewBook(10 * time.Second)
	mock := venue.NewMockAdapter("mockex")
	adapters := map[string]venue.Adapter{"mockex": mock}
	pub := &capturePublisher{}

	limits := lifecycle.Limits{
		IntentTTL:         60 * time.Second,
		MaxPositionPct:    decimal.NewFromFloat(0.25),
		MaxLeverage:       decimal.NewFromFloat(10),
		MaxSlippageBps:    50,
		MaxSpreadDriftBps: decimal.NewFromFloat(50),
	}
	mgr := lifecycle.NewManager(st, core, risk, safety.NewBreakerSet(), book, adapters, pub, limits)
	parts := lifecycle.NewPartitions(mgr)
	t.Cleanup(parts.Shutdown)

	accounts := []AccountSpec{{Venue: "mockex", Account: "acct1"}}
	loop := New(st, core, risk, nil, parts, adapters, accounts, pub, NewMetrics(zap.NewNop()), Config{
		Period:         time.Second,
		DriftTolerance: decimal.NewFromFloat(0.01),
		MaxDrawdownPct: decimal.NewFromFloat(0.20),
	}, zap.NewNop())

	return &loopFixture{st: st, core: core, risk: risk, book: book, mgr: mgr, parts: parts, mock: mock, pub: pub, loop: loop}
}

func (f *loopFixture) arm(t *testing.T, policyHash string) {
	t.Helper()
	cmd := &wire.OperatorCommand{CommandID: "c1", Action: wire.ActionArm, ActorID: "admin1"}
	if err := f.core.Arm(cmd, policyHash); err != nil {
		t.Fatalf("arm: %v", err)
	}
}

func (f *loopFixture) seedTicker(symbol string) {
	f.book.Update("mockex", lifecycle.Ticker{Symbol: symbol, Bid: 100, Ask: 100.1, LastPrice: 100.05, UpdatedAt: time.Now()})
}

func setBalance(mock *venue.MockAdapter, total float64) {
	mock.SetBalance("acct1", []venue.Balance{{Asset: "USDT", Free: decimal.NewFromFloat(total)}})
}

// §8 scenario 5: P&L updates crossing max_drawdown_pct push the risk
// state to EMERGENCY within one reconcile period, open orders are
// cancelled, and synthetic CLOSE intents flatten every open position.
func TestDrawdownBreakerReachesEmergencyAndFlattens(t *testing.T) {
	f := newLoopFixture(t)
	f.arm(t, "H")
	f.seedTicker("BTC/USDT:PERP")

	in := &wire.Intent{
		SignalID:   "dd1",
		Symbol:     "BTC/USDT:PERP",
		Direction:  1,
		Type:       wire.IntentBuySetup,
		Size:       decimal.NewFromFloat(0.1),
		TSignal:    time.Now().UnixMilli(),
		PolicyHash: "H",
	}
	order, err := f.parts.Admit(context.Background(), in, "mockex", "acct1")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	// A held position that EMERGENCY must flatten.
	posWrite, err := lifecycle.PutPosition(lifecycle.Position{
		Venue: "mockex", Account: "acct1", Symbol: "ETH/USDT:PERP",
		Side: wire.SideBuy, Size: decimal.NewFromFloat(2), AvgEntry: decimal.NewFromFloat(1800),
	})
	if err != nil {
		t.Fatalf("put position: %v", err)
	}
	if err := f.st.PutMany([]store.Write{posWrite}); err != nil {
		t.Fatalf("persist position: %v", err)
	}
	f.seedTicker("ETH/USDT:PERP")
	f.mock.SetPosition("acct1", venue.RemotePosition{Symbol: "ETH/USDT:PERP", Side: wire.SideBuy, Size: decimal.NewFromFloat(2)})

	setBalance(f.mock, 100_000)
	f.loop.tick(context.Background())
	if f.risk.Current() != wire.RiskNormal {
		t.Fatalf("risk escalated at peak equity: %s", f.risk.Current())
	}

	setBalance(f.mock, 75_000) // 25% drawdown against a 20% limit
	f.loop.tick(context.Background())
	if f.risk.Current() != wire.RiskEmergency {
		t.Fatalf("expected EMERGENCY, got %s", f.risk.Current())
	}

	deadline := time.After(2 * time.Second)
	for {
		o, _, _ := lifecycle.GetOrder(f.st, order.OrderID)
		if o != nil && o.State == wire.OrderCancelled {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("open order not cancelled after emergency")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The flatten intent produced a CLOSE order against the held position.
	var flattened bool
	_ = f.st.Scan(store.NSIntents, nil, func(_, value []byte) bool {
		var in wire.Intent
		if err := json.Unmarshal(value, &in); err != nil {
			return true
		}
		if in.Type == wire.IntentClose && in.Symbol == "ETH/USDT:PERP" {
			flattened = true
			return false
		}
		return true
	})
	if !flattened {
		t.Fatal("expected a synthetic CLOSE intent for the open position")
	}
}

func TestTickEmitsHeartbeat(t *testing.T) {
	f := newLoopFixture(t)
	setBalance(f.mock, 1000)
	f.loop.tick(context.Background())

	if !f.pub.seen(wire.TypeHeartbeatV1) {
		t.Fatal("expected a heartbeat event per tick")
	}
}
