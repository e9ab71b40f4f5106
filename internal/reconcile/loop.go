// Package reconcile implements the Reconciliation & Telemetry Loop
// (§4.7): periodic drift detection against venues, heartbeat and metric
// emission, and automatic flatten on EMERGENCY escalation. It runs only
// on the leader.
package reconcile

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/peycheff-com/titan-execution-core/internal/lifecycle"
	"github.com/peycheff-com/titan-execution-core/internal/safety"
	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/venue"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// Publisher is the minimal bus capability the loop needs: publishing
// typed events and the heartbeat. internal/bus.Adapter satisfies this.
type Publisher interface {
	PublishEvent(ctx context.Context, t wire.Type, partitions []string, payload any) error
}

// LeaderChecker reports whether this process currently holds the leader
// lease; the loop no-ops entirely on followers (§4.7 "Runs only on the
// leader"). internal/safety.Lease satisfies this. A nil checker means the
// process runs without a lease and is its own leader.
type LeaderChecker interface {
	IsLeader() bool
	Term() int64
}

// AccountSpec names one (venue, account) pair the loop reconciles.
type AccountSpec struct {
	Venue   string
	Account string
}

// Config holds the tunables the loop reads from configuration.
type Config struct {
	Period                  time.Duration
	HeartbeatInterval       time.Duration // liveness heartbeat cadence between reconcile passes; 0 leaves the per-tick emission alone
	DriftTolerance          decimal.Decimal
	EmergencyDriftTolerance decimal.Decimal // §9 open question left unspecified by the source spec; set to 5x DriftTolerance unless overridden.
	Capital                 decimal.Decimal
	MaxDrawdownPct          decimal.Decimal
	MaxDailyLossPct         decimal.Decimal
	DedupWindow             time.Duration // retention for dedup records; expired entries are compacted every period
}

// Loop is the reconciliation and telemetry runner.
type Loop struct {
	st            *store.Store
	core          *safety.Core
	risk          *safety.RiskMachine
	leader        LeaderChecker
	parts         *lifecycle.Partitions
	adapters      map[string]venue.Adapter
	accounts      []AccountSpec
	publisher     Publisher
	metrics       *Metrics
	drawdown      *DrawdownTracker
	sentinel      *safety.SentinelMonitor
	termVal       atomic.Int64
	lastOrders    atomic.Int64
	lastPositions atomic.Int64
	cfg           Config
	log           *zap.Logger
}

// New builds a Loop ready to Run.
func New(st *store.Store, core *safety.Core, risk *safety.RiskMachine, leader LeaderChecker, parts *lifecycle.Partitions, adapters map[string]venue.Adapter, accounts []AccountSpec, pub Publisher, metrics *Metrics, cfg Config, log *zap.Logger) *Loop {
	if cfg.EmergencyDriftTolerance.IsZero() {
		// 5x the drift tolerance; the spec leaves the emergency threshold
		// open, see DESIGN.md.
		cfg.EmergencyDriftTolerance = cfg.DriftTolerance.Mul(decimal.NewFromInt(5))
		if log != nil {
			log.Info("reconcile: emergency drift tolerance defaulted to 5x drift_tolerance",
				zap.String("value", cfg.EmergencyDriftTolerance.String()))
		}
	}
	return &Loop{
		st: st, core: core, risk: risk, leader: leader, parts: parts,
		adapters: adapters, accounts: accounts, publisher: pub, metrics: metrics,
		drawdown: NewDrawdownTracker(cfg.MaxDrawdownPct, cfg.MaxDailyLossPct), cfg: cfg, log: log,
	}
}

// AttachSentinel hooks an upstream-heartbeat monitor into the loop's
// tick, so heartbeat-loss checks share the reconcile cadence instead of
// running a second ticker.
func (l *Loop) AttachSentinel(m *safety.SentinelMonitor) {
	l.sentinel = m
}

// Run blocks, ticking every cfg.Period until ctx is cancelled. Each tick
// that finds this process is not the leader is a no-op. When
// HeartbeatInterval is set (typically shorter than Period) a second
// ticker keeps the liveness heartbeat fresh between reconcile passes,
// re-emitting the counts from the last completed tick.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Period)
	defer ticker.Stop()
	var hbC <-chan time.Time
	if l.cfg.HeartbeatInterval > 0 {
		hb := time.NewTicker(l.cfg.HeartbeatInterval)
		defer hb.Stop()
		hbC = hb.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-hbC:
			if l.leader != nil && !l.leader.IsLeader() {
				continue
			}
			l.emitHeartbeat(ctx, int(l.lastOrders.Load()), int(l.lastPositions.Load()))
		case <-ticker.C:
			// Dedup records are process-local; compaction runs on every
			// replica, leader or not.
			if l.cfg.DedupWindow > 0 {
				_, _ = l.st.CompactDedup(time.Now().Add(-l.cfg.DedupWindow).UnixMilli())
			}
			if l.leader != nil && !l.leader.IsLeader() {
				continue
			}
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	var openPositions, openOrders int
	for _, acc := range l.accounts {
		n, orders, err := l.reconcileAccount(ctx, acc)
		if err != nil {
			if l.log != nil {
				l.log.Warn("reconcile: account failed", zap.String("venue", acc.Venue), zap.String("account", acc.Account), zap.Error(err))
			}
			continue
		}
		openPositions += n
		openOrders += orders
	}

	l.checkDrawdown(ctx)
	if l.sentinel != nil {
		if silent := l.sentinel.Check(); len(silent) > 0 && l.log != nil {
			l.log.Warn("reconcile: upstream heartbeat loss", zap.Strings("services", silent))
		}
	}
	// Trigger-driven escalations this tick become visible to
	// OperatorState readers (heartbeat, admin surface).
	_ = l.core.SyncRiskState()

	l.lastOrders.Store(int64(openOrders))
	l.lastPositions.Store(int64(openPositions))
	l.emitHeartbeat(ctx, openOrders, openPositions)
	l.metrics.ObservePositionCount(openPositions)
}

// SetTerm records the promoted fencing token this loop writes into its
// state-changing events, mirroring lifecycle.Manager.SetTerm.
func (l *Loop) SetTerm(term int64) {
	l.termVal.Store(term)
}

// term is the fencing token for this loop's writes: the promoted term
// when one was installed, otherwise the persisted record.
func (l *Loop) term() int64 {
	if t := l.termVal.Load(); t != 0 {
		return t
	}
	return l.core.Snapshot().LeaderTerm
}

// checkDrawdown computes session equity from venue balances, feeds the
// drawdown tracker, and escalates the risk state at the configured
// thresholds. Reaching EMERGENCY cancels every open order and flattens
// every open position (§8 scenario 5).
func (l *Loop) checkDrawdown(ctx context.Context) {
	equity := decimal.Zero
	var observed bool
	for _, acc := range l.accounts {
		adapter, ok := l.adapters[acc.Venue]
		if !ok {
			continue
		}
		balances, err := adapter.GetBalances(ctx, acc.Account)
		if err != nil {
			continue
		}
		for _, b := range balances {
			equity = equity.Add(b.Free).Add(b.Locked)
		}
		observed = true
	}
	if !observed {
		return
	}

	drawdown, tier, escalate := l.drawdown.Update(equity)
	l.metrics.ObserveEquity(equity.InexactFloat64())
	l.metrics.ObserveDrawdownPct(drawdown.InexactFloat64())
	if !escalate {
		return
	}

	escalated := l.risk.Escalate(tier)
	if tier != wire.RiskEmergency || !escalated {
		return
	}
	if err := l.core.CheckFencing(l.term()); err != nil {
		return
	}
	if l.log != nil {
		l.log.Error("reconcile: drawdown breaker tripped", zap.String("drawdown", drawdown.String()))
	}
	_, _ = l.st.AppendEvent("drawdown_emergency", "", map[string]any{
		"drawdown":    drawdown.String(),
		"leader_term": l.term(),
	})
	if _, err := l.parts.CancelAllOpen(ctx, "DRAWDOWN_EMERGENCY"); err != nil && l.log != nil {
		l.log.Warn("reconcile: cancel all failed", zap.Error(err))
	}
	for _, acc := range l.accounts {
		local, err := localPositions(l.st, acc.Venue, acc.Account)
		if err != nil {
			continue
		}
		l.flattenAll(ctx, acc, local)
	}
}

// reconcileAccount performs step 1-2 of §4.7 for one (venue, account):
// fetch remote positions, diff against local, escalate risk on drift, and
// trigger automatic flatten once the emergency threshold is crossed.
func (l *Loop) reconcileAccount(ctx context.Context, acc AccountSpec) (openPositions, openOrders int, err error) {
	adapter, ok := l.adapters[acc.Venue]
	if !ok {
		return 0, 0, nil
	}
	remote, err := adapter.GetPositions(ctx, acc.Account)
	if err != nil {
		return 0, 0, err
	}
	local, err := localPositions(l.st, acc.Venue, acc.Account)
	if err != nil {
		return 0, 0, err
	}
	for _, p := range local {
		if !p.Size.IsZero() {
			openPositions++
		}
		if !l.cfg.Capital.IsZero() {
			l.metrics.ObserveLeverage(acc.Venue, acc.Account, p.Symbol, p.NotionalValue().Div(l.cfg.Capital).InexactFloat64())
		}
	}
	openOrders += l.countOpenOrders(acc)

	drifts := computeDrift(acc.Venue, acc.Account, local, remote)
	for _, d := range drifts {
		l.metrics.ObserveDrift(d.Venue, d.Account, d.Symbol, d.Ratio.InexactFloat64())
		if d.Ratio.LessThanOrEqual(l.cfg.DriftTolerance) {
			continue
		}
		l.publishDrift(ctx, d)
		l.risk.Escalate(wire.RiskDefensive)

		if d.Ratio.GreaterThan(l.cfg.EmergencyDriftTolerance) {
			if l.risk.Escalate(wire.RiskEmergency) {
				l.flattenAll(ctx, acc, local)
			}
		}
	}
	return openPositions, openOrders, nil
}

func (l *Loop) countOpenOrders(acc AccountSpec) int {
	var n int
	prefix := []byte{}
	_ = l.st.Scan(store.NSOrders, prefix, func(_, value []byte) bool {
		var o lifecycle.Order
		if err := json.Unmarshal(value, &o); err != nil {
			return true
		}
		if o.Venue == acc.Venue && o.Account == acc.Account && !o.State.IsTerminal() {
			n++
		}
		return true
	})
	return n
}

func (l *Loop) publishDrift(ctx context.Context, d Drift) {
	if l.publisher == nil {
		return
	}
	_ = l.publisher.PublishEvent(ctx, wire.TypeOpsEventV1, []string{"drift"}, wire.DriftEvent{
		Venue:      d.Venue,
		Account:    d.Account,
		Symbol:     d.Symbol,
		LocalSize:  d.LocalSize,
		RemoteSize: d.RemoteSize,
		Ratio:      d.Ratio,
	})
	if err := l.core.CheckFencing(l.term()); err != nil {
		return
	}
	_, _ = l.st.AppendEvent("position_drift", d.Symbol, map[string]any{
		"venue":       d.Venue,
		"account":     d.Account,
		"ratio":       d.Ratio.String(),
		"leader_term": l.term(),
	})
}

// flattenAll issues a synthetic CLOSE intent for every open local
// position in (venue, account), per §4.7 step 2's "automatic flatten (via
// synthetic CLOSE intents)".
func (l *Loop) flattenAll(ctx context.Context, acc AccountSpec, local map[string]lifecycle.Position) {
	opState := l.core.Snapshot()
	for symbol, p := range local {
		if p.Size.IsZero() {
			continue
		}
		in := &wire.Intent{
			SignalID:   "flatten-" + uuid.NewString(),
			Source:     wire.SourceSentinel,
			Symbol:     symbol,
			Direction:  flattenDirection(p.Side),
			Type:       wire.IntentClose,
			Size:       p.Size,
			TSignal:    time.Now().UnixMilli(),
			PolicyHash: opState.PolicyHash,
		}
		if _, err := l.parts.Admit(ctx, in, acc.Venue, acc.Account); err != nil && l.log != nil {
			l.log.Warn("reconcile: automatic flatten rejected", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func flattenDirection(side wire.Side) int {
	if side == wire.SideBuy {
		return -1
	}
	return 1
}

func (l *Loop) emitHeartbeat(ctx context.Context, openOrders, openPositions int) {
	if l.publisher == nil {
		return
	}
	opState := l.core.Snapshot()
	lastSeq, _ := l.st.LastSeq()
	payload := HeartbeatPayload{
		LeaderTerm:    opState.LeaderTerm,
		Arm:           string(opState.Arm),
		Halt:          string(opState.Halt),
		RiskState:     string(l.risk.Current()),
		OpenOrders:    openOrders,
		OpenPositions: openPositions,
		LastSeq:       lastSeq,
	}
	_ = l.publisher.PublishEvent(ctx, wire.TypeHeartbeatV1, []string{"execution"}, payload)
}
