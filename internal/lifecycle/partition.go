package lifecycle

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/peycheff-com/titan-execution-core/internal/venue"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// PartitionKey names the (venue, account, symbol) unit of serialized
// execution from §5. Intents, fills, and cancels for the same key are
// always processed by the same single-writer goroutine.
func PartitionKey(venueName, account, symbol string) string {
	return venueName + "|" + account + "|" + symbol
}

// job is the sealed set of work items a partition worker drains in
// delivery order. Only one of the fields is set per job.
type job struct {
	admit  *admitJob
	fill   *fillJob
	cancel *cancelJob
	expire *expireJob
	done   chan struct{}
}

type admitJob struct {
	intent  *wire.Intent
	venue   string
	account string
	result  chan admitResult
}

type admitResult struct {
	order *Order
	err   error
}

type fillJob struct {
	fill  venue.Fill
	price decimal.Decimal
}

type cancelJob struct {
	orderID string
}

type expireJob struct {
	orderID string
}

// Partitions owns one single-writer worker goroutine per PartitionKey,
// dispatching by partition_key and guaranteeing that within a partition,
// intents are processed in delivery order and fills/cancels against the
// same order are serialized (§5).
type Partitions struct {
	mgr *Manager

	mu      sync.Mutex
	workers map[string]chan job
	cancel  map[string]context.CancelFunc
	armed   bool
}

// NewPartitions returns an empty partition set over mgr. Workers are
// created lazily on first dispatch to a key.
func NewPartitions(mgr *Manager) *Partitions {
	return &Partitions{mgr: mgr, workers: make(map[string]chan job), cancel: make(map[string]context.CancelFunc), armed: true}
}

// Promote allows partition workers to process admit jobs; only the
// leader processes intents, per §4.4's "exactly one leader may admit
// intents and submit orders; followers only observe."
func (p *Partitions) Promote() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed = true
}

// Demote stops new admissions from being accepted; in-flight partition
// workers finish their current job and then idle, matching §5's
// "cooperative cancel signal... wind down to a safe terminal state before
// releasing partition locks."
func (p *Partitions) Demote() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed = false
}

func (p *Partitions) workerFor(ctx context.Context, key string) chan job {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.workers[key]; ok {
		return ch
	}
	ch := make(chan job, 64)
	workerCtx, cancel := context.WithCancel(ctx)
	p.workers[key] = ch
	p.cancel[key] = cancel
	go p.run(workerCtx, ch)
	return ch
}

func (p *Partitions) run(ctx context.Context, ch chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-ch:
			p.process(ctx, j)
			if j.done != nil {
				close(j.done)
			}
		}
	}
}

func (p *Partitions) process(ctx context.Context, j job) {
	switch {
	case j.admit != nil:
		p.mu.Lock()
		armed := p.armed
		p.mu.Unlock()
		if !armed {
			j.admit.result <- admitResult{err: ErrNotLeader}
			return
		}
		order, err := p.mgr.Admit(ctx, j.admit.intent, j.admit.venue, j.admit.account)
		j.admit.result <- admitResult{order: order, err: err}
	case j.fill != nil:
		_ = p.mgr.ApplyFill(ctx, j.fill.fill, j.fill.price)
	case j.cancel != nil:
		_ = p.mgr.Cancel(ctx, j.cancel.orderID)
	case j.expire != nil:
		_ = p.mgr.Expire(ctx, j.expire.orderID)
	}
}

// Admit enqueues an admission job on the partition for
// (venueName, account, intent.Symbol) and blocks for its result, giving
// callers the same signature as calling Manager.Admit directly while
// guaranteeing at most one concurrent submission per signal_id (§4.4).
func (p *Partitions) Admit(ctx context.Context, in *wire.Intent, venueName, account string) (*Order, error) {
	key := PartitionKey(venueName, account, in.Symbol)
	ch := p.workerFor(ctx, key)
	result := make(chan admitResult, 1)
	ch <- job{admit: &admitJob{intent: in, venue: venueName, account: account, result: result}}
	select {
	case r := <-result:
		return r.order, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DispatchFill enqueues a fill onto its order's partition worker,
// asynchronously; fills from SubscribeFills streams are routed this way.
func (p *Partitions) DispatchFill(ctx context.Context, venueName, account, symbol string, f venue.Fill, price decimal.Decimal) {
	key := PartitionKey(venueName, account, symbol)
	ch := p.workerFor(ctx, key)
	ch <- job{fill: &fillJob{fill: f, price: price}}
}

// DispatchCancel enqueues a cancel request onto the order's partition.
func (p *Partitions) DispatchCancel(ctx context.Context, venueName, account, symbol, orderID string) {
	key := PartitionKey(venueName, account, symbol)
	ch := p.workerFor(ctx, key)
	ch <- job{cancel: &cancelJob{orderID: orderID}}
}

// DispatchExpire enqueues an expiry transition onto the order's partition,
// driven by a monotonic timer upstream (§4.4).
func (p *Partitions) DispatchExpire(ctx context.Context, venueName, account, symbol, orderID string) {
	key := PartitionKey(venueName, account, symbol)
	ch := p.workerFor(ctx, key)
	ch <- job{expire: &expireJob{orderID: orderID}}
}

// Shutdown cancels every partition worker's context, letting each finish
// its in-flight job (buffered channel drains no further) before exiting.
func (p *Partitions) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.cancel {
		cancel()
	}
}
