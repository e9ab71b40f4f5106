// Package safety implements the layered interlock: leader election,
// arm/disarm/halt, the risk state machine, and per-venue circuit
// breakers.
package safety

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/peycheff-com/titan-execution-core/pkg/utils"
)

// Lease holds the distributed leader election lease. Exactly one process
// may hold leadership at a time; LeaderTerm is a monotonic fencing token
// incremented on every promotion, written into every state-changing event
// so a demoted leader's stale writes can be detected and rejected.
type Lease struct {
	client    *clientv3.Client
	session   *concurrency.Session
	election  *concurrency.Election
	ttl       time.Duration
	key       string

	mu        sync.Mutex
	term      int64
	isLeader  atomic.Bool
	onDemote  []func()
}

// NewLease dials etcd at the given endpoints and prepares (but does not
// yet campaign for) a leader election under electionKey. ttlSeconds
// should be roughly 2x the heartbeat interval (default 10s TTL for a 3s
// heartbeat per §4.5).
func NewLease(endpoints []string, electionKey string, ttlSeconds int) (*Lease, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, utils.Wrap(err, "dial etcd")
	}
	session, err := concurrency.NewSession(cli, concurrency.WithTTL(ttlSeconds))
	if err != nil {
		_ = cli.Close()
		return nil, utils.Wrap(err, "new etcd session")
	}
	return &Lease{
		client:   cli,
		session:  session,
		election: concurrency.NewElection(session, electionKey),
		ttl:      time.Duration(ttlSeconds) * time.Second,
		key:      electionKey,
	}, nil
}

// Close releases the session and disconnects from etcd. Any held
// leadership is synchronously resigned.
func (l *Lease) Close() error {
	if l.isLeader.Load() {
		_ = l.election.Resign(context.Background())
	}
	if err := l.session.Close(); err != nil {
		return err
	}
	return l.client.Close()
}

// OnDemote registers fn to be invoked synchronously whenever this process
// loses leadership, whether by explicit resignation, session expiry
// (bus/etcd disconnect), or a failed renewal.
func (l *Lease) OnDemote(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDemote = append(l.onDemote, fn)
}

// Campaign blocks until this process becomes leader or ctx is cancelled.
// On success it increments and returns the new leader_term.
func (l *Lease) Campaign(ctx context.Context, value string) (int64, error) {
	if err := l.election.Campaign(ctx, value); err != nil {
		return 0, utils.Wrap(err, "campaign for leadership")
	}
	l.mu.Lock()
	l.term++
	term := l.term
	l.mu.Unlock()
	l.isLeader.Store(true)

	go l.watchSessionDone()

	return term, nil
}

// watchSessionDone demotes the process synchronously the moment the etcd
// session expires, e.g. on bus/network partition or missed renewal.
func (l *Lease) watchSessionDone() {
	<-l.session.Done()
	l.demote()
}

func (l *Lease) demote() {
	if !l.isLeader.CompareAndSwap(true, false) {
		return
	}
	l.mu.Lock()
	hooks := append([]func(){}, l.onDemote...)
	l.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Resign voluntarily gives up leadership, e.g. during a clean shutdown.
func (l *Lease) Resign(ctx context.Context) error {
	if err := l.election.Resign(ctx); err != nil {
		return utils.Wrap(err, "resign leadership")
	}
	l.demote()
	return nil
}

// IsLeader reports whether this process currently holds the lease.
func (l *Lease) IsLeader() bool {
	return l.isLeader.Load()
}

// Term returns the current fencing token. A term of 0 means this process
// has never held leadership.
func (l *Lease) Term() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.term
}
