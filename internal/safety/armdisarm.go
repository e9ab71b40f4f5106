package safety

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// OpsPublisher publishes operator state transitions on titan.evt.ops.*.
// internal/bus.Adapter satisfies this.
type OpsPublisher interface {
	PublishEvent(ctx context.Context, t wire.Type, partitions []string, payload any) error
}

// Core is the live OperatorState cache with write-through to the state
// store. It is the single-writer, many-reader cell described in §5; all
// mutation happens through compare-and-swap on StateHash so concurrent
// operator commands cannot silently clobber one another.
type Core struct {
	mu         sync.RWMutex
	st         *store.Store
	state      wire.OperatorState
	risk       *RiskMachine
	pub        OpsPublisher
	termSource func() int64
}

// SetTermSource attaches the lease-held term Apply checks before
// mutating, so a demoted leader cannot apply operator commands with a
// stale fencing token. A nil source (no lease configured) disables the
// check.
func (c *Core) SetTermSource(fn func() int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.termSource = fn
}

// SetOpsPublisher attaches the bus publisher every state transition is
// announced through (§4.5). Attached after construction because the bus
// connects later in startup than the safety core.
func (c *Core) SetOpsPublisher(pub OpsPublisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pub = pub
}

const opStateKey = "singleton"

// NewCore loads (or fail-safe initializes) the OperatorState from st. The
// fail-safe default is DISARMED with no halt, matching §4.5.
func NewCore(st *store.Store, risk *RiskMachine) (*Core, error) {
	c := &Core{st: st, risk: risk}
	raw, found, err := st.Get(store.NSOpState, []byte(opStateKey))
	if err != nil {
		return nil, err
	}
	if found {
		if err := json.Unmarshal(raw, &c.state); err != nil {
			return nil, err
		}
		// Re-seed the in-memory risk machine with the persisted tier: a
		// restart during DEFENSIVE/EMERGENCY must not quietly drop back
		// to NORMAL (risk monotonicity survives the crash).
		if risk != nil {
			risk.Escalate(c.state.RiskState)
		}
		return c, nil
	}
	c.state = wire.OperatorState{
		Arm:  wire.Disarmed,
		Halt: wire.HaltNone,
		RiskState: wire.RiskNormal,
	}
	c.state.StateHash = c.computeHash()
	return c, c.persist()
}

func (c *Core) computeHash() string {
	b, _ := json.Marshal(c.state)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (c *Core) persist() error {
	raw, err := json.Marshal(c.state)
	if err != nil {
		return err
	}
	return c.st.PutMany([]store.Write{{NS: store.NSOpState, Key: []byte(opStateKey), Value: raw}})
}

// Snapshot returns a copy of the current OperatorState, safe to read
// without holding the lock.
func (c *Core) Snapshot() wire.OperatorState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Apply performs a compare-and-swap mutation: if expectedStateHash does
// not match the current StateHash, the mutation is rejected with
// ErrStateConflict (§7's OCC 409 CONFLICT). On success the event is also
// appended to the durable event log before the in-memory state is
// updated, so the audit trail and the live cache never diverge.
func (c *Core) Apply(cmd *wire.OperatorCommand, expectedStateHash string, mutate func(*wire.OperatorState)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.termSource != nil && c.termSource() < c.state.LeaderTerm {
		return ErrStaleLeaderTerm
	}
	if expectedStateHash != "" && expectedStateHash != c.state.StateHash {
		return ErrStateConflict
	}

	next := c.state
	mutate(&next)
	next.LastOperatorID = cmd.ActorID
	next.LastChangeTS = time.Now().UnixMilli()

	prevHash := next.StateHash
	next.StateHash = ""
	b, err := json.Marshal(next)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	next.StateHash = hex.EncodeToString(sum[:])
	_ = prevHash

	if _, err := c.st.AppendEvent("operator_command", cmd.CommandID, map[string]any{
		"action":      cmd.Action,
		"actor_id":    cmd.ActorID,
		"leader_term": next.LeaderTerm,
	}); err != nil {
		return err
	}

	c.state = next
	if err := c.persist(); err != nil {
		return err
	}
	if c.pub != nil {
		_ = c.pub.PublishEvent(context.Background(), wire.TypeOpsEventV1, []string{"state"}, wire.OpsEvent{
			Kind:          string(cmd.Action),
			OperatorID:    cmd.ActorID,
			CorrelationID: cmd.CommandID,
			Arm:           string(next.Arm),
			Halt:          string(next.Halt),
			RiskState:     string(next.RiskState),
			PolicyHash:    next.PolicyHash,
			LeaderTerm:    next.LeaderTerm,
		})
	}
	return nil
}

// Arm transitions the system to ARMED with the given policy hash.
func (c *Core) Arm(cmd *wire.OperatorCommand, policyHash string) error {
	return c.Apply(cmd, cmd.StateHash, func(s *wire.OperatorState) {
		s.Arm = wire.Armed
		s.PolicyHash = policyHash
	})
}

// Disarm transitions the system to DISARMED.
func (c *Core) Disarm(cmd *wire.OperatorCommand) error {
	return c.Apply(cmd, cmd.StateHash, func(s *wire.OperatorState) {
		s.Arm = wire.Disarmed
	})
}

// Halt applies a halt level (SOFT_HALT or HARD_HALT).
func (c *Core) Halt(cmd *wire.OperatorCommand, level wire.HaltState) error {
	return c.Apply(cmd, cmd.StateHash, func(s *wire.OperatorState) {
		s.Halt = level
	})
}

// Resume clears any active halt.
func (c *Core) Resume(cmd *wire.OperatorCommand) error {
	return c.Apply(cmd, cmd.StateHash, func(s *wire.OperatorState) {
		s.Halt = wire.HaltNone
	})
}

// ResetRisk implements the only permitted de-escalation path: an
// admin-signed ARM clears risk_state back to NORMAL on both the live risk
// machine and the persisted OperatorState. It always follows a just-applied
// Arm for the same command, so the OCC hash from the command has already
// been consumed and is not re-checked here.
func (c *Core) ResetRisk(cmd *wire.OperatorCommand) error {
	c.risk.Reset()
	return c.Apply(cmd, "", func(s *wire.OperatorState) {
		s.RiskState = wire.RiskNormal
	})
}

// SyncRiskState copies the RiskMachine's current tier into the persisted
// OperatorState so readers of OperatorState (the heartbeat, the admin
// surface) observe escalations driven by triggers outside the operator
// command path. A no-op when the persisted tier already matches.
func (c *Core) SyncRiskState() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.risk.Current()
	if c.state.RiskState == target {
		return nil
	}
	if c.termSource != nil && c.termSource() < c.state.LeaderTerm {
		return ErrStaleLeaderTerm
	}
	next := c.state
	next.RiskState = target
	next.LastChangeTS = time.Now().UnixMilli()
	next.StateHash = ""
	b, err := json.Marshal(next)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	next.StateHash = hex.EncodeToString(sum[:])

	if _, err := c.st.AppendEvent("risk_state_sync", "", map[string]any{
		"risk_state":  target,
		"leader_term": next.LeaderTerm,
	}); err != nil {
		return err
	}
	c.state = next
	return c.persist()
}

// SetLeaderTerm records a newly promoted leader_term into OperatorState.
// It is exempt from the usual expectedStateHash check since promotion
// happens independent of the last operator command.
func (c *Core) SetLeaderTerm(term int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.state
	next.LeaderTerm = term
	next.StateHash = ""
	b, err := json.Marshal(next)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	next.StateHash = hex.EncodeToString(sum[:])
	c.state = next
	return c.persist()
}

// CheckFencing rejects writes carrying a leader_term older than the
// currently recorded term, the invariant behind split-brain detection.
func (c *Core) CheckFencing(term int64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if term < c.state.LeaderTerm {
		return ErrStaleLeaderTerm
	}
	return nil
}

// AdmitIntent reports whether an intent may proceed past the disarm/halt
// gate, for admission pipeline steps 4 and 5.
func (c *Core) AdmitIntent() (ok bool, reasonCode string) {
	s := c.Snapshot()
	if s.Arm != wire.Armed {
		return false, "SYSTEM_DISARMED"
	}
	if s.Halt != wire.HaltNone {
		return false, "HARD_HALT"
	}
	return true, ""
}
