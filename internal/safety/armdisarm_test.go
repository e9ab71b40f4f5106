package safety

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "safety.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	c, err := NewCore(st, NewRiskMachine())
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	return c
}

func TestCoreFailSafeDefault(t *testing.T) {
	c := newTestCore(t)
	s := c.Snapshot()
	if s.Arm != wire.Disarmed || s.Halt != wire.HaltNone {
		t.Fatalf("expected fail-safe default, got arm=%s halt=%s", s.Arm, s.Halt)
	}
	ok, reason := c.AdmitIntent()
	if ok || reason != "SYSTEM_DISARMED" {
		t.Fatalf("expected disarmed rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestCoreArmThenAdmit(t *testing.T) {
	c := newTestCore(t)
	cmd := &wire.OperatorCommand{CommandID: "c1", Action: wire.ActionArm, ActorID: "alice", Timestamp: time.Now().UnixMilli()}
	if err := c.Arm(cmd, "POLICY_H1"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	ok, _ := c.AdmitIntent()
	if !ok {
		t.Fatal("expected intent admission after arm")
	}
	if c.Snapshot().PolicyHash != "POLICY_H1" {
		t.Fatalf("expected policy hash to be set, got %q", c.Snapshot().PolicyHash)
	}
}

func TestCoreHaltBlocksAdmission(t *testing.T) {
	c := newTestCore(t)
	armCmd := &wire.OperatorCommand{CommandID: "c1", Action: wire.ActionArm, ActorID: "alice", Timestamp: time.Now().UnixMilli()}
	if err := c.Arm(armCmd, "H"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	haltCmd := &wire.OperatorCommand{CommandID: "c2", Action: wire.ActionHalt, ActorID: "alice", Timestamp: time.Now().UnixMilli(), StateHash: c.Snapshot().StateHash}
	if err := c.Halt(haltCmd, wire.HaltHard); err != nil {
		t.Fatalf("halt: %v", err)
	}
	ok, reason := c.AdmitIntent()
	if ok || reason != "HARD_HALT" {
		t.Fatalf("expected HARD_HALT rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestCoreStateHashConflict(t *testing.T) {
	c := newTestCore(t)
	cmd := &wire.OperatorCommand{CommandID: "c1", Action: wire.ActionArm, ActorID: "alice", Timestamp: time.Now().UnixMilli(), StateHash: "stale-hash"}
	if err := c.Arm(cmd, "H"); err != ErrStateConflict {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
}

func TestCoreRiskStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "safety.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	risk := NewRiskMachine()
	c, err := NewCore(st, risk)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	risk.Escalate(wire.RiskDefensive)
	if err := c.SyncRiskState(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// "Restart": a fresh store handle and a fresh risk machine.
	st2, err := store.Open(filepath.Join(dir, "safety.db"))
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st2.Close()
	risk2 := NewRiskMachine()
	if _, err := NewCore(st2, risk2); err != nil {
		t.Fatalf("reopen core: %v", err)
	}
	if risk2.Current() != wire.RiskDefensive {
		t.Fatalf("escalation dropped across restart: %s", risk2.Current())
	}
}

func TestResetRiskReturnsToNormal(t *testing.T) {
	c := newTestCore(t)
	c.risk.Escalate(wire.RiskEmergency)
	if err := c.SyncRiskState(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if c.Snapshot().RiskState != wire.RiskEmergency {
		t.Fatalf("expected persisted EMERGENCY, got %s", c.Snapshot().RiskState)
	}

	cmd := &wire.OperatorCommand{CommandID: "c9", Action: wire.ActionArm, ActorID: "alice", Timestamp: time.Now().UnixMilli()}
	if err := c.ResetRisk(cmd); err != nil {
		t.Fatalf("reset risk: %v", err)
	}
	if c.risk.Current() != wire.RiskNormal {
		t.Fatalf("live risk machine not reset: %s", c.risk.Current())
	}
	if c.Snapshot().RiskState != wire.RiskNormal {
		t.Fatalf("persisted risk state not reset: %s", c.Snapshot().RiskState)
	}
}

func TestSyncRiskStateNoOpWhenUnchanged(t *testing.T) {
	c := newTestCore(t)
	before := c.Snapshot().StateHash
	if err := c.SyncRiskState(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if c.Snapshot().StateHash != before {
		t.Fatal("no-op sync mutated state")
	}
}

func TestCoreFencingRejectsStaleLeaderTerm(t *testing.T) {
	c := newTestCore(t)
	if err := c.SetLeaderTerm(5); err != nil {
		t.Fatalf("set leader term: %v", err)
	}
	if err := c.CheckFencing(3); err != ErrStaleLeaderTerm {
		t.Fatalf("expected ErrStaleLeaderTerm, got %v", err)
	}
	if err := c.CheckFencing(6); err != nil {
		t.Fatalf("newer term should be accepted, got %v", err)
	}
}
