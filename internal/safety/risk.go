package safety

import (
	"sync"

	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// RiskMachine holds the session's risk escalation tier as a single-writer,
// many-reader cell. Escalation is one-way within a session; de-escalation
// requires an explicit operator ARM, enforced by requiring the caller to
// go through Reset rather than Escalate.
type RiskMachine struct {
	mu    sync.RWMutex
	state wire.RiskState
}

// NewRiskMachine starts at NORMAL.
func NewRiskMachine() *RiskMachine {
	return &RiskMachine{state: wire.RiskNormal}
}

// Current returns the current risk state.
func (m *RiskMachine) Current() wire.RiskState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Escalate moves the risk state to target if target outranks the current
// state; it never permits moving to a lower rank (enforced here, not by
// the caller), guaranteeing the "risk monotonicity" invariant from §8. It
// reports whether a transition actually occurred.
func (m *RiskMachine) Escalate(target wire.RiskState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wire.RiskRank(target) <= wire.RiskRank(m.state) {
		return false
	}
	m.state = target
	return true
}

// Reset returns the risk state to NORMAL. Callers must have already
// verified the triggering command carries an admin-signed ARM action;
// RiskMachine itself holds no knowledge of credentials.
func (m *RiskMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = wire.RiskNormal
}

// DrawdownTrigger maps a drawdown ratio (realized drawdown / limit) to
// the risk tier it should escalate to, per §4.5's 50%/75%/99% thresholds.
// It returns ("", false) when no escalation is warranted.
func DrawdownTrigger(ratio float64) (wire.RiskState, bool) {
	switch {
	case ratio >= 0.99:
		return wire.RiskEmergency, true
	case ratio >= 0.75:
		return wire.RiskDefensive, true
	case ratio >= 0.50:
		return wire.RiskCautious, true
	default:
		return "", false
	}
}
