package wire

import "fmt"

// OperatorAction enumerates the commands accepted on titan.cmd.operator.v1.
type OperatorAction string

const (
	ActionArm          OperatorAction = "ARM"
	ActionDisarm       OperatorAction = "DISARM"
	ActionHalt         OperatorAction = "HALT"
	ActionResume       OperatorAction = "RESUME"
	ActionPolicyUpdate OperatorAction = "POLICY_UPDATE"
)

// OperatorCommand is the signed payload carried on titan.cmd.operator.v1
// and titan.cmd.sys.halt.v1.
type OperatorCommand struct {
	CommandID string         `json:"command_id"`
	Action    OperatorAction `json:"action"`
	ActorID   string         `json:"actor_id"`
	Timestamp int64          `json:"timestamp"`
	Signature string         `json:"signature"`
	StateHash string         `json:"state_hash,omitempty"`
	// PolicyHash carries the digest ARM and POLICY_UPDATE commands
	// install as the active OperatorState.PolicyHash. Not part of the
	// HMAC canonical string (§4.3's canonical string is fixed to
	// ts:action:actor_id:command_id), so it cannot be forged without
	// also forging a role the actor doesn't hold.
	PolicyHash string `json:"policy_hash,omitempty"`
}

// CanonicalString returns the exact string HMAC'd to produce Signature:
// "ts:action:actor_id:command_id".
func (c *OperatorCommand) CanonicalString() string {
	return fmt.Sprintf("%d:%s:%s:%s", c.Timestamp, c.Action, c.ActorID, c.CommandID)
}

// ArmState is the session-wide interlock state.
type ArmState string

const (
	Armed    ArmState = "ARMED"
	Disarmed ArmState = "DISARMED"
)

// HaltState is the session-wide halt level.
type HaltState string

const (
	HaltNone HaltState = "NONE"
	HaltSoft HaltState = "SOFT_HALT"
	HaltHard HaltState = "HARD_HALT"
)

// RiskState is the one-way (absent operator ARM) risk escalation tier.
type RiskState string

const (
	RiskNormal    RiskState = "NORMAL"
	RiskCautious  RiskState = "CAUTIOUS"
	RiskDefensive RiskState = "DEFENSIVE"
	RiskEmergency RiskState = "EMERGENCY"
)

// riskRank orders RiskState for monotonicity checks; higher is worse.
var riskRank = map[RiskState]int{
	RiskNormal:    0,
	RiskCautious:  1,
	RiskDefensive: 2,
	RiskEmergency: 3,
}

// RiskRank returns the ordinal rank of r, for comparing escalation.
func RiskRank(r RiskState) int {
	return riskRank[r]
}

// OperatorState is the singleton record governing admission. state_hash is
// recomputed by the safety package on every mutation for OCC.
type OperatorState struct {
	Arm            ArmState  `json:"arm"`
	Halt           HaltState `json:"halt"`
	RiskState      RiskState `json:"risk_state"`
	PolicyHash     string    `json:"policy_hash"`
	StateHash      string    `json:"state_hash"`
	LeaderTerm     int64     `json:"leader_term"`
	LastOperatorID string    `json:"last_operator_id"`
	LastChangeTS   int64     `json:"last_change_ts"`
}
