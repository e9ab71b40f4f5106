package wire

import "github.com/shopspring/decimal"

// IntentSource enumerates the producers authorized to emit intents.
type IntentSource string

const (
	SourceBrain     IntentSource = "brain"
	SourceScavenger IntentSource = "scavenger"
	SourceHunter    IntentSource = "hunter"
	SourceSentinel  IntentSource = "sentinel"
)

// IntentType enumerates the recognized intent actions.
type IntentType string

const (
	IntentBuySetup   IntentType = "BUY_SETUP"
	IntentSellSetup  IntentType = "SELL_SETUP"
	IntentCloseLong  IntentType = "CLOSE_LONG"
	IntentCloseShort IntentType = "CLOSE_SHORT"
	IntentClose      IntentType = "CLOSE"
)

// IntentStatus is the lifecycle status of an Intent within the execution
// core. It is distinct from the Order state machine (order.go).
type IntentStatus string

const (
	IntentPending   IntentStatus = "PENDING"
	IntentValidated IntentStatus = "VALIDATED"
	IntentRejected  IntentStatus = "REJECTED"
	IntentExecuted  IntentStatus = "EXECUTED"
	IntentExpired   IntentStatus = "EXPIRED"
)

// EntryZone is the optional acceptable entry price band for an intent.
type EntryZone struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// Intent is an authorized trade instruction consumed from the command
// subject titan.cmd.execution.place.v1.<venue>.<account>.<symbol>.
type Intent struct {
	SignalID        string          `json:"signal_id"`
	Source          IntentSource    `json:"source"`
	Symbol          string          `json:"symbol"`
	Direction       int             `json:"direction"`
	Type            IntentType      `json:"type"`
	Size            decimal.Decimal `json:"size"`
	EntryZone       *EntryZone      `json:"entry_zone,omitempty"`
	StopLoss        *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfits     []decimal.Decimal `json:"take_profits,omitempty"`
	Confidence      float64         `json:"confidence"`
	Leverage        decimal.Decimal `json:"leverage"`
	MaxSlippageBps  int             `json:"max_slippage_bps"`
	Status          IntentStatus    `json:"status"`
	TSignal         int64           `json:"t_signal"`
	PolicyHash      string          `json:"policy_hash"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// Validate checks the required fields enumerated for the intent payload
// v1 schema. It does not perform risk or policy checks; those belong to
// the lifecycle admission pipeline.
func (in *Intent) Validate() error {
	if in.SignalID == "" {
		return &DecodeError{Reason: "missing signal_id"}
	}
	if in.TSignal == 0 {
		return &DecodeError{Reason: "missing t_signal"}
	}
	if in.Symbol == "" {
		return &DecodeError{Reason: "missing symbol"}
	}
	if in.Direction < -1 || in.Direction > 1 {
		return &DecodeError{Reason: "direction out of range"}
	}
	switch in.Type {
	case IntentBuySetup, IntentSellSetup, IntentCloseLong, IntentCloseShort, IntentClose:
	default:
		return &DecodeError{Reason: "unrecognized intent type"}
	}
	if in.Status == "" {
		in.Status = IntentPending
	}
	return nil
}

// IsFlatten reports whether in requests closing exposure rather than
// opening or adding to it. Used by the EMERGENCY risk tier, which rejects
// all non-flatten intents.
func (in *Intent) IsFlatten() bool {
	switch in.Type {
	case IntentCloseLong, IntentCloseShort, IntentClose:
		return true
	default:
		return false
	}
}
