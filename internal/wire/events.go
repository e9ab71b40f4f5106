package wire

import "github.com/shopspring/decimal"

// FillEvent is the payload carried on titan.evt.execution.fill.v1 and
// titan.evt.execution.shadow_fill.v1. A shadow fill is emitted while the
// order is still partially filled; the authoritative fill lands when the
// order completes.
type FillEvent struct {
	OrderID   string          `json:"order_id"`
	SignalID  string          `json:"signal_id"`
	Venue     string          `json:"venue"`
	Account   string          `json:"account"`
	Symbol    string          `json:"symbol"`
	FillID    string          `json:"fill_id,omitempty"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Filled    decimal.Decimal `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
	TS        int64           `json:"ts"`
}

// RejectEvent is the payload carried on titan.evt.execution.reject.v1 for
// every intent the admission pipeline terminates.
type RejectEvent struct {
	SignalID      string `json:"signal_id"`
	ReasonCode    string `json:"reason_code"`
	CorrelationID string `json:"correlation_id"`
	Detail        string `json:"detail,omitempty"`
}

// ReportEvent is the payload carried on titan.evt.execution.report.v1,
// summarizing a completed order for downstream consumers.
type ReportEvent struct {
	OrderID      string          `json:"order_id"`
	SignalID     string          `json:"signal_id"`
	Venue        string          `json:"venue"`
	Account      string          `json:"account"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	State        OrderState      `json:"state"`
	FilledSize   decimal.Decimal `json:"filled_size"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Fees         decimal.Decimal `json:"fees"`
	TSubmit      int64           `json:"t_submit"`
	TFill        int64           `json:"t_fill,omitempty"`
}

// OpsEvent is the payload carried on titan.evt.ops.* for every operator
// state transition, signed and persisted in the event log (§4.5).
type OpsEvent struct {
	Kind          string `json:"kind"`
	OperatorID    string `json:"operator_id"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id"`
	Arm           string `json:"arm,omitempty"`
	Halt          string `json:"halt,omitempty"`
	RiskState     string `json:"risk_state,omitempty"`
	PolicyHash    string `json:"policy_hash,omitempty"`
	LeaderTerm    int64  `json:"leader_term,omitempty"`
}

// DriftEvent is the payload published on titan.evt.ops.drift when the
// reconciliation loop detects a local-vs-remote position divergence.
type DriftEvent struct {
	Venue      string          `json:"venue"`
	Account    string          `json:"account"`
	Symbol     string          `json:"symbol"`
	LocalSize  decimal.Decimal `json:"local_size"`
	RemoteSize decimal.Decimal `json:"remote_size"`
	Ratio      decimal.Decimal `json:"ratio"`
}

// TickerPayload is the market data body ingested from
// titan.data.market.ticker.v1.<venue>.<symbol>.
type TickerPayload struct {
	Venue     string  `json:"venue"`
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	LastPrice float64 `json:"last_price"`
	TS        int64   `json:"ts"`
}

// TradePayload is a single trade print ingested from
// titan.data.market.trade.v1.<venue>.<symbol>, feeding the volume
// trigger's 100ms counting window.
type TradePayload struct {
	Venue  string          `json:"venue"`
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Qty    decimal.Decimal `json:"qty"`
	TS     int64           `json:"ts"`
}

// VenueStatusPayload is the body ingested from titan.data.venues.status.v1,
// reporting a venue's operational state for degradation signaling.
type VenueStatusPayload struct {
	Venue  string `json:"venue"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	TS     int64  `json:"ts"`
}

// RPCPositionsRequest is the request body for
// titan.rpc.execution.get_positions.v1.<venue>.
type RPCPositionsRequest struct {
	Account string `json:"account"`
}

// RPCPositionsResponse carries the positions reply. Error is set instead
// of Positions when the request could not be served.
type RPCPositionsResponse struct {
	Positions []RPCPosition `json:"positions,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// RPCPosition is one position row in an RPCPositionsResponse.
type RPCPosition struct {
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Size     decimal.Decimal `json:"size"`
	AvgEntry decimal.Decimal `json:"avg_entry"`
}

// RPCBalancesRequest is the request body for
// titan.rpc.execution.get_balances.v1.<venue>.
type RPCBalancesRequest struct {
	Account string `json:"account"`
}

// RPCBalancesResponse carries the balances reply.
type RPCBalancesResponse struct {
	Balances []RPCBalance `json:"balances,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// RPCBalance is one balance row in an RPCBalancesResponse.
type RPCBalance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}
