// Package venue defines the minimal capability surface every exchange
// integration implements, plus the canonical symbol normalization shared
// across them.
package venue

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// Balance is a single asset balance on a venue account.
type Balance struct {
	Asset     string          `json:"asset"`
	Free      decimal.Decimal `json:"free"`
	Locked    decimal.Decimal `json:"locked"`
}

// RemotePosition is a venue's view of an open position, used by
// reconciliation to detect drift against the local shadow view.
type RemotePosition struct {
	Symbol   string          `json:"symbol"`
	Side     wire.Side       `json:"side"`
	Size     decimal.Decimal `json:"size"`
	AvgEntry decimal.Decimal `json:"avg_entry"`
}

// Fill is a single execution reported by the venue, keyed by the
// exchange's own fill identifier for idempotent merging.
type Fill struct {
	FillID        string          `json:"fill_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	Final         bool            `json:"final"`
}

// PlaceOrderRequest carries everything an adapter needs to submit an
// order. ClientOrderID echoes the Intent's signal_id so retries are
// idempotent on the venue side.
type PlaceOrderRequest struct {
	ClientOrderID string
	Account       string
	Symbol        string
	Side          wire.Side
	Size          decimal.Decimal
	LimitPrice    *decimal.Decimal
	TIF           wire.TimeInForce
}

// Adapter is the capability surface every venue integration implements.
// Every call is idempotent on retry via ClientOrderID.
type Adapter interface {
	Name() string
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (venueOrderID string, err error)
	CancelOrder(ctx context.Context, account, venueOrderID string) error
	GetPositions(ctx context.Context, account string) ([]RemotePosition, error)
	GetBalances(ctx context.Context, account string) ([]Balance, error)
	SubscribeFills(ctx context.Context, account string) (<-chan Fill, error)
}

var symbolRe = regexp.MustCompile(`^([A-Z0-9]+)/([A-Z0-9]+)(:(PERP|\d{8}(-\d+-[CP])?))?$`)

// NormalizeSymbol canonicalizes a symbol string to BASE/QUOTE[:PERP|
// :YYYYMMDD[-STRIKE-C|P]], uppercasing components and validating shape.
// It returns the input's canonical form and whether it is well-formed.
func NormalizeSymbol(raw string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolRe.MatchString(upper) {
		return "", false
	}
	return upper, true
}

// Base returns the base asset of a canonical symbol (e.g. "BTC" from
// "BTC/USDT:PERP").
func Base(symbol string) string {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}
