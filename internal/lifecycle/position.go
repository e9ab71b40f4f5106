package lifecycle

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// Position is the aggregate exposure per (venue, account, symbol). It is
// exclusively mutated by the lifecycle manager; reconciliation only reads
// it.
type Position struct {
	Venue         string          `json:"venue"`
	Account       string          `json:"account"`
	Symbol        string          `json:"symbol"`
	Side          wire.Side       `json:"side"`
	Size          decimal.Decimal `json:"size"`
	AvgEntry      decimal.Decimal `json:"avg_entry"`
	CurrentStop   *decimal.Decimal `json:"current_stop,omitempty"`
	CurrentTP     *decimal.Decimal `json:"current_tp,omitempty"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	OpenedAt      int64           `json:"opened_at"`
	UpdatedAt     int64           `json:"updated_at"`
}

func positionKey(venue, account, symbol string) []byte {
	return []byte(fmt.Sprintf("%s/%s/%s", venue, account, symbol))
}

// GetPosition loads the current position for (venue, account, symbol), or
// a zero-value Position with found=false if none exists yet.
func GetPosition(st *store.Store, venue, account, symbol string) (Position, bool, error) {
	raw, found, err := st.Get(store.NSPositions, positionKey(venue, account, symbol))
	if err != nil || !found {
		return Position{}, found, err
	}
	var p Position
	if err := json.Unmarshal(raw, &p); err != nil {
		return Position{}, false, err
	}
	return p, true, nil
}

// PutPosition serializes p as one of the writes in an atomic multi-key
// commit; callers combine it with the owning order/intent/event-log
// writes so the whole transition lands atomically.
func PutPosition(p Position) (store.Write, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return store.Write{}, err
	}
	return store.Write{NS: store.NSPositions, Key: positionKey(p.Venue, p.Account, p.Symbol), Value: raw}, nil
}

// NotionalValue returns size * avg_entry. The reconciler sums it into the
// leverage gauge; the admission position cap prices the projected size at
// the ticker's last price instead.
func (p Position) NotionalValue() decimal.Decimal {
	return p.Size.Mul(p.AvgEntry)
}
