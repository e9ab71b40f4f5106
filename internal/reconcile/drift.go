package reconcile

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/peycheff-com/titan-execution-core/internal/lifecycle"
	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/venue"
)

// Drift is the absolute and relative difference between the local shadow
// Position and the venue's own reported position for one symbol.
type Drift struct {
	Venue       string
	Account     string
	Symbol      string
	LocalSize   decimal.Decimal
	RemoteSize  decimal.Decimal
	Ratio       decimal.Decimal
}

// localPositions loads every Position this process owns for
// (venueName, account), keyed by symbol.
func localPositions(st *store.Store, venueName, account string) (map[string]lifecycle.Position, error) {
	out := make(map[string]lifecycle.Position)
	prefix := []byte(venueName + "/" + account + "/")
	var scanErr error
	err := st.Scan(store.NSPositions, prefix, func(_, value []byte) bool {
		var p lifecycle.Position
		if err := json.Unmarshal(value, &p); err != nil {
			scanErr = err
			return false
		}
		out[p.Symbol] = p
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, scanErr
}

// computeDrift compares local against remote venue positions for one
// (venue, account), returning one Drift per symbol present on either
// side (a symbol only held locally or only held remotely is drift too).
func computeDrift(venueName, account string, local map[string]lifecycle.Position, remote []venue.RemotePosition) []Drift {
	remoteBySymbol := make(map[string]venue.RemotePosition, len(remote))
	for _, r := range remote {
		remoteBySymbol[r.Symbol] = r
	}

	symbols := make(map[string]struct{}, len(local)+len(remote))
	for s := range local {
		symbols[s] = struct{}{}
	}
	for s := range remoteBySymbol {
		symbols[s] = struct{}{}
	}

	drifts := make([]Drift, 0, len(symbols))
	for symbol := range symbols {
		localSize := local[symbol].Size
		remoteSize := remoteBySymbol[symbol].Size
		diff := localSize.Sub(remoteSize).Abs()
		denom := remoteSize.Abs()
		if denom.IsZero() {
			denom = localSize.Abs()
		}
		ratio := decimal.Zero
		if !diff.IsZero() {
			ratio = decimal.NewFromInt(1)
			if !denom.IsZero() {
				ratio = diff.Div(denom)
			}
		}
		drifts = append(drifts, Drift{
			Venue:      venueName,
			Account:    account,
			Symbol:     symbol,
			LocalSize:  localSize,
			RemoteSize: remoteSize,
			Ratio:      ratio,
		})
	}
	return drifts
}
