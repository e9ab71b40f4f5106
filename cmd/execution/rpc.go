package main

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/peycheff-com/titan-execution-core/internal/bus"
	"github.com/peycheff-com/titan-execution-core/internal/lifecycle"
	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/venue"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// subscribeRPC binds the request/reply responders for
// titan.rpc.execution.{get_positions,get_balances}.v1.<venue> (§6).
// Positions are served from the local shadow view (the store is the
// single owner of Position records); balances are proxied to the venue
// adapter, since the core keeps no balance shadow.
func subscribeRPC(ctx context.Context, adapter *bus.Adapter, st *store.Store, adapters map[string]venue.Adapter, log *logrus.Logger) error {
	for venueName, va := range adapters {
		name, va := venueName, va

		posSubject := wire.SubjectFor(wire.TypeRPCGetPositionsV1, name)
		if _, err := adapter.RespondRPC(ctx, posSubject, func(ctx context.Context, raw json.RawMessage) (any, error) {
			var req wire.RPCPositionsRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return wire.RPCPositionsResponse{Error: "invalid request body"}, nil
			}
			positions, err := localRPCPositions(st, name, req.Account)
			if err != nil {
				return wire.RPCPositionsResponse{Error: err.Error()}, nil
			}
			return wire.RPCPositionsResponse{Positions: positions}, nil
		}); err != nil {
			return err
		}

		balSubject := wire.SubjectFor(wire.TypeRPCGetBalancesV1, name)
		if _, err := adapter.RespondRPC(ctx, balSubject, func(ctx context.Context, raw json.RawMessage) (any, error) {
			var req wire.RPCBalancesRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return wire.RPCBalancesResponse{Error: "invalid request body"}, nil
			}
			balances, err := va.GetBalances(ctx, req.Account)
			if err != nil {
				return wire.RPCBalancesResponse{Error: err.Error()}, nil
			}
			out := make([]wire.RPCBalance, 0, len(balances))
			for _, b := range balances {
				out = append(out, wire.RPCBalance{Asset: b.Asset, Free: b.Free, Locked: b.Locked})
			}
			return wire.RPCBalancesResponse{Balances: out}, nil
		}); err != nil {
			return err
		}

		log.WithField("venue", name).Debug("rpc responders bound")
	}
	return nil
}

func localRPCPositions(st *store.Store, venueName, account string) ([]wire.RPCPosition, error) {
	var out []wire.RPCPosition
	prefix := []byte(venueName + "/" + account + "/")
	err := st.Scan(store.NSPositions, prefix, func(_, value []byte) bool {
		var p lifecycle.Position
		if err := json.Unmarshal(value, &p); err != nil {
			return true
		}
		out = append(out, wire.RPCPosition{Symbol: p.Symbol, Side: p.Side, Size: p.Size, AvgEntry: p.AvgEntry})
		return true
	})
	return out, err
}
