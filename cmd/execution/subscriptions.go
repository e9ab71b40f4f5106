package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/peycheff-com/titan-execution-core/internal/bus"
	"github.com/peycheff-com/titan-execution-core/internal/creds"
	"github.com/peycheff-com/titan-execution-core/internal/lifecycle"
	"github.com/peycheff-com/titan-execution-core/internal/safety"
	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/venue"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
	"github.com/peycheff-com/titan-execution-core/pkg/config"
)

// subscribeCommands binds a durable pull consumer over the full intent
// placement subject tree and routes each decoded Intent to its
// (venue, account, symbol) partition, per §4.4's admission entry point.
// Step 1 of the pipeline happens here: signature verification and
// idempotency-key dedup, before the envelope ever reaches a partition.
func subscribeCommands(ctx context.Context, adapter *bus.Adapter, parts *lifecycle.Partitions, verifier *creds.Verifier, st *store.Store, sched *lifecycle.ExpiryScheduler, log *logrus.Logger) error {
	return adapter.Subscribe(ctx, "COMMANDS", "execution-intents", string(wire.TypeIntentV1)+".>",
		func(ctx context.Context, env *wire.Envelope, msg *nats.Msg) error {
			if env.Sig == "" {
				log.WithField("id", env.ID).Warn("bus: unsigned intent dropped")
				return nil
			}
			if err := verifier.VerifyEnvelope(env); err != nil {
				log.WithError(err).WithField("id", env.ID).Warn("bus: intent signature rejected")
				return nil
			}
			// Broker-level dedup already drops duplicates inside the
			// stream's window; this store-backed check makes redelivered
			// envelopes side-effect free across restarts too (§8
			// idempotency).
			if key := env.IdempotencyKey; key != "" {
				if _, seen, err := st.SeenOrRecord("intent:"+key, env.ID); err == nil && seen {
					return nil
				}
			}

			var in wire.Intent
			if err := json.Unmarshal(env.Payload, &in); err != nil {
				return err
			}
			if err := in.Validate(); err != nil {
				return nil // malformed intents are not retried; ack and drop.
			}
			venueName, account := partitionFromSubject(msg.Subject)
			order, err := parts.Admit(ctx, &in, venueName, account)
			if _, ok := err.(*lifecycle.Rejection); ok {
				return nil // a rejection is a terminal, already-published outcome, not a retry signal.
			}
			if err != nil {
				return err
			}
			if order != nil && sched != nil {
				sched.Track(ctx, order, 0)
			}
			return nil
		})
}

// subscribeOperator binds a durable pull consumer over operator commands
// and sys halt commands, verifying signature and RBAC exactly as the
// admin HTTP path does, then applying the action to the safety core. A
// HARD_HALT additionally cancels every in-flight order (§5).
func subscribeOperator(ctx context.Context, adapter *bus.Adapter, core *safety.Core, parts *lifecycle.Partitions, verifier *creds.Verifier, roles *creds.RoleTable, log *logrus.Logger) error {
	handler := func(ctx context.Context, env *wire.Envelope, msg *nats.Msg) error {
		var cmd wire.OperatorCommand
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return nil
		}
		if err := verifier.VerifyOperatorCommand(&cmd, env.KeyID); err != nil {
			log.WithError(err).Warn("bus: operator command rejected")
			return nil
		}
		if !roles.CanExecuteAction(cmd.ActorID, string(cmd.Action)) {
			log.WithField("actor_id", cmd.ActorID).Warn("bus: operator command forbidden")
			return nil
		}
		switch cmd.Action {
		case wire.ActionArm:
			if err := core.Arm(&cmd, cmd.PolicyHash); err != nil {
				return err
			}
			// The only de-escalation path: an admin-signed ARM returns
			// risk_state to NORMAL. An operator's ARM arms without
			// touching the escalation.
			if roles.HasRole(cmd.ActorID, creds.RoleAdmin) {
				return core.ResetRisk(&cmd)
			}
			return nil
		case wire.ActionDisarm:
			return core.Disarm(&cmd)
		case wire.ActionHalt:
			if err := core.Halt(&cmd, wire.HaltHard); err != nil {
				return err
			}
			n, err := parts.CancelAllOpen(ctx, "HARD_HALT")
			if err != nil {
				log.WithError(err).Error("bus: cancel-all after halt failed")
				return nil
			}
			log.WithField("cancelled", n).Warn("bus: hard halt applied")
			return nil
		case wire.ActionResume:
			return core.Resume(&cmd)
		case wire.ActionPolicyUpdate:
			return core.Arm(&cmd, cmd.PolicyHash)
		}
		return nil
	}
	if err := adapter.Subscribe(ctx, "COMMANDS", "execution-operator", string(wire.TypeOperatorV1), handler); err != nil {
		return err
	}
	return adapter.Subscribe(ctx, "COMMANDS", "execution-sys-halt", string(wire.TypeSysHaltV1), handler)
}

// subscribeMarketData binds durable pull consumers over ticker and trade
// data, feeding the reflex-tier book and the volume trigger — the
// admission pipeline's in-memory spread/staleness/velocity caches.
func subscribeMarketData(ctx context.Context, adapter *bus.Adapter, book *lifecycle.Book, trig *lifecycle.VolumeTrigger, log *logrus.Logger) error {
	if err := adapter.Subscribe(ctx, "DATA", "execution-ticker", string(wire.TypeMarketTickerV1)+".>",
		func(ctx context.Context, env *wire.Envelope, msg *nats.Msg) error {
			var t wire.TickerPayload
			if err := json.Unmarshal(env.Payload, &t); err != nil {
				return nil
			}
			book.Update(t.Venue, lifecycle.Ticker{
				Symbol:    t.Symbol,
				Bid:       t.Bid,
				Ask:       t.Ask,
				LastPrice: t.LastPrice,
				UpdatedAt: time.Now(),
			})
			return nil
		}); err != nil {
		return err
	}
	return adapter.Subscribe(ctx, "DATA", "execution-trades", string(wire.TypeMarketTradeV1)+".>",
		func(ctx context.Context, env *wire.Envelope, msg *nats.Msg) error {
			var tr wire.TradePayload
			if err := json.Unmarshal(env.Payload, &tr); err != nil {
				return nil
			}
			ts := tr.TS
			if ts == 0 {
				ts = env.TS
			}
			trig.Observe(tr.Symbol, ts)
			return nil
		})
}

// consumeFills opens each venue's fill stream and routes every reported
// fill to its (venue, account, symbol) partition worker, serialized with
// the intents and cancels for the same key (§5). A final fill releases
// the order's expiry timer.
func consumeFills(ctx context.Context, adapters map[string]venue.Adapter, accounts []config.AccountConfig, parts *lifecycle.Partitions, sched *lifecycle.ExpiryScheduler, log *logrus.Logger) error {
	for _, acc := range accounts {
		va, ok := adapters[acc.Venue]
		if !ok {
			continue
		}
		ch, err := va.SubscribeFills(ctx, acc.Account)
		if err != nil {
			return err
		}
		venueName, account := acc.Venue, acc.Account
		go func(ch <-chan venue.Fill) {
			for f := range ch {
				parts.DispatchFill(ctx, venueName, account, f.Symbol, f, f.Price)
				if f.Final {
					sched.Forget(f.ClientOrderID)
				}
			}
			if ctx.Err() == nil {
				log.WithFields(logrus.Fields{"venue": venueName, "account": account}).Warn("fill stream closed")
			}
		}(ch)
	}
	return nil
}

// subscribeHeartbeats watches the ephemeral titan.sys.heartbeat.v1.>
// subjects over core NATS and feeds the sentinel monitor; losing the
// sentinel's heartbeat for more than the loss threshold escalates the
// risk state (§4.5).
func subscribeHeartbeats(ctx context.Context, adapter *bus.Adapter, monitor *safety.SentinelMonitor) error {
	prefix := string(wire.TypeHeartbeatV1) + "."
	return adapter.SubscribeCore(ctx, prefix+">", func(msg *nats.Msg) {
		service := msg.Subject[len(prefix):]
		if service != "" && service != "execution" {
			monitor.Beat(service)
		}
	})
}

// partitionFromSubject extracts the venue and account partition components
// appended after the TypeIntentV1 prefix by SubjectFor(wire.TypeIntentV1,
// venue, account, symbol).
func partitionFromSubject(subject string) (venueName, account string) {
	parts := splitSubject(subject)
	base := splitSubject(string(wire.TypeIntentV1))
	rest := parts[len(base):]
	if len(rest) >= 2 {
		return rest[0], rest[1]
	}
	if len(rest) == 1 {
		return rest[0], ""
	}
	return "", ""
}

func splitSubject(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
