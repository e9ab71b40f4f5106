package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// RPCHandler serves one request/reply subject: it receives the decoded
// request body and returns the reply body. A returned error is sent back
// by RespondRPC as a JSON object {"error": "<message>"}.
type RPCHandler func(ctx context.Context, req json.RawMessage) (any, error)

// RespondRPC binds a core-NATS responder to subject. The titan.rpc.*
// subjects are plain request/reply (§6) and intentionally bypass
// JetStream: replies are point-to-point and have no retention story.
func (a *Adapter) RespondRPC(ctx context.Context, subject string, handler RPCHandler) (*nats.Subscription, error) {
	sub, err := a.nc.Subscribe(subject, func(msg *nats.Msg) {
		reply, err := handler(ctx, msg.Data)
		if err != nil {
			raw, _ := json.Marshal(map[string]string{"error": err.Error()})
			_ = msg.Respond(raw)
			return
		}
		raw, err := json.Marshal(reply)
		if err != nil {
			raw, _ = json.Marshal(map[string]string{"error": "encode reply: " + err.Error()})
		}
		_ = msg.Respond(raw)
	})
	if err != nil {
		return nil, fmt.Errorf("bus: respond %s: %w", subject, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

// RequestRPC issues a request on subject and decodes the reply into out.
// The deadline comes from ctx, defaulting to 3s when ctx carries none.
func (a *Adapter) RequestRPC(ctx context.Context, subject string, req, out any) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
	}
	msg, err := a.nc.RequestWithContext(ctx, subject, raw)
	if err != nil {
		return fmt.Errorf("bus: request %s: %w", subject, err)
	}
	return json.Unmarshal(msg.Data, out)
}
