// Package bus implements the Durable Bus Adapter (§4.2): a JetStream
// connection that declares the required streams, dispatches durable pull
// consumers by partition_key, and enforces explicit ack/nak with the
// §4.2 backoff schedule and dead-letter routing.
package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// BackoffSchedule is the redelivery backoff from §4.2: 1s, 5s, 15s, 30s.
var BackoffSchedule = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second, 30 * time.Second}

// MaxDeliver is the maximum redelivery attempt count from §4.2 before a
// message is dead-lettered.
const MaxDeliver = 5

// Handler processes one decoded envelope delivered to a subscription. A
// returned error naks the message (triggering redelivery per the backoff
// schedule); a nil return acks it.
type Handler func(ctx context.Context, env *wire.Envelope, msg *nats.Msg) error

// Adapter is the connection to the broker: stream declaration, publish
// with outbox write-ahead, and pull-consumer subscription dispatch.
type Adapter struct {
	nc    *nats.Conn
	js    nats.JetStreamContext
	codec *wire.Codec
	out   *Outbox
	log   *logrus.Logger

	maxDeliver int
	backoff    []time.Duration
}

// Connect dials url, declares the required streams (idempotently), and
// returns a ready Adapter. out may be nil, in which case publishes are
// not write-ahead logged (acceptable for test/mock wiring; production
// callers should always supply one per §4.2's "internal bounded outbox").
func Connect(url string, codec *wire.Codec, out *Outbox, log *logrus.Logger) (*Adapter, error) {
	nc, err := nats.Connect(url, nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: jetstream context: %w", err)
	}
	if err := declareStreams(js); err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: declare streams: %w", err)
	}
	return &Adapter{nc: nc, js: js, codec: codec, out: out, log: log, maxDeliver: MaxDeliver, backoff: BackoffSchedule}, nil
}

// SetRedelivery overrides the §4.2 defaults with the configured
// max_deliver and backoff_schedule_ms values. Zero or empty arguments
// leave the corresponding default in place. Must be called before
// Subscribe.
func (a *Adapter) SetRedelivery(maxDeliver int, backoff []time.Duration) {
	if maxDeliver > 0 {
		a.maxDeliver = maxDeliver
	}
	if len(backoff) > 0 {
		a.backoff = backoff
	}
}

// Close drains and closes the underlying connection.
func (a *Adapter) Close() {
	_ = a.nc.Drain()
}

// OnDisconnect registers fn to run whenever the broker connection is lost,
// the trigger for leader demotion and submission suspension in §4.2.
func (a *Adapter) OnDisconnect(fn func(error)) {
	a.nc.SetDisconnectErrHandler(func(_ *nats.Conn, err error) {
		fn(err)
	})
}

// OnReconnect registers fn to run when the broker connection is
// re-established, the trigger for outbox replay and re-promotion.
func (a *Adapter) OnReconnect(fn func()) {
	a.nc.SetReconnectHandler(func(_ *nats.Conn) {
		fn()
	})
}

// Publish writes env to subject with the broker dedup header set to
// IdempotencyKey (falling back to the envelope ID), write-ahead logging
// into the outbox first so a crash between WAL and publish is recovered
// on reconnect by ReplayOutbox.
func (a *Adapter) Publish(ctx context.Context, subject string, env *wire.Envelope) error {
	raw, err := a.codec.Encode(env)
	if err != nil {
		return err
	}
	// titan.sys.* subjects (heartbeats) are ephemeral liveness signals
	// with no stream behind them; they go out over core NATS and are
	// never outboxed.
	if strings.HasPrefix(subject, "titan.sys.") {
		return a.nc.Publish(subject, raw)
	}
	dedupID := env.IdempotencyKey
	if dedupID == "" {
		dedupID = env.ID
	}
	var outboxID uint64
	if a.out != nil {
		outboxID, err = a.out.Enqueue(subject, raw)
		if err != nil {
			return err
		}
	}
	msg := nats.NewMsg(subject)
	msg.Data = raw
	msg.Header.Set(nats.MsgIdHdr, dedupID)
	if _, err := a.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	if a.out != nil {
		_ = a.out.Remove(outboxID)
	}
	return nil
}

// PublishEvent builds an envelope for t and publishes it to every subject
// the registry names for t — the canonical one, plus the legacy subject
// during a dual-publish migration window. Satisfies lifecycle.Publisher.
func (a *Adapter) PublishEvent(ctx context.Context, t wire.Type, partitions []string, payload any) error {
	env, err := wire.NewEnvelope(t, "execution", payload)
	if err != nil {
		return err
	}
	for _, subject := range wire.DualPublishSubjects(t, partitions...) {
		if err := a.Publish(ctx, subject, env); err != nil {
			return err
		}
	}
	return nil
}

// ReplayOutbox republishes every entry still pending in the outbox,
// called once on reconnect per §4.2's retry-on-reconnect contract.
func (a *Adapter) ReplayOutbox(ctx context.Context) error {
	if a.out == nil {
		return nil
	}
	return a.out.ForEach(func(id uint64, subject string, raw []byte) error {
		msg := nats.NewMsg(subject)
		msg.Data = raw
		if _, err := a.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return err
		}
		return a.out.Remove(id)
	})
}

// Subscribe creates (or binds to) a durable pull consumer named
// consumerName filtered to filterSubject and runs handler for every
// message, in a background goroutine, until ctx is cancelled. Redelivery
// follows BackoffSchedule; once a message has been delivered MaxDeliver
// times it is dead-lettered and acked.
func (a *Adapter) Subscribe(ctx context.Context, streamName, consumerName, filterSubject string, handler Handler) error {
	sub, err := a.js.PullSubscribe(filterSubject, consumerName,
		nats.BindStream(streamName),
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.MaxDeliver(a.maxDeliver),
	)
	if err != nil {
		return fmt.Errorf("bus: pull subscribe %s/%s: %w", streamName, consumerName, err)
	}
	go a.dispatchLoop(ctx, sub, handler)
	return nil
}

func (a *Adapter) dispatchLoop(ctx context.Context, sub *nats.Subscription, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgs, err := sub.Fetch(16, nats.MaxWait(2*time.Second))
		if err != nil {
			if err != nats.ErrTimeout && a.log != nil {
				a.log.WithError(err).Warn("bus: fetch error")
			}
			continue
		}
		for _, msg := range msgs {
			a.handle(ctx, msg, handler)
		}
	}
}

func (a *Adapter) handle(ctx context.Context, msg *nats.Msg, handler Handler) {
	env, err := a.codec.Decode(msg.Data)
	if err != nil {
		_ = a.deadLetterRaw(ctx, msg, "decode: "+err.Error())
		_ = msg.Ack()
		return
	}

	meta, err := msg.Metadata()
	if err == nil && meta.NumDelivered > uint64(a.maxDeliver) {
		_ = a.DeadLetter(ctx, env, "max_deliver exceeded")
		_ = msg.Ack()
		return
	}

	if err := handler(ctx, env, msg); err != nil {
		if a.log != nil {
			a.log.WithError(err).WithField("subject", msg.Subject).Warn("bus: handler nak")
		}
		var delivered int
		if meta != nil {
			delivered = int(meta.NumDelivered)
		}
		if delivered >= a.maxDeliver {
			_ = a.deadLetterRaw(ctx, msg, "max_deliver exceeded: "+err.Error())
			_ = msg.Ack()
			return
		}
		_ = msg.NakWithDelay(backoffDelayIn(a.backoff, delivered))
		return
	}
	_ = msg.Ack()
}

// backoffDelay maps the delivery attempt count (1-based) onto the §4.2
// redelivery schedule, clamping past the end.
func backoffDelay(numDelivered int) time.Duration {
	return backoffDelayIn(BackoffSchedule, numDelivered)
}

func backoffDelayIn(schedule []time.Duration, numDelivered int) time.Duration {
	idx := numDelivered - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

// SubscribeCore binds a plain core-NATS subscription for ephemeral
// subjects (heartbeats, liveness) that intentionally live outside the
// durable streams. The subscription is dropped when ctx ends.
func (a *Adapter) SubscribeCore(ctx context.Context, subject string, handler func(*nats.Msg)) error {
	sub, err := a.nc.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("bus: core subscribe %s: %w", subject, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// DeadLetter republishes env to titan.dlq.<envelope type> carrying the
// failure reason. The subject is built from env.Type, so the partition
// suffix of the subject the message arrived on is not included.
func (a *Adapter) DeadLetter(ctx context.Context, env *wire.Envelope, reason string) error {
	dlqSubject := fmt.Sprintf("%s.%s", wire.TypeDLQ, string(env.Type))
	raw, err := a.codec.Encode(env)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(dlqSubject)
	msg.Data = raw
	msg.Header.Set("Titan-Dlq-Reason", reason)
	_, err = a.js.PublishMsg(msg, nats.Context(ctx))
	return err
}

func (a *Adapter) deadLetterRaw(ctx context.Context, msg *nats.Msg, reason string) error {
	dlqSubject := fmt.Sprintf("%s.%s", wire.TypeDLQ, msg.Subject)
	out := nats.NewMsg(dlqSubject)
	out.Data = msg.Data
	out.Header.Set("Titan-Dlq-Reason", reason)
	_, err := a.js.PublishMsg(out, nats.Context(ctx))
	return err
}
