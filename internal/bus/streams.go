package bus

import (
	"time"

	"github.com/nats-io/nats.go"
)

// StreamSpec describes one of the required JetStream streams from §4.2's
// table: name, the subjects it captures, and its retention policy.
type StreamSpec struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
	Storage  nats.StorageType
	Dedup    time.Duration
	WorkQueue bool
}

// RequiredStreams is the fixed set of streams the execution core declares
// on startup, matching §4.2's table exactly.
var RequiredStreams = []StreamSpec{
	{
		Name:      "COMMANDS",
		Subjects:  []string{"titan.cmd.>"},
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
		Dedup:     60 * time.Second,
		WorkQueue: true,
	},
	{
		Name:     "EVENTS",
		Subjects: []string{"titan.evt.>"},
		MaxAge:   30 * 24 * time.Hour,
		Storage:  nats.FileStorage,
	},
	{
		Name:     "DATA",
		Subjects: []string{"titan.data.>"},
		MaxAge:   15 * time.Minute,
		Storage:  nats.MemoryStorage,
	},
	{
		Name:     "SIGNALS",
		Subjects: []string{"titan.signal.>"},
		MaxAge:   24 * time.Hour,
		Storage:  nats.FileStorage,
	},
	{
		Name:     "DLQ",
		Subjects: []string{"titan.dlq.>"},
		MaxAge:   30 * 24 * time.Hour,
		Storage:  nats.FileStorage,
	},
}

// declareStreams idempotently ensures every required stream exists,
// creating it if absent and leaving it untouched (no update) if already
// present, matching §4.2's "declared on startup, idempotent" contract.
func declareStreams(js nats.JetStreamContext) error {
	for _, spec := range RequiredStreams {
		cfg := &nats.StreamConfig{
			Name:      spec.Name,
			Subjects:  spec.Subjects,
			MaxAge:    spec.MaxAge,
			Storage:   spec.Storage,
			Retention: retentionFor(spec),
		}
		if spec.Dedup > 0 {
			cfg.Duplicates = spec.Dedup
		}
		if _, err := js.AddStream(cfg); err != nil {
			if err == nats.ErrStreamNameAlreadyInUse {
				continue
			}
			return err
		}
	}
	return nil
}

func retentionFor(spec StreamSpec) nats.RetentionPolicy {
	if spec.WorkQueue {
		return nats.WorkQueuePolicy
	}
	return nats.LimitsPolicy
}
