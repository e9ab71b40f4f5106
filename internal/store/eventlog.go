package store

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/peycheff-com/titan-execution-core/pkg/utils"
)

// EventLogEntry is one append-only record of a state-changing decision.
// Seq is assigned by AppendEvent and is globally monotonic; entries are
// never mutated after being written.
type EventLogEntry struct {
	Seq           uint64         `json:"seq"`
	TS            int64          `json:"ts"`
	Kind          string         `json:"kind"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// AppendEvent appends entry to the event log, assigning it the next
// monotonic sequence number within the same transaction so seq never
// collides even under concurrent callers.
func (s *Store) AppendEvent(kind, correlationID string, payload map[string]any) (*EventLogEntry, error) {
	var entry EventLogEntry
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(NSEventLog))
		if err != nil {
			return err
		}
		next, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry = EventLogEntry{
			Seq:           next,
			TS:            time.Now().UnixMilli(),
			Kind:          kind,
			CorrelationID: correlationID,
			Payload:       payload,
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(seqKey(next), raw)
	})
	if err != nil {
		return nil, utils.Wrap(err, "append event")
	}
	return &entry, nil
}

// ReplayFrom invokes fn for every event with Seq > fromSeq, in ascending
// order, used for point-in-time crash recovery.
func (s *Store) ReplayFrom(fromSeq uint64, fn func(EventLogEntry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(NSEventLog))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(seqKey(fromSeq + 1)); k != nil; k, v = c.Next() {
			var entry EventLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastSeq returns the sequence number of the most recently appended
// event, or 0 if the log is empty.
func (s *Store) LastSeq() (uint64, error) {
	var last uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(NSEventLog))
		if b == nil {
			return nil
		}
		k, _ := b.Cursor().Last()
		if k == nil {
			return nil
		}
		last = binary.BigEndian.Uint64(k)
		return nil
	})
	if err != nil {
		return 0, utils.Wrap(err, "last seq")
	}
	return last, nil
}
