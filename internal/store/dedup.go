package store

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/peycheff-com/titan-execution-core/pkg/utils"
)

// DedupRecord tracks that an idempotency key has already been processed,
// and what the result was, within a bounded TTL window.
type DedupRecord struct {
	IdempotencyKey string `json:"idempotency_key"`
	FirstSeenTS    int64  `json:"first_seen_ts"`
	ResultRef      string `json:"result_ref"`
}

// SeenOrRecord checks whether key has been recorded already; if not, it
// records it with resultRef and returns the new record with found=false.
// If it has, the existing record is returned with found=true and no write
// occurs. This is the single atomic check-and-set the operator command
// subscription and the credential verifier rely on for idempotent replay
// handling.
func (s *Store) SeenOrRecord(key, resultRef string) (*DedupRecord, bool, error) {
	var existing DedupRecord
	var found bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(NSDedup))
		if err != nil {
			return err
		}
		if v := b.Get([]byte(key)); v != nil {
			found = true
			return json.Unmarshal(v, &existing)
		}
		existing = DedupRecord{
			IdempotencyKey: key,
			FirstSeenTS:    time.Now().UnixMilli(),
			ResultRef:      resultRef,
		}
		raw, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), raw)
	})
	if err != nil {
		return nil, false, utils.Wrap(err, "dedup check")
	}
	return &existing, found, nil
}

// CompactDedup removes every dedup record whose FirstSeenTS is older than
// cutoffTS (typically now - command_dedup_window_ms).
func (s *Store) CompactDedup(cutoffTS int64) (int, error) {
	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(NSDedup))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var staleKeys [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec DedupRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.FirstSeenTS < cutoffTS {
				staleKeys = append(staleKeys, append([]byte(nil), k...))
			}
		}
		for _, k := range staleKeys {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, utils.Wrap(err, "compact dedup")
	}
	return removed, nil
}
