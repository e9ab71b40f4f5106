package bus

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/peycheff-com/titan-execution-core/pkg/utils"
)

var outboxBucket = []byte("outbox")

// Outbox is a bbolt-backed bounded ring of not-yet-confirmed publishes,
// so event publication durably survives a process restart rather than
// only an in-process reconnect (§4.2, supplemented per SPEC_FULL.md).
type Outbox struct {
	db       *bolt.DB
	capacity int
}

type outboxEntry struct {
	Subject string
	Payload []byte
}

// OpenOutbox opens (creating if absent) the bbolt file at path, bounding
// the ring at capacity entries.
func OpenOutbox(path string, capacity int) (*Outbox, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, utils.Wrap(err, "open outbox")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(outboxBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, utils.Wrap(err, "init outbox bucket")
	}
	return &Outbox{db: db, capacity: capacity}, nil
}

// Close releases the outbox's file lock.
func (o *Outbox) Close() error {
	return o.db.Close()
}

func idKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

// Enqueue records subject/payload as pending and returns its id. If the
// ring is at capacity, the oldest entry is evicted to make room — an
// evicted publish is dropped rather than blocking the caller, since the
// outbox exists to survive a restart, not to provide unbounded durability.
func (o *Outbox) Enqueue(subject string, payload []byte) (uint64, error) {
	var id uint64
	err := o.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(outboxBucket)
		if o.capacity > 0 {
			if n := b.Stats().KeyN; n >= o.capacity {
				c := b.Cursor()
				if k, _ := c.First(); k != nil {
					if err := b.Delete(k); err != nil {
						return err
					}
				}
			}
		}
		next, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = next
		entry := append([]byte(subject), 0)
		entry = append(entry, payload...)
		return b.Put(idKey(id), entry)
	})
	return id, utils.Wrap(err, "outbox enqueue")
}

// Remove deletes the entry for id, called once its publish is confirmed.
func (o *Outbox) Remove(id uint64) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).Delete(idKey(id))
	})
}

// ForEach invokes fn for every pending entry in insertion order, used by
// ReplayOutbox on reconnect/restart.
func (o *Outbox) ForEach(fn func(id uint64, subject string, payload []byte) error) error {
	return o.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(outboxBucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			id := binary.BigEndian.Uint64(k)
			nul := -1
			for i, c := range v {
				if c == 0 {
					nul = i
					break
				}
			}
			if nul < 0 {
				continue
			}
			if err := fn(id, string(v[:nul]), append([]byte(nil), v[nul+1:]...)); err != nil {
				return err
			}
		}
		return nil
	})
}
