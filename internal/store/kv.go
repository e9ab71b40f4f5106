package store

import (
	"bytes"

	bolt "go.etcd.io/bbolt"

	"github.com/peycheff-com/titan-execution-core/pkg/utils"
)

// Get reads a single key from ns. A missing key returns (nil, false, nil).
func (s *Store) Get(ns Namespace, key []byte) ([]byte, bool, error) {
	var val []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			val = append([]byte(nil), v...)
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, utils.Wrapf(err, "get %s/%s", ns, key)
	}
	return val, found, nil
}

// PutMany commits a batch of writes across one or more namespaces
// atomically: either all records in the batch become visible, or none do.
func (s *Store) PutMany(writes []Write) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, w := range writes {
			b, err := tx.CreateBucketIfNotExists([]byte(w.NS))
			if err != nil {
				return err
			}
			if err := b.Put(w.Key, w.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes key from ns. Deleting an absent key is a no-op.
func (s *Store) Delete(ns Namespace, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
}

// ScanFunc is invoked once per matching key during a Scan; returning false
// stops iteration early.
type ScanFunc func(key, value []byte) bool

// Scan walks every key in ns with the given prefix in lexicographic order,
// invoking fn for each until it returns false or keys are exhausted.
func (s *Store) Scan(ns Namespace, prefix []byte, fn ScanFunc) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if !fn(append([]byte(nil), k...), append([]byte(nil), v...)) {
				break
			}
		}
		return nil
	})
}
