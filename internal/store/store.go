// Package store implements the embedded, single-process durable key-value
// store behind the execution core: positions, the intent ledger, operator
// state, and the append-only event log. It is backed by bbolt, which gives
// crash-consistent, atomic multi-bucket transactions for free.
package store

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/peycheff-com/titan-execution-core/pkg/utils"
)

// Namespace names the buckets the store maintains. Each maps 1:1 to a
// bbolt bucket.
type Namespace string

const (
	NSIntents   Namespace = "intents"
	NSOrders    Namespace = "orders"
	NSPositions Namespace = "positions"
	NSOpState   Namespace = "op_state"
	NSEventLog  Namespace = "event_log"
	NSDedup     Namespace = "dedup"
)

var allNamespaces = []Namespace{NSIntents, NSOrders, NSPositions, NSOpState, NSEventLog, NSDedup}

// Store is the durable key-value store. Read paths do not block writers
// (bbolt MVCC); writes are serialized per transaction by the underlying
// single writer lock, which is sufficient because every namespace's
// owning component already single-writers its own commits.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures every
// namespace bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, utils.Wrap(err, "open state store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, ns := range allNamespaces {
			if _, err := tx.CreateBucketIfNotExists([]byte(ns)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, utils.Wrap(err, "init buckets")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Write is a single key-value write targeted at a namespace, used by
// PutMany for atomic multi-key commits.
type Write struct {
	NS    Namespace
	Key   []byte
	Value []byte
}
