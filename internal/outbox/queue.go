// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package outbox

import (
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
)

// Queue key layout: entries live under a monotonic sequence suffix so
// iteration yields enqueue order.
const (
	prefixEntry = "ob:"
	seqKey      = "seq:outbox"
)

// ErrQueueClosed is returned by all operations after Close.
var ErrQueueClosed = errors.New("outbox: queue closed")

// Queue is a durable FIFO of outbound events backed by BadgerDB.
// Entries survive restarts until explicitly deleted after delivery.
type Queue struct {
	db  *badger.DB
	seq *badger.Sequence

	mu     sync.RWMutex
	closed bool
}

// item pairs a queue entry with its storage key so delivery outcomes
// can delete or rewrite it in place.
type item struct {
	key   []byte
	event models.OutboundEvent
}

// OpenQueue opens (or creates) the queue at path. An empty path opens
// an in-memory instance, used by tests.
func OpenQueue(path string) (*Queue, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
		opts.SyncWrites = true
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte(seqKey), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open outbox sequence: %w", err)
	}
	return &Queue{db: db, seq: seq}, nil
}

// Close releases the sequence and closes the database.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if err := q.seq.Release(); err == nil {
		return q.db.Close()
	}
	return q.db.Close()
}

func (q *Queue) checkOpen() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// push appends an entry to the tail of the queue.
func (q *Queue) push(e models.OutboundEvent) error {
	if err := q.checkOpen(); err != nil {
		return err
	}
	n, err := q.seq.Next()
	if err != nil {
		return fmt.Errorf("next outbox sequence: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal outbox entry: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%020d", prefixEntry, n))
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	return nil
}

// snapshot returns all queued items in enqueue order.
func (q *Queue) snapshot() ([]item, error) {
	if err := q.checkOpen(); err != nil {
		return nil, err
	}
	var items []item
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixEntry)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e models.OutboundEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			items = append(items, item{key: it.Item().KeyCopy(nil), event: e})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan outbox: %w", err)
	}
	return items, nil
}

// remove deletes a delivered or rejected entry.
func (q *Queue) remove(key []byte) error {
	if err := q.checkOpen(); err != nil {
		return err
	}
	err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("delete outbox entry: %w", err)
	}
	return nil
}

// rewrite persists an updated entry (retry bookkeeping) in place.
func (q *Queue) rewrite(key []byte, e models.OutboundEvent) error {
	if err := q.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal outbox entry: %w", err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("rewrite outbox entry: %w", err)
	}
	return nil
}

// Len returns the number of queued entries.
func (q *Queue) Len() (int, error) {
	if err := q.checkOpen(); err != nil {
		return 0, err
	}
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(prefixEntry)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return count, nil
}
