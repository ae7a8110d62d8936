// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package store persists tracking state across process restarts using
// BadgerDB. Classifier state, the active scheduler configuration, the
// pending visit candidate and a bounded visit history all survive a
// crash so the tracker resumes where it left off.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
)

// Key layout. Single-valued records use fixed keys; visit history uses a
// monotonic sequence suffix so iteration returns visits in arrival order.
const (
	keyClassifierState = "state:classifier"
	keySchedulerConfig = "state:scheduler"
	keyPendingVisit    = "state:pending_visit"
	keyLastFix         = "state:last_fix"
	keyTrackingActive  = "state:tracking_active"
	prefixVisit        = "visit:"
	visitSeqKey        = "seq:visit"
)

// ErrNotFound is returned when a requested record has never been saved.
var ErrNotFound = errors.New("store: not found")

// ErrClosed is returned by all operations after Close.
var ErrClosed = errors.New("store: closed")

// Store is a durable key-value store for tracker state.
type Store struct {
	db           *badger.DB
	visitSeq     *badger.Sequence
	historyLimit int

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store at path. An empty path opens an
// in-memory instance, used by tests.
func Open(path string, historyLimit int) (*Store, error) {
	if historyLimit <= 0 {
		historyLimit = 100
	}

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

	seq, err := db.GetSequence([]byte(visitSeqKey), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open visit sequence: %w", err)
	}

	s := &Store{db: db, visitSeq: seq, historyLimit: historyLimit}

	logging.Info().
		Str("path", path).
		Int("history_limit", historyLimit).
		Msg("state store opened")
	return s, nil
}

// Close releases the sequence and closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.visitSeq.Release(); err != nil {
		logging.Warn().Err(err).Msg("release visit sequence")
	}
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// putJSON marshals v and writes it under key in a single transaction.
func (s *Store) putJSON(key string, v any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// getJSON reads key and unmarshals into v. Returns ErrNotFound when the
// key has never been written.
func (s *Store) getJSON(key string, v any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ClassifierState is the persisted snapshot of the movement classifier.
type ClassifierState struct {
	State      models.MovementState  `json:"state"`
	Buffer     []models.SpeedSample  `json:"buffer"`
	LastChange models.StateChangeRecord `json:"last_change"`
}

func (s *Store) SaveClassifierState(cs ClassifierState) error {
	return s.putJSON(keyClassifierState, cs)
}

func (s *Store) LoadClassifierState() (ClassifierState, error) {
	var cs ClassifierState
	err := s.getJSON(keyClassifierState, &cs)
	return cs, err
}

// SchedulerConfig is the last tracking configuration applied to the
// location source, compared on startup against the desired one.
type SchedulerConfig struct {
	IntervalMs        int64  `json:"interval_ms"`
	MinDistanceMeters float64 `json:"min_distance_meters"`
	Accuracy          string  `json:"accuracy"`
}

func (s *Store) SaveSchedulerConfig(sc SchedulerConfig) error {
	return s.putJSON(keySchedulerConfig, sc)
}

func (s *Store) LoadSchedulerConfig() (SchedulerConfig, error) {
	var sc SchedulerConfig
	err := s.getJSON(keySchedulerConfig, &sc)
	return sc, err
}

func (s *Store) SavePendingVisit(pv models.PendingVisit) error {
	return s.putJSON(keyPendingVisit, pv)
}

func (s *Store) LoadPendingVisit() (models.PendingVisit, error) {
	var pv models.PendingVisit
	err := s.getJSON(keyPendingVisit, &pv)
	return pv, err
}

func (s *Store) ClearPendingVisit() error {
	return s.delete(keyPendingVisit)
}

func (s *Store) SaveLastFix(f models.Fix) error {
	return s.putJSON(keyLastFix, f)
}

func (s *Store) LoadLastFix() (models.Fix, error) {
	var f models.Fix
	err := s.getJSON(keyLastFix, &f)
	return f, err
}

// SetTrackingActive records whether tracking should be running. The flag
// is consulted on startup to detect a crash that left tracking half
// stopped.
func (s *Store) SetTrackingActive(active bool) error {
	return s.putJSON(keyTrackingActive, active)
}

// TrackingActive reports the persisted tracking flag. A missing record
// means tracking was never started and reports false.
func (s *Store) TrackingActive() (bool, error) {
	var active bool
	err := s.getJSON(keyTrackingActive, &active)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return active, err
}

// AppendVisit stores a completed visit and prunes history beyond the
// configured limit, oldest first.
func (s *Store) AppendVisit(v models.Visit) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	seq, err := s.visitSeq.Next()
	if err != nil {
		return fmt.Errorf("next visit sequence: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal visit: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%020d", prefixVisit, seq))
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("write visit: %w", err)
	}
	return s.pruneVisits()
}

// pruneVisits deletes the oldest visits until at most historyLimit remain.
func (s *Store) pruneVisits() error {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(prefixVisit)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		if excess := len(keys) - s.historyLimit; excess > 0 {
			stale = keys[:excess]
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan visits: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecentVisits returns up to limit visits with arrival time at or after
// since, most recent first. A zero since applies no time filter; a limit
// of zero or less returns the full retained history. Visits are stored
// in arrival order, so iteration stops at the first one before since.
func (s *Store) RecentVisits(since time.Time, limit int) ([]models.Visit, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	var visits []models.Visit
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(prefixVisit)
		// Reverse iteration seeks to the last possible key under the prefix.
		seek := append([]byte(prefixVisit), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(visits) < limit; it.Next() {
			var v models.Visit
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			})
			if err != nil {
				return err
			}
			if !since.IsZero() && v.ArrivalTime.Before(since) {
				break
			}
			visits = append(visits, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read visits: %w", err)
	}
	return visits, nil
}
