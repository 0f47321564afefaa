package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
)

var _ Store = (*BadgerStore)(nil)

// BadgerStore provides persistent storage using BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	mu     sync.RWMutex
	stopCh chan struct{}
	once   sync.Once
}

const prefixSchedules = "schedules/"

// NewStore creates a new BadgerDB store under dataDir.
func NewStore(dataDir string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataDir, "exportd.db")

	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.ValueLogFileSize = 64 << 20 // 64MB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		stopCh: make(chan struct{}),
	}

	go s.runGC()

	return s, nil
}

// Close closes the database and stops background goroutines.
func (s *BadgerStore) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	return s.db.Close()
}

// runGC runs periodic value log garbage collection.
func (s *BadgerStore) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// Create stores a new schedule.
func (s *BadgerStore) Create(_ context.Context, sched *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		key := scheduleKey(sched.ID)

		_, err := txn.Get(key)
		if err == nil {
			return models.ErrScheduleExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		return putSchedule(txn, sched)
	})
}

// Update applies an edit under a version check.
func (s *BadgerStore) Update(_ context.Context, sched *models.Schedule) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated *models.Schedule
	err := s.db.Update(func(txn *badger.Txn) error {
		stored, err := getSchedule(txn, sched.ID)
		if err != nil {
			return err
		}
		if stored.Version != sched.Version {
			return models.ErrVersionConflict
		}

		stored.ApplyEdit(sched)
		updated = stored
		return putSchedule(txn, stored)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Load retrieves a schedule by ID.
func (s *BadgerStore) Load(_ context.Context, id string) (*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sched *models.Schedule
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		sched, err = getSchedule(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// Delete deletes a schedule by ID.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		key := scheduleKey(id)

		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return models.ErrScheduleNotFound
		}
		if err != nil {
			return err
		}

		return txn.Delete(key)
	})
}

// List returns all schedules ordered by name.
func (s *BadgerStore) List(_ context.Context) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, err := s.scan(func(*models.Schedule) bool { return true })
	if err != nil {
		return nil, err
	}
	sortByName(result)
	return result, nil
}

// ListDue returns active schedules due at now, ordered by next run.
func (s *BadgerStore) ListDue(_ context.Context, now time.Time) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, err := s.scan(func(sched *models.Schedule) bool { return sched.IsDue(now) })
	if err != nil {
		return nil, err
	}
	sortByNextRun(result)
	return result, nil
}

// Claim marks a due schedule as held by token. The check and the write
// happen in one read-write transaction.
func (s *BadgerStore) Claim(_ context.Context, id, token string, now time.Time, lease time.Duration) (*models.Schedule, models.ClaimOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		claimed *models.Schedule
		outcome models.ClaimOutcome
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		sched, err := getSchedule(txn, id)
		if err != nil {
			return err
		}

		outcome = sched.CheckClaim(now, lease)
		if !outcome.Held() {
			return nil
		}

		sched.Claim(token, now)
		claimed = sched
		return putSchedule(txn, sched)
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil, models.ClaimContended, nil
	}
	if err != nil {
		return nil, models.ClaimNotDue, err
	}
	return claimed, outcome, nil
}

// CommitResult writes an attempt's outcome and releases the claim.
func (s *BadgerStore) CommitResult(_ context.Context, id, token string, c models.Commit) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var committed *models.Schedule
	err := s.db.Update(func(txn *badger.Txn) error {
		sched, err := getSchedule(txn, id)
		if err != nil {
			return err
		}
		if token == "" || sched.ProcessingToken != token {
			return models.ErrClaimLost
		}

		sched.Apply(c)
		committed = sched
		return putSchedule(txn, sched)
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *BadgerStore) scan(keep func(*models.Schedule) bool) ([]*models.Schedule, error) {
	var result []*models.Schedule

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixSchedules)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sched models.Schedule
				if err := json.Unmarshal(val, &sched); err != nil {
					return err
				}
				if keep(&sched) {
					result = append(result, &sched)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return result, err
}

func getSchedule(txn *badger.Txn, id string) (*models.Schedule, error) {
	item, err := txn.Get(scheduleKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, models.ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}

	var sched models.Schedule
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &sched)
	}); err != nil {
		return nil, err
	}
	return &sched, nil
}

func putSchedule(txn *badger.Txn, sched *models.Schedule) error {
	data, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	return txn.Set(scheduleKey(sched.ID), data)
}

func scheduleKey(id string) []byte {
	return []byte(prefixSchedules + id)
}
