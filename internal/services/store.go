package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/Wikid82/keyroom/internal/models"
)

// Store owns the database handle shared by the directory, the ledger and the
// custody engine. Every write goes through Write, which serializes writers and
// runs them in a single transaction.
type Store struct {
	db *gorm.DB

	mu    sync.Mutex
	clock ledgerClock
}

// ledgerClock hands out monotonic (timestamp, sequence) pairs for new events.
// The last pair is re-read from the table at the start of every write, so other
// stores appending to the same database are picked up.
type ledgerClock struct {
	now     func() time.Time
	lastSeq uint64
	lastTS  time.Time
}

// NewStore wraps db. The store is created once at startup and shared by reference.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, clock: ledgerClock{now: time.Now}}
}

// DB returns the root database handle for read-only queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// SetClock replaces the wall clock used to timestamp ledger events.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock.now = now
}

// Write runs fn inside a transaction while holding the writer lock. If fn or the
// commit fails, nothing is persisted.
func (s *Store) Write(fn func(tx *gorm.DB) error) error {
	return s.WriteThen(fn, nil)
}

// WriteThen is Write followed by committed, which runs only after a successful
// commit and before the writer lock is released.
func (s *Store) WriteThen(fn func(tx *gorm.DB) error, committed func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.clock.load(tx); err != nil {
			return err
		}
		return fn(tx)
	})
	if err != nil {
		return err
	}
	if committed != nil {
		committed()
	}
	return nil
}

// Read runs fn in one transaction without the writer lock, so every query in fn
// sees the same snapshot.
func (s *Store) Read(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

// next must be called with the writer lock held.
func (c *ledgerClock) next() (time.Time, uint64) {
	ts := c.now().UTC()
	if ts.Before(c.lastTS) {
		ts = c.lastTS
	}
	c.lastTS = ts
	c.lastSeq++
	return ts, c.lastSeq
}

func (c *ledgerClock) load(tx *gorm.DB) error {
	var last models.CustodyEvent
	err := tx.Order("sequence desc").First(&last).Error
	switch {
	case err == nil:
		c.lastSeq = last.Sequence
		c.lastTS = last.Timestamp.UTC()
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.lastSeq = 0
		c.lastTS = time.Time{}
	default:
		return fmt.Errorf("load ledger clock: %w", err)
	}
	return nil
}
