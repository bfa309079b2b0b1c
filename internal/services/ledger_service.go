package services

import (
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/keyroom/internal/models"
)

// LedgerService is the append-only custody event log. It performs no business
// validation; that is the custody engine's job.
//
// Timestamps never decrease as sequence grows, so ordering by sequence is the
// same as ordering by (timestamp, sequence).
type LedgerService struct {
	store *Store
	db    *gorm.DB
	inTx  bool
}

// NewLedgerService returns a ledger reading from and writing to store.
func NewLedgerService(store *Store) *LedgerService {
	return &LedgerService{store: store, db: store.DB()}
}

// WithTx binds the ledger to a transaction opened by Store.Write.
func (l *LedgerService) WithTx(tx *gorm.DB) *LedgerService {
	return &LedgerService{store: l.store, db: tx, inTx: true}
}

// Append stamps event with a fresh UUID, timestamp and sequence and stores it.
// Outside a transaction it takes the writer lock itself.
func (l *LedgerService) Append(event *models.CustodyEvent) error {
	if !l.inTx {
		return l.store.Write(func(tx *gorm.DB) error {
			return l.WithTx(tx).Append(event)
		})
	}

	event.ID = 0
	event.UUID = uuid.New().String()
	event.Timestamp, event.Sequence = l.store.clock.next()
	if err := l.db.Create(event).Error; err != nil {
		return fmt.Errorf("append custody event: %w", err)
	}
	return nil
}

// EventsFor streams the events recorded for keyUUID, oldest first. Rows are
// read lazily; stop ranging to release the cursor early.
func (l *LedgerService) EventsFor(keyUUID string) iter.Seq2[models.CustodyEvent, error] {
	return l.stream(func(q *gorm.DB) *gorm.DB {
		return q.Where("key_uuid = ?", keyUUID).Order("sequence asc")
	})
}

// All streams the whole ledger, oldest first.
func (l *LedgerService) All() iter.Seq2[models.CustodyEvent, error] {
	return l.stream(func(q *gorm.DB) *gorm.DB { return q.Order("sequence asc") })
}

// Newest streams the whole ledger, newest first.
func (l *LedgerService) Newest() iter.Seq2[models.CustodyEvent, error] {
	return l.stream(func(q *gorm.DB) *gorm.DB { return q.Order("sequence desc") })
}

// LatestEventFor returns the most recent event for keyUUID, or nil if the key
// has never moved.
func (l *LedgerService) LatestEventFor(keyUUID string) (*models.CustodyEvent, error) {
	var event models.CustodyEvent
	err := l.db.Where("key_uuid = ?", keyUUID).Order("sequence desc").First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest custody event: %w", err)
	}
	return &event, nil
}

// Count returns the number of events in the ledger.
func (l *LedgerService) Count() (int64, error) {
	var n int64
	if err := l.db.Model(&models.CustodyEvent{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count custody events: %w", err)
	}
	return n, nil
}

func (l *LedgerService) stream(scope func(*gorm.DB) *gorm.DB) iter.Seq2[models.CustodyEvent, error] {
	return func(yield func(models.CustodyEvent, error) bool) {
		rows, err := scope(l.db.Model(&models.CustodyEvent{})).Rows()
		if err != nil {
			yield(models.CustodyEvent{}, fmt.Errorf("query custody events: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var event models.CustodyEvent
			if err := l.db.ScanRows(rows, &event); err != nil {
				yield(models.CustodyEvent{}, fmt.Errorf("scan custody event: %w", err))
				return
			}
			if !yield(event, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.CustodyEvent{}, fmt.Errorf("read custody events: %w", err))
		}
	}
}
