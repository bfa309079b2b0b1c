package services

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Wikid82/keyroom/internal/logger"
	"github.com/Wikid82/keyroom/internal/metrics"
	"github.com/Wikid82/keyroom/internal/models"
)

// KeyState is the custody state of a key derived from the ledger.
type KeyState struct {
	Held         bool       `json:"held"`
	EmployeeUUID string     `json:"employee_uuid,omitempty"`
	Since        *time.Time `json:"since,omitempty"`
}

// Available reports whether the key may be taken.
func (s KeyState) Available() bool { return !s.Held }

// IssuedKey is a key whose latest ledger event is a take.
type IssuedKey struct {
	Key      models.Key          `json:"key"`
	Event    models.CustodyEvent `json:"event"`
	Employee *models.Employee    `json:"employee,omitempty"`
}

// HistoryEntry is a ledger event enriched with the current key and employee
// records. Either may be nil once the referenced record has been deleted.
type HistoryEntry struct {
	Event    models.CustodyEvent `json:"event"`
	Key      *models.Key         `json:"key,omitempty"`
	Employee *models.Employee    `json:"employee,omitempty"`
}

// ProjectionMismatch describes a key whose cached availability disagrees with
// the ledger.
type ProjectionMismatch struct {
	KeyUUID string   `json:"key_uuid"`
	Cached  bool     `json:"cached_available"`
	Derived KeyState `json:"derived"`
}

// CustodyNotice is handed to the notifier after a committed transition.
type CustodyNotice struct {
	Event    models.CustodyEvent
	Key      models.Key
	Employee models.Employee
}

// Notifier receives committed custody transitions.
type Notifier interface {
	NotifyCustody(notice CustodyNotice)
}

// Project folds a key's events, oldest first, into its current state. A take
// while held or a return while available yields ErrLedgerCorrupt.
func Project(events iter.Seq2[models.CustodyEvent, error]) (KeyState, error) {
	var state KeyState
	for event, err := range events {
		if err != nil {
			return KeyState{}, err
		}
		switch event.Action {
		case models.CustodyTake:
			if state.Held {
				return KeyState{}, fmt.Errorf("%w: take at sequence %d while held", ErrLedgerCorrupt, event.Sequence)
			}
			ts := event.Timestamp
			state = KeyState{Held: true, EmployeeUUID: event.EmployeeUUID, Since: &ts}
		case models.CustodyReturn:
			if !state.Held {
				return KeyState{}, fmt.Errorf("%w: return at sequence %d while available", ErrLedgerCorrupt, event.Sequence)
			}
			state = KeyState{}
		default:
			return KeyState{}, fmt.Errorf("%w: unknown action %q at sequence %d", ErrLedgerCorrupt, event.Action, event.Sequence)
		}
	}
	return state, nil
}

// CustodyService is the key custody state machine.
type CustodyService struct {
	store    *Store
	ledger   *LedgerService
	notifier Notifier
}

// NewCustodyService wires the custody engine. notifier may be nil.
func NewCustodyService(store *Store, ledger *LedgerService, notifier Notifier) *CustodyService {
	return &CustodyService{store: store, ledger: ledger, notifier: notifier}
}

// Take issues keyUUID to employeeUUID. The key must currently be available.
func (s *CustodyService) Take(sess *Session, keyUUID, employeeUUID string) (*models.CustodyEvent, error) {
	return s.transition(sess, models.CustodyTake, keyUUID, employeeUUID)
}

// Return records keyUUID coming back from employeeUUID, who must be the holder
// recorded by the latest take.
func (s *CustodyService) Return(sess *Session, keyUUID, employeeUUID string) (*models.CustodyEvent, error) {
	return s.transition(sess, models.CustodyReturn, keyUUID, employeeUUID)
}

func (s *CustodyService) transition(sess *Session, action models.CustodyAction, keyUUID, employeeUUID string) (*models.CustodyEvent, error) {
	log := logger.Component("custody").WithFields(logrus.Fields{
		"action":        action,
		"key_uuid":      keyUUID,
		"employee_uuid": employeeUUID,
	})

	if err := RequireAdmin(sess); err != nil {
		s.rejected(log, err)
		return nil, err
	}
	log = log.WithField("operator", sess.Username)

	var (
		event    models.CustodyEvent
		key      models.Key
		employee models.Employee
	)
	err := s.store.WriteThen(func(tx *gorm.DB) error {
		var err error
		if key, err = findKey(tx, keyUUID); err != nil {
			return err
		}
		if employee, err = findEmployee(tx, employeeUUID); err != nil {
			return err
		}

		ledger := s.ledger.WithTx(tx)
		state, err := Project(ledger.EventsFor(keyUUID))
		if err != nil {
			return err
		}
		if err := checkTransition(action, state, employeeUUID); err != nil {
			return err
		}

		event = models.CustodyEvent{KeyUUID: keyUUID, EmployeeUUID: employeeUUID, Action: action}
		if err := ledger.Append(&event); err != nil {
			return err
		}
		key.Available = action == models.CustodyReturn
		if err := tx.Model(&models.Key{}).Where("id = ?", key.ID).Update("available", key.Available).Error; err != nil {
			return fmt.Errorf("update key availability: %w", err)
		}
		return nil
	}, func() {
		// Under the writer lock so a concurrent Reconcile cannot interleave.
		if action == models.CustodyTake {
			metrics.AdjustKeysIssued(1)
		} else {
			metrics.AdjustKeysIssued(-1)
		}
	})
	if err != nil {
		s.rejected(log, err)
		return nil, err
	}

	metrics.IncTransition(string(action))
	log.WithField("sequence", event.Sequence).Info("custody transition recorded")
	if s.notifier != nil {
		s.notifier.NotifyCustody(CustodyNotice{Event: event, Key: key, Employee: employee})
	}
	return &event, nil
}

func checkTransition(action models.CustodyAction, state KeyState, employeeUUID string) error {
	switch action {
	case models.CustodyTake:
		if state.Held {
			return ErrKeyUnavailable
		}
	case models.CustodyReturn:
		if !state.Held {
			return ErrKeyAlreadyAvailable
		}
		if state.EmployeeUUID != employeeUUID {
			return ErrWrongHolder
		}
	}
	return nil
}

func (s *CustodyService) rejected(log *logrus.Entry, err error) {
	metrics.IncRejection(rejectionReason(err))
	if errors.Is(err, ErrLedgerCorrupt) {
		log.WithError(err).Error("custody transition refused: ledger inconsistent")
		return
	}
	log.WithError(err).Warn("custody transition rejected")
}

// Holder derives the state of keyUUID purely from the ledger.
func (s *CustodyService) Holder(keyUUID string) (KeyState, error) {
	if _, err := findKey(s.store.DB(), keyUUID); err != nil {
		return KeyState{}, err
	}
	return Project(s.ledger.EventsFor(keyUUID))
}

// ListIssued returns every key whose latest event is a take, ordered by key
// name. A non-empty employeeUUID keeps only keys held by that employee.
func (s *CustodyService) ListIssued(employeeUUID string) ([]IssuedKey, error) {
	issued := make([]IssuedKey, 0)
	err := s.store.Read(func(tx *gorm.DB) error {
		var keys []models.Key
		if err := tx.Order("name asc, id asc").Find(&keys).Error; err != nil {
			return fmt.Errorf("list keys: %w", err)
		}
		employees, err := employeeIndex(tx)
		if err != nil {
			return err
		}

		ledger := s.ledger.WithTx(tx)
		for _, key := range keys {
			latest, err := ledger.LatestEventFor(key.UUID)
			if err != nil {
				return err
			}
			if latest == nil || latest.Action != models.CustodyTake {
				continue
			}
			if employeeUUID != "" && latest.EmployeeUUID != employeeUUID {
				continue
			}
			issued = append(issued, IssuedKey{Key: key, Event: *latest, Employee: employees[latest.EmployeeUUID]})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// ListHistory returns the ledger newest first. A non-empty term keeps entries
// whose key name or description, or employee name or card id, contains it,
// ignoring case.
func (s *CustodyService) ListHistory(term string) ([]HistoryEntry, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	history := make([]HistoryEntry, 0)
	err := s.store.Read(func(tx *gorm.DB) error {
		keys, err := keyIndex(tx)
		if err != nil {
			return err
		}
		employees, err := employeeIndex(tx)
		if err != nil {
			return err
		}

		for event, err := range s.ledger.WithTx(tx).Newest() {
			if err != nil {
				return err
			}
			entry := HistoryEntry{Event: event, Key: keys[event.KeyUUID], Employee: employees[event.EmployeeUUID]}
			if needle != "" && !entry.matches(needle) {
				continue
			}
			history = append(history, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (e HistoryEntry) matches(needle string) bool {
	var fields []string
	if e.Key != nil {
		fields = append(fields, e.Key.Name, e.Key.Description)
	}
	if e.Employee != nil {
		fields = append(fields, e.Employee.Name, e.Employee.CardID)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

// VerifyProjection re-derives every key from the ledger and reports keys whose
// cached availability flag disagrees.
func (s *CustodyService) VerifyProjection() ([]ProjectionMismatch, error) {
	mismatches, _, err := verifyProjection(s.store.DB(), s.ledger)
	return mismatches, err
}

func verifyProjection(db *gorm.DB, ledger *LedgerService) ([]ProjectionMismatch, int, error) {
	var keys []models.Key
	if err := db.Order("id asc").Find(&keys).Error; err != nil {
		return nil, 0, fmt.Errorf("list keys: %w", err)
	}

	var mismatches []ProjectionMismatch
	held := 0
	for _, key := range keys {
		state, err := Project(ledger.EventsFor(key.UUID))
		if err != nil {
			return nil, 0, fmt.Errorf("key %s: %w", key.UUID, err)
		}
		if state.Held {
			held++
		}
		if key.Available != state.Available() {
			mismatches = append(mismatches, ProjectionMismatch{KeyUUID: key.UUID, Cached: key.Available, Derived: state})
		}
	}
	return mismatches, held, nil
}

// Reconcile rewrites any cached availability flag that disagrees with the
// ledger and returns the number of keys repaired.
func (s *CustodyService) Reconcile() (int, error) {
	log := logger.Component("custody")
	repaired, held := 0, 0
	err := s.store.WriteThen(func(tx *gorm.DB) error {
		mismatches, issued, err := verifyProjection(tx, s.ledger.WithTx(tx))
		if err != nil {
			return err
		}
		held = issued
		for _, m := range mismatches {
			if err := tx.Model(&models.Key{}).Where("uuid = ?", m.KeyUUID).Update("available", m.Derived.Available()).Error; err != nil {
				return fmt.Errorf("repair key %s: %w", m.KeyUUID, err)
			}
			log.WithFields(logrus.Fields{
				"key_uuid":       m.KeyUUID,
				"cached":         m.Cached,
				"derived_holder": m.Derived.EmployeeUUID,
			}).Warn("repaired key availability from ledger")
		}
		repaired = len(mismatches)
		return nil
	}, func() {
		metrics.SetKeysIssued(held)
	})
	if err != nil {
		return 0, err
	}
	metrics.AddProjectionDrift(repaired)
	return repaired, nil
}

func findKey(db *gorm.DB, keyUUID string) (models.Key, error) {
	var key models.Key
	err := db.Where("uuid = ?", keyUUID).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Key{}, ErrKeyNotFound
	}
	if err != nil {
		return models.Key{}, fmt.Errorf("find key: %w", err)
	}
	return key, nil
}

func findEmployee(db *gorm.DB, employeeUUID string) (models.Employee, error) {
	var employee models.Employee
	err := db.Where("uuid = ?", employeeUUID).First(&employee).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Employee{}, ErrEmployeeNotFound
	}
	if err != nil {
		return models.Employee{}, fmt.Errorf("find employee: %w", err)
	}
	return employee, nil
}

func keyIndex(db *gorm.DB) (map[string]*models.Key, error) {
	var keys []models.Key
	if err := db.Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	index := make(map[string]*models.Key, len(keys))
	for i := range keys {
		index[keys[i].UUID] = &keys[i]
	}
	return index, nil
}

func employeeIndex(db *gorm.DB) (map[string]*models.Employee, error) {
	var employees []models.Employee
	if err := db.Find(&employees).Error; err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	index := make(map[string]*models.Employee, len(employees))
	for i := range employees {
		index[employees[i].UUID] = &employees[i]
	}
	return index, nil
}
