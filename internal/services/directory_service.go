package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Wikid82/keyroom/internal/logger"
	"github.com/Wikid82/keyroom/internal/models"
)

// DirectoryService holds the employee and key catalogs.
type DirectoryService struct {
	store  *Store
	ledger *LedgerService
}

func NewDirectoryService(store *Store, ledger *LedgerService) *DirectoryService {
	return &DirectoryService{store: store, ledger: ledger}
}

// CreateEmployee adds an employee. The card id must not belong to anyone else.
func (s *DirectoryService) CreateEmployee(sess *Session, name, cardID, department string) (*models.Employee, error) {
	if err := RequireAdmin(sess); err != nil {
		return nil, err
	}
	employee := models.Employee{
		Name:       strings.TrimSpace(name),
		CardID:     cardID,
		Department: strings.TrimSpace(department),
	}
	if err := validateEmployee(&employee); err != nil {
		return nil, err
	}

	err := s.store.Write(func(tx *gorm.DB) error {
		if err := ensureCardFree(tx, employee.CardID, ""); err != nil {
			return err
		}
		employee.UUID = uuid.New().String()
		if err := tx.Create(&employee).Error; err != nil {
			return fmt.Errorf("create employee: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log(sess).WithField("employee_uuid", employee.UUID).Info("employee created")
	return &employee, nil
}

// UpdateEmployee replaces an employee's name, card id and department.
func (s *DirectoryService) UpdateEmployee(sess *Session, employeeUUID, name, cardID, department string) (*models.Employee, error) {
	if err := RequireAdmin(sess); err != nil {
		return nil, err
	}

	var employee models.Employee
	err := s.store.Write(func(tx *gorm.DB) error {
		var err error
		if employee, err = findEmployee(tx, employeeUUID); err != nil {
			return err
		}
		employee.Name = strings.TrimSpace(name)
		employee.CardID = cardID
		employee.Department = strings.TrimSpace(department)
		if err := validateEmployee(&employee); err != nil {
			return err
		}
		if err := ensureCardFree(tx, employee.CardID, employee.UUID); err != nil {
			return err
		}
		if err := tx.Save(&employee).Error; err != nil {
			return fmt.Errorf("update employee: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log(sess).WithField("employee_uuid", employee.UUID).Info("employee updated")
	return &employee, nil
}

// DeleteEmployee removes an employee. Ledger entries keep their reference.
func (s *DirectoryService) DeleteEmployee(sess *Session, employeeUUID string) error {
	if err := RequireAdmin(sess); err != nil {
		return err
	}

	err := s.store.Write(func(tx *gorm.DB) error {
		result := tx.Where("uuid = ?", employeeUUID).Delete(&models.Employee{})
		if result.Error != nil {
			return fmt.Errorf("delete employee: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrEmployeeNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log(sess).WithField("employee_uuid", employeeUUID).Info("employee deleted")
	return nil
}

// CreateKey adds a key to the pool. New keys are always available.
func (s *DirectoryService) CreateKey(sess *Session, name, description string) (*models.Key, error) {
	if err := RequireAdmin(sess); err != nil {
		return nil, err
	}
	key := models.Key{
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Available:   true,
	}
	if err := validateKey(&key); err != nil {
		return nil, err
	}

	err := s.store.Write(func(tx *gorm.DB) error {
		key.UUID = uuid.New().String()
		if err := tx.Create(&key).Error; err != nil {
			return fmt.Errorf("create key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log(sess).WithField("key_uuid", key.UUID).Info("key created")
	return &key, nil
}

// UpdateKey changes a key's name and description. Availability is owned by the
// ledger and is left untouched.
func (s *DirectoryService) UpdateKey(sess *Session, keyUUID, name, description string) (*models.Key, error) {
	if err := RequireAdmin(sess); err != nil {
		return nil, err
	}

	var key models.Key
	err := s.store.Write(func(tx *gorm.DB) error {
		var err error
		if key, err = findKey(tx, keyUUID); err != nil {
			return err
		}
		key.Name = strings.TrimSpace(name)
		key.Description = strings.TrimSpace(description)
		if err := validateKey(&key); err != nil {
			return err
		}
		if err := tx.Model(&models.Key{}).Where("id = ?", key.ID).Updates(map[string]interface{}{
			"name":        key.Name,
			"description": key.Description,
		}).Error; err != nil {
			return fmt.Errorf("update key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log(sess).WithField("key_uuid", key.UUID).Info("key updated")
	return &key, nil
}

// DeleteKey removes a key that is not currently held. Holding is decided from
// the ledger, not the cached flag.
func (s *DirectoryService) DeleteKey(sess *Session, keyUUID string) error {
	if err := RequireAdmin(sess); err != nil {
		return err
	}

	err := s.store.Write(func(tx *gorm.DB) error {
		key, err := findKey(tx, keyUUID)
		if err != nil {
			return err
		}
		state, err := Project(s.ledger.WithTx(tx).EventsFor(keyUUID))
		if err != nil {
			return err
		}
		if state.Held {
			return ErrKeyInUse
		}
		if err := tx.Delete(&key).Error; err != nil {
			return fmt.Errorf("delete key: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log(sess).WithField("key_uuid", keyUUID).Info("key deleted")
	return nil
}

// GetEmployee looks up an employee by UUID.
func (s *DirectoryService) GetEmployee(employeeUUID string) (*models.Employee, error) {
	employee, err := findEmployee(s.store.DB(), employeeUUID)
	if err != nil {
		return nil, err
	}
	return &employee, nil
}

// GetEmployeeByCardID looks up an employee by exact card id.
func (s *DirectoryService) GetEmployeeByCardID(cardID string) (*models.Employee, error) {
	var employee models.Employee
	err := s.store.DB().Where("card_id = ?", cardID).First(&employee).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find employee by card: %w", err)
	}
	return &employee, nil
}

// GetKey looks up a key by UUID.
func (s *DirectoryService) GetKey(keyUUID string) (*models.Key, error) {
	key, err := findKey(s.store.DB(), keyUUID)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListEmployees returns all employees sorted by name.
func (s *DirectoryService) ListEmployees() ([]models.Employee, error) {
	employees := make([]models.Employee, 0)
	if err := s.store.DB().Order("name asc, id asc").Find(&employees).Error; err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	return employees, nil
}

// ListKeys returns all keys sorted by name, with their availability.
func (s *DirectoryService) ListKeys() ([]models.Key, error) {
	keys := make([]models.Key, 0)
	if err := s.store.DB().Order("name asc, id asc").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (s *DirectoryService) log(sess *Session) *logrus.Entry {
	return logger.Component("directory").WithField("operator", sess.Username)
}

func ensureCardFree(tx *gorm.DB, cardID, exceptUUID string) error {
	query := tx.Model(&models.Employee{}).Where("card_id = ?", cardID)
	if exceptUUID != "" {
		query = query.Where("uuid <> ?", exceptUUID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("check card id: %w", err)
	}
	if count > 0 {
		return ErrDuplicateCardID
	}
	return nil
}

func validateEmployee(e *models.Employee) error {
	if err := required("name", e.Name); err != nil {
		return err
	}
	if strings.TrimSpace(e.CardID) == "" {
		return &ValidationError{Field: "card_id", Message: "is required"}
	}
	return nil
}

func validateKey(k *models.Key) error {
	if err := required("name", k.Name); err != nil {
		return err
	}
	return required("description", k.Description)
}
