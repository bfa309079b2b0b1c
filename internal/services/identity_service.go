package services

import (
	"errors"

	"github.com/Wikid82/keyroom/internal/logger"
	"github.com/Wikid82/keyroom/internal/models"
	"github.com/Wikid82/keyroom/internal/util"
)

// IdentityService resolves scanned card identifiers to employees. The scanner
// transport lives outside; this only sees the raw card string.
type IdentityService struct {
	directory *DirectoryService
}

func NewIdentityService(directory *DirectoryService) *IdentityService {
	return &IdentityService{directory: directory}
}

// ResolveByCardID performs one exact, case-sensitive lookup.
func (s *IdentityService) ResolveByCardID(cardID string) (*models.Employee, error) {
	log := logger.Component("identity").WithField("card_id", util.SanitizeForLog(cardID))
	if cardID == "" {
		log.Debug("empty card id")
		return nil, ErrCardNotRecognized
	}

	employee, err := s.directory.GetEmployeeByCardID(cardID)
	if errors.Is(err, ErrEmployeeNotFound) {
		log.Info("card not recognized")
		return nil, ErrCardNotRecognized
	}
	if err != nil {
		return nil, err
	}
	log.WithField("employee_uuid", employee.UUID).Debug("card resolved")
	return employee, nil
}
