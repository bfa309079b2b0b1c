package services

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/keyroom/internal/config"
	"github.com/Wikid82/keyroom/internal/logger"
	"github.com/Wikid82/keyroom/internal/metrics"
	"github.com/Wikid82/keyroom/internal/models"
	"github.com/Wikid82/keyroom/internal/util"
)

// Claims are the JWT claims issued at login.
type Claims struct {
	OperatorUUID string `json:"operator_uuid"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService checks operator credentials and issues session tokens.
type AuthService struct {
	db     *gorm.DB
	config config.Config
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // token id -> expiry
}

func NewAuthService(db *gorm.DB, cfg config.Config) *AuthService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &AuthService{
		db:      db,
		config:  cfg,
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}
}

var (
	dummyHashOnce sync.Once
	dummyOperator models.Operator
)

// burnPasswordCheck spends the same bcrypt work as a real comparison so an
// unknown username is not distinguishable by timing.
func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		_ = dummyOperator.SetPassword(uuid.NewString())
	})
	dummyOperator.CheckPassword(password)
}

// Login verifies the credentials and returns a signed token with its session.
// Unknown user, wrong password and disabled account are all ErrInvalidCredentials.
func (s *AuthService) Login(username, password string) (string, *Session, error) {
	var operator models.Operator
	err := s.db.Where("username = ?", strings.TrimSpace(username)).First(&operator).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, fmt.Errorf("find operator: %w", err)
		}
		burnPasswordCheck(password)
		return "", nil, s.loginFailed(username)
	}
	if !operator.CheckPassword(password) || !operator.Enabled {
		return "", nil, s.loginFailed(username)
	}

	now := s.now()
	operator.LastLogin = &now
	if err := s.db.Model(&operator).Update("last_login", now).Error; err != nil {
		return "", nil, fmt.Errorf("record login: %w", err)
	}

	token, claims, err := s.GenerateToken(&operator)
	if err != nil {
		return "", nil, err
	}
	logger.Component("auth").WithField("operator", operator.Username).Info("operator logged in")
	return token, sessionFromClaims(claims), nil
}

func (s *AuthService) loginFailed(username string) error {
	metrics.IncLoginFailure()
	logger.Component("auth").WithField("username", util.SanitizeForLog(username)).Warn("login rejected")
	return ErrInvalidCredentials
}

// GenerateToken signs an HS256 token for operator.
func (s *AuthService) GenerateToken(operator *models.Operator) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		OperatorUUID: operator.UUID,
		Username:     operator.Username,
		Role:         operator.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   operator.UUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.SessionTTL)),
			Issuer:    "keyroom",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, claims, nil
}

// ValidateToken parses a token and rejects expired or revoked ones.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	s.mu.Lock()
	_, revoked := s.revoked[claims.ID]
	s.mu.Unlock()
	if revoked {
		return nil, errors.New("token revoked")
	}
	return claims, nil
}

// Authenticate validates the token and reloads the operator so a disabled
// account or changed role takes effect immediately.
func (s *AuthService) Authenticate(tokenString string) (*Session, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	operator, err := s.GetOperator(claims.OperatorUUID)
	if err != nil || !operator.Enabled {
		return nil, errors.New("operator not active")
	}
	claims.Role = operator.Role
	claims.Username = operator.Username
	return sessionFromClaims(claims), nil
}

// Logout revokes the token until it would have expired anyway.
func (s *AuthService) Logout(tokenString string) error {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return err
	}
	expiry := s.now().Add(s.config.SessionTTL)
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}

	s.mu.Lock()
	s.revoked[claims.ID] = expiry
	s.mu.Unlock()

	logger.Component("auth").WithField("operator", claims.Username).Info("operator logged out")
	return nil
}

// PurgeRevoked forgets revoked tokens that have expired and returns how many
// were dropped.
func (s *AuthService) PurgeRevoked() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, expiry := range s.revoked {
		if !expiry.After(now) {
			delete(s.revoked, id)
			purged++
		}
	}
	return purged
}

// EnsureOperator creates the operator if the username is free. Existing
// operators are left alone. The bool reports whether one was created.
func (s *AuthService) EnsureOperator(username, password, role string) (*models.Operator, bool, error) {
	var operator models.Operator
	err := s.db.Where("username = ?", username).First(&operator).Error
	if err == nil {
		return &operator, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("find operator: %w", err)
	}

	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, false, &ValidationError{Field: "role", Message: "must be admin or user"}
	}
	if err := required("username", username); err != nil {
		return nil, false, err
	}
	if len(password) < 8 {
		return nil, false, &ValidationError{Field: "password", Message: "must be at least 8 characters"}
	}

	operator = models.Operator{
		UUID:     uuid.NewString(),
		Username: username,
		Role:     role,
		Enabled:  true,
	}
	if err := operator.SetPassword(password); err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}
	if err := s.db.Create(&operator).Error; err != nil {
		return nil, false, fmt.Errorf("create operator: %w", err)
	}
	logger.Component("auth").WithFields(map[string]interface{}{"operator": username, "role": role}).Info("operator created")
	return &operator, true, nil
}

// ResetPassword replaces an operator's password and re-enables the account.
func (s *AuthService) ResetPassword(username, password string) error {
	if len(password) < 8 {
		return &ValidationError{Field: "password", Message: "must be at least 8 characters"}
	}
	var operator models.Operator
	if err := s.db.Where("username = ?", username).First(&operator).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("operator %q %w", username, ErrNotFound)
		}
		return fmt.Errorf("find operator: %w", err)
	}
	if err := operator.SetPassword(password); err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	operator.Enabled = true
	return s.db.Save(&operator).Error
}

// GetOperator looks up an operator by UUID.
func (s *AuthService) GetOperator(operatorUUID string) (*models.Operator, error) {
	var operator models.Operator
	if err := s.db.Where("uuid = ?", operatorUUID).First(&operator).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("operator %w", ErrNotFound)
		}
		return nil, err
	}
	return &operator, nil
}

func sessionFromClaims(claims *Claims) *Session {
	return &Session{
		OperatorUUID: claims.OperatorUUID,
		Username:     claims.Username,
		IsAdmin:      claims.Role == models.RoleAdmin,
		TokenID:      claims.ID,
	}
}
