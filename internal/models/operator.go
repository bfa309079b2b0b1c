package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Operator roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Operator is a login account for the key desk. Only admins may change the
// directory or record custody transitions.
type Operator struct {
	ID           uint       `json:"-" gorm:"primaryKey"`
	UUID         string     `json:"uuid" gorm:"uniqueIndex"`
	Username     string     `json:"username" gorm:"uniqueIndex"`
	PasswordHash string     `json:"-"` // Never serialize password hash
	Role         string     `json:"role" gorm:"default:'user'"`
	Enabled      bool       `json:"enabled" gorm:"default:true"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SetPassword hashes and sets the operator's password.
func (o *Operator) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	o.PasswordHash = string(hash)
	return nil
}

// CheckPassword compares the provided password with the stored hash.
func (o *Operator) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(o.PasswordHash), []byte(password))
	return err == nil
}

// IsAdmin reports whether the operator holds the admin role.
func (o *Operator) IsAdmin() bool {
	return o.Role == RoleAdmin
}
