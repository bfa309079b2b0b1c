package models

import (
	"time"
)

// Employee is a person who can hold keys. CardID is the credential read at the
// scanner and is unique across employees (case-sensitive).
type Employee struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	UUID       string    `json:"uuid" gorm:"uniqueIndex"`
	Name       string    `json:"name"`
	CardID     string    `json:"card_id" gorm:"uniqueIndex"`
	Department string    `json:"department"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
