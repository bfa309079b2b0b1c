package models

import (
	"time"
)

// Key is a physical key in the pool.
type Key struct {
	ID          uint   `json:"-" gorm:"primaryKey"`
	UUID        string `json:"uuid" gorm:"uniqueIndex"`
	Name        string `json:"name" gorm:"index"`
	Description string `json:"description"`
	// Available caches the ledger projection for this key. Only the ledger
	// write path changes it.
	Available bool      `json:"available" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
