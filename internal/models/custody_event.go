package models

import (
	"fmt"
	"time"
)

// CustodyAction is the kind of transition recorded in the ledger.
type CustodyAction string

const (
	// CustodyTake records a key leaving the pool.
	CustodyTake CustodyAction = "take"
	// CustodyReturn records a key coming back.
	CustodyReturn CustodyAction = "return"
)

// Valid reports whether a is a known action.
func (a CustodyAction) Valid() bool {
	return a == CustodyTake || a == CustodyReturn
}

// CustodyEvent is one immutable ledger entry. KeyUUID and EmployeeUUID are plain
// references and may dangle once the key or employee is deleted.
type CustodyEvent struct {
	ID           uint          `json:"-" gorm:"primaryKey"`
	UUID         string        `json:"uuid" gorm:"uniqueIndex"`
	KeyUUID      string        `json:"key_uuid" gorm:"index;not null"`
	EmployeeUUID string        `json:"employee_uuid" gorm:"index;not null"`
	Action       CustodyAction `json:"action" gorm:"not null"`
	Timestamp    time.Time     `json:"timestamp" gorm:"index;not null"`
	Sequence     uint64        `json:"sequence" gorm:"uniqueIndex;not null"`
}

// Before reports whether e precedes other in ledger order: timestamp first,
// then sequence.
func (e CustodyEvent) Before(other CustodyEvent) bool {
	if !e.Timestamp.Equal(other.Timestamp) {
		return e.Timestamp.Before(other.Timestamp)
	}
	return e.Sequence < other.Sequence
}

func (e CustodyEvent) String() string {
	return fmt.Sprintf("%s key=%s employee=%s seq=%d", e.Action, e.KeyUUID, e.EmployeeUUID, e.Sequence)
}
