package handlers

import (
	"fmt"
	"regexp"
	"testing"

	"gorm.io/gorm"

	"github.com/Wikid82/keyroom/internal/database"
)

var unsafeDSNChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// OpenTestDB creates a migrated SQLite in-memory DB unique per test.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsnName := unsafeDSNChars.ReplaceAllString(t.Name(), "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", dsnName)
	db, err := database.Open(dsn)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}
