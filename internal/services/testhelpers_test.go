package services

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Wikid82/keyroom/internal/database"
	"github.com/Wikid82/keyroom/internal/models"
)

var unsafeDSNChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

var (
	adminSession = &Session{OperatorUUID: "op-admin", Username: "admin", IsAdmin: true}
	clerkSession = &Session{OperatorUUID: "op-user", Username: "user", IsAdmin: false}
)

// setupTestDB opens an in-memory SQLite database unique to the test.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsnName := unsafeDSNChars.ReplaceAllString(t.Name(), "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", dsnName)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

type testEnv struct {
	db        *gorm.DB
	store     *Store
	ledger    *LedgerService
	directory *DirectoryService
	custody   *CustodyService
	identity  *IdentityService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	store := NewStore(db)
	ledger := NewLedgerService(store)
	directory := NewDirectoryService(store, ledger)
	return &testEnv{
		db:        db,
		store:     store,
		ledger:    ledger,
		directory: directory,
		custody:   NewCustodyService(store, ledger, nil),
		identity:  NewIdentityService(directory),
	}
}

func (e *testEnv) employee(t *testing.T, name, card string) *models.Employee {
	t.Helper()
	emp, err := e.directory.CreateEmployee(adminSession, name, card, "IT")
	require.NoError(t, err)
	return emp
}

func (e *testEnv) key(t *testing.T, name string) *models.Key {
	t.Helper()
	key, err := e.directory.CreateKey(adminSession, name, "Key for "+name)
	require.NoError(t, err)
	return key
}

func (e *testEnv) ledgerEvents(t *testing.T) []models.CustodyEvent {
	t.Helper()
	var events []models.CustodyEvent
	for ev, err := range e.ledger.All() {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func (e *testEnv) reloadKey(t *testing.T, keyUUID string) *models.Key {
	t.Helper()
	key, err := e.directory.GetKey(keyUUID)
	require.NoError(t, err)
	return key
}

// requireProjectionConsistent re-derives every key from the ledger and checks
// the cached flags agree.
func (e *testEnv) requireProjectionConsistent(t *testing.T) {
	t.Helper()
	mismatches, err := e.custody.VerifyProjection()
	require.NoError(t, err)
	require.Empty(t, mismatches)
}

// fixedClock returns a clock frozen at start that only moves when advanced.
type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }
