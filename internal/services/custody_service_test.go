package services

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/keyroom/internal/models"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []CustodyNotice
}

func (n *recordingNotifier) NotifyCustody(notice CustodyNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func TestCustodyService_TakeReturnScenario(t *testing.T) {
	env := newTestEnv(t)
	e1 := env.employee(t, "E1", "A12345")
	e2 := env.employee(t, "E2", "B67890")
	k1 := env.key(t, "K1")
	require.True(t, k1.Available)

	ev, err := env.custody.Take(adminSession, k1.UUID, e1.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.CustodyTake, ev.Action)
	assert.False(t, env.reloadKey(t, k1.UUID).Available)
	assert.Len(t, env.ledgerEvents(t), 1)
	env.requireProjectionConsistent(t)

	_, err = env.custody.Take(adminSession, k1.UUID, e1.UUID)
	assert.ErrorIs(t, err, ErrKeyUnavailable)
	assert.Len(t, env.ledgerEvents(t), 1)

	_, err = env.custody.Return(adminSession, k1.UUID, e2.UUID)
	assert.ErrorIs(t, err, ErrWrongHolder)
	assert.Len(t, env.ledgerEvents(t), 1)
	assert.False(t, env.reloadKey(t, k1.UUID).Available)

	_, err = env.custody.Return(adminSession, k1.UUID, e1.UUID)
	require.NoError(t, err)
	assert.True(t, env.reloadKey(t, k1.UUID).Available)

	events := env.ledgerEvents(t)
	require.Len(t, events, 2)
	assert.Equal(t, models.CustodyTake, events[0].Action)
	assert.Equal(t, models.CustodyReturn, events[1].Action)
	assert.True(t, events[0].Before(events[1]))
	env.requireProjectionConsistent(t)

	_, err = env.custody.Return(adminSession, k1.UUID, e1.UUID)
	assert.ErrorIs(t, err, ErrKeyAlreadyAvailable)
	assert.Len(t, env.ledgerEvents(t), 2)
}

func TestCustodyService_RejectionsDoNotMutate(t *testing.T) {
	env := newTestEnv(t)
	emp := env.employee(t, "E1", "A1")
	key := env.key(t, "K1")

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{"take unknown key", func() error { _, err := env.custody.Take(adminSession, "nope", emp.UUID); return err }, ErrKeyNotFound},
		{"take unknown employee", func() error { _, err := env.custody.Take(adminSession, key.UUID, "nope"); return err }, ErrEmployeeNotFound},
		{"return unknown key", func() error { _, err := env.custody.Return(adminSession, "nope", emp.UUID); return err }, ErrKeyNotFound},
		{"return unknown employee", func() error { _, err := env.custody.Return(adminSession, key.UUID, "nope"); return err }, ErrEmployeeNotFound},
		{"return available key", func() error { _, err := env.custody.Return(adminSession, key.UUID, emp.UUID); return err }, ErrKeyAlreadyAvailable},
		{"take without admin", func() error { _, err := env.custody.Take(clerkSession, key.UUID, emp.UUID); return err }, ErrUnauthorized},
		{"take without session", func() error { _, err := env.custody.Take(nil, key.UUID, emp.UUID); return err }, ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.wantErr)
			assert.Empty(t, env.ledgerEvents(t))
			assert.True(t, env.reloadKey(t, key.UUID).Available)
		})
	}
}

func TestCustodyService_ReturnWithoutAdminKeepsHold(t *testing.T) {
	env := newTestEnv(t)
	emp := env.employee(t, "E1", "A1")
	key := env.key(t, "K1")
	_, err := env.custody.Take(adminSession, key.UUID, emp.UUID)
	require.NoError(t, err)

	_, err = env.custody.Return(clerkSession, key.UUID, emp.UUID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	state, err := env.custody.Holder(key.UUID)
	require.NoError(t, err)
	assert.True(t, state.Held)
	assert.Equal(t, emp.UUID, state.EmployeeUUID)
	require.NotNil(t, state.Since)
}

func TestCustodyService_Holder(t *testing.T) {
	env := newTestEnv(t)
	emp := env.employee(t, "E1", "A1")
	key := env.key(t, "K1")

	state, err := env.custody.Holder(key.UUID)
	require.NoError(t, err)
	assert.True(t, state.Available())

	_, err = env.custody.Holder("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = env.custody.Take(adminSession, key.UUID, emp.UUID)
	require.NoError(t, err)
	state, err = env.custody.Holder(key.UUID)
	require.NoError(t, err)
	assert.False(t, state.Available())
}

func TestProject_DetectsBrokenAlternation(t *testing.T) {
	seq := func(actions ...models.CustodyAction) func(func(models.CustodyEvent, error) bool) {
		return func(yield func(models.CustodyEvent, error) bool) {
			for i, a := range actions {
				if !yield(models.CustodyEvent{Action: a, EmployeeUUID: "e", Sequence: uint64(i + 1)}, nil) {
					return
				}
			}
		}
	}

	state, err := Project(seq())
	require.NoError(t, err)
	assert.True(t, state.Available())

	state, err = Project(seq(models.CustodyTake, models.CustodyReturn, models.CustodyTake))
	require.NoError(t, err)
	assert.True(t, state.Held)

	_, err = Project(seq(models.CustodyReturn))
	assert.ErrorIs(t, err, ErrLedgerCorrupt)

	_, err = Project(seq(models.CustodyTake, models.CustodyTake))
	assert.ErrorIs(t, err, ErrLedgerCorrupt)

	_, err = Project(seq("lend"))
	assert.ErrorIs(t, err, ErrLedgerCorrupt)
}

func TestCustodyService_ListIssued(t *testing.T) {
	env := newTestEnv(t)
	e1 := env.employee(t, "Petro", "A12345")
	e2 := env.employee(t, "Maria", "B67890")
	office := env.key(t, "Office 101")
	store := env.key(t, "Store")
	server := env.key(t, "Server room")

	_, err := env.custody.Take(adminSession, office.UUID, e1.UUID)
	require.NoError(t, err)
	_, err = env.custody.Take(adminSession, store.UUID, e2.UUID)
	require.NoError(t, err)
	_, err = env.custody.Take(adminSession, server.UUID, e1.UUID)
	require.NoError(t, err)
	_, err = env.custody.Return(adminSession, server.UUID, e1.UUID)
	require.NoError(t, err)

	all, err := env.custody.ListIssued("")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Office 101", all[0].Key.Name)
	assert.Equal(t, "Store", all[1].Key.Name)
	require.NotNil(t, all[1].Employee)
	assert.Equal(t, "Maria", all[1].Employee.Name)

	mine, err := env.custody.ListIssued(e1.UUID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, office.UUID, mine[0].Key.UUID)
	assert.Equal(t, models.CustodyTake, mine[0].Event.Action)

	none, err := env.custody.ListIssued("unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCustodyService_ListHistory(t *testing.T) {
	env := newTestEnv(t)
	petro := env.employee(t, "Petro Ivanenko", "A12345")
	maria := env.employee(t, "Maria Petrenko", "B67890")
	office, err := env.directory.CreateKey(adminSession, "Office 101", "Room 101 key")
	require.NoError(t, err)
	server, err := env.directory.CreateKey(adminSession, "Server", "Server room key")
	require.NoError(t, err)

	_, err = env.custody.Take(adminSession, office.UUID, petro.UUID)
	require.NoError(t, err)
	_, err = env.custody.Take(adminSession, server.UUID, maria.UUID)
	require.NoError(t, err)
	_, err = env.custody.Return(adminSession, office.UUID, petro.UUID)
	require.NoError(t, err)

	history, err := env.custody.ListHistory("")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.CustodyReturn, history[0].Event.Action, "newest first")
	assert.Equal(t, office.UUID, history[0].Event.KeyUUID)
	assert.Equal(t, office.UUID, history[2].Event.KeyUUID)

	tests := []struct {
		term string
		want int
	}{
		{"OFFICE", 2},
		{"server ROOM", 1},
		{"petrenko", 1},
		{"b678", 1},
		{"a12345", 2},
		{"  ", 3},
		{"nothing matches", 0},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			got, err := env.custody.ListHistory(tt.term)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestCustodyService_NotifiesAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	notifier := &recordingNotifier{}
	custody := NewCustodyService(env.store, env.ledger, notifier)
	emp := env.employee(t, "E1", "A1")
	key := env.key(t, "K1")

	_, err := custody.Take(adminSession, key.UUID, emp.UUID)
	require.NoError(t, err)
	_, err = custody.Take(adminSession, key.UUID, emp.UUID)
	require.Error(t, err)

	require.Len(t, notifier.notices, 1)
	assert.Equal(t, "K1", notifier.notices[0].Key.Name)
	assert.Equal(t, "E1", notifier.notices[0].Employee.Name)
	assert.False(t, notifier.notices[0].Key.Available)
}

func TestCustodyService_ReconcileRepairsDrift(t *testing.T) {
	env := newTestEnv(t)
	emp := env.employee(t, "E1", "A1")
	held := env.key(t, "Held")
	free := env.key(t, "Free")

	_, err := env.custody.Take(adminSession, held.UUID, emp.UUID)
	require.NoError(t, err)

	// Corrupt both cached flags behind the custody engine's back.
	require.NoError(t, env.db.Model(&models.Key{}).Where("uuid = ?", held.UUID).Update("available", true).Error)
	require.NoError(t, env.db.Model(&models.Key{}).Where("uuid = ?", free.UUID).Update("available", false).Error)

	mismatches, err := env.custody.VerifyProjection()
	require.NoError(t, err)
	assert.Len(t, mismatches, 2)

	// Legality is decided by the ledger, not the corrupted cache.
	_, err = env.custody.Take(adminSession, held.UUID, emp.UUID)
	assert.ErrorIs(t, err, ErrKeyUnavailable)

	repaired, err := env.custody.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)
	env.requireProjectionConsistent(t)
	assert.False(t, env.reloadKey(t, held.UUID).Available)
	assert.True(t, env.reloadKey(t, free.UUID).Available)

	repaired, err = env.custody.Reconcile()
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestCustodyService_ReconcileRefusesCorruptLedger(t *testing.T) {
	env := newTestEnv(t)
	emp := env.employee(t, "E1", "A1")
	key := env.key(t, "K1")

	// Bypass the engine: two takes in a row.
	require.NoError(t, env.ledger.Append(&models.CustodyEvent{KeyUUID: key.UUID, EmployeeUUID: emp.UUID, Action: models.CustodyTake}))
	require.NoError(t, env.ledger.Append(&models.CustodyEvent{KeyUUID: key.UUID, EmployeeUUID: emp.UUID, Action: models.CustodyTake}))

	_, err := env.custody.Reconcile()
	assert.ErrorIs(t, err, ErrLedgerCorrupt)

	_, err = env.custody.Return(adminSession, key.UUID, emp.UUID)
	assert.ErrorIs(t, err, ErrLedgerCorrupt)
}

func TestCustodyService_ConcurrentTakesLinearize(t *testing.T) {
	env := newTestEnv(t)
	key := env.key(t, "Contested")
	var employees []*models.Employee
	for i := 0; i < 8; i++ {
		employees = append(employees, env.employee(t, "E", string(rune('A'+i))+"-card"))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for _, emp := range employees {
		wg.Add(1)
		go func(emp *models.Employee) {
			defer wg.Done()
			_, err := env.custody.Take(adminSession, key.UUID, emp.UUID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, ErrKeyUnavailable)
				rejected++
			}
		}(emp)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, len(employees)-1, rejected)
	assert.Len(t, env.ledgerEvents(t), 1)
	env.requireProjectionConsistent(t)
}

func TestCustodyService_SameInstantEventsKeepInsertionOrder(t *testing.T) {
	env := newTestEnv(t)
	frozen := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	env.store.SetClock(func() time.Time { return frozen })
	emp := env.employee(t, "E1", "A1")
	key := env.key(t, "K1")

	for i := 0; i < 3; i++ {
		_, err := env.custody.Take(adminSession, key.UUID, emp.UUID)
		require.NoError(t, err)
		_, err = env.custody.Return(adminSession, key.UUID, emp.UUID)
		require.NoError(t, err)
	}

	latest, err := env.ledger.LatestEventFor(key.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.CustodyReturn, latest.Action)
	assert.True(t, latest.Timestamp.Equal(frozen))
	env.requireProjectionConsistent(t)
}

// TestCustodyService_RandomOperationSequences drives the engine with random
// takes and returns and checks alternation and the cached flags after every step.
func TestCustodyService_RandomOperationSequences(t *testing.T) {
	for _, seed := range []uint64{1, 7, 42} {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			env := newTestEnv(t)
			rng := rand.New(rand.NewPCG(seed, seed*31))

			var keys []*models.Key
			var employees []*models.Employee
			for i := 0; i < 3; i++ {
				keys = append(keys, env.key(t, "K"+string(rune('0'+i))))
				employees = append(employees, env.employee(t, "E"+string(rune('0'+i)), "card-"+string(rune('0'+i))))
			}

			holder := map[string]string{} // model: key uuid -> employee uuid
			accepted := 0

			for step := 0; step < 150; step++ {
				key := keys[rng.IntN(len(keys))]
				emp := employees[rng.IntN(len(employees))]
				before := len(env.ledgerEvents(t))

				if rng.IntN(2) == 0 {
					_, err := env.custody.Take(adminSession, key.UUID, emp.UUID)
					if _, held := holder[key.UUID]; held {
						require.ErrorIs(t, err, ErrKeyUnavailable)
					} else {
						require.NoError(t, err)
						holder[key.UUID] = emp.UUID
						accepted++
					}
				} else {
					_, err := env.custody.Return(adminSession, key.UUID, emp.UUID)
					current, held := holder[key.UUID]
					switch {
					case !held:
						require.ErrorIs(t, err, ErrKeyAlreadyAvailable)
					case current != emp.UUID:
						require.ErrorIs(t, err, ErrWrongHolder)
					default:
						require.NoError(t, err)
						delete(holder, key.UUID)
						accepted++
					}
				}

				events := env.ledgerEvents(t)
				require.Len(t, events, accepted)
				require.LessOrEqual(t, len(events)-before, 1)
				requireAlternation(t, events)
				env.requireProjectionConsistent(t)
			}

			issued, err := env.custody.ListIssued("")
			require.NoError(t, err)
			assert.Len(t, issued, len(holder))
			for _, item := range issued {
				assert.Equal(t, holder[item.Key.UUID], item.Event.EmployeeUUID)
			}
		})
	}
}

func requireAlternation(t *testing.T, events []models.CustodyEvent) {
	t.Helper()
	last := map[string]models.CustodyEvent{}
	for _, ev := range events {
		prev, seen := last[ev.KeyUUID]
		switch {
		case !seen:
			require.Equal(t, models.CustodyTake, ev.Action, "first event for a key must be a take")
		case prev.Action == ev.Action:
			require.Failf(t, "alternation broken", "key %s: %s followed by %s", ev.KeyUUID, prev.Action, ev.Action)
		case ev.Action == models.CustodyReturn:
			require.Equal(t, prev.EmployeeUUID, ev.EmployeeUUID, "returned by the holder")
		}
		last[ev.KeyUUID] = ev
	}
}
