package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/database"
)

type recordingNotifier struct {
	mu     sync.Mutex
	locked []string
}

func (n *recordingNotifier) AccountLocked(_ context.Context, identity *models.Identity, _ models.LockoutRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locked = append(n.locked, identity.Username)
}

func setup(t *testing.T) (*database.Store, *models.Identity) {
	t.Helper()
	ctx := context.Background()
	store, err := database.Open(ctx, t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	alice, err := store.CreateIdentity(ctx, &models.Identity{
		Username:     "alice",
		PasswordHash: "hash",
		AuthMode:     models.AuthLocal,
		ProfileID:    3,
		BranchID:     1,
	})
	require.NoError(t, err)
	return store, alice
}

func TestFifthFailureLocks(t *testing.T) {
	store, alice := setup(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}
	m := New(store, WithNotifier(notifier))

	for i := 1; i <= 4; i++ {
		rec, locked, err := m.RecordFailure(ctx, alice, "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, locked)
		assert.Equal(t, 5-i, m.AttemptsRemaining(rec))
	}

	rec, locked, err := m.RecordFailure(ctx, alice, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, 0, m.AttemptsRemaining(rec))
	assert.Equal(t, []string{"alice"}, notifier.locked)

	state, err := m.State(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, state.IsLocked)
	assert.Equal(t, models.LockReasonTooManyAttempts, state.Reason)

	entries, err := store.ListActivity(ctx, alice.ID, 20)
	require.NoError(t, err)
	var failed, lockedEntries int
	for _, e := range entries {
		switch e.Action {
		case models.ActionLoginFailed:
			failed++
		case models.ActionAccountLocked:
			lockedEntries++
			assert.Equal(t, models.SystemActor, e.Actor)
		}
	}
	assert.Equal(t, 5, failed)
	assert.Equal(t, 1, lockedEntries)
}

func TestSuccessResetsAndUnlockIsIdempotent(t *testing.T) {
	store, alice := setup(t)
	ctx := context.Background()
	m := New(store)

	for i := 0; i < 3; i++ {
		_, _, err := m.RecordFailure(ctx, alice, "")
		require.NoError(t, err)
	}

	// Unlocking an unlocked account changes nothing, including the counter.
	current, err := store.IdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	v, err := m.Unlock(ctx, alice.ID, 1, current.Version)
	require.NoError(t, err)
	assert.Equal(t, current.Version, v)

	state, err := m.State(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, state.FailedLogins)

	require.NoError(t, m.RecordSuccess(ctx, alice, ""))
	state, err = m.State(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, state.FailedLogins)
}

func TestAdminLockAndUnlock(t *testing.T) {
	store, alice := setup(t)
	ctx := context.Background()
	m := New(store, WithThreshold(3))

	_, err := m.Lock(ctx, alice.ID, 7, "", alice.Version)
	assert.ErrorIs(t, err, apierr.ErrValidation)

	v, err := m.Lock(ctx, alice.ID, 7, "on leave", alice.Version)
	require.NoError(t, err)

	// Locked accounts refuse success transitions.
	err = m.RecordSuccess(ctx, alice, "")
	assert.ErrorIs(t, err, apierr.ErrAccountLocked)

	_, err = m.Unlock(ctx, alice.ID, 7, alice.Version)
	assert.ErrorIs(t, err, apierr.ErrConflict)

	_, err = m.Unlock(ctx, alice.ID, 7, v)
	require.NoError(t, err)

	state, err := m.State(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, state.IsLocked)
	assert.Zero(t, state.FailedLogins)

	entries, err := store.ListActivity(ctx, alice.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, models.ActionAccountUnlocked, entries[0].Action)
	assert.Equal(t, int64(7), entries[0].Actor)
}

type failingStore struct {
	*database.Store
}

func (failingStore) IncrementFailedLogins(context.Context, int64, int, string, time.Time) (models.LockoutRecord, bool, error) {
	return models.LockoutRecord{}, false, errors.New("disk I/O error")
}

func TestRecordFailureStoreError(t *testing.T) {
	store, alice := setup(t)
	m := New(failingStore{store})

	_, locked, err := m.RecordFailure(context.Background(), alice, "")
	assert.False(t, locked)
	assert.ErrorIs(t, err, apierr.ErrStore)
}
