package database

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
	"github.com/victorgomez09/suivi/internal/database/query"
	"github.com/victorgomez09/suivi/internal/version"
	work "github.com/victorgomez09/suivi/internal/work/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createLocal(t *testing.T, s *Store, username string) *models.Identity {
	t.Helper()
	id, err := s.CreateIdentity(context.Background(), &models.Identity{
		Username:     username,
		PasswordHash: "$2a$10$placeholderplaceholderplaceholderplaceholderpla",
		AuthMode:     models.AuthLocal,
		DisplayName:  username,
		ProfileID:    3,
		BranchID:     1,
	})
	require.NoError(t, err)
	return id
}

func TestCreateIdentityDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	alice := createLocal(t, s, "alice")
	assert.Equal(t, models.StatusActive, alice.Status)
	assert.Equal(t, "employee", alice.ProfileName)
	assert.Equal(t, models.AccessEmployee, alice.AccessLevel)
	assert.Equal(t, "Head office", alice.BranchName)
	assert.Zero(t, alice.FailedLogins)
	assert.False(t, alice.IsLocked)
	assert.Equal(t, version.Initial, alice.Version.Counter())
	require.NotNil(t, alice.PasswordChangedAt)

	byName, err := s.IdentityByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, byName.ID)

	_, err = s.CreateIdentity(ctx, &models.Identity{
		Username: "Alice", PasswordHash: "x", AuthMode: models.AuthLocal, ProfileID: 3, BranchID: 1,
	})
	assert.ErrorIs(t, err, apierr.ErrValidation)

	_, err = s.IdentityByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestDirectoryIdentityHasNoHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateIdentity(ctx, &models.Identity{
		Username: "bob", PasswordHash: "x", AuthMode: models.AuthDirectory, ProfileID: 3, BranchID: 1,
	})
	assert.ErrorIs(t, err, apierr.ErrValidation)

	bob, err := s.CreateIdentity(ctx, &models.Identity{
		Username: "bob", AuthMode: models.AuthDirectory, ProfileID: 3, BranchID: 1,
	})
	require.NoError(t, err)
	assert.Empty(t, bob.PasswordHash)
	assert.Nil(t, bob.PasswordChangedAt)
}

func TestIncrementFailedLoginsLocksAtThreshold(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createLocal(t, s, "alice")
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i < 5; i++ {
		rec, locked, err := s.IncrementFailedLogins(ctx, alice.ID, 5, models.LockReasonTooManyAttempts, at)
		require.NoError(t, err)
		assert.False(t, locked)
		assert.Equal(t, i, rec.FailedLogins)
		assert.False(t, rec.IsLocked)
	}

	rec, locked, err := s.IncrementFailedLogins(ctx, alice.ID, 5, models.LockReasonTooManyAttempts, at)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.True(t, rec.IsLocked)
	assert.Equal(t, 5, rec.FailedLogins)
	assert.Equal(t, models.LockReasonTooManyAttempts, rec.Reason)
	require.NotNil(t, rec.LockedAt)
	assert.True(t, rec.LockedAt.Equal(at))
	assert.Nil(t, rec.LockedBy)

	// A locked row is not incremented further and is not reported as freshly locked.
	rec, locked, err = s.IncrementFailedLogins(ctx, alice.ID, 5, models.LockReasonTooManyAttempts, at)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.True(t, rec.IsLocked)
	assert.Equal(t, 5, rec.FailedLogins)

	ok, err := s.RecordLoginSuccess(ctx, alice.ID, at)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrementFailedLoginsConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createLocal(t, s, "alice")

	const attempts = 25
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		locks int
		errs  []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, locked, err := s.IncrementFailedLogins(ctx, alice.ID, 10, models.LockReasonTooManyAttempts, time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if locked {
				locks++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, locks)

	rec, err := s.LockoutByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.FailedLogins)
	assert.True(t, rec.IsLocked)
}

func TestRecordLoginSuccessResetsCounter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createLocal(t, s, "alice")

	for i := 0; i < 4; i++ {
		_, _, err := s.IncrementFailedLogins(ctx, alice.ID, 5, models.LockReasonTooManyAttempts, time.Now())
		require.NoError(t, err)
	}

	ok, err := s.RecordLoginSuccess(ctx, alice.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.IdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedLogins)
	assert.Equal(t, models.LoginSucceeded, got.LastLoginResult)
	assert.NotNil(t, got.LastLoginAt)
	assert.Equal(t, alice.Version.Counter()+5, got.Version.Counter())
}

func TestUpdateVersionedRejectsStaleVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createLocal(t, s, "alice")

	next, err := s.UpdateIdentityProfile(ctx, alice.ID, alice.Version, ProfileFields{
		DisplayName: "Alice A.", ProfileID: 3, BranchID: 1,
	})
	require.NoError(t, err)
	assert.NotEqual(t, alice.Version, next)

	_, err = s.UpdateIdentityProfile(ctx, alice.ID, alice.Version, ProfileFields{
		DisplayName: "stale", ProfileID: 3, BranchID: 1,
	})
	assert.ErrorIs(t, err, apierr.ErrConflict)

	_, err = s.UpdateIdentityProfile(ctx, 999, next, ProfileFields{ProfileID: 3, BranchID: 1})
	assert.ErrorIs(t, err, apierr.ErrConflict)

	_, err = s.UpdateIdentityProfile(ctx, alice.ID, version.Token{}, ProfileFields{ProfileID: 3, BranchID: 1})
	assert.ErrorIs(t, err, apierr.ErrValidation)

	got, err := s.IdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", got.DisplayName)
	assert.Equal(t, next, got.Version)
}

func TestConcurrentUpdatesOneWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createLocal(t, s, "alice")

	writers := []ProfileFields{
		{DisplayName: "writer one", Email: "one@example.com", Position: "one", ProfileID: 3, BranchID: 1},
		{DisplayName: "writer two", Email: "two@example.com", Position: "two", ProfileID: 2, BranchID: 1},
	}
	results := make([]error, len(writers))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, f := range writers {
		wg.Add(1)
		go func(i int, f ProfileFields) {
			defer wg.Done()
			<-start
			_, results[i] = s.UpdateIdentityProfile(ctx, alice.ID, alice.Version, f)
		}(i, f)
	}
	close(start)
	wg.Wait()

	winner := -1
	for i, err := range results {
		if err == nil {
			require.Equal(t, -1, winner, "both writers succeeded")
			winner = i
			continue
		}
		assert.True(t, errors.Is(err, apierr.ErrConflict), "unexpected error %v", err)
	}
	require.NotEqual(t, -1, winner)

	got, err := s.IdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	w := writers[winner]
	assert.Equal(t, w.DisplayName, got.DisplayName)
	assert.Equal(t, w.Email, got.Email)
	assert.Equal(t, w.Position, got.Position)
	assert.Equal(t, w.ProfileID, got.ProfileID)
	assert.Equal(t, alice.Version.Next(), got.Version)
}

func TestLockAndUnlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createLocal(t, s, "alice")
	admin := int64(42)

	_, _, err := s.IncrementFailedLogins(ctx, alice.ID, 5, models.LockReasonTooManyAttempts, time.Now())
	require.NoError(t, err)
	alice, err = s.IdentityByID(ctx, alice.ID)
	require.NoError(t, err)

	v, err := s.LockIdentity(ctx, alice.ID, alice.Version, "left the company", &admin, time.Now())
	require.NoError(t, err)

	got, err := s.IdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, got.IsLocked)
	assert.Equal(t, "left the company", got.LockReason)
	require.NotNil(t, got.LockedBy)
	assert.Equal(t, admin, *got.LockedBy)

	_, err = s.UnlockIdentity(ctx, alice.ID, v)
	require.NoError(t, err)

	got, err = s.IdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, got.IsLocked)
	assert.Zero(t, got.FailedLogins)
	assert.Empty(t, got.LockReason)
	assert.Nil(t, got.LockedAt)
}

func TestChangePasswordHashTrimsHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createLocal(t, s, "alice")

	v := alice.Version
	prev := alice.PasswordHash
	for i, h := range []string{"h1", "h2", "h3"} {
		var err error
		v, err = s.ChangePasswordHash(ctx, alice.ID, v, prev, h, 2, time.Now().Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		prev = h
	}

	history, err := s.PasswordHistory(ctx, alice.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"h2", "h1"}, history)

	got, err := s.IdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "h3", got.PasswordHash)

	// Stale version leaves both the hash and the history alone.
	_, err = s.ChangePasswordHash(ctx, alice.ID, alice.Version, "h3", "h4", 2, time.Now())
	assert.ErrorIs(t, err, apierr.ErrConflict)
	history, err = s.PasswordHistory(ctx, alice.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"h2", "h1"}, history)
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createLocal(t, s, "alice")
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	sess := &models.Session{
		ID:          "sid-1",
		IdentityID:  alice.ID,
		Username:    "alice",
		ProfileName: "employee",
		AccessLevel: models.AccessEmployee,
		IssuedAt:    now,
		RenewedAt:   now,
		ExpiresAt:   now.Add(65 * time.Minute),
		LastUsedAt:  now,
		ClientIP:    "10.0.0.1",
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, "sid-1", got.ID)
	assert.Equal(t, "alice", got.Username)
	assert.True(t, got.ExpiresAt.Equal(sess.ExpiresAt))
	assert.Nil(t, got.RevokedAt)

	later := now.Add(30 * time.Minute)
	require.NoError(t, s.RenewSession(ctx, "sid-1", later, later.Add(65*time.Minute)))
	got, err = s.GetSession(ctx, "sid-1")
	require.NoError(t, err)
	assert.True(t, got.RenewedAt.Equal(later))

	require.NoError(t, s.RevokeIdentitySessions(ctx, alice.ID, later))
	got, err = s.GetSession(ctx, "sid-1")
	require.NoError(t, err)
	assert.NotNil(t, got.RevokedAt)

	assert.ErrorIs(t, s.RenewSession(ctx, "sid-1", later, later), apierr.ErrNotFound)

	n, err := s.DeleteExpiredSessions(ctx, later.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSession(ctx, "sid-1")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestReportsOnePerAuthorPerDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createLocal(t, s, "alice")

	r, err := s.CreateReport(ctx, &work.Report{AuthorID: alice.ID, ReportDate: "2024-03-01", Summary: "audit"})
	require.NoError(t, err)
	assert.Equal(t, work.ReportDraft, r.Status)

	_, err = s.CreateReport(ctx, &work.Report{AuthorID: alice.ID, ReportDate: "2024-03-01", Summary: "again"})
	assert.ErrorIs(t, err, apierr.ErrValidation)

	reports, err := s.SearchReports(ctx, query.Search{
		Filters: []query.Filter{{Field: "summary", Operator: query.OpLike, Value: "aud"}},
	}, query.Condition{SQL: "r.author_id = ?", Args: []any{alice.ID}})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, r.ID, reports[0].ID)
}

func TestTaskSearchScope(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createLocal(t, s, "alice")
	bob := createLocal(t, s, "bob")

	for _, assignee := range []int64{alice.ID, bob.ID, bob.ID} {
		_, err := s.CreateTask(ctx, &work.Task{
			Title: "inventory", AssigneeID: assignee, CreatedBy: alice.ID, BranchID: 1,
			Status: work.TaskTodo, Priority: work.PriorityNormal,
		})
		require.NoError(t, err)
	}

	tasks, err := s.SearchTasks(ctx, query.Search{}, query.Condition{SQL: "t.assignee_id = ?", Args: []any{bob.ID}})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	_, err = s.SetTaskStatus(ctx, tasks[0].ID, tasks[0].Version, work.TaskDone)
	require.NoError(t, err)
	_, err = s.SetTaskStatus(ctx, tasks[0].ID, tasks[0].Version, work.TaskCancelled)
	assert.ErrorIs(t, err, apierr.ErrConflict)
}

func TestNotificationsOwnerOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createLocal(t, s, "alice")
	bob := createLocal(t, s, "bob")

	n, err := s.CreateNotification(ctx, &work.Notification{
		IdentityID: alice.ID, Kind: work.NotifyTaskAssigned, Title: "New task",
	})
	require.NoError(t, err)

	assert.ErrorIs(t, s.MarkNotificationRead(ctx, n.ID, bob.ID, time.Now()), apierr.ErrNotFound)
	require.NoError(t, s.MarkNotificationRead(ctx, n.ID, alice.ID, time.Now()))

	unread, err := s.ListNotifications(ctx, alice.ID, true, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)

	all, err := s.ListNotifications(ctx, alice.ID, false, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].ReadAt)
}
