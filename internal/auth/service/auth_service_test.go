package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/directory"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/auth/validation"
	"github.com/victorgomez09/suivi/internal/database"
	"github.com/victorgomez09/suivi/internal/database/query"
)

const goodPassword = "Str0ng!pass"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	locked []string
}

func (n *recordingNotifier) AccountLocked(_ context.Context, identity *models.Identity, _ models.LockoutRecord) {
	n.mu.Lock()
	n.locked = append(n.locked, identity.Username)
	n.mu.Unlock()
}

type recordingRevocations struct {
	mu         sync.Mutex
	sessions   []string
	identities []int64
}

func (r *recordingRevocations) SessionRevoked(sessionID string) {
	r.mu.Lock()
	r.sessions = append(r.sessions, sessionID)
	r.mu.Unlock()
}

func (r *recordingRevocations) IdentityRevoked(identityID int64) {
	r.mu.Lock()
	r.identities = append(r.identities, identityID)
	r.mu.Unlock()
}

type fixture struct {
	svc   *AuthService
	store *database.Store
	clock *fakeClock
	admin *models.Session
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}

	store, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "suivi.db"), database.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	opts = append(opts, WithClock(clock.Now))
	svc, err := NewAuthService(store, nil, AuthConfig{
		JWTSecret:  []byte("test-secret"),
		BcryptCost: bcrypt.MinCost,
	}, opts...)
	require.NoError(t, err)

	return &fixture{
		svc:   svc,
		store: store,
		clock: clock,
		admin: &models.Session{IdentityID: 0, AccessLevel: models.AccessAdmin, ProfileName: "admin"},
	}
}

func (f *fixture) createLocal(t *testing.T, username string) *models.Identity {
	t.Helper()
	id, err := f.svc.CreateIdentity(context.Background(), f.admin, NewIdentity{
		Username:  username,
		Password:  goodPassword,
		ProfileID: 3,
		BranchID:  1,
	})
	require.NoError(t, err)
	return id
}

func login(f *fixture, username, password string) (*models.Session, string, error) {
	return f.svc.Login(context.Background(), LoginRequest{Username: username, Password: password, ClientIP: "10.0.0.1"})
}

func TestLoginLockoutScenario(t *testing.T) {
	notifier := &recordingNotifier{}
	f := newFixture(t, WithLockNotifier(notifier))
	ctx := context.Background()
	alice := f.createLocal(t, "alice")

	for _, remaining := range []int{4, 3, 2, 1} {
		_, _, err := login(f, "alice", "wrong")
		var apiErr *apierr.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, apierr.KindInvalidCredentials, apiErr.Kind)
		assert.Equal(t, remaining, apiErr.AttemptsRemaining)
	}

	_, _, err := login(f, "alice", "wrong")
	assert.ErrorIs(t, err, apierr.ErrAccountLocked)
	assert.Equal(t, []string{"alice"}, notifier.locked)

	// The correct password does not get through a lock, and the counter stays put.
	_, _, err = login(f, "alice", goodPassword)
	assert.ErrorIs(t, err, apierr.ErrAccountLocked)

	locked, err := f.store.IdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, locked.IsLocked)
	assert.Equal(t, 5, locked.FailedLogins)

	_, err = f.svc.UnlockIdentity(ctx, f.admin, alice.ID, locked.Version)
	require.NoError(t, err)

	first, _, err := login(f, "alice", goodPassword)
	require.NoError(t, err)
	second, _, err := login(f, "alice", goodPassword)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, alice.ID, first.IdentityID)

	activity, err := f.store.ListActivity(ctx, alice.ID, 50)
	require.NoError(t, err)
	actions := make(map[string]int)
	for _, e := range activity {
		actions[e.Action]++
	}
	assert.Equal(t, 5, actions[models.ActionLoginFailed])
	assert.Equal(t, 1, actions[models.ActionAccountLocked])
	assert.Equal(t, 1, actions[models.ActionLoginRefused])
	assert.Equal(t, 1, actions[models.ActionAccountUnlocked])
	assert.Equal(t, 2, actions[models.ActionLoginSucceeded])
}

func TestSuccessResetsCounter(t *testing.T) {
	f := newFixture(t)
	alice := f.createLocal(t, "alice")

	for i := 0; i < 3; i++ {
		_, _, err := login(f, "alice", "wrong")
		require.ErrorIs(t, err, apierr.ErrInvalidCredentials)
	}
	_, _, err := login(f, "alice", goodPassword)
	require.NoError(t, err)

	got, err := f.store.IdentityByID(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedLogins)
	assert.Equal(t, models.LoginSucceeded, got.LastLoginResult)

	_, _, err = login(f, "alice", "wrong")
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 4, apiErr.AttemptsRemaining)
}

func TestUnknownAndInactiveUsersLookLikeBadPasswords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.createLocal(t, "bob")

	_, _, err := login(f, "nobody", goodPassword)
	assert.ErrorIs(t, err, apierr.ErrInvalidCredentials)

	_, _, err = login(f, "", "")
	assert.ErrorIs(t, err, apierr.ErrInvalidCredentials)

	_, err = f.svc.DeactivateIdentity(ctx, f.admin, bob.ID, bob.Version)
	require.NoError(t, err)

	_, _, err = login(f, "bob", goodPassword)
	assert.ErrorIs(t, err, apierr.ErrInvalidCredentials)

	got, err := f.store.IdentityByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedLogins)
}

func TestDirectoryOutageDoesNotCount(t *testing.T) {
	var mu sync.Mutex
	mode := "timeout"
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		m := mode
		mu.Unlock()
		switch m {
		case "timeout":
			select {
			case <-release:
			case <-r.Context().Done():
			}
		case "reject":
			_ = json.NewEncoder(w).Encode(directory.Result{Authenticated: false})
		default:
			_ = json.NewEncoder(w).Encode(directory.Result{Authenticated: true, DisplayName: "Carol C.", Title: "Auditor"})
		}
	}))
	defer srv.Close()
	defer close(release)

	f := newFixture(t, WithDirectory(directory.NewClient(srv.URL, 50*time.Millisecond, nil)))
	ctx := context.Background()
	carol, err := f.svc.CreateIdentity(ctx, f.admin, NewIdentity{
		Username:  "carol",
		AuthMode:  models.AuthDirectory,
		ProfileID: 3,
		BranchID:  1,
	})
	require.NoError(t, err)

	_, _, err = login(f, "carol", "whatever")
	assert.ErrorIs(t, err, apierr.ErrAuthProvider)

	got, err := f.store.IdentityByID(ctx, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedLogins)

	mu.Lock()
	mode = "reject"
	mu.Unlock()
	_, _, err = login(f, "carol", "whatever")
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindInvalidCredentials, apiErr.Kind)
	assert.Equal(t, 4, apiErr.AttemptsRemaining)

	mu.Lock()
	mode = "accept"
	mu.Unlock()
	sess, _, err := login(f, "carol", "whatever")
	require.NoError(t, err)
	assert.Equal(t, "Carol C.", sess.DisplayName)
	assert.Equal(t, "Auditor", sess.Position)
}

func TestSessionRenewalWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createLocal(t, "dave")

	sess, token, err := login(f, "dave", goodPassword)
	require.NoError(t, err)

	got, err := f.svc.Sessions().Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "employee", got.ProfileName)

	// Expired, but still inside the renewal window.
	f.clock.Advance(70 * time.Minute)
	_, err = f.svc.Sessions().Validate(ctx, token)
	assert.ErrorIs(t, err, apierr.ErrSessionExpired)

	renewed, newToken, err := f.svc.Sessions().Renew(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, renewed.ID)
	assert.Equal(t, f.clock.Now().Add(DefaultSessionTTL), renewed.ExpiresAt)

	_, err = f.svc.Sessions().Validate(ctx, newToken)
	require.NoError(t, err)

	f.clock.Advance(DefaultRenewalWindow)
	_, _, err = f.svc.Sessions().Renew(ctx, sess.ID)
	assert.ErrorIs(t, err, apierr.ErrSessionExpired)
}

func TestSessionRejectedAfterLockAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	erin := f.createLocal(t, "erin")

	sess, token, err := login(f, "erin", goodPassword)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, sess))
	_, err = f.svc.Sessions().Validate(ctx, token)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)

	_, token, err = login(f, "erin", goodPassword)
	require.NoError(t, err)

	current, err := f.store.IdentityByID(ctx, erin.ID)
	require.NoError(t, err)
	_, err = f.svc.LockIdentity(ctx, f.admin, erin.ID, "left the company", current.Version)
	require.NoError(t, err)

	_, err = f.svc.Sessions().Validate(ctx, token)
	assert.Error(t, err)

	_, err = f.svc.Sessions().Validate(ctx, token+"x")
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
}

func TestRevocationsReachListeners(t *testing.T) {
	revocations := &recordingRevocations{}
	f := newFixture(t, WithRevocationListener(revocations))
	ctx := context.Background()
	gina := f.createLocal(t, "gina")

	sess, _, err := login(f, "gina", goodPassword)
	require.NoError(t, err)
	require.NoError(t, f.svc.Sessions().Active(ctx, sess.ID))

	require.NoError(t, f.svc.Logout(ctx, sess))
	assert.Equal(t, []string{sess.ID}, revocations.sessions)
	assert.ErrorIs(t, f.svc.Sessions().Active(ctx, sess.ID), apierr.ErrUnauthenticated)

	sess, _, err = login(f, "gina", goodPassword)
	require.NoError(t, err)
	current, err := f.store.IdentityByID(ctx, gina.ID)
	require.NoError(t, err)
	_, err = f.svc.DeactivateIdentity(ctx, f.admin, gina.ID, current.Version)
	require.NoError(t, err)

	assert.Equal(t, []int64{gina.ID}, revocations.identities)
	assert.Error(t, f.svc.Sessions().Active(ctx, sess.ID))
}

func TestActiveSessionExpires(t *testing.T) {
	f := newFixture(t)
	f.createLocal(t, "hank")

	sess, _, err := login(f, "hank", goodPassword)
	require.NoError(t, err)

	f.clock.Advance(f.svc.Sessions().TTL() + time.Minute)
	assert.ErrorIs(t, f.svc.Sessions().Active(context.Background(), sess.ID), apierr.ErrSessionExpired)
}

func TestChangePasswordRejectsReuse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	frank := f.createLocal(t, "frank")

	sess, _, err := login(f, "frank", goodPassword)
	require.NoError(t, err)
	current, err := f.store.IdentityByID(ctx, frank.ID)
	require.NoError(t, err)

	_, err = f.svc.ChangePassword(ctx, sess, goodPassword, goodPassword, current.Version)
	assert.Equal(t, validation.ErrPasswordReused, err)

	_, err = f.svc.ChangePassword(ctx, sess, "nope", "An0ther!pass", current.Version)
	assert.ErrorIs(t, err, apierr.ErrValidation)

	_, err = f.svc.ChangePassword(ctx, sess, goodPassword, "weak", current.Version)
	assert.Equal(t, validation.ErrPasswordTooShort, err)

	next, err := f.svc.ChangePassword(ctx, sess, goodPassword, "An0ther!pass", current.Version)
	require.NoError(t, err)
	assert.Equal(t, current.Version.Next(), next)

	// The same stale version now conflicts.
	_, err = f.svc.ResetPassword(ctx, f.admin, frank.ID, "Th1rd!pass", current.Version)
	assert.ErrorIs(t, err, apierr.ErrConflict)

	_, _, err = login(f, "frank", "An0ther!pass")
	require.NoError(t, err)
}

func TestSearchIdentitiesScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boss := f.createLocal(t, "boss")
	f.createLocal(t, "stranger")

	member, err := f.svc.CreateIdentity(ctx, f.admin, NewIdentity{
		Username:     "member",
		Password:     goodPassword,
		ProfileID:    3,
		BranchID:     1,
		SupervisorID: &boss.ID,
	})
	require.NoError(t, err)

	all, err := f.svc.SearchIdentities(ctx, f.admin, query.Search{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	supervisor := &models.Session{IdentityID: boss.ID, AccessLevel: models.AccessEmployee, IsSupervisor: true}
	team, err := f.svc.SearchIdentities(ctx, supervisor, query.Search{})
	require.NoError(t, err)
	names := []string{}
	for _, id := range team {
		names = append(names, id.Username)
	}
	assert.ElementsMatch(t, []string{"boss", "member"}, names)

	_, err = f.svc.GetIdentity(ctx, supervisor, member.ID)
	assert.NoError(t, err)

	employee := &models.Session{IdentityID: member.ID, AccessLevel: models.AccessEmployee}
	_, err = f.svc.SearchIdentities(ctx, employee, query.Search{})
	assert.ErrorIs(t, err, apierr.ErrForbidden)
	_, err = f.svc.GetIdentity(ctx, employee, boss.ID)
	assert.ErrorIs(t, err, apierr.ErrNotFound)

	_, err = f.svc.CreateIdentity(ctx, employee, NewIdentity{Username: "x", Password: goodPassword, ProfileID: 3, BranchID: 1})
	assert.ErrorIs(t, err, apierr.ErrForbidden)
}
