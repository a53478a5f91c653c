// Package lockout implements the failed-login state machine.
//
//	UNLOCKED(n) --failure--> UNLOCKED(n+1)            while n+1 < threshold
//	UNLOCKED(n) --failure--> LOCKED(reason, at, nil)  when n+1 >= threshold
//	UNLOCKED(n) --success--> UNLOCKED(0)
//	LOCKED      --unlock---> UNLOCKED(0)
//
// Counter changes are single statements in the store; nothing here reads and then writes the counter.
package lockout

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/version"
)

const DefaultThreshold = 5

// Store is the persistence the state machine needs.
type Store interface {
	LockoutByUsername(ctx context.Context, username string) (models.LockoutRecord, error)
	IncrementFailedLogins(ctx context.Context, identityID int64, threshold int, reason string, at time.Time) (models.LockoutRecord, bool, error)
	RecordLoginSuccess(ctx context.Context, identityID int64, at time.Time) (bool, error)
	IdentityByID(ctx context.Context, identityID int64) (*models.Identity, error)
	LockIdentity(ctx context.Context, identityID int64, expected version.Token, reason string, lockedBy *int64, at time.Time) (version.Token, error)
	UnlockIdentity(ctx context.Context, identityID int64, expected version.Token) (version.Token, error)
	AppendActivity(ctx context.Context, e models.ActivityEntry) error
}

// Notifier is told about automatic locks.
type Notifier interface {
	AccountLocked(ctx context.Context, identity *models.Identity, rec models.LockoutRecord)
}

type Manager struct {
	store     Store
	threshold int
	logger    *zap.Logger
	notifier  Notifier
	now       func() time.Time
}

type Option func(*Manager)

func WithThreshold(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.threshold = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func New(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		threshold: DefaultThreshold,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Threshold() int {
	return m.threshold
}

// AttemptsRemaining is threshold minus the current count, never negative.
func (m *Manager) AttemptsRemaining(rec models.LockoutRecord) int {
	if r := m.threshold - rec.FailedLogins; r > 0 {
		return r
	}
	return 0
}

// State returns the lockout record of a username.
func (m *Manager) State(ctx context.Context, username string) (models.LockoutRecord, error) {
	return m.store.LockoutByUsername(ctx, username)
}

// RecordFailure applies the failure transition. freshlyLocked is true when this very
// failure locked the account. A store failure is returned as STORE_ERROR; the caller must
// treat the attempt as failed.
func (m *Manager) RecordFailure(ctx context.Context, identity *models.Identity, clientIP string) (models.LockoutRecord, bool, error) {
	now := m.now()
	rec, freshlyLocked, err := m.store.IncrementFailedLogins(ctx, identity.ID, m.threshold, models.LockReasonTooManyAttempts, now)
	if err != nil {
		m.logger.Error("Failed to record login failure",
			zap.String("username", identity.Username),
			zap.Int64("identity_id", identity.ID),
			zap.Error(err))
		return models.LockoutRecord{}, false, apierr.Store(err)
	}

	m.logActivity(ctx, models.ActivityEntry{
		IdentityID:  identity.ID,
		Action:      models.ActionLoginFailed,
		Description: fmt.Sprintf("failed login %d of %d", rec.FailedLogins, m.threshold),
		Actor:       models.SystemActor,
		ClientIP:    clientIP,
		CreatedAt:   now,
	})

	if freshlyLocked {
		m.logger.Warn("Account locked after repeated failures",
			zap.String("username", identity.Username),
			zap.Int64("identity_id", identity.ID),
			zap.Int("failed_logins", rec.FailedLogins),
			zap.String("client_ip", clientIP))

		m.logActivity(ctx, models.ActivityEntry{
			IdentityID:  identity.ID,
			Action:      models.ActionAccountLocked,
			Description: rec.Reason,
			Actor:       models.SystemActor,
			ClientIP:    clientIP,
			CreatedAt:   now,
		})

		if m.notifier != nil {
			m.notifier.AccountLocked(ctx, identity, rec)
		}
	} else {
		m.logger.Info("Login failed",
			zap.String("username", identity.Username),
			zap.Int("failed_logins", rec.FailedLogins),
			zap.String("client_ip", clientIP))
	}

	return rec, freshlyLocked, nil
}

// RecordSuccess resets the counter and stamps the last login. It returns ACCOUNT_LOCKED if the
// account was locked between the lock check and now.
func (m *Manager) RecordSuccess(ctx context.Context, identity *models.Identity, clientIP string) error {
	now := m.now()
	ok, err := m.store.RecordLoginSuccess(ctx, identity.ID, now)
	if err != nil {
		return apierr.Store(err)
	}
	if !ok {
		return apierr.New(apierr.KindAccountLocked, models.LockReasonTooManyAttempts)
	}

	m.logActivity(ctx, models.ActivityEntry{
		IdentityID: identity.ID,
		Action:     models.ActionLoginSucceeded,
		Actor:      identity.ID,
		ClientIP:   clientIP,
		CreatedAt:  now,
	})
	return nil
}

// RecordRefused logs an attempt against a locked account. The counter is not touched.
func (m *Manager) RecordRefused(ctx context.Context, identityID int64, clientIP string) {
	m.logActivity(ctx, models.ActivityEntry{
		IdentityID:  identityID,
		Action:      models.ActionLoginRefused,
		Description: "account is locked",
		Actor:       models.SystemActor,
		ClientIP:    clientIP,
		CreatedAt:   m.now(),
	})
}

// LogProviderError records a directory outage. It is not a failure transition.
func (m *Manager) LogProviderError(ctx context.Context, identityID int64, clientIP string, cause error) {
	m.logActivity(ctx, models.ActivityEntry{
		IdentityID:  identityID,
		Action:      models.ActionProviderError,
		Description: "directory unreachable",
		Actor:       models.SystemActor,
		ClientIP:    clientIP,
		CreatedAt:   m.now(),
	})
	m.logger.Warn("Directory check failed, attempt not counted",
		zap.Int64("identity_id", identityID),
		zap.Error(cause))
}

// Lock is the administrative lock.
func (m *Manager) Lock(ctx context.Context, identityID, actor int64, reason string, expected version.Token) (version.Token, error) {
	if reason == "" {
		return version.Token{}, apierr.Validation("a lock reason is required")
	}
	now := m.now()
	next, err := m.store.LockIdentity(ctx, identityID, expected, reason, &actor, now)
	if err != nil {
		return version.Token{}, err
	}

	m.logger.Info("Account locked by administrator",
		zap.Int64("identity_id", identityID),
		zap.Int64("actor", actor),
		zap.String("reason", reason))
	m.logActivity(ctx, models.ActivityEntry{
		IdentityID:  identityID,
		Action:      models.ActionAccountLocked,
		Description: reason,
		Actor:       actor,
		CreatedAt:   now,
	})
	return next, nil
}

// Unlock clears the lock and resets the counter to 0. Unlocking an account that is not
// locked is a no-op: no error, the counter is left as is, and the current version is returned.
func (m *Manager) Unlock(ctx context.Context, identityID, actor int64, expected version.Token) (version.Token, error) {
	identity, err := m.store.IdentityByID(ctx, identityID)
	if err != nil {
		return version.Token{}, err
	}
	if !identity.IsLocked {
		m.logger.Debug("Unlock requested for an unlocked account", zap.Int64("identity_id", identityID))
		return identity.Version, nil
	}

	next, err := m.store.UnlockIdentity(ctx, identityID, expected)
	if err != nil {
		return version.Token{}, err
	}

	m.logger.Info("Account unlocked",
		zap.Int64("identity_id", identityID),
		zap.Int64("actor", actor))
	m.logActivity(ctx, models.ActivityEntry{
		IdentityID:  identityID,
		Action:      models.ActionAccountUnlocked,
		Description: fmt.Sprintf("unlocked after %d failed logins", identity.FailedLogins),
		Actor:       actor,
		CreatedAt:   m.now(),
	})
	return next, nil
}

// logActivity never fails the caller; a lost entry is reported through the logger.
func (m *Manager) logActivity(ctx context.Context, e models.ActivityEntry) {
	if err := m.store.AppendActivity(ctx, e); err != nil {
		m.logger.Error("Failed to append activity entry",
			zap.Int64("identity_id", e.IdentityID),
			zap.String("action", e.Action),
			zap.Error(err))
	}
}
