package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
)

// SessionStore persists issued sessions. Implemented by the SQLite store and the Redis store.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	RenewSession(ctx context.Context, id string, renewedAt, expiresAt time.Time) error
	TouchSession(ctx context.Context, id string, at time.Time) error
	RevokeSession(ctx context.Context, id string, at time.Time) error
	RevokeIdentitySessions(ctx context.Context, identityID int64, at time.Time) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

type identityReader interface {
	IdentityByID(ctx context.Context, identityID int64) (*models.Identity, error)
}

// Claims is the signed session surface.
type Claims struct {
	IdentityID         int64  `json:"identity_id"`
	Username           string `json:"username"`
	DisplayName        string `json:"display_name"`
	ProfileID          int64  `json:"profile_id"`
	ProfileName        string `json:"profile_name"`
	BranchID           int64  `json:"branch_id"`
	BranchName         string `json:"branch_name"`
	AccessLevel        int    `json:"access_level"`
	RegistrationNumber string `json:"registration_number"`
	Position           string `json:"position"`
	IsSupervisor       bool   `json:"is_supervisor"`
	SupervisorID       *int64 `json:"supervisor_id,omitempty"`
	jwt.RegisteredClaims
}

// RevocationListener is told when sessions end before their expiry, so long-lived
// connections opened with them can be closed.
type RevocationListener interface {
	SessionRevoked(sessionID string)
	IdentityRevoked(identityID int64)
}

// SessionManager issues, renews, validates and revokes sessions.
type SessionManager struct {
	store      SessionStore
	identities identityReader
	secret     []byte
	ttl        time.Duration
	window     time.Duration
	listeners  []RevocationListener
	logger     *zap.Logger
	now        func() time.Time
}

func newSessionManager(store SessionStore, identities identityReader, config AuthConfig, logger *zap.Logger, now func() time.Time, listeners ...RevocationListener) *SessionManager {
	return &SessionManager{
		store:      store,
		identities: identities,
		secret:     config.JWTSecret,
		ttl:        config.SessionTTL,
		window:     config.RenewalWindow,
		listeners:  listeners,
		logger:     logger,
		now:        now,
	}
}

// RenewalWindow is how long after its last renewal a session may still be renewed.
func (m *SessionManager) RenewalWindow() time.Duration {
	return m.window
}

func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// NeedsRenewal reports whether less than half of the session lifetime is left.
func (m *SessionManager) NeedsRenewal(sess *models.Session) bool {
	return sess.ExpiresAt.Sub(m.now()) < m.ttl/2
}

// Issue creates a session with a fresh random identifier. The identifier is never derived
// from identity attributes and never reused.
func (m *SessionManager) Issue(ctx context.Context, identity *models.Identity, clientIP, userAgent string) (*models.Session, string, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, "", apierr.Store(err)
	}

	now := m.now().UTC().Truncate(time.Millisecond)
	sess := &models.Session{
		ID:                 id,
		IdentityID:         identity.ID,
		Username:           identity.Username,
		DisplayName:        identity.DisplayName,
		ProfileID:          identity.ProfileID,
		ProfileName:        identity.ProfileName,
		BranchID:           identity.BranchID,
		BranchName:         identity.BranchName,
		AccessLevel:        identity.AccessLevel,
		RegistrationNumber: identity.RegistrationNumber,
		Position:           identity.Position,
		IsSupervisor:       identity.IsSupervisor,
		SupervisorID:       identity.SupervisorID,
		IssuedAt:           now,
		RenewedAt:          now,
		ExpiresAt:          now.Add(m.ttl),
		LastUsedAt:         now,
		ClientIP:           clientIP,
		UserAgent:          userAgent,
	}

	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, "", err
	}

	token, err := m.sign(sess)
	if err != nil {
		return nil, "", err
	}

	m.logger.Debug("Session issued",
		zap.Int64("identity_id", identity.ID),
		zap.Time("expires_at", sess.ExpiresAt))
	return sess, token, nil
}

// Renew slides the session: allowed while less than the renewal window has elapsed since the
// last renewal, even if the session expired in between. Otherwise SESSION_EXPIRED.
func (m *SessionManager) Renew(ctx context.Context, sessionID string) (*models.Session, string, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			return nil, "", apierr.ErrSessionExpired
		}
		return nil, "", err
	}
	if sess.RevokedAt != nil {
		return nil, "", apierr.ErrSessionExpired
	}

	now := m.now().UTC().Truncate(time.Millisecond)
	if now.Sub(sess.RenewedAt) >= m.window {
		return nil, "", apierr.ErrSessionExpired
	}

	if err := m.checkIdentity(ctx, sess.IdentityID); err != nil {
		return nil, "", err
	}

	expires := now.Add(m.ttl)
	if err := m.store.RenewSession(ctx, sessionID, now, expires); err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			return nil, "", apierr.ErrSessionExpired
		}
		return nil, "", err
	}
	sess.RenewedAt = now
	sess.ExpiresAt = expires
	sess.LastUsedAt = now

	token, err := m.sign(sess)
	if err != nil {
		return nil, "", err
	}
	return sess, token, nil
}

// Validate checks the token signature, then the stored session: present, not revoked,
// unexpired, and its identity still active and unlocked.
func (m *SessionManager) Validate(ctx context.Context, token string) (*models.Session, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}

	sess, err := m.store.GetSession(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			return nil, apierr.ErrUnauthenticated
		}
		return nil, err
	}
	if sess.RevokedAt != nil {
		return nil, apierr.ErrUnauthenticated
	}

	now := m.now()
	if now.After(sess.ExpiresAt) {
		return nil, apierr.ErrSessionExpired
	}

	if err := m.checkIdentity(ctx, sess.IdentityID); err != nil {
		return nil, err
	}

	if err := m.store.TouchSession(ctx, sess.ID, now); err != nil {
		m.logger.Warn("Failed to touch session", zap.Error(err))
	}
	sess.LastUsedAt = now
	return sess, nil
}

// SessionID returns the session id of a correctly signed token, whatever its expiry. It is used
// to renew sessions that expired inside their renewal window.
func (m *SessionManager) SessionID(token string) (string, error) {
	claims, err := m.parse(token)
	if err != nil {
		return "", err
	}
	return claims.ID, nil
}

// parse checks the signature only; expiry is decided by the stored session.
func (m *SessionManager) parse(token string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !parsed.Valid || claims.ID == "" {
		return nil, apierr.ErrUnauthenticated
	}
	return claims, nil
}

// Revoke ends one session (logout).
func (m *SessionManager) Revoke(ctx context.Context, sessionID string) error {
	if err := m.store.RevokeSession(ctx, sessionID, m.now()); err != nil {
		return err
	}
	for _, l := range m.listeners {
		l.SessionRevoked(sessionID)
	}
	return nil
}

// RevokeIdentity ends every session of an identity.
func (m *SessionManager) RevokeIdentity(ctx context.Context, identityID int64) error {
	err := m.store.RevokeIdentitySessions(ctx, identityID, m.now())
	if err != nil {
		m.logger.Error("Failed to revoke sessions", zap.Int64("identity_id", identityID), zap.Error(err))
	}
	// Connections are closed even when the store failed: the identity is being shut out.
	for _, l := range m.listeners {
		l.IdentityRevoked(identityID)
	}
	return err
}

// Active reports whether sessionID may still be used: present, unrevoked, unexpired and
// belonging to an active, unlocked identity. Unlike Validate it neither needs the token nor
// touches the session.
func (m *SessionManager) Active(ctx context.Context, sessionID string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			return apierr.ErrUnauthenticated
		}
		return err
	}
	if sess.RevokedAt != nil {
		return apierr.ErrUnauthenticated
	}
	if m.now().After(sess.ExpiresAt) {
		return apierr.ErrSessionExpired
	}
	return m.checkIdentity(ctx, sess.IdentityID)
}

func (m *SessionManager) checkIdentity(ctx context.Context, identityID int64) error {
	identity, err := m.identities.IdentityByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			return apierr.ErrUnauthenticated
		}
		return err
	}
	if identity.IsLocked {
		return apierr.New(apierr.KindAccountLocked, identity.LockReason)
	}
	if !identity.IsActive() {
		return apierr.ErrUnauthenticated
	}
	return nil
}

func (m *SessionManager) sign(sess *models.Session) (string, error) {
	claims := Claims{
		IdentityID:         sess.IdentityID,
		Username:           sess.Username,
		DisplayName:        sess.DisplayName,
		ProfileID:          sess.ProfileID,
		ProfileName:        sess.ProfileName,
		BranchID:           sess.BranchID,
		BranchName:         sess.BranchName,
		AccessLevel:        sess.AccessLevel,
		RegistrationNumber: sess.RegistrationNumber,
		Position:           sess.Position,
		IsSupervisor:       sess.IsSupervisor,
		SupervisorID:       sess.SupervisorID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", apierr.Store(err)
	}
	return token, nil
}

// newSessionID returns 32 random bytes, base64url encoded.
func newSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
