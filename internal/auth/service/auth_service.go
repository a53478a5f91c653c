package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/directory"
	"github.com/victorgomez09/suivi/internal/auth/lockout"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/auth/validation"
	"github.com/victorgomez09/suivi/internal/database"
	"github.com/victorgomez09/suivi/internal/database/query"
	"github.com/victorgomez09/suivi/internal/version"
)

// AuthConfig holds the configuration settings for the authentication service.
type AuthConfig struct {
	JWTSecret              []byte        // Secret key used for signing session tokens.
	SessionTTL             time.Duration // Lifetime of a session from its last renewal.
	RenewalWindow          time.Duration // A session may be renewed until this long after its last renewal.
	MaxLoginAttempts       int           // Consecutive failures before the account locks.
	PasswordHistoryLimit   int           // Number of previous passwords that cannot be reused.
	BcryptCost             int           // Cost for new password hashes.
	SessionCleanupInterval time.Duration // Interval at which dead sessions are purged.
}

const (
	DefaultSessionTTL    = 65 * time.Minute
	DefaultRenewalWindow = 100 * time.Minute
)

func (c *AuthConfig) applyDefaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.RenewalWindow <= 0 {
		c.RenewalWindow = DefaultRenewalWindow
	}
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = lockout.DefaultThreshold
	}
	if c.PasswordHistoryLimit <= 0 {
		c.PasswordHistoryLimit = 5
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	if c.SessionCleanupInterval <= 0 {
		c.SessionCleanupInterval = 15 * time.Minute
	}
}

// Store is the credential store used by the service.
type Store interface {
	lockout.Store
	IdentityByUsername(ctx context.Context, username string) (*models.Identity, error)
	CreateIdentity(ctx context.Context, id *models.Identity) (*models.Identity, error)
	SearchIdentities(ctx context.Context, search query.Search, scope ...query.Condition) ([]*models.Identity, error)
	UpdateIdentityProfile(ctx context.Context, identityID int64, expected version.Token, f database.ProfileFields) (version.Token, error)
	SetIdentityStatus(ctx context.Context, identityID int64, expected version.Token, status models.Status) (version.Token, error)
	ChangePasswordHash(ctx context.Context, identityID int64, expected version.Token, oldHash, newHash string, keep int, at time.Time) (version.Token, error)
	PasswordHistory(ctx context.Context, identityID int64, limit int) ([]string, error)
	ListActivity(ctx context.Context, identityID int64, limit int) ([]models.ActivityEntry, error)
	IsSupervisorOf(ctx context.Context, supervisorID, identityID int64) (bool, error)
	Profiles(ctx context.Context) ([]models.Profile, error)
	Branches(ctx context.Context) ([]models.Branch, error)
	CreateBranch(ctx context.Context, name string) (models.Branch, error)
}

// Directory checks credentials of directory-mode identities.
type Directory interface {
	Authenticate(ctx context.Context, username, password string) (*directory.Result, error)
}

// LoginRequest carries one authentication attempt.
type LoginRequest struct {
	Username  string
	Password  string
	ClientIP  string
	UserAgent string
}

// AuthService authenticates identities, issues sessions and manages accounts.
type AuthService struct {
	store     Store
	config    AuthConfig
	lockout   *lockout.Manager
	sessions  *SessionManager
	directory Directory
	notifier  lockout.Notifier
	revoked   []RevocationListener
	validator *validation.PasswordValidator
	logger    *zap.Logger
	now       func() time.Time
	dummyHash []byte
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*AuthService)

func WithDirectory(d Directory) Option {
	return func(s *AuthService) {
		s.directory = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *AuthService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		s.now = now
	}
}

// WithLockNotifier is told whenever repeated failures lock an account.
func WithLockNotifier(n lockout.Notifier) Option {
	return func(s *AuthService) {
		s.notifier = n
	}
}

// WithRevocationListener is told about every logout and every identity whose sessions are
// revoked.
func WithRevocationListener(l RevocationListener) Option {
	return func(s *AuthService) {
		s.revoked = append(s.revoked, l)
	}
}

// NewAuthService wires the lockout state machine and the session manager around store.
// sessions may be a separate backend (Redis); it defaults to store when nil.
func NewAuthService(store Store, sessions SessionStore, config AuthConfig, opts ...Option) (*AuthService, error) {
	config.applyDefaults()
	if len(config.JWTSecret) == 0 {
		return nil, errors.New("jwt secret is required")
	}

	s := &AuthService{
		store:     store,
		config:    config,
		validator: validation.NewPasswordValidator(validation.DefaultPasswordPolicy()),
		logger:    zap.NewNop(),
		now:       time.Now,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lockout = lockout.New(store,
		lockout.WithThreshold(config.MaxLoginAttempts),
		lockout.WithNotifier(s.notifier),
		lockout.WithLogger(s.logger),
		lockout.WithClock(s.now))

	if sessions == nil {
		ss, ok := store.(SessionStore)
		if !ok {
			return nil, errors.New("a session store is required")
		}
		sessions = ss
	}
	s.sessions = newSessionManager(sessions, store, config, s.logger, s.now, s.revoked...)

	hash, err := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), config.BcryptCost)
	if err != nil {
		return nil, err
	}
	s.dummyHash = hash

	return s, nil
}

func (s *AuthService) Config() AuthConfig {
	return s.config
}

func (s *AuthService) Sessions() *SessionManager {
	return s.sessions
}

func (s *AuthService) Lockout() *lockout.Manager {
	return s.lockout
}

func (s *AuthService) Validator() *validation.PasswordValidator {
	return s.validator
}

// Start runs the session cleanup routine until ctx is done or Close is called.
func (s *AuthService) Start(ctx context.Context) {
	go s.sessionCleanupRoutine(ctx)
}

// Close stops the background routines. It is safe to call more than once.
func (s *AuthService) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *AuthService) sessionCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(s.config.SessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Sessions past the renewal window can never come back.
			n, err := s.sessions.store.DeleteExpiredSessions(ctx, s.now().Add(-s.config.RenewalWindow))
			if err != nil {
				s.logger.Error("Error cleaning up sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Debug("Removed dead sessions", zap.Int64("count", n))
			}
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Authenticate checks one credential pair.
//
// The lock state is consulted first; a locked account is refused before any credential check
// and its counter is left alone. Unknown and inactive usernames fail exactly like a wrong
// password, including the time spent hashing. Directory outages are AUTH_PROVIDER_ERROR and
// do not count as failures. Counter and activity effects are committed before returning.
func (s *AuthService) Authenticate(ctx context.Context, req LoginRequest) (*models.Identity, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		s.compareDummy(req.Password)
		return nil, apierr.ErrInvalidCredentials
	}

	rec, err := s.lockout.State(ctx, username)
	switch {
	case errors.Is(err, apierr.ErrNotFound):
		s.compareDummy(req.Password)
		s.logger.Info("Login failed for unknown username", zap.String("username", username), zap.String("client_ip", req.ClientIP))
		return nil, apierr.ErrInvalidCredentials
	case err != nil:
		s.logger.Error("Lockout lookup failed", zap.String("username", username), zap.Error(err))
		return nil, apierr.Store(err)
	}

	identity, err := s.store.IdentityByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			s.compareDummy(req.Password)
			return nil, apierr.ErrInvalidCredentials
		}
		s.logger.Error("Identity lookup failed", zap.String("username", username), zap.Error(err))
		return nil, apierr.Store(err)
	}

	if rec.IsLocked {
		s.lockout.RecordRefused(ctx, identity.ID, req.ClientIP)
		s.logger.Info("Login refused for locked account",
			zap.String("username", identity.Username),
			zap.String("client_ip", req.ClientIP))
		return nil, apierr.New(apierr.KindAccountLocked, rec.Reason)
	}

	if !identity.IsActive() {
		s.compareDummy(req.Password)
		s.logger.Info("Login failed for inactive account", zap.String("username", identity.Username))
		return nil, apierr.ErrInvalidCredentials
	}

	ok, err := s.checkCredentials(ctx, identity, req)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.failed(ctx, identity, req.ClientIP)
	}

	if err := s.lockout.RecordSuccess(ctx, identity, req.ClientIP); err != nil {
		if errors.Is(err, apierr.ErrAccountLocked) {
			return nil, err
		}
		s.logger.Error("Failed to record login success", zap.String("username", identity.Username), zap.Error(err))
		return nil, err
	}

	now := s.now()
	identity.FailedLogins = 0
	identity.LastLoginAt = &now
	identity.LastLoginResult = models.LoginSucceeded
	identity.Version = identity.Version.Next()

	s.logger.Info("Login succeeded",
		zap.String("username", identity.Username),
		zap.String("auth_mode", string(identity.AuthMode)),
		zap.String("client_ip", req.ClientIP))
	return identity, nil
}

// checkCredentials returns false for a credential failure. Provider outages come back as errors.
func (s *AuthService) checkCredentials(ctx context.Context, identity *models.Identity, req LoginRequest) (bool, error) {
	switch identity.AuthMode {
	case models.AuthLocal:
		if identity.PasswordHash == "" {
			s.compareDummy(req.Password)
			return false, nil
		}
		return bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(req.Password)) == nil, nil

	case models.AuthDirectory:
		if s.directory == nil {
			s.logger.Error("Directory identity but no directory is configured", zap.String("username", identity.Username))
			return false, apierr.New(apierr.KindAuthProvider, "directory is not configured")
		}
		res, err := s.directory.Authenticate(ctx, identity.Username, req.Password)
		switch {
		case err == nil:
			if res.DisplayName != "" {
				identity.DisplayName = res.DisplayName
			}
			if res.Title != "" {
				identity.Position = res.Title
			}
			return true, nil
		case errors.Is(err, apierr.ErrInvalidCredentials):
			return false, nil
		default:
			s.lockout.LogProviderError(ctx, identity.ID, req.ClientIP, err)
			return false, apierr.Wrap(apierr.KindAuthProvider, err)
		}
	}
	return false, apierr.Store(errors.New("unknown auth mode " + string(identity.AuthMode)))
}

// failed applies the failure transition and builds the caller-facing error.
func (s *AuthService) failed(ctx context.Context, identity *models.Identity, clientIP string) error {
	rec, freshlyLocked, err := s.lockout.RecordFailure(ctx, identity, clientIP)
	if err != nil {
		return err
	}
	if freshlyLocked || rec.IsLocked {
		return apierr.New(apierr.KindAccountLocked, rec.Reason)
	}
	return &apierr.Error{
		Kind:              apierr.KindInvalidCredentials,
		AttemptsRemaining: s.lockout.AttemptsRemaining(rec),
	}
}

func (s *AuthService) compareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

// Login authenticates and issues a session. Authentication side effects are kept even if
// issuance fails.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*models.Session, string, error) {
	identity, err := s.Authenticate(ctx, req)
	if err != nil {
		return nil, "", err
	}

	sess, token, err := s.sessions.Issue(ctx, identity, req.ClientIP, req.UserAgent)
	if err != nil {
		s.logger.Error("Session issuance failed", zap.String("username", identity.Username), zap.Error(err))
		return nil, "", err
	}
	return sess, token, nil
}

// Logout revokes the session and records it.
func (s *AuthService) Logout(ctx context.Context, sess *models.Session) error {
	if err := s.sessions.Revoke(ctx, sess.ID); err != nil {
		return err
	}
	s.appendActivity(ctx, models.ActivityEntry{
		IdentityID: sess.IdentityID,
		Action:     models.ActionLogout,
		Actor:      sess.IdentityID,
		ClientIP:   sess.ClientIP,
	})
	return nil
}

// CheckReuse reports whether candidate matches one of the identity's recent passwords.
func (s *AuthService) CheckReuse(ctx context.Context, identityID int64, candidate string) (bool, error) {
	history, err := s.store.PasswordHistory(ctx, identityID, s.config.PasswordHistoryLimit)
	if err != nil {
		return false, err
	}
	return validation.CheckReuse(candidate, history), nil
}

func (s *AuthService) appendActivity(ctx context.Context, e models.ActivityEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if err := s.store.AppendActivity(ctx, e); err != nil {
		s.logger.Error("Failed to append activity entry",
			zap.Int64("identity_id", e.IdentityID),
			zap.String("action", e.Action),
			zap.Error(err))
	}
}
