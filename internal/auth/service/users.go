package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/auth/validation"
	"github.com/victorgomez09/suivi/internal/database"
	"github.com/victorgomez09/suivi/internal/database/query"
	"github.com/victorgomez09/suivi/internal/version"
)

const maxUsernameLength = 64

// NewIdentity is the input of CreateIdentity. Password is ignored for directory identities.
type NewIdentity struct {
	Username           string          `json:"username"`
	Password           string          `json:"password"`
	AuthMode           models.AuthMode `json:"auth_mode"`
	DisplayName        string          `json:"display_name"`
	Email              string          `json:"email"`
	RegistrationNumber string          `json:"registration_number"`
	Position           string          `json:"position"`
	ProfileID          int64           `json:"profile_id"`
	BranchID           int64           `json:"branch_id"`
	SupervisorID       *int64          `json:"supervisor_id,omitempty"`
	IsSupervisor       bool            `json:"is_supervisor"`
}

func requireAdmin(actor *models.Session) error {
	if actor == nil {
		return apierr.ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return apierr.ErrForbidden
	}
	return nil
}

func validateUsername(username string) error {
	if username == "" {
		return apierr.Validation("username is required")
	}
	if len(username) > maxUsernameLength {
		return apierr.Validation("username must be at most %d characters", maxUsernameLength)
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return apierr.Validation("username must not contain whitespace")
		}
	}
	return nil
}

// CreateIdentity registers a new identity in the UNLOCKED(0) state.
func (s *AuthService) CreateIdentity(ctx context.Context, actor *models.Session, in NewIdentity) (*models.Identity, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	in.Username = strings.TrimSpace(in.Username)
	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	if in.AuthMode == "" {
		in.AuthMode = models.AuthLocal
	}

	identity := &models.Identity{
		Username:           in.Username,
		AuthMode:           in.AuthMode,
		DisplayName:        in.DisplayName,
		Email:              in.Email,
		RegistrationNumber: in.RegistrationNumber,
		Position:           in.Position,
		ProfileID:          in.ProfileID,
		BranchID:           in.BranchID,
		SupervisorID:       in.SupervisorID,
		IsSupervisor:       in.IsSupervisor,
	}

	switch in.AuthMode {
	case models.AuthLocal:
		if err := s.validator.ValidateStrength(in.Password); err != nil {
			return nil, err
		}
		hash, err := s.hash(in.Password)
		if err != nil {
			return nil, err
		}
		identity.PasswordHash = hash
	case models.AuthDirectory:
		if in.Password != "" {
			return nil, apierr.Validation("a directory identity cannot have a local password")
		}
	default:
		return nil, apierr.Validation("unknown auth mode %q", in.AuthMode)
	}

	created, err := s.store.CreateIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Identity created",
		zap.String("username", created.Username),
		zap.String("auth_mode", string(created.AuthMode)),
		zap.Int64("actor", actor.IdentityID))
	s.appendActivity(ctx, models.ActivityEntry{
		IdentityID: created.ID,
		Action:     models.ActionCreated,
		Actor:      actor.IdentityID,
		ClientIP:   actor.ClientIP,
	})
	return created, nil
}

// GetIdentity returns an identity visible to actor: itself, its team for a supervisor, anyone for
// an administrator. Invisible identities are NOT_FOUND.
func (s *AuthService) GetIdentity(ctx context.Context, actor *models.Session, identityID int64) (*models.Identity, error) {
	if actor == nil {
		return nil, apierr.ErrUnauthenticated
	}
	if err := s.canSee(ctx, actor, identityID); err != nil {
		return nil, err
	}
	return s.store.IdentityByID(ctx, identityID)
}

func (s *AuthService) canSee(ctx context.Context, actor *models.Session, identityID int64) error {
	if actor.IsAdmin() || actor.IdentityID == identityID {
		return nil
	}
	if actor.CanSupervise() {
		ok, err := s.store.IsSupervisorOf(ctx, actor.IdentityID, identityID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return apierr.ErrNotFound
}

// SearchIdentities lists identities. Supervisors only see themselves and their team.
func (s *AuthService) SearchIdentities(ctx context.Context, actor *models.Session, search query.Search) ([]*models.Identity, error) {
	if actor == nil {
		return nil, apierr.ErrUnauthenticated
	}
	switch {
	case actor.IsAdmin():
		return s.store.SearchIdentities(ctx, search)
	case actor.CanSupervise():
		return s.store.SearchIdentities(ctx, search, query.Condition{
			SQL:  "(i.supervisor_id = ? OR i.id = ?)",
			Args: []any{actor.IdentityID, actor.IdentityID},
		})
	default:
		return nil, apierr.ErrForbidden
	}
}

// UpdateProfile edits the administrator-managed attributes of an identity.
func (s *AuthService) UpdateProfile(ctx context.Context, actor *models.Session, identityID int64, expected version.Token, f database.ProfileFields) (version.Token, error) {
	if err := requireAdmin(actor); err != nil {
		return version.Token{}, err
	}
	if f.SupervisorID != nil && *f.SupervisorID == identityID {
		return version.Token{}, apierr.Validation("an identity cannot supervise itself")
	}

	next, err := s.store.UpdateIdentityProfile(ctx, identityID, expected, f)
	if err != nil {
		s.logConflict(err, "profile update", identityID)
		return version.Token{}, err
	}
	s.appendActivity(ctx, models.ActivityEntry{
		IdentityID: identityID,
		Action:     models.ActionProfileUpdated,
		Actor:      actor.IdentityID,
		ClientIP:   actor.ClientIP,
	})
	return next, nil
}

// LockIdentity locks an account by hand and ends its sessions.
func (s *AuthService) LockIdentity(ctx context.Context, actor *models.Session, identityID int64, reason string, expected version.Token) (version.Token, error) {
	if err := requireAdmin(actor); err != nil {
		return version.Token{}, err
	}
	if identityID == actor.IdentityID {
		return version.Token{}, apierr.Validation("you cannot lock your own account")
	}

	next, err := s.lockout.Lock(ctx, identityID, actor.IdentityID, strings.TrimSpace(reason), expected)
	if err != nil {
		s.logConflict(err, "lock", identityID)
		return version.Token{}, err
	}
	_ = s.sessions.RevokeIdentity(ctx, identityID)
	return next, nil
}

// UnlockIdentity returns a locked account to UNLOCKED(0).
func (s *AuthService) UnlockIdentity(ctx context.Context, actor *models.Session, identityID int64, expected version.Token) (version.Token, error) {
	if err := requireAdmin(actor); err != nil {
		return version.Token{}, err
	}
	next, err := s.lockout.Unlock(ctx, identityID, actor.IdentityID, expected)
	if err != nil {
		s.logConflict(err, "unlock", identityID)
		return version.Token{}, err
	}
	return next, nil
}

// DeactivateIdentity marks an identity inactive and ends its sessions.
func (s *AuthService) DeactivateIdentity(ctx context.Context, actor *models.Session, identityID int64, expected version.Token) (version.Token, error) {
	if err := requireAdmin(actor); err != nil {
		return version.Token{}, err
	}
	if identityID == actor.IdentityID {
		return version.Token{}, apierr.Validation("you cannot deactivate your own account")
	}

	next, err := s.store.SetIdentityStatus(ctx, identityID, expected, models.StatusInactive)
	if err != nil {
		s.logConflict(err, "deactivate", identityID)
		return version.Token{}, err
	}
	_ = s.sessions.RevokeIdentity(ctx, identityID)

	s.logger.Info("Identity deactivated", zap.Int64("identity_id", identityID), zap.Int64("actor", actor.IdentityID))
	s.appendActivity(ctx, models.ActivityEntry{
		IdentityID: identityID,
		Action:     models.ActionDeactivated,
		Actor:      actor.IdentityID,
		ClientIP:   actor.ClientIP,
	})
	return next, nil
}

// ResetPassword sets a new password for a local identity on an administrator's behalf.
func (s *AuthService) ResetPassword(ctx context.Context, actor *models.Session, identityID int64, newPassword string, expected version.Token) (version.Token, error) {
	if err := requireAdmin(actor); err != nil {
		return version.Token{}, err
	}
	identity, err := s.store.IdentityByID(ctx, identityID)
	if err != nil {
		return version.Token{}, err
	}

	next, err := s.setPassword(ctx, identity, newPassword, expected)
	if err != nil {
		return version.Token{}, err
	}
	s.appendActivity(ctx, models.ActivityEntry{
		IdentityID: identityID,
		Action:     models.ActionPasswordReset,
		Actor:      actor.IdentityID,
		ClientIP:   actor.ClientIP,
	})
	return next, nil
}

// ChangePassword lets an identity replace its own password. Every session of the identity,
// including the calling one, is revoked afterwards.
func (s *AuthService) ChangePassword(ctx context.Context, actor *models.Session, oldPassword, newPassword string, expected version.Token) (version.Token, error) {
	if actor == nil {
		return version.Token{}, apierr.ErrUnauthenticated
	}
	identity, err := s.store.IdentityByID(ctx, actor.IdentityID)
	if err != nil {
		return version.Token{}, err
	}
	if identity.AuthMode != models.AuthLocal {
		return version.Token{}, apierr.Validation("the password of this account is managed by the directory")
	}
	if oldPassword == "" {
		return version.Token{}, validation.ErrPasswordMissing
	}
	if bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(oldPassword)) != nil {
		return version.Token{}, apierr.Validation("current password is incorrect")
	}

	next, err := s.setPassword(ctx, identity, newPassword, expected)
	if err != nil {
		return version.Token{}, err
	}
	s.appendActivity(ctx, models.ActivityEntry{
		IdentityID: identity.ID,
		Action:     models.ActionPasswordChanged,
		Actor:      identity.ID,
		ClientIP:   actor.ClientIP,
	})
	return next, nil
}

func (s *AuthService) setPassword(ctx context.Context, identity *models.Identity, newPassword string, expected version.Token) (version.Token, error) {
	if identity.AuthMode != models.AuthLocal {
		return version.Token{}, apierr.Validation("the password of this account is managed by the directory")
	}
	if err := s.validator.ValidateStrength(newPassword); err != nil {
		return version.Token{}, err
	}

	history, err := s.store.PasswordHistory(ctx, identity.ID, s.config.PasswordHistoryLimit)
	if err != nil {
		return version.Token{}, err
	}
	if identity.PasswordHash != "" {
		history = append([]string{identity.PasswordHash}, history...)
	}
	if validation.CheckReuse(newPassword, history) {
		return version.Token{}, validation.ErrPasswordReused
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return version.Token{}, err
	}
	next, err := s.store.ChangePasswordHash(ctx, identity.ID, expected, identity.PasswordHash, hash, s.config.PasswordHistoryLimit, s.now())
	if err != nil {
		s.logConflict(err, "password change", identity.ID)
		return version.Token{}, err
	}
	_ = s.sessions.RevokeIdentity(ctx, identity.ID)

	s.logger.Info("Password changed", zap.String("username", identity.Username))
	return next, nil
}

func (s *AuthService) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return "", apierr.Store(fmt.Errorf("hash password: %w", err))
	}
	return string(b), nil
}

// ListActivity returns the newest activity entries of an identity, for administrators or the
// identity itself.
func (s *AuthService) ListActivity(ctx context.Context, actor *models.Session, identityID int64, limit int) ([]models.ActivityEntry, error) {
	if actor == nil {
		return nil, apierr.ErrUnauthenticated
	}
	if !actor.IsAdmin() && actor.IdentityID != identityID {
		return nil, apierr.ErrForbidden
	}
	if limit <= 0 || limit > query.MaxLimit {
		limit = query.DefaultLimit
	}
	return s.store.ListActivity(ctx, identityID, limit)
}

func (s *AuthService) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	return s.store.Profiles(ctx)
}

func (s *AuthService) ListBranches(ctx context.Context) ([]models.Branch, error) {
	return s.store.Branches(ctx)
}

func (s *AuthService) CreateBranch(ctx context.Context, actor *models.Session, name string) (models.Branch, error) {
	if err := requireAdmin(actor); err != nil {
		return models.Branch{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Branch{}, apierr.Validation("branch name is required")
	}
	b, err := s.store.CreateBranch(ctx, name)
	if err != nil {
		return models.Branch{}, err
	}
	s.logger.Info("Branch created", zap.String("name", b.Name), zap.Int64("actor", actor.IdentityID))
	return b, nil
}

func (s *AuthService) logConflict(err error, op string, identityID int64) {
	if errors.Is(err, apierr.ErrConflict) {
		s.logger.Info("Stale version rejected",
			zap.String("operation", op),
			zap.Int64("identity_id", identityID))
	}
}
