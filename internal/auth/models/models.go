package models

import (
	"time"

	"github.com/victorgomez09/suivi/internal/version"
)

type AuthMode string

const (
	AuthLocal     AuthMode = "local"
	AuthDirectory AuthMode = "directory"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Access levels of the seeded profiles. Higher levels include the lower ones.
const (
	AccessEmployee   = 1
	AccessSupervisor = 2
	AccessAdmin      = 3
)

// Last-login results recorded on the identity.
const (
	LoginSucceeded = "success"
	LoginFailed    = "failure"
	LoginRefused   = "locked"
)

const LockReasonTooManyAttempts = "too many failed attempts"

// SystemActor is the actor id recorded for transitions not initiated by a person.
const SystemActor int64 = 0

type Identity struct {
	ID                 int64         `json:"id"`
	Username           string        `json:"username"`
	PasswordHash       string        `json:"-"`
	AuthMode           AuthMode      `json:"auth_mode"`
	Status             Status        `json:"status"`
	DisplayName        string        `json:"display_name"`
	Email              string        `json:"email"`
	RegistrationNumber string        `json:"registration_number"`
	Position           string        `json:"position"`
	ProfileID          int64         `json:"profile_id"`
	ProfileName        string        `json:"profile_name"`
	AccessLevel        int           `json:"access_level"`
	BranchID           int64         `json:"branch_id"`
	BranchName         string        `json:"branch_name"`
	SupervisorID       *int64        `json:"supervisor_id,omitempty"`
	IsSupervisor       bool          `json:"is_supervisor"`
	IsLocked           bool          `json:"is_locked"`
	FailedLogins       int           `json:"failed_logins"`
	LockReason         string        `json:"lock_reason,omitempty"`
	LockedAt           *time.Time    `json:"locked_at,omitempty"`
	LockedBy           *int64        `json:"locked_by,omitempty"`
	LastLoginAt        *time.Time    `json:"last_login_at,omitempty"`
	LastLoginResult    string        `json:"last_login_result,omitempty"`
	PasswordChangedAt  *time.Time    `json:"password_changed_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	Version            version.Token `json:"version"`
}

func (i *Identity) IsActive() bool {
	return i.Status == StatusActive
}

// Lockout returns the lockout view of the identity.
func (i *Identity) Lockout() LockoutRecord {
	return LockoutRecord{
		Username:     i.Username,
		FailedLogins: i.FailedLogins,
		IsLocked:     i.IsLocked,
		Reason:       i.LockReason,
		LockedAt:     i.LockedAt,
		LockedBy:     i.LockedBy,
	}
}

// LockoutRecord is the failed-attempt state of one username.
type LockoutRecord struct {
	Username     string     `json:"username"`
	FailedLogins int        `json:"failed_logins"`
	IsLocked     bool       `json:"is_locked"`
	Reason       string     `json:"reason,omitempty"`
	LockedAt     *time.Time `json:"locked_at,omitempty"`
	LockedBy     *int64     `json:"locked_by,omitempty"`
}

// Session is the authenticated working context derived from a successful login.
type Session struct {
	ID                 string     `json:"-"`
	IdentityID         int64      `json:"identity_id"`
	Username           string     `json:"username"`
	DisplayName        string     `json:"display_name"`
	ProfileID          int64      `json:"profile_id"`
	ProfileName        string     `json:"profile_name"`
	BranchID           int64      `json:"branch_id"`
	BranchName         string     `json:"branch_name"`
	AccessLevel        int        `json:"access_level"`
	RegistrationNumber string     `json:"registration_number"`
	Position           string     `json:"position"`
	IsSupervisor       bool       `json:"is_supervisor"`
	SupervisorID       *int64     `json:"supervisor_id,omitempty"`
	IssuedAt           time.Time  `json:"issued_at"`
	RenewedAt          time.Time  `json:"renewed_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	LastUsedAt         time.Time  `json:"last_used_at"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
	ClientIP           string     `json:"client_ip"`
	UserAgent          string     `json:"user_agent"`
}

func (s *Session) IsAdmin() bool {
	return s.AccessLevel >= AccessAdmin
}

// CanSupervise reports whether the session may act as a supervisor.
func (s *Session) CanSupervise() bool {
	return s.IsSupervisor || s.AccessLevel >= AccessSupervisor
}

// ActivityEntry is one append-only activity log record.
type ActivityEntry struct {
	ID          int64     `json:"id"`
	IdentityID  int64     `json:"identity_id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Actor       int64     `json:"actor"`
	ClientIP    string    `json:"client_ip,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Activity actions.
const (
	ActionLoginSucceeded  = "login_succeeded"
	ActionLoginFailed     = "login_failed"
	ActionLoginRefused    = "login_refused"
	ActionProviderError   = "directory_unreachable"
	ActionAccountLocked   = "account_locked"
	ActionAccountUnlocked = "account_unlocked"
	ActionLogout          = "logout"
	ActionPasswordChanged = "password_changed"
	ActionPasswordReset   = "password_reset"
	ActionProfileUpdated  = "profile_updated"
	ActionCreated         = "identity_created"
	ActionDeactivated     = "identity_deactivated"
)

type Profile struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	AccessLevel int    `json:"access_level"`
}

type Branch struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
