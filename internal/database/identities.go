package database

import (
	"context"
	"database/sql"
	"time"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/database/query"
	"github.com/victorgomez09/suivi/internal/version"
)

const identityColumns = `
    i.id, i.username, COALESCE(i.password_hash, ''), i.auth_mode, i.status,
    i.display_name, i.email, i.registration_number, i.position,
    i.profile_id, p.name, p.access_level, i.branch_id, b.name,
    i.supervisor_id, i.is_supervisor, i.is_locked, i.failed_logins,
    COALESCE(i.lock_reason, ''), i.locked_at, i.locked_by,
    i.last_login_at, COALESCE(i.last_login_result, ''), i.password_changed_at,
    i.created_at, i.updated_at, i.version`

const identityFrom = `
    FROM identities i
    JOIN profiles p ON p.id = i.profile_id
    JOIN branches b ON b.id = i.branch_id`

var identitySearch = query.NewBuilder(map[string]query.Column{
	"username":            {Name: "i.username"},
	"display_name":        {Name: "i.display_name"},
	"email":               {Name: "i.email"},
	"registration_number": {Name: "i.registration_number"},
	"position":            {Name: "i.position"},
	"auth_mode":           {Name: "i.auth_mode"},
	"status":              {Name: "i.status"},
	"profile_id":          {Name: "i.profile_id", Int: true},
	"branch_id":           {Name: "i.branch_id", Int: true},
	"supervisor_id":       {Name: "i.supervisor_id", Int: true},
	"is_locked":           {Name: "i.is_locked", Int: true},
	"created_at":          {Name: "i.created_at", Int: true},
	"id":                  {Name: "i.id", Int: true},
}, "username")

func scanIdentity(row scanner) (*models.Identity, error) {
	var (
		id                                    models.Identity
		supervisorID, lockedBy                sql.NullInt64
		lockedAt, lastLoginAt, passwordChange sql.NullInt64
		createdAt, updatedAt                  int64
		isSupervisor, isLocked                int
		counter                               int64
	)
	err := row.Scan(
		&id.ID, &id.Username, &id.PasswordHash, &id.AuthMode, &id.Status,
		&id.DisplayName, &id.Email, &id.RegistrationNumber, &id.Position,
		&id.ProfileID, &id.ProfileName, &id.AccessLevel, &id.BranchID, &id.BranchName,
		&supervisorID, &isSupervisor, &isLocked, &id.FailedLogins,
		&id.LockReason, &lockedAt, &lockedBy,
		&lastLoginAt, &id.LastLoginResult, &passwordChange,
		&createdAt, &updatedAt, &counter,
	)
	if err != nil {
		return nil, err
	}
	id.SupervisorID = intPtr(supervisorID)
	id.IsSupervisor = isSupervisor == 1
	id.IsLocked = isLocked == 1
	id.LockedAt = timePtr(lockedAt)
	id.LockedBy = intPtr(lockedBy)
	id.LastLoginAt = timePtr(lastLoginAt)
	id.PasswordChangedAt = timePtr(passwordChange)
	id.CreatedAt = fromMillis(createdAt)
	id.UpdatedAt = fromMillis(updatedAt)
	id.Version = version.FromCounter(uint64(counter))
	return &id, nil
}

// CreateIdentity inserts a new identity in the UNLOCKED(0) state.
// A directory identity never stores a password hash.
func (s *Store) CreateIdentity(ctx context.Context, id *models.Identity) (*models.Identity, error) {
	var hash sql.NullString
	var changedAt sql.NullInt64
	now := s.now()
	if id.AuthMode == models.AuthLocal {
		if id.PasswordHash == "" {
			return nil, apierr.Validation("a local identity requires a password")
		}
		hash = sql.NullString{String: id.PasswordHash, Valid: true}
		changedAt = sql.NullInt64{Int64: millis(now), Valid: true}
	} else if id.PasswordHash != "" {
		return nil, apierr.Validation("a directory identity cannot have a local password")
	}

	status := id.Status
	if status == "" {
		status = models.StatusActive
	}

	res, err := s.db.ExecContext(ctx, `
        INSERT INTO identities (
            username, password_hash, auth_mode, status, display_name, email,
            registration_number, position, profile_id, branch_id, supervisor_id,
            is_supervisor, password_changed_at, created_at, updated_at, version
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, id.Username, hash, string(id.AuthMode), string(status), id.DisplayName, id.Email,
		id.RegistrationNumber, id.Position, id.ProfileID, id.BranchID, nullInt(id.SupervisorID),
		boolToInt(id.IsSupervisor), changedAt, millis(now), millis(now), int64(version.Initial))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierr.Validation("username %q is already taken", id.Username)
		}
		return nil, mapErr(err, "identity")
	}

	newID, err := res.LastInsertId()
	if err != nil {
		return nil, apierr.Store(err)
	}
	return s.IdentityByID(ctx, newID)
}

// IdentityByUsername looks a username up case-insensitively, whatever its status.
func (s *Store) IdentityByUsername(ctx context.Context, username string) (*models.Identity, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+identityColumns+identityFrom+" WHERE i.username = ?", username)
	id, err := scanIdentity(row)
	if err != nil {
		return nil, mapErr(err, "identity")
	}
	return id, nil
}

func (s *Store) IdentityByID(ctx context.Context, identityID int64) (*models.Identity, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+identityColumns+identityFrom+" WHERE i.id = ?", identityID)
	id, err := scanIdentity(row)
	if err != nil {
		return nil, mapErr(err, "identity")
	}
	return id, nil
}

// SearchIdentities runs an allow-listed search. scope conditions restrict visibility.
func (s *Store) SearchIdentities(ctx context.Context, search query.Search, scope ...query.Condition) ([]*models.Identity, error) {
	clause, err := identitySearch.Build(search, scope...)
	if err != nil {
		return nil, err
	}
	tail, args := clause.SQL()

	rows, err := s.db.QueryContext(ctx, "SELECT "+identityColumns+identityFrom+tail, args...)
	if err != nil {
		return nil, apierr.Store(err)
	}
	defer rows.Close()

	var out []*models.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, apierr.Store(err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Store(err)
	}
	return out, nil
}

// ProfileFields are the administrator-editable attributes of an identity.
type ProfileFields struct {
	DisplayName        string
	Email              string
	RegistrationNumber string
	Position           string
	ProfileID          int64
	BranchID           int64
	SupervisorID       *int64
	IsSupervisor       bool
}

func (s *Store) UpdateIdentityProfile(ctx context.Context, identityID int64, expected version.Token, f ProfileFields) (version.Token, error) {
	return s.updateVersioned(ctx, s.db, tableIdentities, identityID, expected,
		set("display_name", f.DisplayName),
		set("email", f.Email),
		set("registration_number", f.RegistrationNumber),
		set("position", f.Position),
		set("profile_id", f.ProfileID),
		set("branch_id", f.BranchID),
		set("supervisor_id", nullInt(f.SupervisorID)),
		set("is_supervisor", boolToInt(f.IsSupervisor)),
	)
}

// LockIdentity is the administrative lock. lockedBy is nil for the system.
func (s *Store) LockIdentity(ctx context.Context, identityID int64, expected version.Token, reason string, lockedBy *int64, at time.Time) (version.Token, error) {
	return s.updateVersioned(ctx, s.db, tableIdentities, identityID, expected,
		set("is_locked", 1),
		set("lock_reason", reason),
		set("locked_at", millis(at)),
		set("locked_by", nullInt(lockedBy)),
	)
}

// UnlockIdentity clears the lock and resets the failure counter.
func (s *Store) UnlockIdentity(ctx context.Context, identityID int64, expected version.Token) (version.Token, error) {
	return s.updateVersioned(ctx, s.db, tableIdentities, identityID, expected,
		set("is_locked", 0),
		set("failed_logins", 0),
		set("lock_reason", nil),
		set("locked_at", nil),
		set("locked_by", nil),
	)
}

func (s *Store) SetIdentityStatus(ctx context.Context, identityID int64, expected version.Token, status models.Status) (version.Token, error) {
	return s.updateVersioned(ctx, s.db, tableIdentities, identityID, expected, set("status", string(status)))
}

// ChangePasswordHash replaces the hash of a local identity, pushes the previous hash into the
// history and trims the history to keep entries. All in one transaction.
func (s *Store) ChangePasswordHash(ctx context.Context, identityID int64, expected version.Token, oldHash, newHash string, keep int, at time.Time) (version.Token, error) {
	var next version.Token
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		next, err = s.updateVersioned(ctx, tx, tableIdentities, identityID, expected,
			set("password_hash", newHash),
			set("password_changed_at", millis(at)),
		)
		if err != nil {
			return err
		}

		if oldHash != "" {
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO password_history (identity_id, password_hash, created_at)
                VALUES (?, ?, ?)
            `, identityID, oldHash, millis(at)); err != nil {
				return apierr.Store(err)
			}
		}

		_, err = tx.ExecContext(ctx, `
            DELETE FROM password_history
            WHERE identity_id = ?
            AND id NOT IN (
                SELECT id FROM password_history
                WHERE identity_id = ?
                ORDER BY created_at DESC, id DESC
                LIMIT ?
            )
        `, identityID, identityID, keep)
		return apierr.Store(err)
	})
	if err != nil {
		return version.Token{}, err
	}
	return next, nil
}

// PasswordHistory returns up to limit previous hashes, newest first.
func (s *Store) PasswordHistory(ctx context.Context, identityID int64, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT password_hash
        FROM password_history
        WHERE identity_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `, identityID, limit)
	if err != nil {
		return nil, apierr.Store(err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, apierr.Store(err)
		}
		hashes = append(hashes, hash)
	}
	return hashes, apierr.Store(rows.Err())
}

// IsSupervisorOf reports whether supervisorID is the direct supervisor of identityID.
func (s *Store) IsSupervisorOf(ctx context.Context, supervisorID, identityID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM identities WHERE id = ? AND supervisor_id = ?",
		identityID, supervisorID).Scan(&n)
	if err != nil {
		return false, apierr.Store(err)
	}
	return n > 0, nil
}
