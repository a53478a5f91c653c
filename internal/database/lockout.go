package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
)

func scanLockout(row scanner) (models.LockoutRecord, error) {
	var (
		rec                models.LockoutRecord
		isLocked           int
		lockedAt, lockedBy sql.NullInt64
	)
	if err := row.Scan(&rec.Username, &rec.FailedLogins, &isLocked, &rec.Reason, &lockedAt, &lockedBy); err != nil {
		return models.LockoutRecord{}, err
	}
	rec.IsLocked = isLocked == 1
	rec.LockedAt = timePtr(lockedAt)
	rec.LockedBy = intPtr(lockedBy)
	return rec, nil
}

const lockoutColumns = "username, failed_logins, is_locked, COALESCE(lock_reason, ''), locked_at, locked_by"

// LockoutByUsername returns the failed-attempt state of a username.
func (s *Store) LockoutByUsername(ctx context.Context, username string) (models.LockoutRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+lockoutColumns+" FROM identities WHERE username = ?", username)
	rec, err := scanLockout(row)
	if err != nil {
		return models.LockoutRecord{}, mapErr(err, "identity")
	}
	return rec, nil
}

// IncrementFailedLogins applies the failure transition in a single statement: the counter is
// incremented by the database, and the row locks itself when the new count reaches threshold.
// A row that is already locked is left untouched and its current state is returned.
// freshlyLocked is true only for the statement that performed the lock.
func (s *Store) IncrementFailedLogins(ctx context.Context, identityID int64, threshold int, reason string, at time.Time) (rec models.LockoutRecord, freshlyLocked bool, err error) {
	ts := millis(at)
	row := s.db.QueryRowContext(ctx, `
        UPDATE identities SET
            failed_logins = failed_logins + 1,
            is_locked = CASE WHEN failed_logins + 1 >= ? THEN 1 ELSE 0 END,
            lock_reason = CASE WHEN failed_logins + 1 >= ? THEN ? ELSE lock_reason END,
            locked_at = CASE WHEN failed_logins + 1 >= ? THEN ? ELSE locked_at END,
            locked_by = CASE WHEN failed_logins + 1 >= ? THEN NULL ELSE locked_by END,
            last_login_at = ?,
            last_login_result = ?,
            updated_at = ?,
            version = version + 1
        WHERE id = ? AND is_locked = 0
        RETURNING `+lockoutColumns,
		threshold, threshold, reason, threshold, ts, threshold,
		ts, models.LoginFailed, ts, identityID)

	rec, err = scanLockout(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Locked concurrently, or gone.
		row := s.db.QueryRowContext(ctx, "SELECT "+lockoutColumns+" FROM identities WHERE id = ?", identityID)
		rec, err = scanLockout(row)
		if err != nil {
			return models.LockoutRecord{}, false, mapErr(err, "identity")
		}
		return rec, false, nil
	}
	if err != nil {
		return models.LockoutRecord{}, false, apierr.Store(err)
	}
	return rec, rec.IsLocked, nil
}

// RecordLoginSuccess applies the success transition: counter back to 0 and last-login updated.
// It returns false without changing anything if the row was locked in the meantime.
func (s *Store) RecordLoginSuccess(ctx context.Context, identityID int64, at time.Time) (bool, error) {
	ts := millis(at)
	res, err := s.db.ExecContext(ctx, `
        UPDATE identities SET
            failed_logins = 0,
            last_login_at = ?,
            last_login_result = ?,
            updated_at = ?,
            version = version + 1
        WHERE id = ? AND is_locked = 0
    `, ts, models.LoginSucceeded, ts, identityID)
	if err != nil {
		return false, apierr.Store(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apierr.Store(err)
	}
	return n == 1, nil
}
