package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
)

// CreateSession persists a freshly issued session. The claims are stored as JSON; the time
// columns are authoritative and override the payload on read.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return apierr.Store(err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO sessions (
            id, identity_id, payload, issued_at, renewed_at, expires_at, last_used_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
    `, sess.ID, sess.IdentityID, string(payload), millis(sess.IssuedAt), millis(sess.RenewedAt),
		millis(sess.ExpiresAt), millis(sess.LastUsedAt))
	return mapErr(err, "session")
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var (
		payload                            string
		issued, renewed, expires, lastUsed int64
		revoked                            sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT payload, issued_at, renewed_at, expires_at, last_used_at, revoked_at
        FROM sessions WHERE id = ?
    `, id).Scan(&payload, &issued, &renewed, &expires, &lastUsed, &revoked)
	if err != nil {
		return nil, mapErr(err, "session")
	}

	var sess models.Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, apierr.Store(err)
	}
	sess.ID = id
	sess.IssuedAt = fromMillis(issued)
	sess.RenewedAt = fromMillis(renewed)
	sess.ExpiresAt = fromMillis(expires)
	sess.LastUsedAt = fromMillis(lastUsed)
	sess.RevokedAt = timePtr(revoked)
	return &sess, nil
}

// RenewSession moves the sliding reference of a live session.
func (s *Store) RenewSession(ctx context.Context, id string, renewedAt, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE sessions SET renewed_at = ?, expires_at = ?, last_used_at = ?
        WHERE id = ? AND revoked_at IS NULL
    `, millis(renewedAt), millis(expiresAt), millis(renewedAt), id)
	return affectedOne(res, err, "session")
}

func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE sessions SET last_used_at = ? WHERE id = ?", millis(at), id)
	return apierr.Store(err)
}

func (s *Store) RevokeSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL", millis(at), id)
	return apierr.Store(err)
}

// RevokeIdentitySessions revokes every live session of an identity.
func (s *Store) RevokeIdentitySessions(ctx context.Context, identityID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET revoked_at = ? WHERE identity_id = ? AND revoked_at IS NULL", millis(at), identityID)
	return apierr.Store(err)
}

// DeleteExpiredSessions removes sessions expired or revoked before the cutoff.
func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM sessions
        WHERE expires_at < ?
        OR (revoked_at IS NOT NULL AND revoked_at < ?)
    `, millis(before), millis(before))
	if err != nil {
		return 0, apierr.Store(err)
	}
	n, err := res.RowsAffected()
	return n, apierr.Store(err)
}

func affectedOne(res sql.Result, err error, what string) error {
	if err != nil {
		return apierr.Store(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Store(err)
	}
	if n == 0 {
		return apierr.New(apierr.KindNotFound, what+" not found")
	}
	return nil
}
