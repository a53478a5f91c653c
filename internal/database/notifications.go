package database

import (
	"context"
	"database/sql"
	"time"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	work "github.com/victorgomez09/suivi/internal/work/models"
)

func (s *Store) CreateNotification(ctx context.Context, n *work.Notification) (*work.Notification, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO notifications (identity_id, kind, title, body, created_at)
        VALUES (?, ?, ?, ?, ?)
    `, n.IdentityID, string(n.Kind), n.Title, n.Body, millis(now))
	if err != nil {
		return nil, mapErr(err, "notification")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apierr.Store(err)
	}
	out := *n
	out.ID = id
	out.CreatedAt = fromMillis(millis(now))
	return &out, nil
}

// ListNotifications returns the newest notifications of an identity.
func (s *Store) ListNotifications(ctx context.Context, identityID int64, unreadOnly bool, limit int) ([]work.Notification, error) {
	q := `
        SELECT id, identity_id, kind, title, body, read_at, created_at
        FROM notifications
        WHERE identity_id = ?`
	if unreadOnly {
		q += " AND read_at IS NULL"
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, q, identityID, limit)
	if err != nil {
		return nil, apierr.Store(err)
	}
	defer rows.Close()

	var out []work.Notification
	for rows.Next() {
		var (
			n      work.Notification
			readAt sql.NullInt64
			ts     int64
		)
		if err := rows.Scan(&n.ID, &n.IdentityID, &n.Kind, &n.Title, &n.Body, &readAt, &ts); err != nil {
			return nil, apierr.Store(err)
		}
		n.ReadAt = timePtr(readAt)
		n.CreatedAt = fromMillis(ts)
		out = append(out, n)
	}
	return out, apierr.Store(rows.Err())
}

// MarkNotificationRead only touches notifications owned by identityID.
func (s *Store) MarkNotificationRead(ctx context.Context, id, identityID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE notifications SET read_at = COALESCE(read_at, ?)
        WHERE id = ? AND identity_id = ?
    `, millis(at), id, identityID)
	return affectedOne(res, err, "notification")
}
