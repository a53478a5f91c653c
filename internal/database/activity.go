package database

import (
	"context"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
)

// AppendActivity adds one entry to the append-only activity log.
func (s *Store) AppendActivity(ctx context.Context, e models.ActivityEntry) error {
	at := e.CreatedAt
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO activity_log (identity_id, action, description, actor, client_ip, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `, e.IdentityID, e.Action, e.Description, e.Actor, e.ClientIP, millis(at))
	return apierr.Store(err)
}

// ListActivity returns the newest entries first.
func (s *Store) ListActivity(ctx context.Context, identityID int64, limit int) ([]models.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, identity_id, action, description, actor, client_ip, created_at
        FROM activity_log
        WHERE identity_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `, identityID, limit)
	if err != nil {
		return nil, apierr.Store(err)
	}
	defer rows.Close()

	var entries []models.ActivityEntry
	for rows.Next() {
		var (
			e  models.ActivityEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.IdentityID, &e.Action, &e.Description, &e.Actor, &e.ClientIP, &ts); err != nil {
			return nil, apierr.Store(err)
		}
		e.CreatedAt = fromMillis(ts)
		entries = append(entries, e)
	}
	return entries, apierr.Store(rows.Err())
}

func (s *Store) Profiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, access_level FROM profiles ORDER BY access_level DESC")
	if err != nil {
		return nil, apierr.Store(err)
	}
	defer rows.Close()

	var out []models.Profile
	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.AccessLevel); err != nil {
			return nil, apierr.Store(err)
		}
		out = append(out, p)
	}
	return out, apierr.Store(rows.Err())
}

func (s *Store) ProfileByName(ctx context.Context, name string) (models.Profile, error) {
	var p models.Profile
	err := s.db.QueryRowContext(ctx, "SELECT id, name, access_level FROM profiles WHERE name = ?", name).
		Scan(&p.ID, &p.Name, &p.AccessLevel)
	if err != nil {
		return models.Profile{}, mapErr(err, "profile")
	}
	return p, nil
}

func (s *Store) Branches(ctx context.Context) ([]models.Branch, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM branches ORDER BY name")
	if err != nil {
		return nil, apierr.Store(err)
	}
	defer rows.Close()

	var out []models.Branch
	for rows.Next() {
		var (
			b  models.Branch
			ts int64
		)
		if err := rows.Scan(&b.ID, &b.Name, &ts); err != nil {
			return nil, apierr.Store(err)
		}
		b.CreatedAt = fromMillis(ts)
		out = append(out, b)
	}
	return out, apierr.Store(rows.Err())
}

func (s *Store) BranchByName(ctx context.Context, name string) (models.Branch, error) {
	var (
		b  models.Branch
		ts int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT id, name, created_at FROM branches WHERE name = ?", name).
		Scan(&b.ID, &b.Name, &ts)
	if err != nil {
		return models.Branch{}, mapErr(err, "branch")
	}
	b.CreatedAt = fromMillis(ts)
	return b, nil
}

func (s *Store) CreateBranch(ctx context.Context, name string) (models.Branch, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, "INSERT INTO branches (name, created_at) VALUES (?, ?)", name, millis(now))
	if err != nil {
		return models.Branch{}, mapErr(err, "branch")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Branch{}, apierr.Store(err)
	}
	return models.Branch{ID: id, Name: name, CreatedAt: fromMillis(millis(now))}, nil
}
