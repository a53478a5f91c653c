package database

import (
	"context"
	"database/sql"
	"time"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/database/query"
	"github.com/victorgomez09/suivi/internal/version"
	work "github.com/victorgomez09/suivi/internal/work/models"
)

const reportColumns = `
    r.id, r.author_id, r.supervisor_id, r.report_date, r.summary, r.content, r.hours_worked,
    r.status, r.review_comment, r.reviewed_by, r.reviewed_at, r.created_at, r.updated_at, r.version`

var reportSearch = query.NewBuilder(map[string]query.Column{
	"id":            {Name: "r.id", Int: true},
	"author_id":     {Name: "r.author_id", Int: true},
	"supervisor_id": {Name: "r.supervisor_id", Int: true},
	"report_date":   {Name: "r.report_date"},
	"summary":       {Name: "r.summary"},
	"content":       {Name: "r.content"},
	"status":        {Name: "r.status"},
	"reviewed_by":   {Name: "r.reviewed_by", Int: true},
	"updated_at":    {Name: "r.updated_at", Int: true},
}, "-report_date")

func scanReport(row scanner) (*work.Report, error) {
	var (
		r                                    work.Report
		supervisorID, reviewedBy, reviewedAt sql.NullInt64
		createdAt, updatedAt, counter        int64
	)
	err := row.Scan(&r.ID, &r.AuthorID, &supervisorID, &r.ReportDate, &r.Summary, &r.Content, &r.HoursWorked,
		&r.Status, &r.ReviewComment, &reviewedBy, &reviewedAt, &createdAt, &updatedAt, &counter)
	if err != nil {
		return nil, err
	}
	r.SupervisorID = intPtr(supervisorID)
	r.ReviewedBy = intPtr(reviewedBy)
	r.ReviewedAt = timePtr(reviewedAt)
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	r.Version = version.FromCounter(uint64(counter))
	return &r, nil
}

// CreateReport inserts a draft. An author has at most one report per date.
func (s *Store) CreateReport(ctx context.Context, r *work.Report) (*work.Report, error) {
	now := millis(s.now())
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO reports (
            author_id, supervisor_id, report_date, summary, content, hours_worked,
            status, created_at, updated_at, version
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, r.AuthorID, nullInt(r.SupervisorID), r.ReportDate, r.Summary, r.Content, r.HoursWorked,
		string(work.ReportDraft), now, now, int64(version.Initial))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierr.Validation("a report for %s already exists", r.ReportDate)
		}
		return nil, mapErr(err, "report")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apierr.Store(err)
	}
	return s.ReportByID(ctx, id)
}

func (s *Store) ReportByID(ctx context.Context, id int64) (*work.Report, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx, "SELECT "+reportColumns+" FROM reports r WHERE r.id = ?", id))
	if err != nil {
		return nil, mapErr(err, "report")
	}
	return r, nil
}

// ReportFields are the author-editable attributes of a report.
type ReportFields struct {
	Summary     string
	Content     string
	HoursWorked float64
}

func (s *Store) UpdateReport(ctx context.Context, id int64, expected version.Token, f ReportFields) (version.Token, error) {
	return s.updateVersioned(ctx, s.db, tableReports, id, expected,
		set("summary", f.Summary),
		set("content", f.Content),
		set("hours_worked", f.HoursWorked),
	)
}

// SubmitReport moves a report to submitted and records the supervisor who will review it.
func (s *Store) SubmitReport(ctx context.Context, id int64, expected version.Token, supervisorID *int64) (version.Token, error) {
	return s.updateVersioned(ctx, s.db, tableReports, id, expected,
		set("status", string(work.ReportSubmitted)),
		set("supervisor_id", nullInt(supervisorID)),
	)
}

func (s *Store) ReviewReport(ctx context.Context, id int64, expected version.Token, status work.ReportStatus, comment string, reviewer int64, at time.Time) (version.Token, error) {
	return s.updateVersioned(ctx, s.db, tableReports, id, expected,
		set("status", string(status)),
		set("review_comment", comment),
		set("reviewed_by", reviewer),
		set("reviewed_at", millis(at)),
	)
}

func (s *Store) SearchReports(ctx context.Context, search query.Search, scope ...query.Condition) ([]*work.Report, error) {
	clause, err := reportSearch.Build(search, scope...)
	if err != nil {
		return nil, err
	}
	tail, args := clause.SQL()

	rows, err := s.db.QueryContext(ctx, "SELECT "+reportColumns+" FROM reports r"+tail, args...)
	if err != nil {
		return nil, apierr.Store(err)
	}
	defer rows.Close()

	var out []*work.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, apierr.Store(err)
		}
		out = append(out, r)
	}
	return out, apierr.Store(rows.Err())
}
