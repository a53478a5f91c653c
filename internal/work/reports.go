package work

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/database"
	"github.com/victorgomez09/suivi/internal/database/query"
	"github.com/victorgomez09/suivi/internal/version"
	work "github.com/victorgomez09/suivi/internal/work/models"
)

// ReportInput carries the author-editable attributes of a daily report.
type ReportInput struct {
	ReportDate  string  `json:"report_date"`
	Summary     string  `json:"summary"`
	Content     string  `json:"content"`
	HoursWorked float64 `json:"hours_worked"`
}

func (in *ReportInput) normalize() error {
	in.Summary = strings.TrimSpace(in.Summary)
	if in.Summary == "" {
		return apierr.Validation("summary is required")
	}
	if in.HoursWorked < 0 || in.HoursWorked > 24 {
		return apierr.Validation("hours_worked must be between 0 and 24")
	}
	return nil
}

type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// CreateReport starts the caller's draft for a date. Dates in the future are refused and each
// author has at most one report per date.
func (s *Service) CreateReport(ctx context.Context, actor *models.Session, in ReportInput) (*work.Report, error) {
	if actor == nil {
		return nil, apierr.ErrUnauthenticated
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}
	if in.ReportDate == "" {
		in.ReportDate = s.now().Format(dateLayout)
	}
	date, err := time.Parse(dateLayout, in.ReportDate)
	if err != nil {
		return nil, apierr.Validation("report_date must be YYYY-MM-DD")
	}
	if date.After(s.now()) {
		return nil, apierr.Validation("report_date cannot be in the future")
	}

	author, err := s.store.IdentityByID(ctx, actor.IdentityID)
	if err != nil {
		return nil, err
	}

	r, err := s.store.CreateReport(ctx, &work.Report{
		AuthorID:     author.ID,
		SupervisorID: author.SupervisorID,
		ReportDate:   in.ReportDate,
		Summary:      in.Summary,
		Content:      in.Content,
		HoursWorked:  in.HoursWorked,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Report created", zap.Int64("report_id", r.ID), zap.Int64("author_id", r.AuthorID), zap.String("date", r.ReportDate))
	return r, nil
}

// canReview reports whether actor may review (and see) reports of authorID.
func (s *Service) canReview(ctx context.Context, actor *models.Session, r *work.Report) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}
	if r.SupervisorID != nil && *r.SupervisorID == actor.IdentityID {
		return true, nil
	}
	return s.supervises(ctx, actor, r.AuthorID)
}

func (s *Service) visibleReport(ctx context.Context, actor *models.Session, id int64) (*work.Report, error) {
	if actor == nil {
		return nil, apierr.ErrUnauthenticated
	}
	r, err := s.store.ReportByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.AuthorID == actor.IdentityID {
		return r, nil
	}
	ok, err := s.canReview(ctx, actor, r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "report not found")
	}
	return r, nil
}

func (s *Service) GetReport(ctx context.Context, actor *models.Session, id int64) (*work.Report, error) {
	return s.visibleReport(ctx, actor, id)
}

// UpdateReport edits a draft or rejected report. Only the author may edit.
func (s *Service) UpdateReport(ctx context.Context, actor *models.Session, id int64, expected version.Token, in ReportInput) (version.Token, error) {
	r, err := s.visibleReport(ctx, actor, id)
	if err != nil {
		return version.Token{}, err
	}
	if r.AuthorID != actor.IdentityID {
		return version.Token{}, apierr.New(apierr.KindForbidden, "only the author can edit a report")
	}
	if !r.Status.Editable() {
		return version.Token{}, apierr.Validation("a %s report cannot be edited", r.Status)
	}
	if err := in.normalize(); err != nil {
		return version.Token{}, err
	}
	if in.ReportDate != "" && in.ReportDate != r.ReportDate {
		return version.Token{}, apierr.Validation("the report date cannot be changed")
	}

	next, err := s.store.UpdateReport(ctx, id, expected, database.ReportFields{
		Summary:     in.Summary,
		Content:     in.Content,
		HoursWorked: in.HoursWorked,
	})
	if err != nil {
		s.logConflict(err, "report", id)
		return version.Token{}, err
	}
	return next, nil
}

// SubmitReport hands a draft or rejected report to the author's current supervisor.
func (s *Service) SubmitReport(ctx context.Context, actor *models.Session, id int64, expected version.Token) (version.Token, error) {
	r, err := s.visibleReport(ctx, actor, id)
	if err != nil {
		return version.Token{}, err
	}
	if r.AuthorID != actor.IdentityID {
		return version.Token{}, apierr.New(apierr.KindForbidden, "only the author can submit a report")
	}
	if !r.Status.Editable() {
		return version.Token{}, apierr.Validation("a %s report cannot be submitted", r.Status)
	}

	author, err := s.store.IdentityByID(ctx, r.AuthorID)
	if err != nil {
		return version.Token{}, err
	}

	next, err := s.store.SubmitReport(ctx, id, expected, author.SupervisorID)
	if err != nil {
		s.logConflict(err, "report", id)
		return version.Token{}, err
	}

	s.logger.Info("Report submitted", zap.Int64("report_id", id), zap.Int64("author_id", r.AuthorID))
	if author.SupervisorID != nil {
		s.notify(ctx, *author.SupervisorID, work.NotifyReportSubmit,
			fmt.Sprintf("Report of %s to review", r.ReportDate),
			fmt.Sprintf("%s submitted the report of %s.", author.DisplayName, r.ReportDate))
	}
	return next, nil
}

// ReviewReport approves or rejects a submitted report. A rejection needs a comment, and nobody
// reviews their own report.
func (s *Service) ReviewReport(ctx context.Context, actor *models.Session, id int64, expected version.Token, decision Decision, comment string) (version.Token, error) {
	r, err := s.visibleReport(ctx, actor, id)
	if err != nil {
		return version.Token{}, err
	}
	if r.AuthorID == actor.IdentityID {
		return version.Token{}, apierr.New(apierr.KindForbidden, "you cannot review your own report")
	}
	ok, err := s.canReview(ctx, actor, r)
	if err != nil {
		return version.Token{}, err
	}
	if !ok {
		return version.Token{}, apierr.ErrForbidden
	}
	if r.Status != work.ReportSubmitted {
		return version.Token{}, apierr.Validation("only submitted reports can be reviewed")
	}

	comment = strings.TrimSpace(comment)
	var status work.ReportStatus
	switch decision {
	case Approve:
		status = work.ReportApproved
	case Reject:
		if comment == "" {
			return version.Token{}, apierr.Validation("a rejection needs a comment")
		}
		status = work.ReportRejected
	default:
		return version.Token{}, apierr.Validation("decision must be approve or reject")
	}

	next, err := s.store.ReviewReport(ctx, id, expected, status, comment, actor.IdentityID, s.now())
	if err != nil {
		s.logConflict(err, "report", id)
		return version.Token{}, err
	}

	s.logger.Info("Report reviewed",
		zap.Int64("report_id", id),
		zap.String("status", string(status)),
		zap.Int64("reviewer", actor.IdentityID))
	s.notify(ctx, r.AuthorID, work.NotifyReportReviewed,
		fmt.Sprintf("Report of %s %s", r.ReportDate, status),
		comment)
	return next, nil
}

// SearchReports lists the reports visible to actor matching search.
func (s *Service) SearchReports(ctx context.Context, actor *models.Session, search query.Search) ([]*work.Report, error) {
	if actor == nil {
		return nil, apierr.ErrUnauthenticated
	}
	var scope []query.Condition
	switch {
	case actor.IsAdmin():
	case actor.CanSupervise():
		scope = append(scope, query.Condition{
			SQL:  "(r.author_id = ? OR r.supervisor_id = ? OR r.author_id IN (SELECT id FROM identities WHERE supervisor_id = ?))",
			Args: []any{actor.IdentityID, actor.IdentityID, actor.IdentityID},
		})
	default:
		scope = append(scope, query.Condition{SQL: "r.author_id = ?", Args: []any{actor.IdentityID}})
	}
	out, err := s.store.SearchReports(ctx, search, scope...)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*work.Report{}
	}
	return out, nil
}
