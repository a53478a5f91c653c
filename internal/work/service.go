// Package work holds the task and daily report workflows.
//
// Visibility follows the organisation chart: employees see their own records, supervisors
// also see their direct reports' records, administrators see everything. Records that exist but
// are not visible are reported as NOT_FOUND.
package work

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/database"
	"github.com/victorgomez09/suivi/internal/database/query"
	"github.com/victorgomez09/suivi/internal/version"
	work "github.com/victorgomez09/suivi/internal/work/models"
)

type Store interface {
	IdentityByID(ctx context.Context, identityID int64) (*models.Identity, error)
	IsSupervisorOf(ctx context.Context, supervisorID, identityID int64) (bool, error)

	CreateTask(ctx context.Context, t *work.Task) (*work.Task, error)
	TaskByID(ctx context.Context, id int64) (*work.Task, error)
	UpdateTask(ctx context.Context, id int64, expected version.Token, f database.TaskFields) (version.Token, error)
	SetTaskStatus(ctx context.Context, id int64, expected version.Token, status work.TaskStatus) (version.Token, error)
	SearchTasks(ctx context.Context, search query.Search, scope ...query.Condition) ([]*work.Task, error)

	CreateReport(ctx context.Context, r *work.Report) (*work.Report, error)
	ReportByID(ctx context.Context, id int64) (*work.Report, error)
	UpdateReport(ctx context.Context, id int64, expected version.Token, f database.ReportFields) (version.Token, error)
	SubmitReport(ctx context.Context, id int64, expected version.Token, supervisorID *int64) (version.Token, error)
	ReviewReport(ctx context.Context, id int64, expected version.Token, status work.ReportStatus, comment string, reviewer int64, at time.Time) (version.Token, error)
	SearchReports(ctx context.Context, search query.Search, scope ...query.Condition) ([]*work.Report, error)
}

// Notifier delivers in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, identityID int64, kind work.NotificationKind, title, body string) (*work.Notification, error)
}

type Service struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// supervises reports whether actor is the direct supervisor of identityID.
func (s *Service) supervises(ctx context.Context, actor *models.Session, identityID int64) (bool, error) {
	if !actor.CanSupervise() {
		return false, nil
	}
	return s.store.IsSupervisorOf(ctx, actor.IdentityID, identityID)
}

func (s *Service) notify(ctx context.Context, identityID int64, kind work.NotificationKind, title, body string) {
	if s.notifier == nil {
		return
	}
	// Failures are logged by the notifier; the workflow step has already been committed.
	_, _ = s.notifier.Notify(ctx, identityID, kind, title, body)
}

func (s *Service) logConflict(err error, entity string, id int64) {
	if isConflict(err) {
		s.logger.Info("Stale version rejected", zap.String("entity", entity), zap.Int64("id", id))
	}
}
