// Package notify delivers in-app notifications, pushes them over websockets and mails
// administrator alerts.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
	work "github.com/victorgomez09/suivi/internal/work/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	mailTimeout      = 30 * time.Second
)

type Store interface {
	CreateNotification(ctx context.Context, n *work.Notification) (*work.Notification, error)
	ListNotifications(ctx context.Context, identityID int64, unreadOnly bool, limit int) ([]work.Notification, error)
	MarkNotificationRead(ctx context.Context, id, identityID int64, at time.Time) error
}

type Service struct {
	store  Store
	hub    *Hub
	mailer Mailer
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires the notification store, the websocket hub and the mailer. hub and mailer may be nil.
func NewService(store Store, hub *Hub, mailer Mailer, logger *zap.Logger) *Service {
	if mailer == nil {
		mailer = NoopMailer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		hub:    hub,
		mailer: mailer,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) Hub() *Hub {
	return s.hub
}

// Notify stores a notification and pushes it to the recipient's open connections.
func (s *Service) Notify(ctx context.Context, identityID int64, kind work.NotificationKind, title, body string) (*work.Notification, error) {
	n, err := s.store.CreateNotification(ctx, &work.Notification{
		IdentityID: identityID,
		Kind:       kind,
		Title:      title,
		Body:       body,
	})
	if err != nil {
		s.logger.Error("Failed to store notification",
			zap.Int64("identity_id", identityID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, err
	}
	if s.hub != nil {
		s.hub.Publish(n)
	}
	return n, nil
}

// List returns the caller's newest notifications.
func (s *Service) List(ctx context.Context, sess *models.Session, unreadOnly bool, limit int) ([]work.Notification, error) {
	if sess == nil {
		return nil, apierr.ErrUnauthenticated
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	out, err := s.store.ListNotifications(ctx, sess.IdentityID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []work.Notification{}
	}
	return out, nil
}

// MarkRead marks one of the caller's notifications read. Others' notifications are NOT_FOUND.
func (s *Service) MarkRead(ctx context.Context, sess *models.Session, id int64) error {
	if sess == nil {
		return apierr.ErrUnauthenticated
	}
	return s.store.MarkNotificationRead(ctx, id, sess.IdentityID, s.now())
}

// AccountLocked is called by the lockout state machine when failures lock an account.
// Live connections of the account are closed. The supervisor gets an in-app notification; administrators get an email sent in the background.
func (s *Service) AccountLocked(ctx context.Context, identity *models.Identity, rec models.LockoutRecord) {
	if s.hub != nil {
		s.hub.IdentityRevoked(identity.ID)
	}
	if identity.SupervisorID != nil {
		_, _ = s.Notify(ctx, *identity.SupervisorID, work.NotifyAccountLocked,
			fmt.Sprintf("Account %s locked", identity.Username),
			fmt.Sprintf("%s was locked after %d failed sign-in attempts.", identity.Username, rec.FailedLogins))
	}

	go func() {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mailTimeout)
		defer cancel()
		if err := s.mailer.AccountLocked(mctx, identity, rec); err != nil {
			s.logger.Error("Failed to send lock alert",
				zap.String("username", identity.Username),
				zap.Error(err))
		}
	}()
}
