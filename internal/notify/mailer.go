package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/config"
)

// Mailer sends administrator alerts.
type Mailer interface {
	AccountLocked(ctx context.Context, identity *models.Identity, rec models.LockoutRecord) error
}

// NewMailer returns an SMTP mailer, or a no-op mailer when mail is disabled.
func NewMailer(cfg config.Mail, logger *zap.Logger) (Mailer, error) {
	if !cfg.Enabled || len(cfg.AdminRecipients) == 0 {
		return NoopMailer{}, nil
	}
	return NewEmailMailer(cfg, logger)
}

type EmailMailer struct {
	client *mail.Client
	from   string
	to     []string
	logger *zap.Logger
}

func NewEmailMailer(cfg config.Mail, logger *zap.Logger) (*EmailMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(10 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &EmailMailer{
		client: client,
		from:   cfg.From,
		to:     cfg.AdminRecipients,
		logger: logger,
	}, nil
}

func (e *EmailMailer) AccountLocked(ctx context.Context, identity *models.Identity, rec models.LockoutRecord) error {
	msg := mail.NewMsg()
	if err := msg.From(e.from); err != nil {
		return fmt.Errorf("failed to set From address: %w", err)
	}
	if err := msg.To(e.to...); err != nil {
		return fmt.Errorf("failed to set To address: %w", err)
	}

	lockedAt := "now"
	if rec.LockedAt != nil {
		lockedAt = rec.LockedAt.Format(time.RFC3339)
	}

	msg.Subject(fmt.Sprintf("Account locked - %s", identity.Username))
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"The account %s (%s, %s) was locked at %s after %d failed sign-in attempts.\n\n"+
			"Reason: %s\n\nAn administrator must unlock the account before it can be used again.",
		identity.Username,
		identity.DisplayName,
		identity.BranchName,
		lockedAt,
		rec.FailedLogins,
		rec.Reason,
	))

	if err := e.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send lock alert: %w", err)
	}
	e.logger.Info("Lock alert sent",
		zap.String("username", identity.Username),
		zap.Int("recipients", len(e.to)))
	return nil
}

// NoopMailer is used when mail is disabled.
type NoopMailer struct{}

func (NoopMailer) AccountLocked(context.Context, *models.Identity, models.LockoutRecord) error {
	return nil
}
