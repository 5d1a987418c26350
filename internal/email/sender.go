package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/wneessen/go-mail"

	"github.com/phoen-ix/bank-of-tina/internal/services"
)

// ErrNotConfigured is returned when no SMTP credentials are stored.
var ErrNotConfigured = errors.New("SMTP credentials not configured")

// Sender delivers a single HTML email.
type Sender interface {
	Send(ctx context.Context, toEmail, toName, subject, htmlBody string) error
}

// SMTPSender reads its connection settings from the settings store on
// every send, so changes in the settings panel apply without a restart.
type SMTPSender struct {
	settings *services.Settings
}

func NewSMTPSender(settings *services.Settings) *SMTPSender {
	return &SMTPSender{settings: settings}
}

func (s *SMTPSender) Send(ctx context.Context, toEmail, toName, subject, htmlBody string) error {
	server := s.settings.Get(ctx, "smtp_server", "smtp.gmail.com")
	port, err := strconv.Atoi(s.settings.Get(ctx, "smtp_port", "587"))
	if err != nil {
		port = 587
	}
	username := s.settings.Get(ctx, "smtp_username", "")
	password := s.settings.Get(ctx, "smtp_password", "")
	fromEmail := s.settings.Get(ctx, "from_email", username)
	fromName := s.settings.Get(ctx, "from_name", "Bank of Tina")

	if username == "" || password == "" {
		return ErrNotConfigured
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(fromName, fromEmail); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.AddToFormat(toName, toEmail); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	client, err := mail.NewClient(server,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(username),
		mail.WithPassword(password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("create mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	slog.InfoContext(ctx, "Email sent", "to", toEmail)
	return nil
}
