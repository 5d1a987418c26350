package email

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/phoen-ix/bank-of-tina/internal/core"
	"github.com/phoen-ix/bank-of-tina/internal/services"
	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

// Service sends the weekly balance emails to every opted-in active
// user, plus the optional admin summary.
type Service struct {
	store    *storage.SQLiteRepository
	settings *services.Settings
	builder  *Builder
	sender   Sender
}

func NewService(store *storage.SQLiteRepository, settings *services.Settings, sender Sender) *Service {
	return &Service{
		store:    store,
		settings: settings,
		builder:  NewBuilder(store, settings),
		sender:   sender,
	}
}

// BatchResult reports the outcome of one SendAll run.
type BatchResult struct {
	Sent   int
	Failed int
	Errors []string
}

// SendAll delivers the weekly email to every active, opted-in user.
// Failures are collected per recipient; one bad address does not stop
// the batch.
func (s *Service) SendAll(ctx context.Context) (BatchResult, error) {
	if s.settings.Get(ctx, "email_enabled", "1") != "1" {
		return BatchResult{Errors: []string{"Email sending is disabled in General settings."}}, nil
	}

	activeUsers, err := s.store.ListUsers(ctx, true)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list users: %w", err)
	}

	debug := s.settings.Get(ctx, "email_debug", "0") == "1"
	loc := s.settings.Timezone(ctx)
	subject := services.ApplyTemplate(s.settings.Tpl(ctx, "tpl_email_subject"),
		map[string]string{"Date": time.Now().In(loc).Format("2006-01-02")})

	var result BatchResult
	for _, user := range activeUsers {
		if !user.EmailOptIn {
			continue
		}
		recipient := fmt.Sprintf("%s <%s>", user.Name, user.Email)
		htmlBody, err := s.builder.UserEmail(ctx, user)
		if err == nil {
			err = s.sender.Send(ctx, user.Email, user.Name, subject, htmlBody)
		}
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", recipient, err))
			slog.WarnContext(ctx, "Email failed", "to", user.Email, "error", err)
			if debug {
				s.logEmail(ctx, "FAIL", recipient, err.Error())
			}
			continue
		}
		result.Sent++
		if debug {
			s.logEmail(ctx, "SUCCESS", recipient, "Email sent successfully")
		}
	}

	s.sendAdminSummary(ctx, activeUsers, debug)

	if debug {
		s.logEmail(ctx, "INFO", "",
			fmt.Sprintf("Run complete: %d sent, %d failed", result.Sent, result.Failed))
	}
	slog.InfoContext(ctx, "Email batch complete",
		"sent", result.Sent, "failed", result.Failed)
	return result, nil
}

func (s *Service) sendAdminSummary(ctx context.Context, activeUsers []core.User, debug bool) {
	if s.settings.Get(ctx, "admin_summary_email", "0") != "1" {
		return
	}
	admin, ok := s.adminUser(ctx)
	if !ok {
		return
	}

	loc := s.settings.Timezone(ctx)
	subject := services.ApplyTemplate(s.settings.Tpl(ctx, "tpl_admin_subject"), map[string]string{
		"Date":      time.Now().In(loc).Format("2006-01-02"),
		"UserCount": strconv.Itoa(len(activeUsers)),
	})
	includeEmails := s.settings.Get(ctx, "admin_summary_include_emails", "0") == "1"
	htmlBody := s.builder.AdminSummary(ctx, activeUsers, includeEmails)

	recipient := fmt.Sprintf("%s <%s>", admin.Name, admin.Email)
	if err := s.sender.Send(ctx, admin.Email, admin.Name, subject, htmlBody); err != nil {
		slog.WarnContext(ctx, "Admin summary failed", "to", admin.Email, "error", err)
		if debug {
			s.logEmail(ctx, "FAIL", recipient, fmt.Sprintf("Admin summary failed: %v", err))
		}
		return
	}
	if debug {
		s.logEmail(ctx, "INFO", "", "Admin summary sent to "+recipient)
	}
}

// SendBackupReport mails the backup outcome to the admin when enabled.
func (s *Service) SendBackupReport(ctx context.Context, ok bool, result string, kept, pruned int) {
	if s.settings.Get(ctx, "backup_admin_email", "0") != "1" {
		return
	}
	admin, found := s.adminUser(ctx)
	if !found {
		return
	}

	loc := s.settings.Timezone(ctx)
	status := "Failed"
	if ok {
		status = "Success"
	}
	subject := services.ApplyTemplate(s.settings.Tpl(ctx, "tpl_backup_subject"), map[string]string{
		"Date":         time.Now().In(loc).Format("2006-01-02"),
		"BackupStatus": status,
	})
	htmlBody := s.builder.BackupStatus(ctx, ok, result, kept, pruned)
	if err := s.sender.Send(ctx, admin.Email, admin.Name, subject, htmlBody); err != nil {
		slog.WarnContext(ctx, "Backup report failed", "to", admin.Email, "error", err)
	}
}

// SendTest delivers one weekly email for a single user so template and
// SMTP changes can be checked from the settings page.
func (s *Service) SendTest(ctx context.Context, userID int64) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load test recipient: %w", err)
	}
	if user.Email == "" {
		return fmt.Errorf("user %s has no email address", user.Name)
	}

	loc := s.settings.Timezone(ctx)
	subject := services.ApplyTemplate(s.settings.Tpl(ctx, "tpl_email_subject"), map[string]string{
		"Date": time.Now().In(loc).Format("2006-01-02"),
		"Name": user.Name,
	})
	htmlBody, err := s.builder.UserEmail(ctx, user)
	if err != nil {
		return fmt.Errorf("build test email: %w", err)
	}
	if err := s.sender.Send(ctx, user.Email, user.Name, subject, htmlBody); err != nil {
		return fmt.Errorf("send test email to %s: %w", user.Email, err)
	}
	slog.InfoContext(ctx, "Test email sent", "to", user.Email)
	return nil
}

func (s *Service) adminUser(ctx context.Context) (core.User, bool) {
	idStr := s.settings.Get(ctx, "site_admin_id", "")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return core.User{}, false
	}
	admin, err := s.store.GetUser(ctx, id)
	if err != nil {
		return core.User{}, false
	}
	return admin, true
}

func (s *Service) logEmail(ctx context.Context, level, recipient, message string) {
	if err := s.store.AddEmailLog(ctx, level, recipient, message); err != nil {
		slog.WarnContext(ctx, "Failed to write email log", "error", err)
	}
}
