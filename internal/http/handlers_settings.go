package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/phoen-ix/bank-of-tina/internal/core"
	"github.com/phoen-ix/bank-of-tina/internal/email"
	"github.com/phoen-ix/bank-of-tina/internal/icons"
	"github.com/phoen-ix/bank-of-tina/internal/services"
	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

const settingsPath = "/settings"

// generalDefaults are the fallback values the settings page shows for
// keys that have never been saved. Template and color defaults live in
// services.TemplateDefaults.
var generalDefaults = map[string]string{
	"currency_symbol":           "€",
	"decimal_separator":         ".",
	"timezone":                  "UTC",
	"site_admin_id":             "",
	"recent_transactions_count": "10",

	"email_enabled":                "1",
	"email_debug":                  "0",
	"admin_summary_email":          "0",
	"admin_summary_include_emails": "0",

	"schedule_enabled": "0",
	"schedule_day":     "mon",
	"schedule_hour":    "9",
	"schedule_minute":  "0",

	"backup_enabled":     "0",
	"backup_day":         "*",
	"backup_hour":        "3",
	"backup_minute":      "0",
	"backup_keep":        "7",
	"backup_debug":       "0",
	"backup_admin_email": "0",

	"common_auto_enabled":           "0",
	"common_auto_day":               "*",
	"common_auto_hour":              "2",
	"common_auto_minute":            "0",
	"common_auto_debug":             "0",
	"common_items_auto":             "0",
	"common_items_threshold":        "5",
	"common_descriptions_auto":      "0",
	"common_descriptions_threshold": "5",
	"common_prices_auto":            "0",
	"common_prices_threshold":       "5",
}

func (s *Server) effectiveSettings(r *http.Request) (map[string]string, error) {
	stored, err := s.store.ListSettings(r.Context())
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(generalDefaults)+len(services.TemplateDefaults)+len(stored))
	for k, v := range generalDefaults {
		merged[k] = v
	}
	for k, v := range services.TemplateDefaults {
		merged[k] = v
	}
	for k, v := range stored {
		merged[k] = v
	}
	return merged, nil
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	values, err := s.effectiveSettings(r)
	if err != nil {
		slog.ErrorContext(ctx, "List settings failed", "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	users, err := s.store.ListUsers(ctx, false)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	commons := make(map[string][]string, 3)
	blacklists := make(map[string][]string, 3)
	for _, kind := range []string{storage.CommonKindItem, storage.CommonKindDescription, storage.CommonKindPrice} {
		if commons[kind], err = s.store.ListCommonValues(ctx, kind); err != nil {
			http.Error(w, "database error", http.StatusInternalServerError)
			return
		}
		if blacklists[kind], err = s.store.ListBlacklist(ctx, kind); err != nil {
			http.Error(w, "database error", http.StatusInternalServerError)
			return
		}
	}

	emailLogs, err := s.store.ListEmailLogs(ctx, 100)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	collectLogs, err := s.store.ListAutoCollectLogs(ctx, 100)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	backupLogs, err := s.store.ListBackupLogs(ctx, 100)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	backups, err := s.backups.List()
	if err != nil {
		slog.WarnContext(ctx, "List backups failed", "error", err)
	}
	type backupView struct {
		Filename string
		SizeKB   int64
		Modified string
	}
	loc := s.settings.Timezone(ctx)
	backupViews := make([]backupView, 0, len(backups))
	for _, b := range backups {
		backupViews = append(backupViews, backupView{
			Filename: b.Filename,
			SizeKB:   (b.Size + 1023) / 1024,
			Modified: b.Modified.In(loc).Format("2006-01-02 15:04"),
		})
	}

	data := struct {
		Values      map[string]string
		Users       []userView
		Themes      []services.Theme
		ActiveTheme string
		Commons     map[string][]string
		Blacklists  map[string][]string
		EmailLogs   []storage.JobLogEntry
		CollectLogs []storage.JobLogEntry
		BackupLogs  []storage.JobLogEntry
		Backups     []backupView
	}{
		Values:      values,
		Users:       s.userViews(ctx, users),
		Themes:      services.Themes,
		ActiveTheme: s.settings.DetectTheme(ctx),
		Commons:     commons,
		Blacklists:  blacklists,
		EmailLogs:   emailLogs,
		CollectLogs: collectLogs,
		BackupLogs:  backupLogs,
		Backups:     backupViews,
	}
	s.render(w, r, "settings.html", s.newPage(w, r, "Settings", data))
}

func checkbox(r *http.Request, name string) string {
	if v := r.FormValue(name); v == "1" || v == "on" {
		return "1"
	}
	return "0"
}

func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request, pairs map[string]string) bool {
	for key, value := range pairs {
		if err := s.settings.Set(r.Context(), key, value); err != nil {
			slog.ErrorContext(r.Context(), "Save setting failed", "key", key, "error", err)
			s.redirectFlash(w, r, settingsPath, "danger", "Failed to save settings.")
			return false
		}
	}
	return true
}

func (s *Server) handleSettingsGeneral(w http.ResponseWriter, r *http.Request) {
	tz := strings.TrimSpace(r.FormValue("timezone"))
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			s.redirectFlash(w, r, settingsPath, "danger", "Unknown timezone "+tz+".")
			return
		}
	}
	pairs := map[string]string{
		"currency_symbol":              strings.TrimSpace(r.FormValue("currency_symbol")),
		"decimal_separator":            r.FormValue("decimal_separator"),
		"timezone":                     tz,
		"site_admin_id":                strings.TrimSpace(r.FormValue("site_admin_id")),
		"recent_transactions_count":    strings.TrimSpace(r.FormValue("recent_transactions_count")),
		"email_enabled":                checkbox(r, "email_enabled"),
		"email_debug":                  checkbox(r, "email_debug"),
		"admin_summary_email":          checkbox(r, "admin_summary_email"),
		"admin_summary_include_emails": checkbox(r, "admin_summary_include_emails"),
	}
	if !s.saveSettings(w, r, pairs) {
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "General settings saved.")
}

// scheduleForm saves one enabled/day/hour/minute block and installs or
// removes the matching cron job.
func (s *Server) scheduleForm(w http.ResponseWriter, r *http.Request, prefix string, extra map[string]string, install func() error, remove func()) {
	pairs := map[string]string{
		prefix + "_enabled": checkbox(r, prefix+"_enabled"),
		prefix + "_day":     r.FormValue(prefix + "_day"),
		prefix + "_hour":    r.FormValue(prefix + "_hour"),
		prefix + "_minute":  r.FormValue(prefix + "_minute"),
	}
	for k, v := range extra {
		pairs[k] = v
	}
	if !s.saveSettings(w, r, pairs) {
		return
	}
	if pairs[prefix+"_enabled"] == "1" {
		if err := install(); err != nil {
			slog.ErrorContext(r.Context(), "Install job failed", "job", prefix, "error", err)
			s.redirectFlash(w, r, settingsPath, "danger", "Saved, but the schedule could not be installed.")
			return
		}
	} else {
		remove()
	}
	s.redirectFlash(w, r, settingsPath, "success", "Schedule saved.")
}

func (s *Server) handleSettingsSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.scheduleForm(w, r, "schedule", nil,
		func() error { return s.jobs.InstallEmailJob(ctx) },
		s.jobs.RemoveEmailJob)
}

func (s *Server) handleSettingsBackup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	extra := map[string]string{
		"backup_keep":        strings.TrimSpace(r.FormValue("backup_keep")),
		"backup_debug":       checkbox(r, "backup_debug"),
		"backup_admin_email": checkbox(r, "backup_admin_email"),
	}
	s.scheduleForm(w, r, "backup", extra,
		func() error { return s.jobs.InstallBackupJob(ctx) },
		s.jobs.RemoveBackupJob)
}

func (s *Server) handleSettingsCommonAuto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	extra := map[string]string{
		"common_auto_debug": checkbox(r, "common_auto_debug"),
	}
	for _, kind := range []string{"items", "descriptions", "prices"} {
		extra["common_"+kind+"_auto"] = checkbox(r, "common_"+kind+"_auto")
		extra["common_"+kind+"_threshold"] = strings.TrimSpace(r.FormValue("common_" + kind + "_threshold"))
	}
	s.scheduleForm(w, r, "common_auto", extra,
		func() error { return s.jobs.InstallCommonJob(ctx) },
		s.jobs.RemoveCommonJob)
}

func (s *Server) handleSettingsTemplates(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.redirectFlash(w, r, settingsPath, "danger", "Invalid form submission.")
		return
	}
	pairs := make(map[string]string)
	for key := range services.TemplateDefaults {
		if values, ok := r.Form[key]; ok && len(values) > 0 {
			pairs[key] = values[0]
		}
	}
	if len(pairs) == 0 {
		s.redirectFlash(w, r, settingsPath, "warning", "Nothing to save.")
		return
	}
	if !s.saveSettings(w, r, pairs) {
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Templates saved.")
}

func (s *Server) handleSettingsTemplatesReset(w http.ResponseWriter, r *http.Request) {
	pairs := make(map[string]string, len(services.TemplateDefaults))
	for key, def := range services.TemplateDefaults {
		pairs[key] = def
	}
	if !s.saveSettings(w, r, pairs) {
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Templates reset to defaults.")
}

func (s *Server) handleTemplatePreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	builder := email.NewBuilder(s.store, s.settings)

	var body string
	switch r.PathValue("kind") {
	case "user":
		users, err := s.store.ListUsers(ctx, true)
		if err != nil || len(users) == 0 {
			http.Error(w, "no active users to preview with", http.StatusNotFound)
			return
		}
		body, err = builder.UserEmail(ctx, users[0])
		if err != nil {
			slog.ErrorContext(ctx, "Preview build failed", "error", err)
			http.Error(w, "preview failed", http.StatusInternalServerError)
			return
		}
	case "admin":
		users, err := s.store.ListUsers(ctx, true)
		if err != nil {
			http.Error(w, "database error", http.StatusInternalServerError)
			return
		}
		include := s.settings.Get(ctx, "admin_summary_include_emails", "0") == "1"
		body = builder.AdminSummary(ctx, users, include)
	case "backup":
		body = builder.BackupStatus(ctx, true, "bot_backup_2026_01_01_03-00-00.tar.gz", 7, 1)
	default:
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleApplyTheme(w http.ResponseWriter, r *http.Request) {
	key := r.FormValue("theme")
	if err := s.settings.ApplyTheme(r.Context(), key); err != nil {
		s.redirectFlash(w, r, settingsPath, "danger", "Unknown theme.")
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Theme applied.")
}

func (s *Server) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := strings.TrimSpace(r.FormValue("user_id"))
	if raw == "" {
		raw = s.settings.Get(ctx, "site_admin_id", "")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.redirectFlash(w, r, settingsPath, "danger", "Pick a recipient for the test email.")
		return
	}
	if err := s.emails.SendTest(ctx, id); err != nil {
		if errors.Is(err, email.ErrNotConfigured) {
			s.redirectFlash(w, r, settingsPath, "danger", "SMTP is not configured.")
			return
		}
		slog.ErrorContext(ctx, "Test email failed", "error", err)
		s.redirectFlash(w, r, settingsPath, "danger", "Test email failed.")
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Test email sent.")
}

func (s *Server) handleCommonAutoRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.collect.Run(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Auto-collect failed", "error", err)
		s.redirectFlash(w, r, settingsPath, "danger", "Auto-collect failed.")
		return
	}
	s.redirectFlash(w, r, settingsPath, "success",
		"Auto-collect done: "+strconv.Itoa(result.Added)+" added, "+strconv.Itoa(result.Skipped)+" skipped.")
}

func (s *Server) handleClearAutoCollectLog(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearAutoCollectLogs(r.Context()); err != nil {
		s.redirectFlash(w, r, settingsPath, "danger", "Failed to clear the log.")
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Auto-collect log cleared.")
}

func (s *Server) handleClearEmailLog(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearEmailLogs(r.Context()); err != nil {
		s.redirectFlash(w, r, settingsPath, "danger", "Failed to clear the log.")
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Email log cleared.")
}

func (s *Server) handleClearBackupLog(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearBackupLogs(r.Context()); err != nil {
		s.redirectFlash(w, r, settingsPath, "danger", "Failed to clear the log.")
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Backup log cleared.")
}

func (s *Server) handleGenerateIcons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	color := strings.TrimSpace(r.FormValue("color"))
	if color == "" {
		color = s.settings.Tpl(ctx, "color_navbar")
	}
	if err := icons.Generate(s.iconsDir, color); err != nil {
		slog.ErrorContext(ctx, "Icon generation failed", "error", err)
		s.redirectFlash(w, r, settingsPath, "danger", "Icon generation failed.")
		return
	}
	if err := s.settings.Set(ctx, "icon_color", color); err != nil {
		slog.WarnContext(ctx, "Failed to store icon color", "error", err)
	}
	s.redirectFlash(w, r, settingsPath, "success", "Icons regenerated.")
}

func (s *Server) handleResetIcons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	def := services.TemplateDefaults["color_navbar"]
	if err := icons.Generate(s.iconsDir, def); err != nil {
		slog.ErrorContext(ctx, "Icon generation failed", "error", err)
		s.redirectFlash(w, r, settingsPath, "danger", "Icon generation failed.")
		return
	}
	if err := s.settings.Set(ctx, "icon_color", def); err != nil {
		slog.WarnContext(ctx, "Failed to store icon color", "error", err)
	}
	s.redirectFlash(w, r, settingsPath, "success", "Icons reset.")
}

func (s *Server) handleCommonAdd(w http.ResponseWriter, r *http.Request, kind string) {
	value := strings.TrimSpace(r.FormValue("value"))
	if value == "" {
		s.redirectFlash(w, r, settingsPath, "danger", "Value cannot be empty.")
		return
	}
	err := s.store.AddCommonValue(r.Context(), kind, value)
	if errors.Is(err, core.ErrDuplicate) {
		s.redirectFlash(w, r, settingsPath, "warning", "That value is already in the list.")
		return
	}
	if err != nil {
		s.redirectFlash(w, r, settingsPath, "danger", "Failed to add the value.")
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Added "+value+".")
}

func (s *Server) handleCommonDelete(w http.ResponseWriter, r *http.Request, kind string) {
	value := r.FormValue("value")
	if err := s.store.DeleteCommonValue(r.Context(), kind, value); err != nil {
		s.redirectFlash(w, r, settingsPath, "danger", "Failed to delete the value.")
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Removed "+value+".")
}

func validBlacklistKind(kind string) bool {
	switch kind {
	case storage.CommonKindItem, storage.CommonKindDescription, storage.CommonKindPrice:
		return true
	}
	return false
}

func (s *Server) handleBlacklistAdd(w http.ResponseWriter, r *http.Request) {
	kind := r.FormValue("kind")
	value := strings.TrimSpace(r.FormValue("value"))
	if !validBlacklistKind(kind) || value == "" {
		s.redirectFlash(w, r, settingsPath, "danger", "Invalid blacklist entry.")
		return
	}
	if err := s.store.BlacklistValue(r.Context(), kind, value); err != nil {
		s.redirectFlash(w, r, settingsPath, "danger", "Failed to blacklist the value.")
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Blacklisted "+value+".")
}

func (s *Server) handleBlacklistDelete(w http.ResponseWriter, r *http.Request) {
	kind := r.FormValue("kind")
	value := r.FormValue("value")
	if !validBlacklistKind(kind) {
		s.redirectFlash(w, r, settingsPath, "danger", "Invalid blacklist entry.")
		return
	}
	if err := s.store.UnblacklistValue(r.Context(), kind, value); err != nil {
		s.redirectFlash(w, r, settingsPath, "danger", "Failed to remove the entry.")
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Removed "+value+" from the blacklist.")
}
