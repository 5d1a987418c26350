// Package services implements the application logic on top of storage.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

// Theme is a named color preset for the web UI and the summary emails.
type Theme struct {
	Key                 string
	Label               string
	ColorNavbar         string
	ColorEmailGradStart string
	ColorEmailGradEnd   string
	ColorBalancePos     string
	ColorBalanceNeg     string
}

// Themes lists the built-in presets, default first.
var Themes = []Theme{
	{"default", "Default", "#0d6efd", "#667eea", "#764ba2", "#28a745", "#dc3545"},
	{"ocean", "Ocean", "#0077b6", "#0077b6", "#00b4d8", "#2ec4b6", "#e76f51"},
	{"forest", "Forest", "#2d6a4f", "#2d6a4f", "#52b788", "#52b788", "#e63946"},
	{"sunset", "Sunset", "#c94b4b", "#c94b4b", "#4b134f", "#28a745", "#dc3545"},
	{"slate", "Slate", "#343a40", "#343a40", "#6c757d", "#28a745", "#dc3545"},
}

// TemplateDefaults are the fallback values for theme colors and email
// template snippets when no override is stored.
var TemplateDefaults = map[string]string{
	"color_navbar":           "#0d6efd",
	"color_email_grad_start": "#667eea",
	"color_email_grad_end":   "#764ba2",
	"color_balance_positive": "#28a745",
	"color_balance_negative": "#dc3545",
	"tpl_email_subject":      "Bank of Tina - Weekly Balance Update ([Date])",
	"tpl_email_greeting":     "Hi [Name],",
	"tpl_email_intro":        "Here's your weekly update from the Bank of Tina:",
	"tpl_email_footer1":      "This is an automated weekly update from the Bank of Tina system.",
	"tpl_email_footer2":      "Making office lunches easier! \U0001f957",
	"tpl_admin_subject":      "Bank of Tina - Admin Summary ([Date])",
	"tpl_admin_intro":        "",
	"tpl_admin_footer":       "This is an automated admin summary from the Bank of Tina system.",
	"tpl_backup_subject":     "Bank of Tina - Backup [BackupStatus] ([Date])",
	"tpl_backup_footer":      "This is an automated backup report from the Bank of Tina system.",
}

var themeColorKeys = []string{
	"color_navbar", "color_email_grad_start", "color_email_grad_end",
	"color_balance_positive", "color_balance_negative",
}

// Settings reads and writes the persisted key/value configuration.
type Settings struct {
	store *storage.SQLiteRepository
}

func NewSettings(store *storage.SQLiteRepository) *Settings {
	return &Settings{store: store}
}

// Get returns the stored value for key, or def when unset.
func (s *Settings) Get(ctx context.Context, key, def string) string {
	value, ok, err := s.store.GetSetting(ctx, key)
	if err != nil || !ok {
		return def
	}
	return value
}

func (s *Settings) Set(ctx context.Context, key, value string) error {
	return s.store.SetSetting(ctx, key, value)
}

// Tpl returns a template or theme value, falling back to TemplateDefaults.
func (s *Settings) Tpl(ctx context.Context, key string) string {
	return s.Get(ctx, key, TemplateDefaults[key])
}

// DetectTheme returns the key of the preset matching the stored colors,
// or "custom" when the colors match no preset.
func (s *Settings) DetectTheme(ctx context.Context) string {
	current := make(map[string]string, len(themeColorKeys))
	for _, k := range themeColorKeys {
		current[k] = s.Tpl(ctx, k)
	}
	for _, theme := range Themes {
		if current["color_navbar"] == theme.ColorNavbar &&
			current["color_email_grad_start"] == theme.ColorEmailGradStart &&
			current["color_email_grad_end"] == theme.ColorEmailGradEnd &&
			current["color_balance_positive"] == theme.ColorBalancePos &&
			current["color_balance_negative"] == theme.ColorBalanceNeg {
			return theme.Key
		}
	}
	return "custom"
}

// ApplyTheme stores all color keys of the named preset.
func (s *Settings) ApplyTheme(ctx context.Context, key string) error {
	for _, theme := range Themes {
		if theme.Key != key {
			continue
		}
		values := map[string]string{
			"color_navbar":           theme.ColorNavbar,
			"color_email_grad_start": theme.ColorEmailGradStart,
			"color_email_grad_end":   theme.ColorEmailGradEnd,
			"color_balance_positive": theme.ColorBalancePos,
			"color_balance_negative": theme.ColorBalanceNeg,
		}
		for k, v := range values {
			if err := s.Set(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown theme %q", key)
}

// Timezone returns the configured *time.Location, falling back to UTC
// when the setting is missing or invalid.
func (s *Settings) Timezone(ctx context.Context) *time.Location {
	name := s.Get(ctx, "timezone", "UTC")
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DecimalSeparator returns the configured separator for amount display.
func (s *Settings) DecimalSeparator(ctx context.Context) string {
	return s.Get(ctx, "decimal_separator", ".")
}

// ApplyTemplate replaces [Key] placeholders in text with the given values.
func ApplyTemplate(text string, values map[string]string) string {
	for key, value := range values {
		text = strings.ReplaceAll(text, "["+key+"]", value)
	}
	return text
}
