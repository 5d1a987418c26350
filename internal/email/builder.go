// Package email builds and sends the HTML summary emails.
package email

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phoen-ix/bank-of-tina/internal/core"
	"github.com/phoen-ix/bank-of-tina/internal/services"
	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

// Builder renders the weekly balance, admin summary and backup status
// emails with the configured theme colors and template snippets.
type Builder struct {
	store    *storage.SQLiteRepository
	settings *services.Settings
}

func NewBuilder(store *storage.SQLiteRepository, settings *services.Settings) *Builder {
	return &Builder{store: store, settings: settings}
}

func (b *Builder) currency(ctx context.Context) string {
	return b.settings.Get(ctx, "currency_symbol", "€")
}

func (b *Builder) fmtAmount(ctx context.Context, d decimal.Decimal) string {
	sep := b.settings.DecimalSeparator(ctx)
	return strings.ReplaceAll(d.StringFixed(2), ".", sep)
}

// windowTransactions picks the user's transactions for their email
// window preference. The bool reports whether the section is shown at
// all.
func (b *Builder) windowTransactions(ctx context.Context, user core.User) ([]core.Transaction, bool, error) {
	if user.EmailTransactions == core.EmailTxNone {
		return nil, false, nil
	}

	loc := b.settings.Timezone(ctx)
	now := time.Now().In(loc)
	switch user.EmailTransactions {
	case core.EmailTxThisWeek:
		start := core.WeekStart(now).In(time.UTC)
		txs, err := b.userTransactionsSince(ctx, user.ID, start)
		return txs, true, err
	case core.EmailTxThisMonth:
		start := core.MonthStart(now).In(time.UTC)
		txs, err := b.userTransactionsSince(ctx, user.ID, start)
		return txs, true, err
	default: // last3
		txs, err := b.store.ListUserTransactions(ctx, user.ID, 3, 0)
		return txs, true, err
	}
}

func (b *Builder) userTransactionsSince(ctx context.Context, userID int64, since time.Time) ([]core.Transaction, error) {
	all, err := b.store.ListUserTransactions(ctx, userID, 100000, 0)
	if err != nil {
		return nil, err
	}
	var txs []core.Transaction
	for _, tx := range all {
		if !tx.Date.Before(since) {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

// UserEmail renders the weekly balance email for one user.
func (b *Builder) UserEmail(ctx context.Context, user core.User) (string, error) {
	sym := b.currency(ctx)
	loc := b.settings.Timezone(ctx)

	var balanceClass, balanceStatus string
	switch {
	case user.Balance.IsNegative():
		balanceClass = "color: #dc3545;"
		balanceStatus = fmt.Sprintf("You owe %s%s", sym, b.fmtAmount(ctx, user.Balance.Abs()))
	case user.Balance.IsPositive():
		balanceClass = "color: #28a745;"
		balanceStatus = fmt.Sprintf("You are owed %s%s", sym, b.fmtAmount(ctx, user.Balance))
	default:
		balanceClass = "color: #6c757d;"
		balanceStatus = "Your balance is settled"
	}

	transactions, showSection, err := b.windowTransactions(ctx, user)
	if err != nil {
		return "", fmt.Errorf("load transactions: %w", err)
	}

	var sectionHTML string
	if showSection {
		rows, err := b.transactionRows(ctx, user, transactions, sym)
		if err != nil {
			return "", err
		}
		sectionHTML = fmt.Sprintf(`
            <h3 style="color: #495057; margin-top: 30px;">Recent Transactions</h3>
            <table style="width: 100%%; border-collapse: collapse; margin-top: 15px;">
                <thead>
                    <tr style="background: #f8f9fa;">
                        <th style="padding: 10px; text-align: left; border-bottom: 2px solid #dee2e6;">Date</th>
                        <th style="padding: 10px; text-align: left; border-bottom: 2px solid #dee2e6;">Description</th>
                        <th style="padding: 10px; text-align: left; border-bottom: 2px solid #dee2e6;">With</th>
                        <th style="padding: 10px; text-align: right; border-bottom: 2px solid #dee2e6;">Amount</th>
                    </tr>
                </thead>
                <tbody>%s</tbody>
            </table>`, rows)
	}

	vars := map[string]string{
		"Name":          user.Name,
		"Balance":       sym + b.fmtAmount(ctx, user.Balance),
		"BalanceStatus": balanceStatus,
		"Date":          time.Now().In(loc).Format("2006-01-02"),
	}
	greeting := services.ApplyTemplate(b.settings.Tpl(ctx, "tpl_email_greeting"), vars)
	intro := services.ApplyTemplate(b.settings.Tpl(ctx, "tpl_email_intro"), vars)
	footer1 := services.ApplyTemplate(b.settings.Tpl(ctx, "tpl_email_footer1"), vars)
	footer2 := services.ApplyTemplate(b.settings.Tpl(ctx, "tpl_email_footer2"), vars)

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: linear-gradient(135deg, %s 0%%, %s 100%%); color: white; padding: 30px; border-radius: 10px 10px 0 0; text-align: center;">
        <h1 style="margin: 0; font-size: 28px;">&#127974; Bank of Tina</h1>
        <p style="margin: 10px 0 0 0; opacity: 0.9;">Weekly Balance Update</p>
    </div>
    <div style="background: white; padding: 30px; border: 1px solid #dee2e6; border-top: none; border-radius: 0 0 10px 10px;">
        %s
        %s
        <div style="background: #f8f9fa; padding: 20px; border-radius: 8px; margin: 20px 0; text-align: center;">
            <p style="margin: 0 0 10px 0; color: #6c757d; text-transform: uppercase; font-size: 12px; font-weight: bold;">Current Balance</p>
            <h2 style="margin: 0; font-size: 36px; %s">%s%s</h2>
        </div>
        %s
        <div style="margin-top: 30px; padding-top: 20px; border-top: 1px solid #dee2e6; text-align: center; color: #6c757d; font-size: 14px;">
            %s
            %s
        </div>
    </div>
</body>
</html>`,
		b.settings.Tpl(ctx, "color_email_grad_start"), b.settings.Tpl(ctx, "color_email_grad_end"),
		wrapP(greeting, `style="font-size: 16px; margin-bottom: 20px;"`),
		wrapP(intro, ""),
		balanceClass, sym, b.fmtAmount(ctx, user.Balance),
		sectionHTML,
		wrapP(footer1, ""),
		wrapP(footer2, `style="margin-top: 10px;"`)), nil
}

func (b *Builder) transactionRows(ctx context.Context, user core.User, transactions []core.Transaction, sym string) (string, error) {
	if len(transactions) == 0 {
		return `
            <tr><td colspan="4" style="padding: 16px; text-align: center; color: #6c757d;">No recent transactions</td></tr>`, nil
	}

	names, err := b.userNames(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, tx := range transactions {
		direction, other := "←", "System"
		amountClass, sign := "color: #28a745;", "+"
		if tx.FromUserID != nil && *tx.FromUserID == user.ID {
			direction, sign = "→", "-"
			amountClass = "color: #dc3545;"
			if tx.ToUserID != nil {
				other = names[*tx.ToUserID]
			}
		} else if tx.FromUserID != nil {
			other = names[*tx.FromUserID]
		}
		fmt.Fprintf(&sb, `
            <tr>
                <td style="padding: 8px; border-bottom: 1px solid #dee2e6;">%s</td>
                <td style="padding: 8px; border-bottom: 1px solid #dee2e6;">%s</td>
                <td style="padding: 8px; border-bottom: 1px solid #dee2e6;">%s %s</td>
                <td style="padding: 8px; border-bottom: 1px solid #dee2e6; text-align: right; %s">%s%s%s</td>
            </tr>`,
			tx.Date.Format("2006-01-02"),
			html.EscapeString(tx.Description),
			direction, html.EscapeString(other),
			amountClass, sign, sym, b.fmtAmount(ctx, tx.Amount))
	}
	return sb.String(), nil
}

func (b *Builder) userNames(ctx context.Context) (map[int64]string, error) {
	users, err := b.store.ListUsers(ctx, false)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

// AdminSummary renders the all-users balance table for the admin.
func (b *Builder) AdminSummary(ctx context.Context, users []core.User, includeEmails bool) string {
	sym := b.currency(ctx)
	loc := b.settings.Timezone(ctx)
	dateStr := time.Now().In(loc).Format("2006-01-02")
	vars := map[string]string{
		"Date":      dateStr,
		"UserCount": fmt.Sprintf("%d", len(users)),
	}
	intro := services.ApplyTemplate(b.settings.Tpl(ctx, "tpl_admin_intro"), vars)
	footer := services.ApplyTemplate(b.settings.Tpl(ctx, "tpl_admin_footer"), vars)

	posColor := b.settings.Tpl(ctx, "color_balance_positive")
	negColor := b.settings.Tpl(ctx, "color_balance_negative")

	var rows strings.Builder
	for _, u := range users {
		color := "#6c757d"
		if u.Balance.IsNegative() {
			color = negColor
		} else if u.Balance.IsPositive() {
			color = posColor
		}
		emailCell := ""
		if includeEmails {
			emailCell = fmt.Sprintf(`<td style="padding: 10px 8px; border-bottom: 1px solid #dee2e6; color: #6c757d; font-size: 0.9em;">%s</td>`,
				html.EscapeString(u.Email))
		}
		fmt.Fprintf(&rows, `
            <tr>
                <td style="padding: 10px 8px; border-bottom: 1px solid #dee2e6;">%s</td>
                %s
                <td style="padding: 10px 8px; border-bottom: 1px solid #dee2e6; text-align: right; font-weight: bold; color: %s;">%s%s</td>
            </tr>`,
			html.EscapeString(u.Name), emailCell, color, sym, b.fmtAmount(ctx, u.Balance))
	}

	emailHeader := ""
	if includeEmails {
		emailHeader = `<th style="padding: 10px 8px; text-align: left; border-bottom: 2px solid #dee2e6;">Email</th>`
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; line-height: 1.6; color: #333; max-width: 700px; margin: 0 auto; padding: 20px;">
    <div style="background: linear-gradient(135deg, %s 0%%, %s 100%%); color: white; padding: 30px; border-radius: 10px 10px 0 0; text-align: center;">
        <h1 style="margin: 0; font-size: 28px;">&#127974; Bank of Tina</h1>
        <p style="margin: 10px 0 0 0; opacity: 0.9;">Admin Summary &mdash; %s</p>
    </div>
    <div style="background: white; padding: 30px; border: 1px solid #dee2e6; border-top: none; border-radius: 0 0 10px 10px;">
        %s
        <h3 style="color: #495057; margin-top: 0;">All Active Users</h3>
        <table style="width: 100%%; border-collapse: collapse;">
            <thead>
                <tr style="background: #f8f9fa;">
                    <th style="padding: 10px 8px; text-align: left; border-bottom: 2px solid #dee2e6;">Name</th>
                    %s
                    <th style="padding: 10px 8px; text-align: right; border-bottom: 2px solid #dee2e6;">Balance</th>
                </tr>
            </thead>
            <tbody>%s
            </tbody>
        </table>
        <div style="margin-top: 24px; padding-top: 16px; border-top: 1px solid #dee2e6; text-align: center; color: #6c757d; font-size: 13px;">
            %s
        </div>
    </div>
</body>
</html>`,
		b.settings.Tpl(ctx, "color_email_grad_start"), b.settings.Tpl(ctx, "color_email_grad_end"),
		dateStr,
		wrapP(intro, `style="margin-bottom:20px;"`),
		emailHeader, rows.String(),
		wrapP(footer, ""))
}

// BackupStatus renders the scheduled backup report.
func (b *Builder) BackupStatus(ctx context.Context, ok bool, result string, kept, pruned int) string {
	loc := b.settings.Timezone(ctx)
	dateStr := time.Now().In(loc).Format("2006-01-02 15:04")
	footer := services.ApplyTemplate(b.settings.Tpl(ctx, "tpl_backup_footer"),
		map[string]string{"Date": dateStr})

	var statusColor, statusIcon, statusText, detailRows string
	if ok {
		statusColor = "#28a745"
		statusIcon = "&#10004;"
		statusText = "Backup completed successfully"
		detailRows = fmt.Sprintf(`
            <tr><td style="padding:8px;color:#6c757d;width:140px;">File</td>
                <td style="padding:8px;font-family:monospace;">%s</td></tr>
            <tr><td style="padding:8px;color:#6c757d;">Backups kept</td>
                <td style="padding:8px;">%d</td></tr>`, html.EscapeString(result), kept)
		if pruned > 0 {
			detailRows += fmt.Sprintf(`
            <tr><td style="padding:8px;color:#6c757d;">Pruned</td>
                <td style="padding:8px;">%d old backup(s) deleted</td></tr>`, pruned)
		}
	} else {
		statusColor = "#dc3545"
		statusIcon = "&#10008;"
		statusText = "Backup failed"
		detailRows = fmt.Sprintf(`
            <tr><td style="padding:8px;color:#6c757d;width:140px;">Error</td>
                <td style="padding:8px;color:#dc3545;">%s</td></tr>`, html.EscapeString(result))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; line-height:1.6; color:#333; max-width:600px; margin:0 auto; padding:20px;">
    <div style="background:linear-gradient(135deg,%s 0%%,%s 100%%); color:white; padding:30px; border-radius:10px 10px 0 0; text-align:center;">
        <h1 style="margin:0; font-size:28px;">&#127974; Bank of Tina</h1>
        <p style="margin:10px 0 0 0; opacity:0.9;">Scheduled Backup Report &mdash; %s</p>
    </div>
    <div style="background:white; padding:30px; border:1px solid #dee2e6; border-top:none; border-radius:0 0 10px 10px;">
        <div style="background:#f8f9fa; padding:16px 20px; border-radius:8px; margin-bottom:24px; border-left:4px solid %s;">
            <span style="font-size:1.1em; font-weight:bold; color:%s;">%s %s</span>
        </div>
        <table style="width:100%%; border-collapse:collapse; font-size:0.95em;">
            <tbody>%s
            </tbody>
        </table>
        <div style="margin-top:24px; padding-top:16px; border-top:1px solid #dee2e6; text-align:center; color:#6c757d; font-size:13px;">
            %s
        </div>
    </div>
</body>
</html>`,
		b.settings.Tpl(ctx, "color_email_grad_start"), b.settings.Tpl(ctx, "color_email_grad_end"),
		dateStr, statusColor, statusColor, statusIcon, statusText, detailRows,
		wrapP(footer, ""))
}

func wrapP(text, attrs string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if attrs != "" {
		return "<p " + attrs + ">" + text + "</p>"
	}
	return "<p>" + text + "</p>"
}
