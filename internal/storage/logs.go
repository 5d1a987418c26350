package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// maxJobLogRows caps each job log table; older rows are pruned on insert.
const maxJobLogRows = 500

// JobLogEntry is one row of a job log table (auto-collect, email, backup).
type JobLogEntry struct {
	ID        int64
	Timestamp time.Time
	Level     string
	Detail    string
	Message   string
}

func (q *Queries) AddAutoCollectLog(ctx context.Context, level, category, message string) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO auto_collect_logs (level, category, message) VALUES (?, ?, ?)",
		level, category, message)
	if err != nil {
		return fmt.Errorf("add auto-collect log: %w", err)
	}
	return q.pruneLog(ctx, "auto_collect_logs")
}

func (q *Queries) AddEmailLog(ctx context.Context, level, recipient, message string) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO email_logs (level, recipient, message) VALUES (?, ?, ?)",
		level, nullString(recipient), message)
	if err != nil {
		return fmt.Errorf("add email log: %w", err)
	}
	return q.pruneLog(ctx, "email_logs")
}

func (q *Queries) AddBackupLog(ctx context.Context, level, message string) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO backup_logs (level, message) VALUES (?, ?)", level, message)
	if err != nil {
		return fmt.Errorf("add backup log: %w", err)
	}
	return q.pruneLog(ctx, "backup_logs")
}

func (q *Queries) pruneLog(ctx context.Context, table string) error {
	_, err := q.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE id NOT IN
		(SELECT id FROM %s ORDER BY id DESC LIMIT %d)`, table, table, maxJobLogRows))
	if err != nil {
		return fmt.Errorf("prune %s: %w", table, err)
	}
	return nil
}

func (q *Queries) ListAutoCollectLogs(ctx context.Context, limit int) ([]JobLogEntry, error) {
	return q.scanJobLog(ctx, `
		SELECT id, ran_at, level, category, message FROM auto_collect_logs
		ORDER BY id DESC LIMIT ?`, true, limit)
}

func (q *Queries) ListEmailLogs(ctx context.Context, limit int) ([]JobLogEntry, error) {
	return q.scanJobLog(ctx, `
		SELECT id, sent_at, level, recipient, message FROM email_logs
		ORDER BY id DESC LIMIT ?`, true, limit)
}

func (q *Queries) ListBackupLogs(ctx context.Context, limit int) ([]JobLogEntry, error) {
	return q.scanJobLog(ctx, `
		SELECT id, ran_at, level, message FROM backup_logs
		ORDER BY id DESC LIMIT ?`, false, limit)
}

func (q *Queries) scanJobLog(ctx context.Context, query string, hasExtra bool, args ...any) ([]JobLogEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list job log: %w", err)
	}
	defer rows.Close()

	var entries []JobLogEntry
	for rows.Next() {
		var (
			e     JobLogEntry
			extra sql.NullString
		)
		if hasExtra {
			err = rows.Scan(&e.ID, &e.Timestamp, &e.Level, &extra, &e.Message)
		} else {
			err = rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Message)
		}
		if err != nil {
			return nil, err
		}
		e.Detail = extra.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *Queries) ClearAutoCollectLogs(ctx context.Context) error {
	return q.clearLog(ctx, "auto_collect_logs")
}

func (q *Queries) ClearEmailLogs(ctx context.Context) error {
	return q.clearLog(ctx, "email_logs")
}

func (q *Queries) ClearBackupLogs(ctx context.Context) error {
	return q.clearLog(ctx, "backup_logs")
}

func (q *Queries) clearLog(ctx context.Context, table string) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM "+table)
	if err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	return nil
}
