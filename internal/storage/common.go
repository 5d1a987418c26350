package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/phoen-ix/bank-of-tina/internal/core"
)

// Value kinds for the shared suggestion lists and their blacklist.
const (
	CommonKindItem        = "item"
	CommonKindDescription = "description"
	CommonKindPrice       = "price"
)

func commonTable(kind string) (table, column string, err error) {
	switch kind {
	case CommonKindItem:
		return "common_items", "name", nil
	case CommonKindDescription:
		return "common_descriptions", "value", nil
	case CommonKindPrice:
		return "common_prices", "value", nil
	}
	return "", "", fmt.Errorf("unknown common kind %q", kind)
}

// AddCommonValue stores a suggestion value of the given kind. Adding a
// value that already exists returns core.ErrDuplicate.
func (q *Queries) AddCommonValue(ctx context.Context, kind, value string) error {
	table, column, err := commonTable(kind)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (?)", table, column), value)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return core.ErrDuplicate
		}
		return fmt.Errorf("add common %s: %w", kind, err)
	}
	return nil
}

func (q *Queries) DeleteCommonValue(ctx context.Context, kind, value string) error {
	table, column, err := commonTable(kind)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, column), value)
	if err != nil {
		return fmt.Errorf("delete common %s: %w", kind, err)
	}
	return requireRow(res)
}

func (q *Queries) ListCommonValues(ctx context.Context, kind string) ([]string, error) {
	table, column, err := commonTable(kind)
	if err != nil {
		return nil, err
	}
	var order string
	if kind == CommonKindPrice {
		order = "CAST(" + column + " AS REAL)"
	} else {
		order = column + " COLLATE NOCASE"
	}
	rows, err := q.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", column, table, order))
	if err != nil {
		return nil, fmt.Errorf("list common %s: %w", kind, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (q *Queries) HasCommonValue(ctx context.Context, kind, value string) (bool, error) {
	table, column, err := commonTable(kind)
	if err != nil {
		return false, err
	}
	var n int
	err = q.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, column), value).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check common %s: %w", kind, err)
	}
	return n > 0, nil
}

// BlacklistValue records a value the auto-collect job must never re-add.
func (q *Queries) BlacklistValue(ctx context.Context, kind, value string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO common_blacklist (type, value) VALUES (?, ?)
		ON CONFLICT(type, value) DO NOTHING`, kind, value)
	if err != nil {
		return fmt.Errorf("blacklist %s: %w", kind, err)
	}
	return nil
}

func (q *Queries) UnblacklistValue(ctx context.Context, kind, value string) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM common_blacklist WHERE type = ? AND value = ?", kind, value)
	if err != nil {
		return fmt.Errorf("unblacklist %s: %w", kind, err)
	}
	return nil
}

func (q *Queries) ListBlacklist(ctx context.Context, kind string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT value FROM common_blacklist WHERE type = ? ORDER BY value COLLATE NOCASE", kind)
	if err != nil {
		return nil, fmt.Errorf("list blacklist %s: %w", kind, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
