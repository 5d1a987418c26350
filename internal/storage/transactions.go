package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phoen-ix/bank-of-tina/internal/core"
)

const transactionColumns = "id, date, description, amount, from_user_id, to_user_id, transaction_type, receipt_path, notes"

// SearchFilter narrows a transaction search. Zero values mean "no filter".
type SearchFilter struct {
	Query      string
	UserID     int64
	Type       core.TransactionType
	From       time.Time
	To         time.Time
	MinAmount  decimal.Decimal
	MaxAmount  decimal.Decimal
	HasReceipt bool
}

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t           core.Transaction
		amount      string
		from, to    sql.NullInt64
		receipt, nt sql.NullString
	)
	err := row.Scan(&t.ID, &t.Date, &t.Description, &amount, &from, &to, &t.Type, &receipt, &nt)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount of transaction %d: %w", t.ID, err)
	}
	if from.Valid {
		t.FromUserID = &from.Int64
	}
	if to.Valid {
		t.ToUserID = &to.Int64
	}
	t.ReceiptPath = receipt.String
	t.Notes = nt.String
	return t, nil
}

func nullID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (date, description, amount, from_user_id, to_user_id, transaction_type, receipt_path, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Date, t.Description, t.Amount.StringFixed(2),
		nullID(t.FromUserID), nullID(t.ToUserID), t.Type,
		nullString(t.ReceiptPath), nullString(t.Notes))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction id: %w", err)
	}
	t.ID = id
	return t, nil
}

func (q *Queries) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	return t, err
}

func (q *Queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE transactions
		SET date = ?, description = ?, amount = ?, from_user_id = ?, to_user_id = ?, transaction_type = ?, receipt_path = ?, notes = ?
		WHERE id = ?`,
		t.Date, t.Description, t.Amount.StringFixed(2),
		nullID(t.FromUserID), nullID(t.ToUserID), t.Type,
		nullString(t.ReceiptPath), nullString(t.Notes), t.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return requireRow(res)
}

func (q *Queries) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requireRow(res)
}

func (q *Queries) listTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ListRecentTransactions returns the newest transactions first.
func (q *Queries) ListRecentTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	return q.listTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions ORDER BY date DESC, id DESC LIMIT ?", limit)
}

// ListTransactionsBetween returns transactions with from <= date < to,
// oldest first.
func (q *Queries) ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]core.Transaction, error) {
	return q.listTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE date >= ? AND date < ? ORDER BY date, id",
		from, to)
}

// ListTransactionsAfter returns transactions dated strictly after cutoff,
// newest first. Used by the balance replay in analytics.
func (q *Queries) ListTransactionsAfter(ctx context.Context, cutoff time.Time) ([]core.Transaction, error) {
	return q.listTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE date > ? ORDER BY date DESC, id DESC",
		cutoff)
}

// ListUserTransactions returns transactions where the user is a party,
// newest first, paginated.
func (q *Queries) ListUserTransactions(ctx context.Context, userID int64, limit, offset int) ([]core.Transaction, error) {
	return q.listTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE from_user_id = ? OR to_user_id = ?
		ORDER BY date DESC, id DESC LIMIT ? OFFSET ?`,
		userID, userID, limit, offset)
}

func (q *Queries) CountUserTransactions(ctx context.Context, userID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE from_user_id = ? OR to_user_id = ?",
		userID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user transactions: %w", err)
	}
	return n, nil
}

// FirstTransactionDate returns the date of the oldest transaction. The
// bool is false when the ledger is empty.
func (q *Queries) FirstTransactionDate(ctx context.Context) (time.Time, bool, error) {
	var d time.Time
	err := q.db.QueryRowContext(ctx,
		"SELECT date FROM transactions ORDER BY date LIMIT 1").Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("first transaction date: %w", err)
	}
	return d, true, nil
}

func buildSearch(f SearchFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Query != "" {
		where = append(where, `(description LIKE ? OR notes LIKE ? OR id IN
			(SELECT transaction_id FROM expense_items WHERE item_name LIKE ?))`)
		like := "%" + f.Query + "%"
		args = append(args, like, like, like)
	}
	if f.UserID != 0 {
		where = append(where, "(from_user_id = ? OR to_user_id = ?)")
		args = append(args, f.UserID, f.UserID)
	}
	if f.Type != "" {
		where = append(where, "transaction_type = ?")
		args = append(args, f.Type)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "date < ?")
		args = append(args, f.To)
	}
	if !f.MinAmount.IsZero() {
		where = append(where, "CAST(amount AS REAL) >= ?")
		args = append(args, f.MinAmount.InexactFloat64())
	}
	if !f.MaxAmount.IsZero() {
		where = append(where, "CAST(amount AS REAL) <= ?")
		args = append(args, f.MaxAmount.InexactFloat64())
	}
	if f.HasReceipt {
		where = append(where, "receipt_path IS NOT NULL AND receipt_path != ''")
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (q *Queries) SearchTransactions(ctx context.Context, f SearchFilter, limit, offset int) ([]core.Transaction, error) {
	where, args := buildSearch(f)
	args = append(args, limit, offset)
	return q.listTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions"+where+
			" ORDER BY date DESC, id DESC LIMIT ? OFFSET ?", args...)
}

func (q *Queries) CountSearchTransactions(ctx context.Context, f SearchFilter) (int, error) {
	where, args := buildSearch(f)
	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions"+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count search: %w", err)
	}
	return n, nil
}

// CountReceiptRefs reports how many other transactions still reference a
// receipt file. Used before unlinking the file on delete.
func (q *Queries) CountReceiptRefs(ctx context.Context, path string, excludeID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE receipt_path = ? AND id != ?",
		path, excludeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count receipt refs: %w", err)
	}
	return n, nil
}
