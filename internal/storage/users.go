package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/phoen-ix/bank-of-tina/internal/core"
)

func scanUser(row interface{ Scan(...any) error }) (core.User, error) {
	var (
		u       core.User
		balance string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &balance, &u.CreatedAt,
		&u.IsActive, &u.EmailOptIn, &u.EmailTransactions)
	if err != nil {
		return core.User{}, err
	}
	u.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return core.User{}, fmt.Errorf("parse balance of user %d: %w", u.ID, err)
	}
	return u, nil
}

const userColumns = "id, name, email, balance, created_at, is_active, email_opt_in, email_transactions"

func (q *Queries) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO users (name, email, balance, is_active, email_opt_in, email_transactions)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.Balance.StringFixed(2), u.IsActive, u.EmailOptIn, u.EmailTransactions)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return core.User{}, core.ErrDuplicate
		}
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("user id: %w", err)
	}
	return q.GetUser(ctx, id)
}

func (q *Queries) GetUser(ctx context.Context, id int64) (core.User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	return u, err
}

func (q *Queries) GetUserByName(ctx context.Context, name string) (core.User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	return u, err
}

// ListUsers returns users ordered by name. With onlyActive, deactivated
// users are skipped.
func (q *Queries) ListUsers(ctx context.Context, onlyActive bool) ([]core.User, error) {
	query := "SELECT " + userColumns + " FROM users"
	if onlyActive {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY name"

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (q *Queries) UpdateUser(ctx context.Context, u core.User) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET name = ?, email = ?, email_opt_in = ?, email_transactions = ?
		WHERE id = ?`,
		u.Name, u.Email, u.EmailOptIn, u.EmailTransactions, u.ID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return core.ErrDuplicate
		}
		return fmt.Errorf("update user: %w", err)
	}
	return requireRow(res)
}

func (q *Queries) SetUserActive(ctx context.Context, id int64, active bool) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE users SET is_active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return requireRow(res)
}

// AddToBalance applies a signed delta to the user's stored balance. The
// balance is kept as decimal text, so the arithmetic happens here rather
// than in SQL. Callers are expected to run this inside WithTx.
func (q *Queries) AddToBalance(ctx context.Context, userID int64, delta decimal.Decimal) error {
	var balance string
	err := q.db.QueryRowContext(ctx,
		"SELECT balance FROM users WHERE id = ?", userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	current, err := decimal.NewFromString(balance)
	if err != nil {
		return fmt.Errorf("parse balance of user %d: %w", userID, err)
	}
	_, err = q.db.ExecContext(ctx,
		"UPDATE users SET balance = ? WHERE id = ?",
		current.Add(delta).StringFixed(2), userID)
	if err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
