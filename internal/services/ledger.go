package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phoen-ix/bank-of-tina/internal/core"
	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

// ErrNoDebtors is returned when an expense has no item owed by anyone
// other than the buyer.
var ErrNoDebtors = errors.New("expense has no items owed by another user")

// Ledger actions reported to the event sink.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// EventSink receives a notification after every committed balance
// mutation. Implementations must not block the caller for long.
type EventSink interface {
	PublishLedgerEvent(ctx context.Context, action string, t core.Transaction) error
}

// Ledger performs all balance-changing operations. Every mutation runs
// inside a single database transaction so the balance invariant (a
// user's balance equals the signed sum of their transactions) holds at
// every commit point.
type Ledger struct {
	store  *storage.SQLiteRepository
	events EventSink
}

// NewLedger creates a ledger service. events may be nil when no event
// sink is configured.
func NewLedger(store *storage.SQLiteRepository, events EventSink) *Ledger {
	return &Ledger{store: store, events: events}
}

// ItemInput is one submitted item line.
type ItemInput struct {
	Name     string
	Price    decimal.Decimal
	DebtorID int64
}

type DepositParams struct {
	UserID      int64
	Amount      decimal.Decimal
	Description string
	Date        time.Time
	Notes       string
}

type WithdrawalParams struct {
	UserID      int64
	Amount      decimal.Decimal
	Description string
	Date        time.Time
	Notes       string
}

type ExpenseParams struct {
	BuyerID     int64
	Description string
	Date        time.Time
	Items       []ItemInput
	ReceiptPath string
	Notes       string
}

// EditTransactionParams describes a transaction edit. Zero-value fields
// keep the old value where noted.
type EditTransactionParams struct {
	ID          int64
	Description string    // empty keeps the old description
	Notes       string    // always replaced
	Date        time.Time // zero keeps the old date
	FromUserID  *int64    // new parties, nil meaning none
	ToUserID    *int64
	Items       []ItemInput // replaces the item list when HasItems
	HasItems    bool
	Amount      *decimal.Decimal // used when no items; nil keeps the old amount
	ReceiptPath *string          // nil keeps the current receipt
}

// ExpenseResult reports what RecordExpense created.
type ExpenseResult struct {
	Transactions []core.Transaction
	SkippedOwn   int // item lines dropped because the buyer owed themselves
}

func (l *Ledger) publish(ctx context.Context, action string, t core.Transaction) {
	if l.events == nil {
		return
	}
	if err := l.events.PublishLedgerEvent(ctx, action, t); err != nil {
		slog.WarnContext(ctx, "Failed to publish ledger event",
			"action", action, "transaction_id", t.ID, "error", err)
	}
}

// Deposit credits amount to the user and records the transaction.
func (l *Ledger) Deposit(ctx context.Context, p DepositParams) (core.Transaction, error) {
	if p.Description == "" {
		p.Description = "Deposit"
	}
	t := core.Transaction{
		Date:        p.Date,
		Description: p.Description,
		Amount:      p.Amount,
		ToUserID:    &p.UserID,
		Type:        core.Deposit,
		Notes:       p.Notes,
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	err := l.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		t, err = q.InsertTransaction(ctx, t)
		if err != nil {
			return err
		}
		return q.AddToBalance(ctx, p.UserID, p.Amount)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("deposit: %w", err)
	}

	slog.InfoContext(ctx, "Transaction created",
		"type", core.Deposit, "id", t.ID, "amount", p.Amount)
	l.publish(ctx, ActionCreated, t)
	return t, nil
}

// Withdraw debits amount from the user and records the transaction.
func (l *Ledger) Withdraw(ctx context.Context, p WithdrawalParams) (core.Transaction, error) {
	if p.Description == "" {
		p.Description = "Withdrawal"
	}
	t := core.Transaction{
		Date:        p.Date,
		Description: p.Description,
		Amount:      p.Amount,
		FromUserID:  &p.UserID,
		Type:        core.Withdrawal,
		Notes:       p.Notes,
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	err := l.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		t, err = q.InsertTransaction(ctx, t)
		if err != nil {
			return err
		}
		return q.AddToBalance(ctx, p.UserID, p.Amount.Neg())
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("withdraw: %w", err)
	}

	slog.InfoContext(ctx, "Transaction created",
		"type", core.Withdrawal, "id", t.ID, "amount", p.Amount)
	l.publish(ctx, ActionCreated, t)
	return t, nil
}

// RecordExpense groups the submitted items by debtor and creates one
// expense transaction per debtor, each owed to the buyer. Items the
// buyer assigned to themselves are dropped: nobody owes the buyer for
// their own food.
func (l *Ledger) RecordExpense(ctx context.Context, p ExpenseParams) (ExpenseResult, error) {
	if p.Description == "" {
		p.Description = "Expense"
	}

	type group struct {
		total decimal.Decimal
		items []ItemInput
	}
	groups := make(map[int64]*group)
	var order []int64
	skipped := 0
	for _, item := range p.Items {
		if item.DebtorID == p.BuyerID {
			skipped++
			continue
		}
		g, ok := groups[item.DebtorID]
		if !ok {
			g = &group{}
			groups[item.DebtorID] = g
			order = append(order, item.DebtorID)
		}
		g.total = g.total.Add(item.Price)
		g.items = append(g.items, item)
	}
	if len(groups) == 0 {
		return ExpenseResult{SkippedOwn: skipped}, ErrNoDebtors
	}

	var created []core.Transaction
	err := l.store.WithTx(ctx, func(q *storage.Queries) error {
		for _, debtorID := range order {
			g := groups[debtorID]
			debtorID := debtorID
			t := core.Transaction{
				Date:        p.Date,
				Description: p.Description,
				Amount:      g.total,
				FromUserID:  &debtorID,
				ToUserID:    &p.BuyerID,
				Type:        core.Expense,
				ReceiptPath: p.ReceiptPath,
				Notes:       p.Notes,
			}
			if err := t.Validate(); err != nil {
				return err
			}
			t, err := q.InsertTransaction(ctx, t)
			if err != nil {
				return err
			}
			for _, item := range g.items {
				_, err := q.InsertExpenseItem(ctx, core.ExpenseItem{
					TransactionID: t.ID,
					ItemName:      item.Name,
					Price:         item.Price,
					BuyerID:       p.BuyerID,
				})
				if err != nil {
					return err
				}
			}
			if err := q.AddToBalance(ctx, debtorID, g.total.Neg()); err != nil {
				return err
			}
			if err := q.AddToBalance(ctx, p.BuyerID, g.total); err != nil {
				return err
			}
			created = append(created, t)
		}
		return nil
	})
	if err != nil {
		return ExpenseResult{}, fmt.Errorf("record expense: %w", err)
	}

	for _, t := range created {
		slog.InfoContext(ctx, "Transaction created",
			"type", core.Expense, "id", t.ID, "amount", t.Amount)
		l.publish(ctx, ActionCreated, t)
	}
	return ExpenseResult{Transactions: created, SkippedOwn: skipped}, nil
}

// EditTransaction rewrites a transaction: the old balance effect is
// reversed against the old parties, the fields are replaced, and the
// new effect is applied to the new parties. When items are supplied
// they fully replace the old list and the amount becomes their sum.
func (l *Ledger) EditTransaction(ctx context.Context, p EditTransactionParams) (core.Transaction, error) {
	var updated core.Transaction
	err := l.store.WithTx(ctx, func(q *storage.Queries) error {
		old, err := q.GetTransaction(ctx, p.ID)
		if err != nil {
			return err
		}

		if old.FromUserID != nil {
			if err := q.AddToBalance(ctx, *old.FromUserID, old.Amount); err != nil {
				return err
			}
		}
		if old.ToUserID != nil {
			if err := q.AddToBalance(ctx, *old.ToUserID, old.Amount.Neg()); err != nil {
				return err
			}
		}

		updated = old
		if p.Description != "" {
			updated.Description = p.Description
		}
		updated.Notes = p.Notes
		if !p.Date.IsZero() {
			updated.Date = p.Date
		}
		updated.FromUserID = p.FromUserID
		updated.ToUserID = p.ToUserID
		if p.ReceiptPath != nil {
			updated.ReceiptPath = *p.ReceiptPath
		}

		if err := q.DeleteItemsByTransaction(ctx, updated.ID); err != nil {
			return err
		}
		switch {
		case p.HasItems && len(p.Items) > 0:
			if updated.ToUserID == nil {
				return errors.New("itemized transaction needs a to-user to own the items")
			}
			total := decimal.Zero
			for _, item := range p.Items {
				_, err := q.InsertExpenseItem(ctx, core.ExpenseItem{
					TransactionID: updated.ID,
					ItemName:      item.Name,
					Price:         item.Price,
					BuyerID:       *updated.ToUserID,
				})
				if err != nil {
					return err
				}
				total = total.Add(item.Price)
			}
			updated.Amount = total
		case p.Amount != nil:
			updated.Amount = *p.Amount
		}

		if err := updated.Validate(); err != nil {
			return err
		}

		if updated.FromUserID != nil {
			if err := q.AddToBalance(ctx, *updated.FromUserID, updated.Amount.Neg()); err != nil {
				return err
			}
		}
		if updated.ToUserID != nil {
			if err := q.AddToBalance(ctx, *updated.ToUserID, updated.Amount); err != nil {
				return err
			}
		}
		return q.UpdateTransaction(ctx, updated)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("edit transaction %d: %w", p.ID, err)
	}

	slog.InfoContext(ctx, "Transaction edited",
		"id", updated.ID, "type", updated.Type, "amount", updated.Amount)
	l.publish(ctx, ActionUpdated, updated)
	return updated, nil
}

// DeleteTransaction reverses the balance effect, removes the items and
// deletes the row. The removed transaction is returned so the caller
// can clean up an orphaned receipt file.
func (l *Ledger) DeleteTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	var deleted core.Transaction
	err := l.store.WithTx(ctx, func(q *storage.Queries) error {
		t, err := q.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if t.FromUserID != nil {
			if err := q.AddToBalance(ctx, *t.FromUserID, t.Amount); err != nil {
				return err
			}
		}
		if t.ToUserID != nil {
			if err := q.AddToBalance(ctx, *t.ToUserID, t.Amount.Neg()); err != nil {
				return err
			}
		}
		if err := q.DeleteItemsByTransaction(ctx, id); err != nil {
			return err
		}
		deleted = t
		return q.DeleteTransaction(ctx, id)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("delete transaction %d: %w", id, err)
	}

	slog.InfoContext(ctx, "Transaction deleted",
		"id", deleted.ID, "type", deleted.Type, "amount", deleted.Amount)
	l.publish(ctx, ActionDeleted, deleted)
	return deleted, nil
}
