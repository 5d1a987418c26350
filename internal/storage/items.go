package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/phoen-ix/bank-of-tina/internal/core"
)

// ValueCount is a distinct observed value and how often it occurred.
type ValueCount struct {
	Value string
	Count int
}

func (q *Queries) InsertExpenseItem(ctx context.Context, item core.ExpenseItem) (core.ExpenseItem, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO expense_items (transaction_id, item_name, price, buyer_id)
		VALUES (?, ?, ?, ?)`,
		item.TransactionID, item.ItemName, item.Price.StringFixed(2), item.BuyerID)
	if err != nil {
		return core.ExpenseItem{}, fmt.Errorf("insert expense item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.ExpenseItem{}, fmt.Errorf("expense item id: %w", err)
	}
	item.ID = id
	return item, nil
}

func (q *Queries) DeleteItemsByTransaction(ctx context.Context, transactionID int64) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM expense_items WHERE transaction_id = ?", transactionID)
	if err != nil {
		return fmt.Errorf("delete expense items: %w", err)
	}
	return nil
}

func (q *Queries) scanItems(ctx context.Context, query string, args ...any) ([]core.ExpenseItem, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expense items: %w", err)
	}
	defer rows.Close()

	var items []core.ExpenseItem
	for rows.Next() {
		var (
			item  core.ExpenseItem
			price string
		)
		if err := rows.Scan(&item.ID, &item.TransactionID, &item.ItemName, &price, &item.BuyerID); err != nil {
			return nil, err
		}
		item.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse price of item %d: %w", item.ID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (q *Queries) ListItemsByTransaction(ctx context.Context, transactionID int64) ([]core.ExpenseItem, error) {
	return q.scanItems(ctx, `
		SELECT id, transaction_id, item_name, price, buyer_id
		FROM expense_items WHERE transaction_id = ? ORDER BY id`, transactionID)
}

// ListItemsForTransactions fetches the items of several transactions at
// once, keyed by transaction id.
func (q *Queries) ListItemsForTransactions(ctx context.Context, ids []int64) (map[int64][]core.ExpenseItem, error) {
	byTx := make(map[int64][]core.ExpenseItem)
	if len(ids) == 0 {
		return byTx, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	items, err := q.scanItems(ctx, `
		SELECT id, transaction_id, item_name, price, buyer_id
		FROM expense_items WHERE transaction_id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		byTx[item.TransactionID] = append(byTx[item.TransactionID], item)
	}
	return byTx, nil
}

func (q *Queries) scanValueCounts(ctx context.Context, query string, args ...any) ([]ValueCount, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count values: %w", err)
	}
	defer rows.Close()

	var counts []ValueCount
	for rows.Next() {
		var vc ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, vc)
	}
	return counts, rows.Err()
}

// ItemNameCounts returns item names seen at least threshold times.
func (q *Queries) ItemNameCounts(ctx context.Context, threshold int) ([]ValueCount, error) {
	return q.scanValueCounts(ctx, `
		SELECT item_name, COUNT(*) AS n FROM expense_items
		GROUP BY item_name HAVING n >= ? ORDER BY n DESC, item_name`, threshold)
}

// DescriptionCounts returns transaction descriptions seen at least
// threshold times.
func (q *Queries) DescriptionCounts(ctx context.Context, threshold int) ([]ValueCount, error) {
	return q.scanValueCounts(ctx, `
		SELECT description, COUNT(*) AS n FROM transactions
		GROUP BY description HAVING n >= ? ORDER BY n DESC, description`, threshold)
}

// PriceCounts returns item prices seen at least threshold times.
func (q *Queries) PriceCounts(ctx context.Context, threshold int) ([]ValueCount, error) {
	return q.scanValueCounts(ctx, `
		SELECT price, COUNT(*) AS n FROM expense_items
		GROUP BY price HAVING n >= ? ORDER BY n DESC, price`, threshold)
}
