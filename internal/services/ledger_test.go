package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/phoen-ix/bank-of-tina/internal/core"
	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	store, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func makeUser(t *testing.T, store *storage.SQLiteRepository, name string) core.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), core.User{
		Name:              name,
		Email:             name + "@example.com",
		IsActive:          true,
		EmailOptIn:        true,
		EmailTransactions: core.EmailTxLast3,
	})
	require.NoError(t, err)
	return u
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// requireBalanceInvariant checks that every user's stored balance equals
// the signed sum of the transactions that touch them.
func requireBalanceInvariant(t *testing.T, store *storage.SQLiteRepository) {
	t.Helper()
	ctx := context.Background()
	users, err := store.ListUsers(ctx, false)
	require.NoError(t, err)
	txs, err := store.ListRecentTransactions(ctx, 10000)
	require.NoError(t, err)

	for _, u := range users {
		sum := decimal.Zero
		for _, tx := range txs {
			sum = sum.Add(tx.SignedAmount(u.ID))
		}
		require.True(t, u.Balance.Equal(sum),
			"user %s: balance %s, signed sum %s", u.Name, u.Balance, sum)
	}
}

func balance(t *testing.T, store *storage.SQLiteRepository, id int64) string {
	t.Helper()
	u, err := store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.Balance.StringFixed(2)
}

func TestDepositAndWithdraw(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedger(store, nil)
	ctx := context.Background()
	alice := makeUser(t, store, "Alice")

	_, err := ledger.Deposit(ctx, DepositParams{
		UserID: alice.ID, Amount: amt("50.00"), Date: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, "50.00", balance(t, store, alice.ID))
	requireBalanceInvariant(t, store)

	_, err = ledger.Withdraw(ctx, WithdrawalParams{
		UserID: alice.ID, Amount: amt("20.00"), Date: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, "30.00", balance(t, store, alice.ID))
	requireBalanceInvariant(t, store)
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedger(store, nil)
	alice := makeUser(t, store, "Alice")

	_, err := ledger.Deposit(context.Background(), DepositParams{
		UserID: alice.ID, Amount: amt("0"), Date: time.Now().UTC(),
	})
	require.ErrorIs(t, err, core.ErrInvalidAmount)
	require.Equal(t, "0.00", balance(t, store, alice.ID))
}

func TestExpenseSplitByDebtor(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedger(store, nil)
	ctx := context.Background()
	alice := makeUser(t, store, "Alice")
	bob := makeUser(t, store, "Bob")
	carol := makeUser(t, store, "Carol")

	// Alice buys lunch: Bob owes 12.50, Carol owes 7.50 across two
	// lines, and Alice's own sandwich must not generate a debt.
	res, err := ledger.RecordExpense(ctx, ExpenseParams{
		BuyerID:     alice.ID,
		Description: "Lunch",
		Date:        time.Now().UTC(),
		Items: []ItemInput{
			{Name: "Pasta", Price: amt("12.50"), DebtorID: bob.ID},
			{Name: "Salad", Price: amt("4.00"), DebtorID: carol.ID},
			{Name: "Drink", Price: amt("3.50"), DebtorID: carol.ID},
			{Name: "Sandwich", Price: amt("5.00"), DebtorID: alice.ID},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	require.Equal(t, 1, res.SkippedOwn)

	require.Equal(t, "20.00", balance(t, store, alice.ID))
	require.Equal(t, "-12.50", balance(t, store, bob.ID))
	require.Equal(t, "-7.50", balance(t, store, carol.ID))
	requireBalanceInvariant(t, store)

	// The split conserves money: the buyer gains exactly what the
	// debtors lose.
	total := decimal.Zero
	for _, tx := range res.Transactions {
		total = total.Add(tx.Amount)
		require.Equal(t, core.Expense, tx.Type)
		require.Equal(t, alice.ID, *tx.ToUserID)
	}
	require.Equal(t, "20.00", total.StringFixed(2))

	// Carol's transaction carries both of her item lines.
	for _, tx := range res.Transactions {
		if *tx.FromUserID != carol.ID {
			continue
		}
		items, err := store.ListItemsByTransaction(ctx, tx.ID)
		require.NoError(t, err)
		require.Len(t, items, 2)
	}
}

func TestExpenseAllItemsOwnedByBuyer(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedger(store, nil)
	alice := makeUser(t, store, "Alice")

	_, err := ledger.RecordExpense(context.Background(), ExpenseParams{
		BuyerID: alice.ID,
		Date:    time.Now().UTC(),
		Items: []ItemInput{
			{Name: "Coffee", Price: amt("2.00"), DebtorID: alice.ID},
		},
	})
	require.ErrorIs(t, err, ErrNoDebtors)
	require.Equal(t, "0.00", balance(t, store, alice.ID))
}

func TestPizzaScenario(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedger(store, nil)
	ctx := context.Background()
	bob := makeUser(t, store, "Bob")
	carol := makeUser(t, store, "Carol")

	// Bob pays 15.00 for Carol's pizza. Carol goes to -15.00, Bob to
	// +15.00; after Carol deposits 15.00 both even out.
	_, err := ledger.RecordExpense(ctx, ExpenseParams{
		BuyerID:     bob.ID,
		Description: "Pizza",
		Date:        time.Now().UTC(),
		Items: []ItemInput{
			{Name: "Pizza", Price: amt("15.00"), DebtorID: carol.ID},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "15.00", balance(t, store, bob.ID))
	require.Equal(t, "-15.00", balance(t, store, carol.ID))

	_, err = ledger.Deposit(ctx, DepositParams{
		UserID: carol.ID, Amount: amt("15.00"), Date: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, "0.00", balance(t, store, carol.ID))
	requireBalanceInvariant(t, store)
}

func TestCreateThenDeleteRestoresBalances(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedger(store, nil)
	ctx := context.Background()
	alice := makeUser(t, store, "Alice")
	bob := makeUser(t, store, "Bob")

	res, err := ledger.RecordExpense(ctx, ExpenseParams{
		BuyerID:     alice.ID,
		Description: "Groceries",
		Date:        time.Now().UTC(),
		Items: []ItemInput{
			{Name: "Milk", Price: amt("3.33"), DebtorID: bob.ID},
		},
	})
	require.NoError(t, err)

	_, err = ledger.DeleteTransaction(ctx, res.Transactions[0].ID)
	require.NoError(t, err)
	require.Equal(t, "0.00", balance(t, store, alice.ID))
	require.Equal(t, "0.00", balance(t, store, bob.ID))
	requireBalanceInvariant(t, store)

	items, err := store.ListItemsByTransaction(ctx, res.Transactions[0].ID)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestDeleteWithdrawalRestoresBalance(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedger(store, nil)
	ctx := context.Background()
	alice := makeUser(t, store, "Alice")

	_, err := ledger.Deposit(ctx, DepositParams{
		UserID: alice.ID, Amount: amt("50.00"), Date: time.Now().UTC(),
	})
	require.NoError(t, err)
	wd, err := ledger.Withdraw(ctx, WithdrawalParams{
		UserID: alice.ID, Amount: amt("30.00"), Date: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, "20.00", balance(t, store, alice.ID))

	_, err = ledger.DeleteTransaction(ctx, wd.ID)
	require.NoError(t, err)
	require.Equal(t, "50.00", balance(t, store, alice.ID))
	requireBalanceInvariant(t, store)
}

func TestEditAmountAdjustsByDelta(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedger(store, nil)
	ctx := context.Background()
	alice := makeUser(t, store, "Alice")

	// Deposit 50, then edit it down to 30: Alice must end at 30, not 80.
	tx, err := ledger.Deposit(ctx, DepositParams{
		UserID: alice.ID, Amount: amt("50.00"), Date: time.Now().UTC(),
	})
	require.NoError(t, err)

	newAmount := amt("30.00")
	_, err = ledger.EditTransaction(ctx, EditTransactionParams{
		ID:       tx.ID,
		ToUserID: &alice.ID,
		Amount:   &newAmount,
	})
	require.NoError(t, err)
	require.Equal(t, "30.00", balance(t, store, alice.ID))
	requireBalanceInvariant(t, store)
}

func TestEditRetargetsParties(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedger(store, nil)
	ctx := context.Background()
	alice := makeUser(t, store, "Alice")
	bob := makeUser(t, store, "Bob")

	// A deposit recorded against Alice is moved to Bob: Alice's credit
	// is reversed and Bob receives it.
	tx, err := ledger.Deposit(ctx, DepositParams{
		UserID: alice.ID, Amount: amt("40.00"), Date: time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = ledger.EditTransaction(ctx, EditTransactionParams{
		ID:       tx.ID,
		ToUserID: &bob.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "0.00", balance(t, store, alice.ID))
	require.Equal(t, "40.00", balance(t, store, bob.ID))
	requireBalanceInvariant(t, store)
}

func TestEditReplacesItemsAndAmount(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedger(store, nil)
	ctx := context.Background()
	alice := makeUser(t, store, "Alice")
	bob := makeUser(t, store, "Bob")

	res, err := ledger.RecordExpense(ctx, ExpenseParams{
		BuyerID:     alice.ID,
		Description: "Groceries",
		Date:        time.Now().UTC(),
		Items: []ItemInput{
			{Name: "Milk", Price: amt("2.00"), DebtorID: bob.ID},
			{Name: "Bread", Price: amt("3.00"), DebtorID: bob.ID},
		},
	})
	require.NoError(t, err)
	tx := res.Transactions[0]

	// Replace both items with a single cheaper line: the amount follows
	// the new item sum.
	updated, err := ledger.EditTransaction(ctx, EditTransactionParams{
		ID:         tx.ID,
		FromUserID: &bob.ID,
		ToUserID:   &alice.ID,
		HasItems:   true,
		Items: []ItemInput{
			{Name: "Oat milk", Price: amt("3.50")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "3.50", updated.Amount.StringFixed(2))
	require.Equal(t, "3.50", balance(t, store, alice.ID))
	require.Equal(t, "-3.50", balance(t, store, bob.ID))
	requireBalanceInvariant(t, store)

	items, err := store.ListItemsByTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Oat milk", items[0].ItemName)
}

func TestEditKeepsAmountWhenNothingGiven(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedger(store, nil)
	ctx := context.Background()
	alice := makeUser(t, store, "Alice")

	tx, err := ledger.Deposit(ctx, DepositParams{
		UserID: alice.ID, Amount: amt("17.00"), Date: time.Now().UTC(),
	})
	require.NoError(t, err)

	updated, err := ledger.EditTransaction(ctx, EditTransactionParams{
		ID:          tx.ID,
		Description: "Corrected deposit",
		ToUserID:    &alice.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "17.00", updated.Amount.StringFixed(2))
	require.Equal(t, "Corrected deposit", updated.Description)
	require.Equal(t, "17.00", balance(t, store, alice.ID))
}

type recordingSink struct {
	actions []string
	ids     []int64
}

func (s *recordingSink) PublishLedgerEvent(_ context.Context, action string, t core.Transaction) error {
	s.actions = append(s.actions, action)
	s.ids = append(s.ids, t.ID)
	return nil
}

func TestLedgerPublishesEvents(t *testing.T) {
	store := newTestStore(t)
	sink := &recordingSink{}
	ledger := NewLedger(store, sink)
	ctx := context.Background()
	alice := makeUser(t, store, "Alice")

	tx, err := ledger.Deposit(ctx, DepositParams{
		UserID: alice.ID, Amount: amt("5.00"), Date: time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = ledger.DeleteTransaction(ctx, tx.ID)
	require.NoError(t, err)

	require.Equal(t, []string{ActionCreated, ActionDeleted}, sink.actions)
	require.Equal(t, []int64{tx.ID, tx.ID}, sink.ids)
}
