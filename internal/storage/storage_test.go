package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/phoen-ix/bank-of-tina/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testUser(t *testing.T, repo *SQLiteRepository, name string) core.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), core.User{
		Name:              name,
		Email:             name + "@example.com",
		IsActive:          true,
		EmailOptIn:        true,
		EmailTransactions: core.EmailTxLast3,
	})
	require.NoError(t, err)
	return u
}

func TestCreateAndGetUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u := testUser(t, repo, "Alice")
	require.Equal(t, "Alice", u.Name)
	require.True(t, u.Balance.IsZero())

	got, err := repo.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Name, got.Name)
	require.Equal(t, u.Email, got.Email)

	_, err = repo.GetUser(ctx, 9999)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestCreateUserDuplicateName(t *testing.T) {
	repo := newTestRepo(t)
	testUser(t, repo, "Alice")

	_, err := repo.CreateUser(context.Background(), core.User{
		Name:              "Alice",
		Email:             "other@example.com",
		EmailTransactions: core.EmailTxLast3,
	})
	require.ErrorIs(t, err, core.ErrDuplicate)
}

func TestListUsersActiveFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	alice := testUser(t, repo, "Alice")
	testUser(t, repo, "Bob")
	require.NoError(t, repo.SetUserActive(ctx, alice.ID, false))

	all, err := repo.ListUsers(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	active, err := repo.ListUsers(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "Bob", active[0].Name)
}

func TestAddToBalance(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := testUser(t, repo, "Alice")

	require.NoError(t, repo.AddToBalance(ctx, u.ID, decimal.RequireFromString("10.50")))
	require.NoError(t, repo.AddToBalance(ctx, u.ID, decimal.RequireFromString("-3.25")))

	got, err := repo.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "7.25", got.Balance.StringFixed(2))
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := testUser(t, repo, "Alice")

	tx, err := repo.InsertTransaction(ctx, core.Transaction{
		Date:        time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Description: "Deposit",
		Amount:      decimal.RequireFromString("25.00"),
		ToUserID:    &u.ID,
		Type:        core.Deposit,
	})
	require.NoError(t, err)
	require.NotZero(t, tx.ID)

	got, err := repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, "25.00", got.Amount.StringFixed(2))
	require.Nil(t, got.FromUserID)
	require.NotNil(t, got.ToUserID)
	require.Equal(t, u.ID, *got.ToUserID)

	require.NoError(t, repo.DeleteTransaction(ctx, tx.ID))
	_, err = repo.GetTransaction(ctx, tx.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestSearchTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := testUser(t, repo, "Alice")
	bob := testUser(t, repo, "Bob")

	mustInsert := func(desc string, amount string, typ core.TransactionType, from, to *int64, day int) core.Transaction {
		tx, err := repo.InsertTransaction(ctx, core.Transaction{
			Date:        time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC),
			Description: desc,
			Amount:      decimal.RequireFromString(amount),
			FromUserID:  from,
			ToUserID:    to,
			Type:        typ,
		})
		require.NoError(t, err)
		return tx
	}

	mustInsert("Groceries", "30.00", core.Expense, &alice.ID, &bob.ID, 1)
	mustInsert("Deposit", "50.00", core.Deposit, nil, &alice.ID, 2)
	mustInsert("Cinema", "12.00", core.Expense, &bob.ID, &alice.ID, 3)

	byText, err := repo.SearchTransactions(ctx, SearchFilter{Query: "grocer"}, 50, 0)
	require.NoError(t, err)
	require.Len(t, byText, 1)
	require.Equal(t, "Groceries", byText[0].Description)

	byType, err := repo.SearchTransactions(ctx, SearchFilter{Type: core.Expense}, 50, 0)
	require.NoError(t, err)
	require.Len(t, byType, 2)

	byUser, err := repo.SearchTransactions(ctx, SearchFilter{UserID: bob.ID}, 50, 0)
	require.NoError(t, err)
	require.Len(t, byUser, 2)

	byAmount, err := repo.SearchTransactions(ctx, SearchFilter{
		MinAmount: decimal.RequireFromString("20.00"),
	}, 50, 0)
	require.NoError(t, err)
	require.Len(t, byAmount, 2)

	n, err := repo.CountSearchTransactions(ctx, SearchFilter{Type: core.Expense})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestSearchReceiptFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := testUser(t, repo, "Alice")

	_, err := repo.InsertTransaction(ctx, core.Transaction{
		Date:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Description: "Groceries",
		Amount:      decimal.RequireFromString("30.00"),
		FromUserID:  &alice.ID,
		Type:        core.Expense,
		ReceiptPath: "2026/03/01/Alice_receipt.png",
	})
	require.NoError(t, err)
	_, err = repo.InsertTransaction(ctx, core.Transaction{
		Date:        time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		Description: "Deposit",
		Amount:      decimal.RequireFromString("50.00"),
		ToUserID:    &alice.ID,
		Type:        core.Deposit,
	})
	require.NoError(t, err)

	withReceipt, err := repo.SearchTransactions(ctx, SearchFilter{HasReceipt: true}, 50, 0)
	require.NoError(t, err)
	require.Len(t, withReceipt, 1)
	require.Equal(t, "Groceries", withReceipt[0].Description)

	n, err := repo.CountSearchTransactions(ctx, SearchFilter{HasReceipt: true})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSearchMatchesItemNames(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := testUser(t, repo, "Alice")
	bob := testUser(t, repo, "Bob")

	tx, err := repo.InsertTransaction(ctx, core.Transaction{
		Date:        time.Now().UTC(),
		Description: "Supermarket",
		Amount:      decimal.RequireFromString("4.20"),
		FromUserID:  &alice.ID,
		ToUserID:    &bob.ID,
		Type:        core.Expense,
	})
	require.NoError(t, err)
	_, err = repo.InsertExpenseItem(ctx, core.ExpenseItem{
		TransactionID: tx.ID,
		ItemName:      "Oat milk",
		Price:         decimal.RequireFromString("4.20"),
		BuyerID:       bob.ID,
	})
	require.NoError(t, err)

	found, err := repo.SearchTransactions(ctx, SearchFilter{Query: "oat"}, 50, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, tx.ID, found[0].ID)
}

func TestSettingsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, ok, err := repo.GetSetting(ctx, "theme")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, repo.SetSetting(ctx, "theme", "dark"))
	require.NoError(t, repo.SetSetting(ctx, "theme", "ocean"))

	v, ok, err := repo.GetSetting(ctx, "theme")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ocean", v)
}

func TestCommonValuesAndBlacklist(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.AddCommonValue(ctx, CommonKindItem, "Milk"))
	require.NoError(t, repo.AddCommonValue(ctx, CommonKindItem, "Bread"))
	require.ErrorIs(t, repo.AddCommonValue(ctx, CommonKindItem, "Milk"), core.ErrDuplicate)

	values, err := repo.ListCommonValues(ctx, CommonKindItem)
	require.NoError(t, err)
	require.Equal(t, []string{"Bread", "Milk"}, values)

	require.NoError(t, repo.DeleteCommonValue(ctx, CommonKindItem, "Milk"))
	require.NoError(t, repo.BlacklistValue(ctx, CommonKindItem, "Milk"))
	require.NoError(t, repo.BlacklistValue(ctx, CommonKindItem, "Milk"))

	black, err := repo.ListBlacklist(ctx, CommonKindItem)
	require.NoError(t, err)
	require.Equal(t, []string{"Milk"}, black)
}

func TestJobLogPrune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < maxJobLogRows+10; i++ {
		require.NoError(t, repo.AddBackupLog(ctx, "info", "run"))
	}
	entries, err := repo.ListBackupLogs(ctx, maxJobLogRows+100)
	require.NoError(t, err)
	require.Len(t, entries, maxJobLogRows)
}

func TestValueCounts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := testUser(t, repo, "Alice")
	bob := testUser(t, repo, "Bob")

	for i := 0; i < 3; i++ {
		tx, err := repo.InsertTransaction(ctx, core.Transaction{
			Date:        time.Now().UTC(),
			Description: "Supermarket",
			Amount:      decimal.RequireFromString("2.00"),
			FromUserID:  &alice.ID,
			ToUserID:    &bob.ID,
			Type:        core.Expense,
		})
		require.NoError(t, err)
		_, err = repo.InsertExpenseItem(ctx, core.ExpenseItem{
			TransactionID: tx.ID,
			ItemName:      "Milk",
			Price:         decimal.RequireFromString("2.00"),
			BuyerID:       bob.ID,
		})
		require.NoError(t, err)
	}

	names, err := repo.ItemNameCounts(ctx, 3)
	require.NoError(t, err)
	require.Len(t, names, 1)
	require.Equal(t, ValueCount{Value: "Milk", Count: 3}, names[0])

	none, err := repo.ItemNameCounts(ctx, 4)
	require.NoError(t, err)
	require.Empty(t, none)
}
