package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Deposit    TransactionType = "deposit"
	Withdrawal TransactionType = "withdrawal"
	Expense    TransactionType = "expense"
)

// Email transaction-window preferences for the weekly summary email.
const (
	EmailTxNone      = "none"
	EmailTxLast3     = "last3"
	EmailTxThisWeek  = "this_week"
	EmailTxThisMonth = "this_month"
)

type (
	TransactionType string

	User struct {
		ID                int64
		Name              string
		Email             string
		Balance           decimal.Decimal
		CreatedAt         time.Time
		IsActive          bool
		EmailOptIn        bool
		EmailTransactions string
	}

	Transaction struct {
		ID          int64
		Date        time.Time
		Description string
		Amount      decimal.Decimal
		FromUserID  *int64
		ToUserID    *int64
		Type        TransactionType
		ReceiptPath string
		Notes       string
	}

	// ExpenseItem is one line of an itemized expense. BuyerID records who
	// paid; the debtor is the parent transaction's from-user.
	ExpenseItem struct {
		ID            int64
		TransactionID int64
		ItemName      string
		Price         decimal.Decimal
		BuyerID       int64
	}

	// SplitItem is one submitted line of an expense form before it is
	// grouped into per-debtor transactions.
	SplitItem struct {
		Name     string
		Price    decimal.Decimal
		DebtorID int64
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyName        = errors.New("empty name")
	ErrEmptyEmail       = errors.New("empty email")
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("already exists")
)

// ValidEmailTransactions reports whether v is a known email window preference.
func ValidEmailTransactions(v string) bool {
	switch v {
	case EmailTxNone, EmailTxLast3, EmailTxThisWeek, EmailTxThisMonth:
		return true
	}
	return false
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(u.Email) == "" {
		return ErrEmptyEmail
	}
	if !ValidEmailTransactions(u.EmailTransactions) {
		return errors.New("invalid email transactions preference")
	}
	return nil
}

// Validate checks the party invariant for the transaction type: a deposit
// has only a to-user, a withdrawal only a from-user, an expense both.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Description) == "" {
		return ErrEmptyDescription
	}
	if len(t.Description) > 500 {
		return errors.New("description too long (max 500 characters)")
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	switch t.Type {
	case Deposit:
		if t.ToUserID == nil || t.FromUserID != nil {
			return errors.New("deposit must have exactly a to-user")
		}
	case Withdrawal:
		if t.FromUserID == nil || t.ToUserID != nil {
			return errors.New("withdrawal must have exactly a from-user")
		}
	case Expense:
		if t.FromUserID == nil || t.ToUserID == nil {
			return errors.New("expense must have both a from-user and a to-user")
		}
	default:
		return errors.New("invalid transaction type")
	}
	return nil
}

func (i ExpenseItem) Validate() error {
	if strings.TrimSpace(i.ItemName) == "" {
		return errors.New("empty item name")
	}
	if len(i.ItemName) > 200 {
		return errors.New("item name too long (max 200 characters)")
	}
	if !i.Price.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Touches reports whether the transaction affects the given user's balance.
func (t Transaction) Touches(userID int64) bool {
	return (t.FromUserID != nil && *t.FromUserID == userID) ||
		(t.ToUserID != nil && *t.ToUserID == userID)
}

// SignedAmount returns the balance effect of the transaction on the given
// user: positive when the user is credited, negative when debited, zero when
// the user is not a party.
func (t Transaction) SignedAmount(userID int64) decimal.Decimal {
	if t.ToUserID != nil && *t.ToUserID == userID {
		return t.Amount
	}
	if t.FromUserID != nil && *t.FromUserID == userID {
		return t.Amount.Neg()
	}
	return decimal.Zero
}
