package http

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phoen-ix/bank-of-tina/internal/core"
)

// userView is a user row ready for templates.
type userView struct {
	ID                int64
	Name              string
	Email             string
	Balance           string
	BalanceNegative   bool
	IsActive          bool
	EmailOptIn        bool
	EmailTransactions string
}

type itemView struct {
	Name  string
	Price string
}

// txView is one transaction row ready for templates.
type txView struct {
	ID          int64
	Date        string
	Time        string
	Description string
	Amount      string
	Type        string
	FromName    string
	ToName      string
	ReceiptPath string
	Notes       string
	Items       []itemView
}

func (s *Server) fmtMoney(ctx context.Context, d decimal.Decimal) string {
	sym := s.settings.Get(ctx, "currency_symbol", "€")
	return sym + core.FormatAmount(d, s.settings.DecimalSeparator(ctx))
}

func (s *Server) userViews(ctx context.Context, users []core.User) []userView {
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, userView{
			ID:                u.ID,
			Name:              u.Name,
			Email:             u.Email,
			Balance:           s.fmtMoney(ctx, u.Balance),
			BalanceNegative:   u.Balance.IsNegative(),
			IsActive:          u.IsActive,
			EmailOptIn:        u.EmailOptIn,
			EmailTransactions: u.EmailTransactions,
		})
	}
	return views
}

// userNames maps every user id to its name, inactive users included,
// so historic rows keep their labels.
func (s *Server) userNames(ctx context.Context) (map[int64]string, error) {
	users, err := s.store.ListUsers(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	names := make(map[int64]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

func partyName(names map[int64]string, id *int64) string {
	if id == nil {
		return ""
	}
	if name, ok := names[*id]; ok {
		return name
	}
	return fmt.Sprintf("user #%d", *id)
}

func (s *Server) txViews(ctx context.Context, transactions []core.Transaction, names map[int64]string, items map[int64][]core.ExpenseItem) []txView {
	loc := s.settings.Timezone(ctx)
	views := make([]txView, 0, len(transactions))
	for _, t := range transactions {
		local := t.Date.In(loc)
		v := txView{
			ID:          t.ID,
			Date:        local.Format("2006-01-02"),
			Time:        local.Format("15:04"),
			Description: t.Description,
			Amount:      s.fmtMoney(ctx, t.Amount),
			Type:        string(t.Type),
			FromName:    partyName(names, t.FromUserID),
			ToName:      partyName(names, t.ToUserID),
			ReceiptPath: t.ReceiptPath,
			Notes:       t.Notes,
		}
		for _, item := range items[t.ID] {
			v.Items = append(v.Items, itemView{
				Name:  item.ItemName,
				Price: s.fmtMoney(ctx, item.Price),
			})
		}
		views = append(views, v)
	}
	return views
}

// monthBounds returns the half-open local-time interval of one month.
func monthBounds(year int, month time.Month, loc *time.Location) (from, to time.Time) {
	from = time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 1, 0)
}
