package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phoen-ix/bank-of-tina/internal/core"
	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

// Analytics computes the dashboard chart data. Historical balances are
// never stored: they are replayed backwards from each user's current
// balance by undoing transactions newer than the sample date.
type Analytics struct {
	store *storage.SQLiteRepository
}

func NewAnalytics(store *storage.SQLiteRepository) *Analytics {
	return &Analytics{store: store}
}

type AnalyticsParams struct {
	From    time.Time
	To      time.Time
	UserIDs []int64 // empty means all active users
}

type BalancePoint struct {
	Name    string `json:"name"`
	Balance string `json:"balance"`
}

type BalanceHistory struct {
	Labels   []string            `json:"labels"`
	Datasets map[string][]string `json:"datasets"`
}

type TransactionVolume struct {
	Labels  []string `json:"labels"`
	Counts  []int    `json:"counts"`
	Amounts []string `json:"amounts"`
}

type TopItems struct {
	Names  []string `json:"names"`
	Counts []int    `json:"counts"`
	Totals []string `json:"totals"`
}

type AnalyticsMeta struct {
	DateFrom         string `json:"date_from"`
	DateTo           string `json:"date_to"`
	TransactionCount int    `json:"transaction_count"`
	UserCount        int    `json:"user_count"`
}

type AnalyticsData struct {
	Balances          []BalancePoint    `json:"balances"`
	BalanceHistory    BalanceHistory    `json:"balance_history"`
	TransactionVolume TransactionVolume `json:"transaction_volume"`
	TopItems          TopItems          `json:"top_items"`
	Meta              AnalyticsMeta     `json:"meta"`
}

const topItemLimit = 15

func (a *Analytics) Data(ctx context.Context, p AnalyticsParams) (AnalyticsData, error) {
	users, err := a.selectUsers(ctx, p.UserIDs)
	if err != nil {
		return AnalyticsData{}, err
	}

	// The range is inclusive of the last day.
	rangeEnd := p.To.Add(24 * time.Hour)
	all, err := a.store.ListTransactionsBetween(ctx, p.From, rangeEnd)
	if err != nil {
		return AnalyticsData{}, err
	}
	var transactions []core.Transaction
	for _, tx := range all {
		for _, u := range users {
			if tx.Touches(u.ID) {
				transactions = append(transactions, tx)
				break
			}
		}
	}

	data := AnalyticsData{
		Balances: make([]BalancePoint, 0, len(users)),
		Meta: AnalyticsMeta{
			DateFrom:         p.From.Format("2006-01-02"),
			DateTo:           p.To.Format("2006-01-02"),
			TransactionCount: len(transactions),
			UserCount:        len(users),
		},
	}
	for _, u := range users {
		data.Balances = append(data.Balances, BalancePoint{
			Name:    u.Name,
			Balance: u.Balance.StringFixed(2),
		})
	}

	samples := sampleDates(p.From, p.To)
	history, err := a.balanceHistory(ctx, users, samples)
	if err != nil {
		return AnalyticsData{}, err
	}
	data.BalanceHistory = history
	data.TransactionVolume = volume(transactions, p.From, p.To)

	top, err := a.topItems(ctx, transactions)
	if err != nil {
		return AnalyticsData{}, err
	}
	data.TopItems = top
	return data, nil
}

func (a *Analytics) selectUsers(ctx context.Context, ids []int64) ([]core.User, error) {
	if len(ids) == 0 {
		return a.store.ListUsers(ctx, true)
	}
	all, err := a.store.ListUsers(ctx, false)
	if err != nil {
		return nil, err
	}
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var users []core.User
	for _, u := range all {
		if wanted[u.ID] {
			users = append(users, u)
		}
	}
	return users, nil
}

// sampleDates picks the history sample points: weekly steps from the
// range start for ranges up to 90 days, month firsts for longer ranges.
// The final sample is always the range end.
func sampleDates(from, to time.Time) []time.Time {
	var samples []time.Time
	if to.Sub(from) <= 90*24*time.Hour {
		for d := from; !d.After(to); d = d.AddDate(0, 0, 7) {
			samples = append(samples, d)
		}
	} else {
		d := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, from.Location())
		for !d.After(to) {
			samples = append(samples, d)
			d = d.AddDate(0, 1, 0)
		}
	}
	if len(samples) == 0 || samples[len(samples)-1].Before(to) {
		samples = append(samples, to)
	}
	return samples
}

// balanceHistory replays each user's balance backwards: starting from
// the current balance, every transaction dated after a sample point has
// its effect undone to recover the balance as of that point.
func (a *Analytics) balanceHistory(ctx context.Context, users []core.User, samples []time.Time) (BalanceHistory, error) {
	history := BalanceHistory{
		Labels:   make([]string, len(samples)),
		Datasets: make(map[string][]string, len(users)),
	}
	for i, d := range samples {
		history.Labels[i] = d.Format("2006-01-02")
	}

	for _, u := range users {
		userTx, err := a.store.ListUserTransactions(ctx, u.ID, 100000, 0)
		if err != nil {
			return BalanceHistory{}, err
		}
		series := make([]string, len(samples))
		for i, d := range samples {
			cutoff := d.Add(24*time.Hour - time.Nanosecond)
			bal := u.Balance
			for _, tx := range userTx {
				if tx.Date.After(cutoff) {
					bal = bal.Sub(tx.SignedAmount(u.ID))
				}
			}
			series[i] = bal.StringFixed(2)
		}
		history.Datasets[u.Name] = series
	}
	return history, nil
}

// volume buckets transactions by Monday-started week for short ranges
// and by calendar month for long ones.
func volume(transactions []core.Transaction, from, to time.Time) TransactionVolume {
	weekly := to.Sub(from) <= 90*24*time.Hour

	type bucket struct {
		count  int
		amount decimal.Decimal
	}
	buckets := make(map[string]*bucket)
	for _, tx := range transactions {
		var key string
		if weekly {
			key = core.WeekStart(tx.Date).Format("2006-01-02")
		} else {
			key = tx.Date.Format("2006-01")
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
		}
		b.count++
		b.amount = b.amount.Add(tx.Amount)
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vol := TransactionVolume{}
	for _, k := range keys {
		var label string
		if weekly {
			d, _ := time.Parse("2006-01-02", k)
			label = d.Format("Jan 02")
		} else {
			d, _ := time.Parse("2006-01", k)
			label = d.Format("Jan 2006")
		}
		vol.Labels = append(vol.Labels, label)
		vol.Counts = append(vol.Counts, buckets[k].count)
		vol.Amounts = append(vol.Amounts, buckets[k].amount.StringFixed(2))
	}
	return vol
}

// topItems aggregates item lines of expense transactions in range and
// returns the top spenders by total, capped at topItemLimit.
func (a *Analytics) topItems(ctx context.Context, transactions []core.Transaction) (TopItems, error) {
	var expenseIDs []int64
	for _, tx := range transactions {
		if tx.Type == core.Expense {
			expenseIDs = append(expenseIDs, tx.ID)
		}
	}
	byTx, err := a.store.ListItemsForTransactions(ctx, expenseIDs)
	if err != nil {
		return TopItems{}, fmt.Errorf("load items: %w", err)
	}

	type stat struct {
		name  string
		count int
		total decimal.Decimal
	}
	stats := make(map[string]*stat)
	for _, items := range byTx {
		for _, item := range items {
			name := strings.TrimSpace(item.ItemName)
			s, ok := stats[name]
			if !ok {
				s = &stat{name: name}
				stats[name] = s
			}
			s.count++
			s.total = s.total.Add(item.Price)
		}
	}

	sorted := make([]*stat, 0, len(stats))
	for _, s := range stats {
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].total.Equal(sorted[j].total) {
			return sorted[i].total.GreaterThan(sorted[j].total)
		}
		return sorted[i].name < sorted[j].name
	})
	if len(sorted) > topItemLimit {
		sorted = sorted[:topItemLimit]
	}

	top := TopItems{}
	for _, s := range sorted {
		top.Names = append(top.Names, s.name)
		top.Counts = append(top.Counts, s.count)
		top.Totals = append(top.Totals, s.total.StringFixed(2))
	}
	return top, nil
}
