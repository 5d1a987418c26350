package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phoen-ix/bank-of-tina/internal/backup"
	"github.com/phoen-ix/bank-of-tina/internal/core"
	"github.com/phoen-ix/bank-of-tina/internal/email"
	"github.com/phoen-ix/bank-of-tina/internal/scheduler"
	"github.com/phoen-ix/bank-of-tina/internal/services"
	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

type nullSender struct{}

func (nullSender) Send(ctx context.Context, toEmail, toName, subject, htmlBody string) error {
	return nil
}

type testApp struct {
	srv   *Server
	store *storage.SQLiteRepository
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tina.db")
	store, err := storage.NewSQLiteRepository(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	settings := services.NewSettings(store)
	sched := scheduler.New()
	t.Cleanup(sched.Stop)
	emails := email.NewService(store, settings, nullSender{})
	backups := backup.NewService(store, settings, dbPath,
		filepath.Join(dir, "backups"), filepath.Join(dir, "uploads"), time.Minute)

	srv := NewServer(":0", Deps{
		Store:     store,
		Settings:  settings,
		Ledger:    services.NewLedger(store, nil),
		Analytics: services.NewAnalytics(store),
		Collect:   services.NewAutoCollect(store, settings),
		Emails:    emails,
		Backups:   backups,
		Jobs:      scheduler.NewJobs(sched, settings, emails, services.NewAutoCollect(store, settings), backups),
		Sched:     sched,
		UploadDir: filepath.Join(dir, "uploads"),
		IconsDir:  filepath.Join(dir, "icons"),
	})
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testApp{srv: srv, store: store}
}

func (a *testApp) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	a.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) post(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	a.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) addUser(t *testing.T, name, email string) core.User {
	t.Helper()
	u, err := a.store.CreateUser(context.Background(), core.User{
		Name: name, Email: email, IsActive: true, EmailOptIn: true,
		EmailTransactions: core.EmailTxLast3,
	})
	require.NoError(t, err)
	return u
}

func flashOf(rec *httptest.ResponseRecorder) string {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "flash" && c.MaxAge >= 0 {
			raw, _ := url.QueryUnescape(c.Value)
			return raw
		}
	}
	return ""
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)
	rec := app.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, true, body["db"])
}

func TestIndexShowsUsers(t *testing.T) {
	app := newTestApp(t)
	app.addUser(t, "Alice", "alice@example.com")

	rec := app.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Alice")
}

func TestDepositUpdatesBalance(t *testing.T) {
	app := newTestApp(t)
	alice := app.addUser(t, "Alice", "alice@example.com")

	rec := app.post(t, "/transaction/add", url.Values{
		"type":        {"deposit"},
		"user_id":     {"1"},
		"amount":      {"25.00"},
		"description": {"Payday"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Contains(t, flashOf(rec), "success")

	got, err := app.store.GetUser(context.Background(), alice.ID)
	require.NoError(t, err)
	require.Equal(t, "25.00", got.Balance.StringFixed(2))
}

func TestInvalidAmountFlashesError(t *testing.T) {
	app := newTestApp(t)
	app.addUser(t, "Alice", "alice@example.com")

	rec := app.post(t, "/transaction/add", url.Values{
		"type":    {"deposit"},
		"user_id": {"1"},
		"amount":  {"not-a-number"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Contains(t, flashOf(rec), "danger")
}

func TestExpenseSplitAndOwnItemsSkipped(t *testing.T) {
	app := newTestApp(t)
	alice := app.addUser(t, "Alice", "alice@example.com")
	bob := app.addUser(t, "Bob", "bob@example.com")

	rec := app.post(t, "/transaction/add", url.Values{
		"type":        {"expense"},
		"buyer_id":    {"1"},
		"description": {"Lunch"},
		"items_json": {`[
			{"name":"Pizza","price":"10.00","debtor_id":2},
			{"name":"Salad","price":"5.00","debtor_id":1}
		]`},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Contains(t, flashOf(rec), "1 own item(s) skipped")

	ctx := context.Background()
	gotAlice, err := app.store.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	gotBob, err := app.store.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, "10.00", gotAlice.Balance.StringFixed(2))
	require.Equal(t, "-10.00", gotBob.Balance.StringFixed(2))
}

func TestEditClearingItemsUsesSubmittedAmount(t *testing.T) {
	app := newTestApp(t)
	alice := app.addUser(t, "Alice", "alice@example.com")
	bob := app.addUser(t, "Bob", "bob@example.com")

	app.post(t, "/transaction/add", url.Values{
		"type":        {"expense"},
		"buyer_id":    {"1"},
		"description": {"Groceries"},
		"items_json":  {`[{"name":"Milk","price":"10.00","debtor_id":2}]`},
	})

	rec := app.post(t, "/transaction/1/edit", url.Values{
		"description":  {"Groceries"},
		"from_user_id": {"2"},
		"to_user_id":   {"1"},
		"items_json":   {"[]"},
		"amount":       {"7.00"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Contains(t, flashOf(rec), "success")

	ctx := context.Background()
	tx, err := app.store.GetTransaction(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "7.00", tx.Amount.StringFixed(2))

	items, err := app.store.ListItemsByTransaction(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, items)

	gotAlice, err := app.store.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	gotBob, err := app.store.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, "7.00", gotAlice.Balance.StringFixed(2))
	require.Equal(t, "-7.00", gotBob.Balance.StringFixed(2))
}

func TestDeleteTransactionRestoresBalance(t *testing.T) {
	app := newTestApp(t)
	alice := app.addUser(t, "Alice", "alice@example.com")

	app.post(t, "/transaction/add", url.Values{
		"type":    {"deposit"},
		"user_id": {"1"},
		"amount":  {"40.00"},
	})
	transactions, err := app.store.ListRecentTransactions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, transactions, 1)

	rec := app.post(t, "/transaction/1/delete", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	got, err := app.store.GetUser(context.Background(), alice.ID)
	require.NoError(t, err)
	require.True(t, got.Balance.IsZero())
}

func TestAddUserAndDuplicate(t *testing.T) {
	app := newTestApp(t)

	rec := app.post(t, "/user/add", url.Values{
		"name":  {"Carol"},
		"email": {"carol@example.com"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Contains(t, flashOf(rec), "success")

	rec = app.post(t, "/user/add", url.Values{
		"name":  {"Carol"},
		"email": {"carol@example.com"},
	})
	require.Contains(t, flashOf(rec), "danger")
}

func TestToggleUserActive(t *testing.T) {
	app := newTestApp(t)
	alice := app.addUser(t, "Alice", "alice@example.com")

	rec := app.post(t, "/user/1/toggle-active", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	got, err := app.store.GetUser(context.Background(), alice.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
}

func TestSearchPage(t *testing.T) {
	app := newTestApp(t)
	app.addUser(t, "Alice", "alice@example.com")
	app.post(t, "/transaction/add", url.Values{
		"type":        {"deposit"},
		"user_id":     {"1"},
		"amount":      {"10.00"},
		"description": {"Coffee fund"},
	})

	rec := app.get(t, "/search?q=Coffee")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Coffee fund")

	rec = app.get(t, "/search?q=nothing-matches")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "0 result(s)")
}

func TestSearchReceiptFilterExcludesBareTransactions(t *testing.T) {
	app := newTestApp(t)
	app.addUser(t, "Alice", "alice@example.com")
	app.post(t, "/transaction/add", url.Values{
		"type":        {"deposit"},
		"user_id":     {"1"},
		"amount":      {"10.00"},
		"description": {"Payday"},
	})

	rec := app.get(t, "/search?has_receipt=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "0 result(s)")
	require.NotContains(t, rec.Body.String(), "Payday")
}

func TestAnalyticsDataJSON(t *testing.T) {
	app := newTestApp(t)
	app.addUser(t, "Alice", "alice@example.com")
	app.post(t, "/transaction/add", url.Values{
		"type":    {"deposit"},
		"user_id": {"1"},
		"amount":  {"10.00"},
	})

	rec := app.get(t, "/analytics/data")
	require.Equal(t, http.StatusOK, rec.Code)

	var data services.AnalyticsData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	require.Len(t, data.Balances, 1)
	require.Equal(t, "Alice", data.Balances[0].Name)
	require.Equal(t, "10.00", data.Balances[0].Balance)
}

func TestCommonValueAPI(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, app.store.AddCommonValue(context.Background(), storage.CommonKindItem, "Milk"))

	rec := app.get(t, "/api/common-items")
	require.Equal(t, http.StatusOK, rec.Code)

	var values []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &values))
	require.Equal(t, []string{"Milk"}, values)
}

func TestUsersAPIIncludesBalances(t *testing.T) {
	app := newTestApp(t)
	app.addUser(t, "Alice", "alice@example.com")
	app.post(t, "/transaction/add", url.Values{
		"type":    {"deposit"},
		"user_id": {"1"},
		"amount":  {"12.50"},
	})
	app.post(t, "/user/1/toggle-active", nil)

	rec := app.get(t, "/api/users")
	require.Equal(t, http.StatusOK, rec.Code)

	var users []struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		Balance  string `json:"balance"`
		IsActive bool   `json:"is_active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	require.Equal(t, "Alice", users[0].Name)
	require.Equal(t, "12.50", users[0].Balance)
	require.False(t, users[0].IsActive)
}

func TestSettingsGeneralSave(t *testing.T) {
	app := newTestApp(t)

	rec := app.post(t, "/settings/general", url.Values{
		"currency_symbol":   {"$"},
		"decimal_separator": {","},
		"timezone":          {"Europe/Rome"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Contains(t, flashOf(rec), "success")

	got := app.srv.settings.Get(context.Background(), "currency_symbol", "€")
	require.Equal(t, "$", got)
}

func TestSettingsRejectsBadTimezone(t *testing.T) {
	app := newTestApp(t)
	rec := app.post(t, "/settings/general", url.Values{
		"timezone": {"Mars/Olympus"},
	})
	require.Contains(t, flashOf(rec), "danger")
}

func TestScheduleFormInstallsJob(t *testing.T) {
	app := newTestApp(t)
	rec := app.post(t, "/settings/schedule", url.Values{
		"schedule_enabled": {"1"},
		"schedule_day":     {"mon"},
		"schedule_hour":    {"9"},
		"schedule_minute":  {"0"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.True(t, app.srv.sched.Has(scheduler.EmailJob))

	rec = app.post(t, "/settings/schedule", url.Values{
		"schedule_day":    {"mon"},
		"schedule_hour":   {"9"},
		"schedule_minute": {"0"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.False(t, app.srv.sched.Has(scheduler.EmailJob))
}

func TestManifestUsesThemeColor(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, app.srv.settings.Set(context.Background(), "color_navbar", "#0077b6"))

	rec := app.get(t, "/manifest.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
	require.Equal(t, "#0077b6", manifest["theme_color"])
}

func TestReceiptPathTraversalBlocked(t *testing.T) {
	app := newTestApp(t)
	rec := app.get(t, "/receipt/../../etc/passwd")
	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestBackupDownloadRejectsBadName(t *testing.T) {
	app := newTestApp(t)
	rec := app.get(t, "/backups/download/evil.sh")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter()
	defer rl.stop()

	for i := 0; i < 60; i++ {
		require.True(t, rl.allow("1.2.3.4"))
	}
	require.False(t, rl.allow("1.2.3.4"))
	require.True(t, rl.allow("5.6.7.8"))
}

func TestFlashRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	setFlash(rec, "success", "All good.")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	level, message := takeFlash(httptest.NewRecorder(), req)
	require.Equal(t, "success", level)
	require.Equal(t, "All good.", message)
}

func TestParseItems(t *testing.T) {
	items, err := parseItems(`[{"name":"Pizza","price":"10.50","debtor_id":2}]`)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Pizza", items[0].Name)
	require.Equal(t, "10.50", items[0].Price.StringFixed(2))
	require.Equal(t, int64(2), items[0].DebtorID)

	_, err = parseItems(`[{"name":"Pizza","price":"abc"}]`)
	require.Error(t, err)

	items, err = parseItems("  ")
	require.NoError(t, err)
	require.Nil(t, items)
}
