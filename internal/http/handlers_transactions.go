package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phoen-ix/bank-of-tina/internal/core"
	"github.com/phoen-ix/bank-of-tina/internal/services"
	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

const searchPageSize = 25

var allowedReceiptExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".pdf": true,
}

// itemForm is one line of the submitted items_json payload.
type itemForm struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	DebtorID int64  `json:"debtor_id"`
}

func parseItems(raw string) ([]services.ItemInput, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var forms []itemForm
	if err := json.Unmarshal([]byte(raw), &forms); err != nil {
		return nil, fmt.Errorf("parse items: %w", err)
	}
	inputs := make([]services.ItemInput, 0, len(forms))
	for _, f := range forms {
		price, err := core.ParseAmount(f.Price)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", f.Name, err)
		}
		inputs = append(inputs, services.ItemInput{
			Name:     strings.TrimSpace(f.Name),
			Price:    price,
			DebtorID: f.DebtorID,
		})
	}
	return inputs, nil
}

func formInt64(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(r.FormValue(key)), 10, 64)
}

func optionalParty(r *http.Request, key string) *int64 {
	id, err := formInt64(r, key)
	if err != nil {
		return nil
	}
	return &id
}

func (s *Server) handleAddTransactionForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := s.store.ListUsers(ctx, true)
	if err != nil {
		slog.ErrorContext(ctx, "List users failed", "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	data := struct {
		Users []userView
		Today string
	}{
		Users: s.userViews(ctx, users),
		Today: time.Now().In(s.settings.Timezone(ctx)).Format("2006-01-02T15:04"),
	}
	s.render(w, r, "add_transaction.html", s.newPage(w, r, "Add Transaction", data))
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loc := s.settings.Timezone(ctx)
	date := core.ParseSubmittedDate(r.FormValue("date"), loc)
	description := strings.TrimSpace(r.FormValue("description"))
	notes := strings.TrimSpace(r.FormValue("notes"))

	switch r.FormValue("type") {
	case "deposit", "withdrawal":
		userID, err := formInt64(r, "user_id")
		if err != nil {
			s.redirectFlash(w, r, "/transaction/add", "danger", "Select a user.")
			return
		}
		amount, err := core.ParseAmount(r.FormValue("amount"))
		if err != nil {
			s.redirectFlash(w, r, "/transaction/add", "danger", "Invalid amount.")
			return
		}
		var t core.Transaction
		if r.FormValue("type") == "deposit" {
			t, err = s.ledger.Deposit(ctx, services.DepositParams{
				UserID: userID, Amount: amount, Description: description, Date: date, Notes: notes,
			})
		} else {
			t, err = s.ledger.Withdraw(ctx, services.WithdrawalParams{
				UserID: userID, Amount: amount, Description: description, Date: date, Notes: notes,
			})
		}
		if err != nil {
			s.redirectFlash(w, r, "/transaction/add", "danger", userMessage(err))
			return
		}
		s.redirectFlash(w, r, "/", "success",
			fmt.Sprintf("%s of %s recorded.", capitalize(string(t.Type)), s.fmtMoney(ctx, t.Amount)))

	case "expense":
		buyerID, err := formInt64(r, "buyer_id")
		if err != nil {
			s.redirectFlash(w, r, "/transaction/add", "danger", "Select the buyer.")
			return
		}
		items, err := parseItems(r.FormValue("items_json"))
		if err != nil {
			s.redirectFlash(w, r, "/transaction/add", "danger", userMessage(err))
			return
		}
		buyer, err := s.store.GetUser(ctx, buyerID)
		if err != nil {
			s.redirectFlash(w, r, "/transaction/add", "danger", "Buyer not found.")
			return
		}
		receiptPath, err := s.saveReceipt(r, buyer.Name)
		if err != nil {
			s.redirectFlash(w, r, "/transaction/add", "danger", userMessage(err))
			return
		}
		result, err := s.ledger.RecordExpense(ctx, services.ExpenseParams{
			BuyerID:     buyerID,
			Description: description,
			Date:        date,
			Items:       items,
			ReceiptPath: receiptPath,
			Notes:       notes,
		})
		if errors.Is(err, services.ErrNoDebtors) {
			s.cleanupReceipt(ctx, receiptPath, 0)
			s.redirectFlash(w, r, "/transaction/add", "warning",
				"All items belong to the buyer; nothing to record.")
			return
		}
		if err != nil {
			s.cleanupReceipt(ctx, receiptPath, 0)
			s.redirectFlash(w, r, "/transaction/add", "danger", userMessage(err))
			return
		}
		msg := fmt.Sprintf("Expense split into %d transaction(s).", len(result.Transactions))
		if result.SkippedOwn > 0 {
			msg += fmt.Sprintf(" %d own item(s) skipped.", result.SkippedOwn)
		}
		s.redirectFlash(w, r, "/", "success", msg)

	default:
		s.redirectFlash(w, r, "/transaction/add", "danger", "Unknown transaction type.")
	}
}

func (s *Server) handleEditTransactionForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	t, err := s.store.GetTransaction(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Load transaction failed", "error", err, "id", id)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	items, err := s.store.ListItemsByTransaction(ctx, id)
	if err != nil {
		slog.ErrorContext(ctx, "Load items failed", "error", err, "id", id)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	users, err := s.store.ListUsers(ctx, false)
	if err != nil {
		slog.ErrorContext(ctx, "List users failed", "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	loc := s.settings.Timezone(ctx)
	type editItem struct {
		Name     string
		Price    string
		DebtorID int64
	}
	var editItems []editItem
	for _, item := range items {
		editItems = append(editItems, editItem{
			Name:     item.ItemName,
			Price:    item.Price.StringFixed(2),
			DebtorID: valueOr(t.FromUserID),
		})
	}
	data := struct {
		ID          int64
		Type        string
		Description string
		Amount      string
		Date        string
		Notes       string
		FromUserID  int64
		ToUserID    int64
		ReceiptPath string
		Items       []editItem
		Users       []userView
	}{
		ID:          t.ID,
		Type:        string(t.Type),
		Description: t.Description,
		Amount:      t.Amount.StringFixed(2),
		Date:        t.Date.In(loc).Format("2006-01-02T15:04"),
		Notes:       t.Notes,
		FromUserID:  valueOr(t.FromUserID),
		ToUserID:    valueOr(t.ToUserID),
		ReceiptPath: t.ReceiptPath,
		Items:       editItems,
		Users:       s.userViews(ctx, users),
	}
	s.render(w, r, "edit_transaction.html", s.newPage(w, r, "Edit Transaction", data))
}

func valueOr(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	back := "/transaction/" + r.PathValue("id") + "/edit"

	old, err := s.store.GetTransaction(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Load transaction failed", "error", err, "id", id)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	loc := s.settings.Timezone(ctx)
	p := services.EditTransactionParams{
		ID:          id,
		Description: strings.TrimSpace(r.FormValue("description")),
		Notes:       strings.TrimSpace(r.FormValue("notes")),
		FromUserID:  optionalParty(r, "from_user_id"),
		ToUserID:    optionalParty(r, "to_user_id"),
	}
	if raw := strings.TrimSpace(r.FormValue("date")); raw != "" {
		p.Date = core.ParseSubmittedDate(raw, loc)
	}
	if raw := strings.TrimSpace(r.FormValue("items_json")); raw != "" {
		items, err := parseItems(raw)
		if err != nil {
			s.redirectFlash(w, r, back, "danger", userMessage(err))
			return
		}
		if len(items) > 0 {
			p.Items = items
			p.HasItems = true
		}
	}
	if raw := strings.TrimSpace(r.FormValue("amount")); raw != "" && !p.HasItems {
		amount, err := core.ParseAmount(raw)
		if err != nil {
			s.redirectFlash(w, r, back, "danger", "Invalid amount.")
			return
		}
		p.Amount = &amount
	}

	buyerName := partyNameForReceipt(ctx, s, old)
	newReceipt, err := s.saveReceipt(r, buyerName)
	if err != nil {
		s.redirectFlash(w, r, back, "danger", userMessage(err))
		return
	}
	if newReceipt != "" {
		p.ReceiptPath = &newReceipt
	} else if r.FormValue("remove_receipt") == "1" {
		empty := ""
		p.ReceiptPath = &empty
	}

	if _, err := s.ledger.EditTransaction(ctx, p); err != nil {
		s.cleanupReceipt(ctx, newReceipt, 0)
		s.redirectFlash(w, r, back, "danger", userMessage(err))
		return
	}
	if p.ReceiptPath != nil && old.ReceiptPath != "" && old.ReceiptPath != *p.ReceiptPath {
		s.cleanupReceipt(ctx, old.ReceiptPath, id)
	}
	s.redirectFlash(w, r, "/transactions", "success", "Transaction updated.")
}

func partyNameForReceipt(ctx context.Context, s *Server, t core.Transaction) string {
	if t.ToUserID == nil {
		return "receipt"
	}
	u, err := s.store.GetUser(ctx, *t.ToUserID)
	if err != nil {
		return "receipt"
	}
	return u.Name
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	deleted, err := s.ledger.DeleteTransaction(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.redirectFlash(w, r, "/transactions", "danger", userMessage(err))
		return
	}
	s.cleanupReceipt(ctx, deleted.ReceiptPath, 0)
	s.redirectFlash(w, r, "/transactions", "success", "Transaction deleted.")
}

// dayGroup is one calendar day of the monthly transactions page.
type dayGroup struct {
	Date         string
	Transactions []txView
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loc := s.settings.Timezone(ctx)
	now := time.Now().In(loc)

	year := now.Year()
	month := now.Month()
	if v, err := strconv.Atoi(r.URL.Query().Get("year")); err == nil && v > 0 {
		year = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("month")); err == nil && v >= 1 && v <= 12 {
		month = time.Month(v)
	}

	from, to := monthBounds(year, month, loc)
	transactions, err := s.store.ListTransactionsBetween(ctx, from.UTC(), to.UTC())
	if err != nil {
		slog.ErrorContext(ctx, "List transactions failed", "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	names, err := s.userNames(ctx)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	items, err := s.itemsFor(r, transactions)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	// Newest day first inside the month.
	views := s.txViews(ctx, transactions, names, items)
	var groups []dayGroup
	for i := len(views) - 1; i >= 0; i-- {
		v := views[i]
		if len(groups) == 0 || groups[len(groups)-1].Date != v.Date {
			groups = append(groups, dayGroup{Date: v.Date})
		}
		last := &groups[len(groups)-1]
		last.Transactions = append(last.Transactions, v)
	}

	prev := from.AddDate(0, -1, 0)
	next := from.AddDate(0, 1, 0)
	data := struct {
		MonthLabel string
		Year       int
		Month      int
		PrevYear   int
		PrevMonth  int
		NextYear   int
		NextMonth  int
		Days       []dayGroup
		Count      int
	}{
		MonthLabel: from.Format("January 2006"),
		Year:       year,
		Month:      int(month),
		PrevYear:   prev.Year(),
		PrevMonth:  int(prev.Month()),
		NextYear:   next.Year(),
		NextMonth:  int(next.Month()),
		Days:       groups,
		Count:      len(views),
	}
	s.render(w, r, "transactions.html", s.newPage(w, r, "Transactions", data))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	loc := s.settings.Timezone(ctx)

	filter := storage.SearchFilter{
		Query: strings.TrimSpace(q.Get("q")),
		Type:  core.TransactionType(q.Get("type")),
	}
	if id, err := strconv.ParseInt(q.Get("user"), 10, 64); err == nil {
		filter.UserID = id
	}
	if t, err := time.ParseInLocation("2006-01-02", q.Get("date_from"), loc); err == nil {
		filter.From = t.UTC()
	}
	if t, err := time.ParseInLocation("2006-01-02", q.Get("date_to"), loc); err == nil {
		filter.To = t.AddDate(0, 0, 1).UTC()
	}
	if d, err := decimal.NewFromString(q.Get("min_amount")); err == nil {
		filter.MinAmount = d
	}
	if d, err := decimal.NewFromString(q.Get("max_amount")); err == nil {
		filter.MaxAmount = d
	}
	filter.HasReceipt = q.Get("has_receipt") == "1"

	pageNo := 1
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 1 {
		pageNo = v
	}

	total, err := s.store.CountSearchTransactions(ctx, filter)
	if err != nil {
		slog.ErrorContext(ctx, "Count search failed", "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	results, err := s.store.SearchTransactions(ctx, filter, searchPageSize, (pageNo-1)*searchPageSize)
	if err != nil {
		slog.ErrorContext(ctx, "Search failed", "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	names, err := s.userNames(ctx)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	items, err := s.itemsFor(r, results)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	users, err := s.store.ListUsers(ctx, false)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	totalPages := (total + searchPageSize - 1) / searchPageSize
	params := q
	params.Del("page")
	data := struct {
		Results    []txView
		Users      []userView
		Query      string
		Type       string
		UserID     int64
		DateFrom   string
		DateTo     string
		MinAmount  string
		MaxAmount  string
		HasReceipt bool
		Total      int
		Page       int
		TotalPages int
		BaseQuery  string
	}{
		Results:    s.txViews(ctx, results, names, items),
		Users:      s.userViews(ctx, users),
		Query:      filter.Query,
		Type:       q.Get("type"),
		UserID:     filter.UserID,
		DateFrom:   q.Get("date_from"),
		DateTo:     q.Get("date_to"),
		MinAmount:  q.Get("min_amount"),
		MaxAmount:  q.Get("max_amount"),
		HasReceipt: filter.HasReceipt,
		Total:      total,
		Page:       pageNo,
		TotalPages: totalPages,
		BaseQuery:  params.Encode(),
	}
	s.render(w, r, "search.html", s.newPage(w, r, "Search", data))
}

// saveReceipt stores an uploaded receipt under
// UPLOAD_DIR/YYYY/MM/DD/<Buyer>_<file> and returns the relative path.
// A request without a receipt file returns "".
func (s *Server) saveReceipt(r *http.Request, buyerName string) (string, error) {
	file, header, err := r.FormFile("receipt")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read receipt upload: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedReceiptExt[ext] {
		return "", fmt.Errorf("receipt file type %q is not allowed", ext)
	}

	loc := s.settings.Timezone(r.Context())
	rel := filepath.ToSlash(filepath.Join(
		time.Now().In(loc).Format("2006/01/02"),
		sanitizeFilename(buyerName)+"_"+sanitizeFilename(header.Filename),
	))
	abs := filepath.Join(s.uploadDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("create receipt dir: %w", err)
	}
	out, err := os.Create(abs)
	if err != nil {
		return "", fmt.Errorf("store receipt: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		os.Remove(abs)
		return "", fmt.Errorf("store receipt: %w", err)
	}
	return rel, nil
}

// cleanupReceipt removes the file when no other transaction still
// references it. Best effort: failures are only logged.
func (s *Server) cleanupReceipt(ctx context.Context, path string, excludeID int64) {
	if path == "" {
		return
	}
	refs, err := s.store.CountReceiptRefs(ctx, path, excludeID)
	if err != nil {
		slog.WarnContext(ctx, "Receipt ref count failed", "path", path, "error", err)
		return
	}
	if refs > 0 {
		return
	}
	if err := os.Remove(filepath.Join(s.uploadDir, filepath.FromSlash(path))); err != nil && !os.IsNotExist(err) {
		slog.WarnContext(ctx, "Receipt cleanup failed", "path", path, "error", err)
	}
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	rel := filepath.Clean(filepath.FromSlash(r.PathValue("path")))
	if rel == "." || strings.HasPrefix(rel, "..") {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.uploadDir, rel))
}

// userMessage keeps known validation errors readable in flashes and
// hides everything else behind a generic message.
func userMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrEmptyEmail),
		errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrDuplicate),
		errors.Is(err, services.ErrNoDebtors):
		return capitalize(err.Error()) + "."
	default:
		slog.Error("Request failed", "error", err)
		return "Something went wrong. Please try again."
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
