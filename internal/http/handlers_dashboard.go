package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/phoen-ix/bank-of-tina/internal/core"
	"github.com/phoen-ix/bank-of-tina/internal/scheduler"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := s.store.ListUsers(ctx, true)
	if err != nil {
		slog.ErrorContext(ctx, "List users failed", "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	limit, err := strconv.Atoi(s.settings.Get(ctx, "recent_transactions_count", "10"))
	if err != nil || limit < 1 {
		limit = 10
	}
	recent, err := s.store.ListRecentTransactions(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "List recent transactions failed", "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	names, err := s.userNames(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "List user names failed", "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	items, err := s.itemsFor(r, recent)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	data := struct {
		Users  []userView
		Recent []txView
	}{
		Users:  s.userViews(ctx, users),
		Recent: s.txViews(ctx, recent, names, items),
	}
	s.render(w, r, "index.html", s.newPage(w, r, "Bank of Tina", data))
}

func (s *Server) itemsFor(r *http.Request, transactions []core.Transaction) (map[int64][]core.ExpenseItem, error) {
	ids := make([]int64, 0, len(transactions))
	for _, t := range transactions {
		if t.Type == core.Expense {
			ids = append(ids, t.ID)
		}
	}
	items, err := s.store.ListItemsForTransactions(r.Context(), ids)
	if err != nil {
		slog.ErrorContext(r.Context(), "List expense items failed", "error", err)
		return nil, err
	}
	return items, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK

	dbOK := true
	if err := s.store.Ping(ctx); err != nil {
		slog.ErrorContext(ctx, "Health check DB ping failed", "error", err)
		dbOK = false
		status = http.StatusServiceUnavailable
	}

	iconsOK := true
	if _, err := os.Stat(s.iconsDir); err != nil {
		iconsOK = false
	}

	body := map[string]any{
		"status": "ok",
		"db":     dbOK,
		"scheduler": map[string]bool{
			"email":  s.sched.Has(scheduler.EmailJob),
			"backup": s.sched.Has(scheduler.BackupJob),
			"common": s.sched.Has(scheduler.CommonJob),
		},
		"icons_dir": iconsOK,
	}
	if !dbOK {
		body["status"] = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
