package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/phoen-ix/bank-of-tina/internal/core"
)

const userPageSize = 25

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := core.User{
		Name:              strings.TrimSpace(r.FormValue("name")),
		Email:             strings.TrimSpace(r.FormValue("email")),
		IsActive:          true,
		EmailOptIn:        r.FormValue("email_opt_in") == "1",
		EmailTransactions: core.EmailTxLast3,
	}
	if err := u.Validate(); err != nil {
		s.redirectFlash(w, r, "/", "danger", userMessage(err))
		return
	}
	created, err := s.store.CreateUser(ctx, u)
	if errors.Is(err, core.ErrDuplicate) {
		s.redirectFlash(w, r, "/", "danger", "A user with that name or email already exists.")
		return
	}
	if err != nil {
		s.redirectFlash(w, r, "/", "danger", userMessage(err))
		return
	}
	slog.InfoContext(ctx, "User created", "user_id", created.ID, "name", created.Name)
	s.redirectFlash(w, r, "/", "success", created.Name+" added.")
}

func (s *Server) handleEditUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.redirectFlash(w, r, "/", "danger", userMessage(err))
		return
	}

	if name := strings.TrimSpace(r.FormValue("name")); name != "" {
		u.Name = name
	}
	if email := strings.TrimSpace(r.FormValue("email")); email != "" {
		u.Email = email
	}
	u.EmailOptIn = r.FormValue("email_opt_in") == "1"
	if window := r.FormValue("email_transactions"); window != "" {
		u.EmailTransactions = window
	}
	if err := u.Validate(); err != nil {
		s.redirectFlash(w, r, "/", "danger", userMessage(err))
		return
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		if errors.Is(err, core.ErrDuplicate) {
			s.redirectFlash(w, r, "/", "danger", "A user with that name or email already exists.")
			return
		}
		s.redirectFlash(w, r, "/", "danger", userMessage(err))
		return
	}
	s.redirectFlash(w, r, "/", "success", u.Name+" updated.")
}

func (s *Server) handleToggleUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.redirectFlash(w, r, "/", "danger", userMessage(err))
		return
	}
	if err := s.store.SetUserActive(ctx, id, !u.IsActive); err != nil {
		s.redirectFlash(w, r, "/", "danger", userMessage(err))
		return
	}
	state := "deactivated"
	if !u.IsActive {
		state = "activated"
	}
	slog.InfoContext(ctx, "User toggled", "user_id", id, "active", !u.IsActive)
	s.redirectFlash(w, r, "/", "success", u.Name+" "+state+".")
}

func (s *Server) handleUserDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	pageNo := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 1 {
		pageNo = v
	}
	total, err := s.store.CountUserTransactions(ctx, id)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	transactions, err := s.store.ListUserTransactions(ctx, id, userPageSize, (pageNo-1)*userPageSize)
	if err != nil {
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

	data := struct {
		User         userView
		Transactions []txView
		Total        int
		Page         int
		TotalPages   int
	}{
		User:         s.userViews(ctx, []core.User{u})[0],
		Transactions: s.txViews(ctx, transactions, names, items),
		Total:        total,
		Page:         pageNo,
		TotalPages:   (total + userPageSize - 1) / userPageSize,
	}
	s.render(w, r, "user_detail.html", s.newPage(w, r, u.Name, data))
}

func (s *Server) handleUsersAPI(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context(), false)
	if err != nil {
		http.Error(w, `{"error":"database error"}`, http.StatusInternalServerError)
		return
	}
	type apiUser struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		Balance  string `json:"balance"`
		IsActive bool   `json:"is_active"`
	}
	out := make([]apiUser, 0, len(users))
	for _, u := range users {
		out = append(out, apiUser{
			ID:       u.ID,
			Name:     u.Name,
			Balance:  u.Balance.StringFixed(2),
			IsActive: u.IsActive,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
