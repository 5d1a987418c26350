package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/phoen-ix/bank-of-tina/internal/services"
)

const defaultAnalyticsDays = 90

func (s *Server) analyticsRange(r *http.Request) (from, to time.Time) {
	loc := s.settings.Timezone(r.Context())
	now := time.Now().In(loc)
	to = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	from = to.AddDate(0, 0, -defaultAnalyticsDays)

	q := r.URL.Query()
	if t, err := time.ParseInLocation("2006-01-02", q.Get("date_from"), loc); err == nil {
		from = t
	}
	if t, err := time.ParseInLocation("2006-01-02", q.Get("date_to"), loc); err == nil {
		to = t
	}
	if to.Before(from) {
		from = to.AddDate(0, 0, -defaultAnalyticsDays)
	}
	return from, to
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := s.store.ListUsers(ctx, true)
	if err != nil {
		slog.ErrorContext(ctx, "List users failed", "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	from, to := s.analyticsRange(r)
	data := struct {
		Users    []userView
		DateFrom string
		DateTo   string
	}{
		Users:    s.userViews(ctx, users),
		DateFrom: from.Format("2006-01-02"),
		DateTo:   to.Format("2006-01-02"),
	}
	s.render(w, r, "analytics.html", s.newPage(w, r, "Analytics", data))
}

func (s *Server) handleAnalyticsData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to := s.analyticsRange(r)

	var userIDs []int64
	for _, raw := range r.URL.Query()["users"] {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			userIDs = append(userIDs, id)
		}
	}

	data, err := s.analytics.Data(ctx, services.AnalyticsParams{
		From:    from,
		To:      to,
		UserIDs: userIDs,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Analytics failed", "error", err)
		http.Error(w, `{"error":"analytics failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}
