// Package http serves the web UI. Handlers stay thin: they parse the
// request, call one service and redirect with a flash message.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/phoen-ix/bank-of-tina/internal/backup"
	"github.com/phoen-ix/bank-of-tina/internal/email"
	"github.com/phoen-ix/bank-of-tina/internal/scheduler"
	"github.com/phoen-ix/bank-of-tina/internal/services"
	"github.com/phoen-ix/bank-of-tina/internal/storage"
	appweb "github.com/phoen-ix/bank-of-tina/web"
)

type Server struct {
	http.Server
	templates *template.Template

	store     *storage.SQLiteRepository
	settings  *services.Settings
	ledger    *services.Ledger
	analytics *services.Analytics
	collect   *services.AutoCollect
	emails    *email.Service
	backups   *backup.Service
	jobs      *scheduler.Jobs
	sched     *scheduler.Scheduler

	uploadDir string
	iconsDir  string

	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// Deps carries everything the handlers need.
type Deps struct {
	Store     *storage.SQLiteRepository
	Settings  *services.Settings
	Ledger    *services.Ledger
	Analytics *services.Analytics
	Collect   *services.AutoCollect
	Emails    *email.Service
	Backups   *backup.Service
	Jobs      *scheduler.Jobs
	Sched     *scheduler.Scheduler
	UploadDir string
	IconsDir  string
}

// NewServer configures routes and templates, returning a ready-to-run
// http.Server.
func NewServer(addr string, d Deps) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:       d.Store,
		settings:    d.Settings,
		ledger:      d.Ledger,
		analytics:   d.Analytics,
		collect:     d.Collect,
		emails:      d.Emails,
		backups:     d.Backups,
		jobs:        d.Jobs,
		sched:       d.Sched,
		uploadDir:   d.UploadDir,
		iconsDir:    d.IconsDir,
		rateLimiter: newRateLimiter(),
	}

	t, err := template.New("").Funcs(template.FuncMap{
		"add": func(a, b int) int { return a + b },
		"sub": func(a, b int) int { return a - b },
	}).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		slog.Warn("Failed parsing templates", "error", err)
	}
	s.templates = t

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			static.ServeHTTP(w, r)
		}))
	} else {
		slog.Warn("Failed to mount embedded static FS", "error", err)
	}

	handle := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, s.withMiddleware(fn))
	}

	handle("GET /{$}", s.handleIndex)
	handle("GET /health", s.handleHealth)

	handle("GET /transaction/add", s.handleAddTransactionForm)
	handle("POST /transaction/add", s.handleAddTransaction)
	handle("GET /transaction/{id}/edit", s.handleEditTransactionForm)
	handle("POST /transaction/{id}/edit", s.handleEditTransaction)
	handle("POST /transaction/{id}/delete", s.handleDeleteTransaction)
	handle("GET /transactions", s.handleTransactions)
	handle("GET /search", s.handleSearch)
	handle("GET /receipt/{path...}", s.handleReceipt)

	handle("POST /user/add", s.handleAddUser)
	handle("POST /user/{id}/edit", s.handleEditUser)
	handle("POST /user/{id}/toggle-active", s.handleToggleUser)
	handle("GET /user/{id}", s.handleUserDetail)

	handle("GET /analytics", s.handleAnalytics)
	handle("GET /analytics/data", s.handleAnalyticsData)

	handle("GET /settings", s.handleSettings)
	handle("POST /settings/general", s.handleSettingsGeneral)
	handle("POST /settings/schedule", s.handleSettingsSchedule)
	handle("POST /settings/backup", s.handleSettingsBackup)
	handle("POST /settings/common-auto", s.handleSettingsCommonAuto)
	handle("POST /settings/common-auto/run", s.handleCommonAutoRun)
	handle("POST /settings/common-auto/clear-log", s.handleClearAutoCollectLog)
	handle("POST /settings/templates", s.handleSettingsTemplates)
	handle("POST /settings/templates/reset", s.handleSettingsTemplatesReset)
	handle("GET /settings/templates/preview/{kind}", s.handleTemplatePreview)
	handle("POST /settings/theme", s.handleApplyTheme)
	handle("POST /settings/test-email", s.handleTestEmail)
	handle("POST /settings/email/clear-log", s.handleClearEmailLog)
	handle("POST /settings/backup/create", s.handleCreateBackup)
	handle("POST /settings/backup/clear-log", s.handleClearBackupLog)
	handle("POST /settings/icon", s.handleGenerateIcons)
	handle("POST /settings/icon/reset", s.handleResetIcons)

	for _, kind := range []string{"items", "descriptions", "prices"} {
		kind := kind
		handle("POST /settings/common-"+kind+"/add", func(w http.ResponseWriter, r *http.Request) {
			s.handleCommonAdd(w, r, strings.TrimSuffix(kind, "s"))
		})
		handle("POST /settings/common-"+kind+"/delete", func(w http.ResponseWriter, r *http.Request) {
			s.handleCommonDelete(w, r, strings.TrimSuffix(kind, "s"))
		})
		handle("GET /api/common-"+kind, func(w http.ResponseWriter, r *http.Request) {
			s.handleCommonAPI(w, r, strings.TrimSuffix(kind, "s"))
		})
	}
	handle("POST /settings/common-blacklist/add", s.handleBlacklistAdd)
	handle("POST /settings/common-blacklist/delete", s.handleBlacklistDelete)
	handle("GET /api/users", s.handleUsersAPI)

	handle("GET /backups/download/{name}", s.handleBackupDownload)
	handle("POST /backups/delete/{name}", s.handleBackupDelete)
	handle("POST /backups/restore/{name}", s.handleBackupRestore)
	handle("POST /backups/upload", s.handleBackupUpload)

	handle("GET /manifest.json", s.handleManifest)
	handle("GET /sw.js", s.handleServiceWorker)
	handle("GET /favicon.ico", s.handleFavicon)
	handle("GET /icons/{name}", s.handleIcon)

	return s
}

// Shutdown stops the HTTP server and the rate limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withMiddleware adds a request id, request logging, security headers
// and POST rate limiting.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", clientIP, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self' https://cdn.jsdelivr.net; style-src 'self' 'unsafe-inline' https://cdn.jsdelivr.net; img-src 'self' data:; connect-src 'self'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// Simple in-memory rate limiter, 60 POSTs per minute per client IP.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]
	if !exists {
		rl.clients[clientIP] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}
	client.requests++
	client.lastRequest = now
	return client.requests <= 60
}

// Flash messages ride in a short-lived cookie so redirects can report
// an outcome without server-side session state.

func setFlash(w http.ResponseWriter, level, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "flash",
		Value:    url.QueryEscape(level + "|" + message),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
	})
}

func takeFlash(w http.ResponseWriter, r *http.Request) (level, message string) {
	c, err := r.Cookie("flash")
	if err != nil {
		return "", ""
	}
	http.SetCookie(w, &http.Cookie{Name: "flash", Value: "", Path: "/", MaxAge: -1})
	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		return "", ""
	}
	level, message, _ = strings.Cut(raw, "|")
	return level, message
}

func (s *Server) redirectFlash(w http.ResponseWriter, r *http.Request, target, level, message string) {
	setFlash(w, level, message)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// page is the data every template receives.
type page struct {
	Title        string
	FlashLevel   string
	FlashMessage string
	Colors       map[string]string
	Currency     string
	Data         any
}

func (s *Server) newPage(w http.ResponseWriter, r *http.Request, title string, data any) page {
	ctx := r.Context()
	colors := make(map[string]string)
	for key := range services.TemplateDefaults {
		if strings.HasPrefix(key, "color_") {
			colors[key] = s.settings.Tpl(ctx, key)
		}
	}
	level, message := takeFlash(w, r)
	return page{
		Title:        title,
		FlashLevel:   level,
		FlashMessage: message,
		Colors:       colors,
		Currency:     s.settings.Get(ctx, "currency_symbol", "€"),
		Data:         data,
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, p page) {
	if s.templates == nil {
		slog.ErrorContext(r.Context(), "Templates not loaded", "url", r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, p); err != nil {
		slog.ErrorContext(r.Context(), "Template execution failed",
			"error", err, "template", name)
	}
}
