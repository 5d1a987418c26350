package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/phoen-ix/bank-of-tina/internal/icons"
	appweb "github.com/phoen-ix/bank-of-tina/web"
)

// ensureIcons generates the PWA icon set on first use so fresh
// installs have a favicon without visiting the settings page.
func (s *Server) ensureIcons(r *http.Request) {
	if _, err := os.Stat(filepath.Join(s.iconsDir, "icon-192.png")); err == nil {
		return
	}
	color := s.settings.Get(r.Context(), "icon_color", "")
	if color == "" {
		color = s.settings.Tpl(r.Context(), "color_navbar")
	}
	if err := icons.Generate(s.iconsDir, color); err != nil {
		slog.WarnContext(r.Context(), "Icon generation failed", "error", err)
	}
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	theme := s.settings.Tpl(ctx, "color_navbar")

	type manifestIcon struct {
		Src   string `json:"src"`
		Sizes string `json:"sizes"`
		Type  string `json:"type"`
	}
	manifest := map[string]any{
		"name":             "Bank of Tina",
		"short_name":       "Tina",
		"start_url":        "/",
		"display":          "standalone",
		"background_color": "#ffffff",
		"theme_color":      theme,
		"icons": []manifestIcon{
			{Src: "/icons/icon-192.png", Sizes: "192x192", Type: "image/png"},
			{Src: "/icons/icon-512.png", Sizes: "512x512", Type: "image/png"},
		},
	}
	w.Header().Set("Content-Type", "application/manifest+json")
	_ = json.NewEncoder(w).Encode(manifest)
}

func (s *Server) handleServiceWorker(w http.ResponseWriter, r *http.Request) {
	body, err := appweb.StaticFS.ReadFile("static/sw.js")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Service-Worker-Allowed", "/")
	_, _ = w.Write(body)
}

func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	s.ensureIcons(r)
	http.ServeFile(w, r, filepath.Join(s.iconsDir, "icon-192.png"))
}

func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	s.ensureIcons(r)
	name := r.PathValue("name")
	ok := false
	for _, size := range icons.Sizes {
		if name == "icon-"+strconv.Itoa(size)+".png" {
			ok = true
			break
		}
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.iconsDir, name))
}
