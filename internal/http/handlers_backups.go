package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/phoen-ix/bank-of-tina/internal/backup"
)

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filename, err := s.backups.Run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Backup failed", "error", err)
		s.redirectFlash(w, r, settingsPath, "danger", "Backup failed: "+err.Error())
		return
	}
	keep, convErr := strconv.Atoi(s.settings.Get(ctx, "backup_keep", "7"))
	if convErr != nil || keep < 1 {
		keep = 7
	}
	pruned, err := s.backups.Prune(keep)
	if err != nil {
		slog.WarnContext(ctx, "Backup prune failed", "error", err)
	}
	msg := "Backup created: " + filename + "."
	if pruned > 0 {
		msg += " Pruned " + strconv.Itoa(pruned) + " old backup(s)."
	}
	s.redirectFlash(w, r, settingsPath, "success", msg)
}

func (s *Server) handleBackupDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !backup.FilenameRE.MatchString(name) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Type", "application/gzip")
	http.ServeFile(w, r, filepath.Join(s.backups.Dir(), name))
}

func (s *Server) handleBackupDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.backups.Delete(name); err != nil {
		slog.WarnContext(r.Context(), "Backup delete failed", "name", name, "error", err)
		s.redirectFlash(w, r, settingsPath, "danger", "Could not delete the backup.")
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Backup deleted.")
}

func (s *Server) handleBackupRestore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")
	if err := s.backups.Restore(ctx, name); err != nil {
		slog.ErrorContext(ctx, "Backup restore failed", "name", name, "error", err)
		s.redirectFlash(w, r, settingsPath, "danger", "Restore failed: "+err.Error())
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Backup restored from "+name+".")
}

func (s *Server) handleBackupUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	file, header, err := r.FormFile("backup")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		s.redirectFlash(w, r, settingsPath, "danger", "Choose a backup file to upload.")
		return
	}
	if err != nil {
		s.redirectFlash(w, r, settingsPath, "danger", "Upload failed.")
		return
	}
	defer file.Close()

	if filepath.Ext(header.Filename) != ".gz" {
		s.redirectFlash(w, r, settingsPath, "danger", "Backups must be .tar.gz archives.")
		return
	}
	filename, err := s.backups.SaveUploaded(ctx, file)
	if err != nil {
		slog.ErrorContext(ctx, "Backup upload failed", "error", err)
		s.redirectFlash(w, r, settingsPath, "danger", "Upload failed.")
		return
	}
	s.redirectFlash(w, r, settingsPath, "success", "Backup uploaded as "+filename+".")
}

func (s *Server) handleCommonAPI(w http.ResponseWriter, r *http.Request, kind string) {
	values, err := s.store.ListCommonValues(r.Context(), kind)
	if err != nil {
		http.Error(w, `{"error":"database error"}`, http.StatusInternalServerError)
		return
	}
	if values == nil {
		values = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(values)
}
