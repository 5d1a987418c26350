// Package backup creates, lists and prunes the full-site backup
// archives: a SQL dump, the receipt uploads and a reconstructed .env.
package backup

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/phoen-ix/bank-of-tina/internal/services"
	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

// FilenameRE matches valid backup archive names. Anything else is
// rejected on download, delete and upload.
var FilenameRE = regexp.MustCompile(`^bot_backup_[\d_-]+\.tar\.gz$`)

// envKeys are the environment variables reconstructed into the .env
// file inside the archive. Empty variables are skipped.
var envKeys = []string{
	"PORT", "SQLITE_DB_PATH", "UPLOAD_DIR", "BACKUP_DIR",
	"AMQP_URL", "AMQP_EXCHANGE", "AMQP_QUEUE",
}

type Service struct {
	store      *storage.SQLiteRepository
	settings   *services.Settings
	dbPath     string
	backupDir  string
	uploadDir  string
	cmdTimeout time.Duration
}

func NewService(store *storage.SQLiteRepository, settings *services.Settings, dbPath, backupDir, uploadDir string, cmdTimeout time.Duration) *Service {
	return &Service{
		store:      store,
		settings:   settings,
		dbPath:     dbPath,
		backupDir:  backupDir,
		uploadDir:  uploadDir,
		cmdTimeout: cmdTimeout,
	}
}

// Info describes one archive on disk, newest first in listings.
type Info struct {
	Filename string
	Size     int64
	Modified time.Time
}

func (s *Service) Dir() string { return s.backupDir }

// Run creates one archive. It returns the archive filename, or an
// error whose message is safe to show in the UI. A partial archive is
// removed on failure.
func (s *Service) Run(ctx context.Context) (string, error) {
	debug := s.settings.Get(ctx, "backup_debug", "0") == "1"
	log := func(level, msg string) {
		if !debug {
			return
		}
		if err := s.store.AddBackupLog(ctx, level, msg); err != nil {
			slog.WarnContext(ctx, "Failed to write backup log", "error", err)
		}
	}

	loc := s.settings.Timezone(ctx)
	filename := fmt.Sprintf("bot_backup_%s.tar.gz", time.Now().In(loc).Format("2006_01_02_15-04-05"))
	dest := filepath.Join(s.backupDir, filename)
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	tmp, err := os.MkdirTemp("", "tina-backup-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	dumpPath := filepath.Join(tmp, "dump.sql")
	if err := s.dumpDatabase(ctx, dumpPath); err != nil {
		log("ERROR", err.Error())
		return "", err
	}
	log("INFO", "SQL dump created")

	envPath := filepath.Join(tmp, ".env")
	if err := writeEnvFile(envPath); err != nil {
		log("ERROR", err.Error())
		return "", err
	}
	log("INFO", ".env reconstructed")

	if err := s.writeArchive(dest, dumpPath, envPath); err != nil {
		os.Remove(dest)
		log("ERROR", err.Error())
		return "", err
	}
	log("SUCCESS", "Backup created: "+filename)
	slog.InfoContext(ctx, "Backup created", "filename", filename)
	return filename, nil
}

// dumpDatabase shells out to the sqlite3 CLI so the dump is a plain
// SQL file restorable without this application.
func (s *Service) dumpDatabase(ctx context.Context, dumpPath string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cmdTimeout)
	defer cancel()

	out, err := os.Create(dumpPath)
	if err != nil {
		return fmt.Errorf("create dump file: %w", err)
	}
	defer out.Close()

	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, "sqlite3", s.dbPath, ".dump")
	cmd.Stdout = out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("sqlite3 dump failed: %s: %w", msg, err)
	}
	return nil
}

func writeEnvFile(path string) error {
	var lines []string
	for _, key := range envKeys {
		if value := os.Getenv(key); value != "" {
			lines = append(lines, key+"="+value)
		}
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

func (s *Service) writeArchive(dest, dumpPath, envPath string) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	if err := addFile(tw, dumpPath, "dump.sql"); err != nil {
		return err
	}
	if err := addTree(tw, s.uploadDir, "receipts"); err != nil {
		return err
	}
	if err := addFile(tw, envPath, ".env"); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, path, arcname string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header %s: %w", arcname, err)
	}
	hdr.Name = arcname
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", arcname, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copy %s: %w", arcname, err)
	}
	return nil
}

// addTree archives a directory recursively. A missing directory is
// archived as an empty one so restores stay uniform.
func addTree(tw *tar.Writer, root, arcname string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		hdr := &tar.Header{
			Name:     arcname + "/",
			Typeflag: tar.TypeDir,
			Mode:     0755,
			ModTime:  time.Now(),
		}
		return tw.WriteHeader(hdr)
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := arcname
		if rel != "." {
			name = filepath.Join(arcname, rel)
		}
		if info.IsDir() {
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			return tw.WriteHeader(hdr)
		}
		return addFile(tw, path, name)
	})
}

// List returns the archives in the backup directory, newest first.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		if entry.IsDir() || !FilenameRE.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Filename: entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Filename > backups[j].Filename
	})
	return backups, nil
}

// Count returns the number of archives currently on disk.
func (s *Service) Count() (int, error) {
	backups, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(backups), nil
}

// Prune deletes the oldest archives until at most keep remain. It
// returns how many files were removed.
func (s *Service) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	backups, err := s.List()
	if err != nil {
		return 0, err
	}
	pruned := 0
	for i := len(backups) - 1; i >= keep; i-- {
		if err := os.Remove(filepath.Join(s.backupDir, backups[i].Filename)); err != nil {
			return pruned, fmt.Errorf("remove %s: %w", backups[i].Filename, err)
		}
		pruned++
	}
	return pruned, nil
}

// Delete removes one archive by name.
func (s *Service) Delete(filename string) error {
	if !FilenameRE.MatchString(filename) {
		return fmt.Errorf("invalid backup filename %q", filename)
	}
	if err := os.Remove(filepath.Join(s.backupDir, filename)); err != nil {
		return fmt.Errorf("remove backup: %w", err)
	}
	return nil
}

// Restore replaces the database contents and the receipt uploads with
// the state captured in one archive.
func (s *Service) Restore(ctx context.Context, filename string) error {
	if !FilenameRE.MatchString(filename) {
		return fmt.Errorf("invalid backup filename %q", filename)
	}
	debug := s.settings.Get(ctx, "backup_debug", "0") == "1"
	log := func(level, msg string) {
		if !debug {
			return
		}
		if err := s.store.AddBackupLog(ctx, level, msg); err != nil {
			slog.WarnContext(ctx, "Failed to write backup log", "error", err)
		}
	}

	tmp, err := os.MkdirTemp("", "tina-restore-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := extractArchive(filepath.Join(s.backupDir, filename), tmp); err != nil {
		log("ERROR", err.Error())
		return err
	}

	dumpPath := filepath.Join(tmp, "dump.sql")
	if _, err := os.Stat(dumpPath); err != nil {
		log("ERROR", "archive has no dump.sql")
		return fmt.Errorf("archive has no dump.sql: %w", err)
	}
	if err := s.loadDump(ctx, dumpPath); err != nil {
		log("ERROR", err.Error())
		return err
	}
	log("INFO", "Database restored from "+filename)

	receipts := filepath.Join(tmp, "receipts")
	if _, err := os.Stat(receipts); err == nil {
		if err := os.RemoveAll(s.uploadDir); err != nil {
			return fmt.Errorf("clear upload dir: %w", err)
		}
		if err := copyTree(receipts, s.uploadDir); err != nil {
			log("ERROR", err.Error())
			return err
		}
		log("INFO", "Receipts restored")
	}

	log("SUCCESS", "Restore complete: "+filename)
	slog.InfoContext(ctx, "Backup restored", "filename", filename)
	return nil
}

// loadDump wipes the live database schema and replays the dump through
// the sqlite3 CLI. The wipe uses the writable_schema trick so every
// table, index and trigger goes in one pass.
func (s *Service) loadDump(ctx context.Context, dumpPath string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cmdTimeout)
	defer cancel()

	dump, err := os.Open(dumpPath)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer dump.Close()

	preamble := strings.NewReader(
		"PRAGMA writable_schema = 1;\nDELETE FROM sqlite_master;\nPRAGMA writable_schema = 0;\nVACUUM;\n")

	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, "sqlite3", s.dbPath)
	cmd.Stdin = io.MultiReader(preamble, dump)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("sqlite3 restore failed: %s: %w", msg, err)
	}
	return nil
}

// extractArchive unpacks a tar.gz into dest, rejecting entries that
// would escape it.
func extractArchive(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read gzip: %w", err)
	}
	defer gz.Close()

	root := filepath.Clean(dest)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		target := filepath.Join(root, filepath.Clean("/"+hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create dir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("create dir for %s: %w", hdr.Name, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return fmt.Errorf("create %s: %w", hdr.Name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			out.Close()
		}
	}
	return nil
}

func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}

// SaveUploaded stores an uploaded archive under a fresh timestamped
// name and returns it.
func (s *Service) SaveUploaded(ctx context.Context, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	loc := s.settings.Timezone(ctx)
	filename := fmt.Sprintf("bot_backup_%s.tar.gz", time.Now().In(loc).Format("2006_01_02_15-04-05"))
	dest := filepath.Join(s.backupDir, filename)

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create upload target: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("store upload: %w", err)
	}
	return filename, nil
}
