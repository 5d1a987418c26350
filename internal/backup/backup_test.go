package backup

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/phoen-ix/bank-of-tina/internal/services"
	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tina.db")
	store, err := storage.NewSQLiteRepository(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	settings := services.NewSettings(store)
	return NewService(store, settings, dbPath,
		filepath.Join(dir, "backups"), filepath.Join(dir, "uploads"), time.Minute)
}

func touchBackup(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
}

func TestFilenamePattern(t *testing.T) {
	valid := []string{
		"bot_backup_2026_03_10_03-00-00.tar.gz",
		"bot_backup_2026_03_10.tar.gz",
	}
	invalid := []string{
		"bot_backup_../etc/passwd.tar.gz",
		"bot_backup_2026.tar.gz.sh",
		"other_backup_2026_03_10.tar.gz",
		"bot_backup_.tar.gz.tar.gz",
	}
	for _, name := range valid {
		require.True(t, FilenameRE.MatchString(name), name)
	}
	for _, name := range invalid {
		require.False(t, FilenameRE.MatchString(name), name)
	}
}

func TestListNewestFirstAndIgnoresStrays(t *testing.T) {
	svc := newTestService(t)
	touchBackup(t, svc.Dir(), "bot_backup_2026_03_08_03-00-00.tar.gz")
	touchBackup(t, svc.Dir(), "bot_backup_2026_03_10_03-00-00.tar.gz")
	touchBackup(t, svc.Dir(), "bot_backup_2026_03_09_03-00-00.tar.gz")
	touchBackup(t, svc.Dir(), "notes.txt")

	backups, err := svc.List()
	require.NoError(t, err)
	require.Len(t, backups, 3)
	require.Equal(t, "bot_backup_2026_03_10_03-00-00.tar.gz", backups[0].Filename)
	require.Equal(t, "bot_backup_2026_03_08_03-00-00.tar.gz", backups[2].Filename)
}

func TestListEmptyWhenDirMissing(t *testing.T) {
	svc := newTestService(t)
	backups, err := svc.List()
	require.NoError(t, err)
	require.Empty(t, backups)
}

func TestPruneKeepsNewest(t *testing.T) {
	svc := newTestService(t)
	for _, day := range []string{"05", "06", "07", "08", "09"} {
		touchBackup(t, svc.Dir(), "bot_backup_2026_03_"+day+"_03-00-00.tar.gz")
	}

	pruned, err := svc.Prune(2)
	require.NoError(t, err)
	require.Equal(t, 3, pruned)

	backups, err := svc.List()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	require.Equal(t, "bot_backup_2026_03_09_03-00-00.tar.gz", backups[0].Filename)
	require.Equal(t, "bot_backup_2026_03_08_03-00-00.tar.gz", backups[1].Filename)
}

func TestPruneZeroKeepsEverything(t *testing.T) {
	svc := newTestService(t)
	touchBackup(t, svc.Dir(), "bot_backup_2026_03_09_03-00-00.tar.gz")

	pruned, err := svc.Prune(0)
	require.NoError(t, err)
	require.Zero(t, pruned)
}

func TestDeleteRejectsInvalidName(t *testing.T) {
	svc := newTestService(t)
	require.Error(t, svc.Delete("../../etc/passwd"))
	require.Error(t, svc.Delete("bot_backup_x.tar.gz"))
}

func TestRestoreRejectsInvalidName(t *testing.T) {
	svc := newTestService(t)
	require.Error(t, svc.Restore(context.Background(), "../../etc/passwd"))
}

func writeArchiveWith(t *testing.T, dest string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(dest)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, body := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func TestExtractArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.tar.gz")
	writeArchiveWith(t, src, map[string]string{
		"dump.sql":               "CREATE TABLE t (id INTEGER);",
		"receipts/2026/03/r.png": "png-bytes",
		".env":                   "PORT=8080\n",
	})

	out := filepath.Join(dir, "out")
	require.NoError(t, extractArchive(src, out))

	data, err := os.ReadFile(filepath.Join(out, "dump.sql"))
	require.NoError(t, err)
	require.Equal(t, "CREATE TABLE t (id INTEGER);", string(data))
	_, err = os.Stat(filepath.Join(out, "receipts", "2026", "03", "r.png"))
	require.NoError(t, err)
}

func TestExtractArchiveRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "evil.tar.gz")
	writeArchiveWith(t, src, map[string]string{
		"../outside.txt": "nope",
	})

	out := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(out, 0755))
	// Clean strips the traversal so the file lands inside dest, never
	// above it.
	require.NoError(t, extractArchive(src, out))
	_, err := os.Stat(filepath.Join(dir, "outside.txt"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(out, "outside.txt"))
	require.NoError(t, err)
}
