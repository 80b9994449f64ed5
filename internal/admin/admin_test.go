package admin

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/relayd/internal/config"
	"github.com/ChuLiYu/relayd/internal/pool"
	"github.com/ChuLiYu/relayd/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	m, err := storage.Open(filepath.Join(dir, "test.db"), "default")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	cfg := config.Default()
	cfg.Backup.Dir = filepath.Join(dir, "backups")

	p := pool.New(4, 1)
	t.Cleanup(p.Close)

	return New(cfg, p, m, time.Now().Add(-90*time.Second))
}

func TestUptimeReportsElapsedTime(t *testing.T) {
	s := newTestServer(t)
	assert.Contains(t, s.Uptime(), "minutes")
}

func TestShowConfigIncludesPoolSettings(t *testing.T) {
	s := newTestServer(t)
	out := s.ShowConfig()
	assert.Contains(t, out, "queue_size=4")
	assert.Contains(t, out, "worker_num=1")
}

func TestBackupDatabaseWritesFile(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.MkdirAll(s.cfg.Backup.Dir, 0o755))

	name, err := s.BackupDatabase()
	require.NoError(t, err)
	assert.Contains(t, name, "backup-")

	files, err := s.ListDatabaseFiles()
	require.NoError(t, err)
	assert.Contains(t, files, "backup-")
}
