package backup

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ChuLiYu/relayd/internal/pool"
	"github.com/ChuLiYu/relayd/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	m, err := storage.Open(filepath.Join(dir, "backup.db"), "backups")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	p := pool.New(4, 2)
	t.Cleanup(p.Close)

	return New(p, m)
}

func TestCreateVersionAndFetchInfo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateVersion(ctx, "alice", "v1", "m.megolm_backup.v1"))

	info, err := s.GetLatestInfo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "v1", info.Version)
	assert.Equal(t, "m.megolm_backup.v1", info.Algorithm)
}

func TestPutAndGetSessionKeyRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateVersion(ctx, "alice", "v1", "m.megolm_backup.v1"))
	require.NoError(t, s.PutSessionKey(ctx, "alice", "v1", "session-1", []byte("ciphertext")))

	data, err := s.GetSessionKey(ctx, "alice", "v1", "session-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), data)
}

func TestPutSessionKeyRejectsStaleVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateVersion(ctx, "alice", "v1", "m.megolm_backup.v1"))
	require.NoError(t, s.CreateVersion(ctx, "alice", "v2", "m.megolm_backup.v1"))

	err := s.PutSessionKey(ctx, "alice", "v1", "session-1", []byte("ciphertext"))
	assert.ErrorIs(t, err, ErrVersionMismatch)
}
