// Package backup implements the end-user key-backup surface described by
// backup.rs: clients upload encrypted room-key material tagged with a
// self-chosen "version" string, and later fetch it back by key or by room.
// Unlike internal/admin's whole-database snapshots, this is per-user data
// living in its own storage.Map, read through the pool and written straight
// to the Map exactly like any other caller - key backups get no
// special-cased fast path.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ChuLiYu/relayd/internal/pool"
	"github.com/ChuLiYu/relayd/internal/storage"
)

// ErrVersionMismatch is returned when a write targets a version that is not
// the backup's current one, mirroring the original's check that key
// uploads are rejected once a newer version exists.
var ErrVersionMismatch = errors.New("backup: version is not current")

// Info is the metadata record returned for a backup version, analogous to
// get_latest_backup_info_route's response shape.
type Info struct {
	Version   string `json:"version"`
	Algorithm string `json:"algorithm"`
	Count     int    `json:"count"`
	ETag      string `json:"etag"`
}

// Store provides room-key backup storage for every user, backed by the pool
// and a dedicated storage.Map (keys namespaced by user id; values are the
// JSON-encoded Info or the raw session key material).
type Store struct {
	pool *pool.Pool
	kv   pool.Map
}

// New builds a Store over kv, which callers are expected to have opened as
// a dedicated bucket (e.g. "backup_keys") distinct from the main room/event
// storage.
func New(p *pool.Pool, kv pool.Map) *Store {
	return &Store{pool: p, kv: kv}
}

// infoKey is the fixed key under which a backup version's Info is stored,
// namespaced by userID so one Map can serve every user.
func infoKey(userID string) []byte {
	return []byte("backupinfo:" + userID)
}

func sessionKey(userID, version, sessionID string) []byte {
	return []byte("backupkey:" + userID + ":" + version + ":" + sessionID)
}

// CreateVersion starts a new backup version for userID, mirroring
// create_backup_version_route. It does not delete prior versions' keys;
// GetSessionKey still reads them by version, but PutSessionKey rejects
// writes to them once GetLatestInfo reports the new one.
func (s *Store) CreateVersion(ctx context.Context, userID, version, algorithm string) error {
	info := Info{Version: version, Algorithm: algorithm}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("backup: marshal info: %w", err)
	}
	m, ok := s.kv.(*storage.Map)
	if !ok {
		return fmt.Errorf("backup: store requires a writable storage.Map")
	}
	return m.PutBlocking(infoKey(userID), data)
}

// GetLatestInfo mirrors get_latest_backup_info_route.
func (s *Store) GetLatestInfo(ctx context.Context, userID string) (*Info, error) {
	h, err := s.pool.Execute(ctx, pool.NewGet(s.kv, infoKey(userID)))
	if err != nil {
		return nil, fmt.Errorf("backup: get info: %w", err)
	}
	defer h.Release()

	var info Info
	if err := json.Unmarshal(h.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("backup: decode info: %w", err)
	}
	return &info, nil
}

// PutSessionKey uploads one session's key material for the given version,
// mirroring add_backup_keys_for_session. Writes bypass the pool and go
// straight to the underlying Map, same as every other write in this
// codebase - only reads contend for worker goroutines.
func (s *Store) PutSessionKey(ctx context.Context, userID, version, sessionID string, keyData []byte) error {
	info, err := s.GetLatestInfo(ctx, userID)
	if err != nil {
		return err
	}
	if info.Version != version {
		return ErrVersionMismatch
	}
	m, ok := s.kv.(*storage.Map)
	if !ok {
		return fmt.Errorf("backup: store requires a writable storage.Map")
	}
	return m.PutBlocking(sessionKey(userID, version, sessionID), keyData)
}

// GetSessionKey mirrors get_backup_keys_for_session.
func (s *Store) GetSessionKey(ctx context.Context, userID, version, sessionID string) ([]byte, error) {
	h, err := s.pool.Execute(ctx, pool.NewGet(s.kv, sessionKey(userID, version, sessionID)))
	if err != nil {
		return nil, fmt.Errorf("backup: get session key: %w", err)
	}
	defer h.Release()

	out := make([]byte, len(h.Bytes()))
	copy(out, h.Bytes())
	return out, nil
}
