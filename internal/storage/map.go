// ============================================================================
// Embedded Storage Engine - bbolt-backed Key/Value Map
// ============================================================================
//
// Package: internal/storage
// File: map.go
// Function: Wraps a single bbolt bucket behind the narrow, opaque blocking
//   interface internal/pool depends on.
//
// Responsibilities:
//   1. Open/create the on-disk bbolt file and named bucket
//   2. GetBlocking: synchronous point lookup returning a pinned, zero-copy
//      Handle (see handle.go)
//   3. PutBlocking: synchronous write, bypassing the pool entirely
//   4. Backup/BackupList: hot-backup support for internal/admin and
//      internal/backup
//
// Concurrency:
//   bbolt serializes writers internally and allows unlimited concurrent
//   readers; GetBlocking may still stall for milliseconds under page-split
//   or compaction pressure, which is exactly what internal/pool exists to
//   keep off of cooperatively scheduled goroutines.

// Package storage wraps an embedded, blocking key/value engine behind the
// narrow interface the database pool needs: a synchronous point lookup that
// returns a pinned, zero-copy Handle, plus the backup/list operations an
// admin surface needs. Everything else about the engine is treated as an
// opaque blocking interface by callers.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when a key has no value in the Map.
var ErrNotFound = errors.New("storage: key not found")

// Map is one logical column of the engine: a single bbolt bucket inside a
// shared database file. The engine itself may be blocking for milliseconds
// at a time under compaction/page-split pressure; callers must never invoke
// GetBlocking from a cooperatively scheduled goroutine pool directly - that
// is exactly what internal/pool exists to isolate.
type Map struct {
	db     *bbolt.DB
	bucket []byte
	name   string
}

// Open opens (creating if necessary) the bbolt file at path and returns a
// Map bound to the named bucket within it.
func Open(path, bucket string) (*Map, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	m := &Map{db: db, bucket: []byte(bucket), name: bucket}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(m.bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: create bucket %s: %w", bucket, err)
	}

	return m, nil
}

// String names the Map for logging, matching the %cmd.map field the
// teacher traces around database operations.
func (m *Map) String() string { return m.name }

// GetBlocking performs a synchronous point lookup. It blocks the calling
// goroutine for the duration of opening a read transaction and walking the
// B+tree to the leaf page holding key - this blocking call must never run
// directly on a cooperatively scheduled worker.
func (m *Map) GetBlocking(key []byte) (*Handle, error) {
	tx, err := m.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("storage: begin read tx: %w", err)
	}

	b := tx.Bucket(m.bucket)
	if b == nil {
		_ = tx.Rollback()
		return nil, ErrNotFound
	}

	v := b.Get(key)
	if v == nil {
		_ = tx.Rollback()
		return nil, ErrNotFound
	}

	return newHandle(tx, v), nil
}

// PutBlocking writes a key synchronously on the caller's own goroutine. The
// pool's Cmd enumeration has no write variant: writes are short
// read-modify-nothing commits and run directly on whichever goroutine
// calls them.
func (m *Map) PutBlocking(key, value []byte) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(m.bucket)
		if b == nil {
			return fmt.Errorf("storage: bucket %s missing", m.name)
		}
		return b.Put(key, value)
	})
}

// BackupList reports the backup snapshots taken of this Map's database
// file, for internal/admin's list-database-files command.
func (m *Map) BackupList(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list backups: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Backup writes a consistent point-in-time copy of the database file to
// dstPath using bbolt's online hot-backup transaction.
func (m *Map) Backup(dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("storage: create backup dir: %w", err)
	}

	return m.db.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(dstPath)
		if err != nil {
			return fmt.Errorf("storage: create backup file: %w", err)
		}
		defer f.Close()

		if _, err := tx.WriteTo(f); err != nil {
			return fmt.Errorf("storage: write backup: %w", err)
		}
		return nil
	})
}

// Close closes the underlying engine. bbolt blocks inside Close until every
// outstanding read/write transaction - i.e. every live Handle - has ended,
// so the engine is never torn down while a Handle still pins it open.
func (m *Map) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", m.name, err)
	}
	return nil
}
