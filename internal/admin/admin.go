// Package admin implements the small set of operator commands the original
// homeserver exposes through its admin room: uptime, config dump, queue
// depth, and database maintenance; there is no cache-clearing command.
// Here they are plain Go methods rather
// than chat-room commands, callable from internal/cli or an admin HTTP
// surface; backup_database and list_database_files are the two that reach
// into internal/storage, same division of responsibility as
// server_commands.rs's clear_database_caches/backup_database/
// list_database_files.
package admin

import (
	"fmt"
	"strings"
	"time"

	"github.com/ChuLiYu/relayd/internal/config"
	"github.com/ChuLiYu/relayd/internal/pool"
	"github.com/ChuLiYu/relayd/internal/storage"
)

// Server answers admin commands for a running homeserver process. It holds
// no mutable state of its own beyond the collaborators it was built with.
type Server struct {
	cfg       *config.Config
	pool      *pool.Pool
	dbMap     *storage.Map
	startedAt time.Time
}

// New builds an admin Server. startedAt should be the moment the homeserver
// finished starting up, used by Uptime.
func New(cfg *config.Config, p *pool.Pool, dbMap *storage.Map, startedAt time.Time) *Server {
	return &Server{cfg: cfg, pool: p, dbMap: dbMap, startedAt: startedAt}
}

// Uptime mirrors server_commands.rs's uptime: days/hours/minutes/seconds
// since the server came up.
func (s *Server) Uptime() string {
	d := time.Since(s.startedAt)
	secs := int64(d.Seconds())
	return fmt.Sprintf("up %d days, %d hours, %d minutes, %d seconds",
		secs/86400, (secs%86400)/3600, (secs%3600)/60, secs%60)
}

// ShowConfig mirrors server_commands.rs's show_config: a human-readable
// dump of the running configuration.
func (s *Server) ShowConfig() string {
	return fmt.Sprintf(
		"pool: queue_size=%d worker_num=%d\nstorage: data_dir=%s\nbackup: dir=%s\nmetrics: enabled=%t addr=%s",
		s.cfg.Pool.QueueSize, s.cfg.Pool.WorkerNum,
		s.cfg.Storage.DataDir, s.cfg.Backup.Dir,
		s.cfg.Metrics.Enabled, s.cfg.Metrics.Addr,
	)
}

// QueueDepth reports the pool's current queue occupancy, the Go analog of
// memory_usage's database-side figures - there is no heap introspection
// equivalent worth exposing here, so this is the one live number the pool
// itself can offer an operator.
func (s *Server) QueueDepth() int {
	return s.pool.QueueLen()
}

// BackupDatabase mirrors server_commands.rs's backup_database: writes a
// fresh backup file and returns either the new file's name or the full
// list of backups if naming it failed partway through.
func (s *Server) BackupDatabase() (string, error) {
	name := fmt.Sprintf("backup-%d.db", time.Now().UnixNano())
	dst := s.cfg.Backup.Dir + "/" + name
	if err := s.dbMap.Backup(dst); err != nil {
		list, listErr := s.dbMap.BackupList(s.cfg.Backup.Dir)
		if listErr != nil {
			return "", fmt.Errorf("admin: backup failed and list failed: %w", err)
		}
		return strings.Join(list, "\n"), nil
	}
	return name, nil
}

// ListDatabaseFiles mirrors server_commands.rs's list_database_files.
func (s *Server) ListDatabaseFiles() (string, error) {
	files, err := s.dbMap.BackupList(s.cfg.Backup.Dir)
	if err != nil {
		return "", fmt.Errorf("admin: list database files: %w", err)
	}
	if len(files) == 0 {
		return "no backups found", nil
	}
	return strings.Join(files, "\n"), nil
}
