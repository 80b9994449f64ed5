// Package homeserver wires internal/pool, internal/storage, internal/admin,
// internal/backup, internal/federation and internal/metrics into one
// running process: one struct owning every collaborator's lifetime, a Run
// that brings everything up and blocks, and a Close that tears it all down
// without leaking a goroutine.
package homeserver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/relayd/internal/admin"
	"github.com/ChuLiYu/relayd/internal/backup"
	"github.com/ChuLiYu/relayd/internal/config"
	"github.com/ChuLiYu/relayd/internal/federation"
	"github.com/ChuLiYu/relayd/internal/metrics"
	"github.com/ChuLiYu/relayd/internal/pool"
	"github.com/ChuLiYu/relayd/internal/storage"
	"github.com/ChuLiYu/relayd/internal/telemetry"
)

// Server is a fully wired relayd process.
type Server struct {
	cfg *config.Config

	pool         *pool.Pool
	main         *storage.Map
	backups      *storage.Map
	federationKV *storage.Map

	Admin      *admin.Server
	Backup     *backup.Store
	Federation *federation.Manager
	Telemetry  *telemetry.Tracker
	Metrics    *metrics.Collector

	startedAt time.Time
}

// New opens every storage.Map the server needs and constructs the pool and
// its dependent collaborators. Apart from the pool's own workers it starts
// no background goroutines - the metrics server is Run's job.
func New(cfg *config.Config) (*Server, error) {
	mainMap, err := storage.Open(filepath.Join(cfg.Storage.DataDir, "main.db"), "default")
	if err != nil {
		return nil, fmt.Errorf("homeserver: open main storage: %w", err)
	}

	backupMap, err := storage.Open(filepath.Join(cfg.Storage.DataDir, "backups.db"), "backup_keys")
	if err != nil {
		mainMap.Close()
		return nil, fmt.Errorf("homeserver: open backup storage: %w", err)
	}

	fedMap, err := storage.Open(filepath.Join(cfg.Storage.DataDir, "federation.db"), "federation")
	if err != nil {
		mainMap.Close()
		backupMap.Close()
		return nil, fmt.Errorf("homeserver: open federation storage: %w", err)
	}

	tracker := telemetry.NewTracker()

	s := &Server{cfg: cfg, main: mainMap, backups: backupMap, federationKV: fedMap, Telemetry: tracker}

	queueDepthFn := func() int {
		if s.pool == nil {
			return 0
		}
		return s.pool.QueueLen()
	}
	collector := metrics.NewCollector(queueDepthFn)
	s.Metrics = collector

	s.pool = pool.New(cfg.Pool.QueueSize, cfg.Pool.WorkerNum,
		pool.WithMetrics(collector),
		pool.WithObserver(tracker),
	)

	s.startedAt = time.Now()
	s.Admin = admin.New(cfg, s.pool, mainMap, s.startedAt)
	s.Backup = backup.New(s.pool, backupMap)
	s.Federation = federation.New(s.pool, fedMap, nil)

	return s, nil
}

// Run starts the metrics HTTP server (if enabled) and blocks until ctx is
// cancelled, then shuts everything down in reverse order. It mirrors
// Controller.Start/Stop collapsed into one call, using errgroup the way
// the rest of the example pack uses it to supervise sibling goroutines and
// propagate the first failure.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.cfg.Metrics.Enabled {
		g.Go(func() error {
			if err := metrics.Serve(gctx, s.cfg.Metrics.Addr, s.Metrics); err != nil {
				return fmt.Errorf("homeserver: metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	slog.Info("homeserver started", "name", s.cfg.Server.Name, "addr", s.cfg.Metrics.Addr)
	err := g.Wait()

	s.Close()
	return err
}

// Close releases every storage handle and shuts the pool down. Pool.Close
// panics on a worker's own propagated panic, which a caller tearing the
// whole process down would want to see. Calling Close after Run has
// already torn things down is a caller error, same as Pool.Close's own
// double-close contract.
func (s *Server) Close() {
	s.pool.Close()
	_ = s.main.Close()
	_ = s.backups.Close()
	_ = s.federationKV.Close()
}
