// Package server provides a public API for embedding the interferogram job
// service in another application.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/robert-malhotra/s1-insar/internal/api"
	"github.com/robert-malhotra/s1-insar/internal/app"
	"github.com/robert-malhotra/s1-insar/internal/config"
	"github.com/robert-malhotra/s1-insar/internal/jobs"
)

// StoreType selects where job records are kept.
type StoreType string

const (
	// StoreMemory keeps jobs in memory; history is lost on restart.
	StoreMemory StoreType = "memory"
	// StoreSQLite keeps jobs in a SQLite database.
	StoreSQLite StoreType = "sqlite"
)

const pruneInterval = 5 * time.Minute

// Options configures the embedded job service. Zero values take the
// environment configuration.
type Options struct {
	// WorkRoot holds one working directory per job.
	WorkRoot string

	// Store selects the job store.
	Store StoreType

	// DBPath is the SQLite database path when Store is StoreSQLite.
	DBPath string

	// QueueSize bounds the number of pending jobs.
	QueueSize int

	// Retention is how long finished jobs are kept.
	Retention time.Duration

	// Logger is the slog logger to use.
	// Default: built from LOG_LEVEL and LOG_FORMAT
	Logger *slog.Logger
}

// Server is an interferogram job service that can be embedded in another
// application. It owns a job store and a single worker.
type Server struct {
	router chi.Router
	store  jobs.Store
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the service and starts its worker.
func New(opts Options) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.WorkRoot != "" {
		cfg.Jobs.WorkRoot = opts.WorkRoot
	}
	if opts.Store != "" {
		cfg.Jobs.Store = string(opts.Store)
	}
	if opts.DBPath != "" {
		cfg.Jobs.DBPath = opts.DBPath
	}
	if opts.QueueSize > 0 {
		cfg.Jobs.QueueSize = opts.QueueSize
	}
	if opts.Retention > 0 {
		cfg.Jobs.Retention = opts.Retention
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = app.NewLogger(cfg.Logging, os.Stdout)
	}

	return NewFromConfig(cfg, opts.Logger)
}

// NewFromConfig creates the service from a loaded configuration.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	workRoot, err := filepath.Abs(cfg.Jobs.WorkRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work root: %w", err)
	}
	if err := os.MkdirAll(workRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work root: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	store, err := openStore(ctx, cfg.Jobs)
	if err != nil {
		cancel()
		return nil, err
	}

	p, err := app.NewPipeline(cfg, logger)
	if err != nil {
		cancel()
		store.Close()
		return nil, err
	}

	queue := jobs.NewQueue(store, p, workRoot, cfg.Jobs.QueueSize).WithLogger(logger)
	stale, err := queue.Recover(ctx)
	if err != nil {
		cancel()
		store.Close()
		return nil, err
	}
	if stale > 0 {
		logger.Warn("failed jobs left unfinished by a previous run", "count", stale)
	}

	handlers := api.NewHandlers(queue, store, cfg.Processor.Version, logger)

	s := &Server{
		router: api.NewRouter(handlers, logger, cfg.Server.CORSOrigins),
		store:  store,
		cancel: cancel,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		queue.Run(ctx)
	}()

	if sqlite, ok := store.(*jobs.SQLiteStore); ok {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			pruneLoop(ctx, sqlite, cfg.Jobs.Retention, logger)
		}()
	}

	logger.Info("job service ready", "work_root", workRoot, "store", cfg.Jobs.Store, "queue_size", cfg.Jobs.QueueSize)
	return s, nil
}

// Router returns the chi.Router for mounting in another application.
func (s *Server) Router() chi.Router {
	return s.router
}

// Close stops the worker and the pruner, failing every unfinished job, and
// closes the store.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	return s.store.Close()
}

// openStore opens the configured job store. The memory store prunes itself;
// the sqlite store is pruned by pruneLoop.
func openStore(ctx context.Context, cfg config.JobsConfig) (jobs.Store, error) {
	switch StoreType(cfg.Store) {
	case StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		store, err := jobs.OpenSQLiteStore(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return jobs.NewMemoryStore(cfg.Retention, pruneInterval), nil
	}
}

func pruneLoop(ctx context.Context, store *jobs.SQLiteStore, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.Prune(ctx, now.Add(-retention))
			if err != nil {
				logger.Warn("failed to prune jobs", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("pruned jobs", "count", n)
			}
		}
	}
}
