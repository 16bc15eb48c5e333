package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/cache"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/config"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/connectivity"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/progress"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/remote"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/syncengine"
)

// session wires one user's cache, remote, connectivity monitor, sync engine
// and repository together.
type session struct {
	cfg     *config.Config
	logOut  io.Writer
	logger  *log.Logger
	cache   *cache.Cache
	store   remote.Store
	monitor *connectivity.Monitor
	prober  *connectivity.Prober
	engine  *syncengine.Engine
	repo    *progress.Repository
}

// openSession opens everything and starts the engine. Connectivity is probed
// once before the engine starts so queued writes drain right away when the
// remote is reachable.
//
// A remote that cannot be opened is not fatal: the session runs without one
// and every write stays queued.
func openSession(ctx context.Context, cfg *config.Config, logOut io.Writer) (*session, error) {
	s := &session{
		cfg:    cfg,
		logOut: logOut,
		logger: config.NewLogger(logOut, "cutburn"),
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	c, err := cache.Open(cfg.CachePath(), config.NewLogger(logOut, "cache"))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	s.cache = c

	openCtx, cancel := context.WithTimeout(ctx, cfg.Sync.AttemptTimeout)
	store, err := remote.Open(openCtx, cfg.Remote.Driver, cfg.Remote.DSN, remote.Options{
		MaxConns:        cfg.Remote.MaxConns,
		ApplicationName: "cutburn",
	})
	cancel()
	if err != nil {
		s.logger.Printf("WARNING: remote unavailable, writes will stay queued: %v", err)
		store = nil
	}
	s.store = store

	s.monitor = connectivity.New(false, config.NewLogger(logOut, "connectivity"))
	if store != nil {
		s.prober = &connectivity.Prober{
			Monitor:  s.monitor,
			Check:    store.Ping,
			Interval: cfg.Connectivity.ProbeInterval,
			Timeout:  cfg.Connectivity.ProbeTimeout,
		}
		s.prober.ProbeOnce(ctx)
	}

	engine, err := syncengine.NewWithConfig(cfg.UserID, c, store, s.monitor, &syncengine.Config{
		BackoffBase:    cfg.Sync.BackoffBase,
		BackoffMax:     cfg.Sync.BackoffMax,
		AttemptTimeout: cfg.Sync.AttemptTimeout,
		Logger:         config.NewLogger(logOut, "sync"),
	})
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to create sync engine: %w", err)
	}
	if err := engine.Start(ctx); err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to start sync engine: %w", err)
	}
	s.engine = engine

	repo, err := progress.New(cfg.UserID, c, engine, config.NewLogger(logOut, "progress"))
	if err != nil {
		_ = engine.Stop()
		s.closeStores()
		return nil, err
	}
	s.repo = repo

	return s, nil
}

// mustOpenSession loads configuration and opens a session for a one-shot
// command, exiting on failure. Sync logs are discarded unless --verbose or
// log.file is set.
func mustOpenSession(ctx context.Context) *session {
	cfg, _ := loadConfig()

	var logOut io.Writer = io.Discard
	if verbose || cfg.Log.File != "" {
		logOut = cfg.Log.Writer()
	}

	s, err := openSession(ctx, cfg, logOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return s
}

// settle waits until every submitted write has been attempted or queued and
// returns the resulting engine status.
func (s *session) settle() syncengine.Status {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Sync.AttemptTimeout+time.Second)
	defer cancel()
	if err := s.engine.Sync(ctx); err != nil {
		s.logger.Printf("WARNING: sync before exit failed: %v", err)
	}
	return s.engine.Status()
}

// Close settles submitted writes, then shuts everything down.
func (s *session) Close() {
	if s.engine != nil {
		s.settle()
	}
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			s.logger.Printf("WARNING: failed to stop sync engine: %v", err)
		}
	}
	s.closeStores()
	if closer, ok := s.logOut.(io.Closer); ok && s.logOut != os.Stderr {
		_ = closer.Close()
	}
}

func (s *session) closeStores() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Printf("WARNING: failed to close remote: %v", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Printf("WARNING: failed to close cache: %v", err)
		}
	}
}

// fail closes the session and exits with an error message.
func (s *session) fail(format string, args ...any) {
	s.Close()
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
