// Package main provides the worker HTTP service entry point for promptshelf.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/thebtf/promptshelf/internal/config"
	"github.com/thebtf/promptshelf/internal/db/file"
	gormdb "github.com/thebtf/promptshelf/internal/db/gorm"
	"github.com/thebtf/promptshelf/internal/db/redis"
	"github.com/thebtf/promptshelf/internal/kv"
	"github.com/thebtf/promptshelf/internal/remote"
	"github.com/thebtf/promptshelf/internal/rewrite"
	"github.com/thebtf/promptshelf/internal/secret"
	"github.com/thebtf/promptshelf/internal/store"
	"github.com/thebtf/promptshelf/internal/tokens"
	"github.com/thebtf/promptshelf/internal/watcher"
	"github.com/thebtf/promptshelf/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	backendFlag := flag.String("backend", "", "Storage backend: memory, file, sqlite, postgres, redis (default from config)")
	port := flag.Int("port", 0, "Listen port (default from config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *backendFlag != "" {
		cfg.Backend = *backendFlag
	}
	if *port > 0 {
		cfg.WorkerPort = *port
	}

	setLogLevel(cfg.LogLevel, *debug)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Worker stopped with error")
	}
	log.Info().Msg("Worker stopped")
}

func setLogLevel(name string, debug bool) {
	level, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	limits := kv.Limits{QuotaBytes: cfg.QuotaBytes, ItemMaxBytes: cfg.ItemMaxBytes}

	g, gctx := errgroup.WithContext(ctx)

	backend, onDeleted, err := openBackend(gctx, g, cfg, limits)
	if err != nil {
		return err
	}
	if c, ok := backend.(kv.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close backend")
			}
		}()
	}

	st, err := store.New(backend, store.Config{
		ChunkThreshold: cfg.ChunkThreshold,
		ItemMaxBytes:   cfg.ItemMaxBytes,
		StrictChunks:   cfg.StrictChunks,
	})
	if err != nil {
		return err
	}
	if onDeleted != nil {
		onDeleted(func() {
			if err := st.Initialize(gctx); err != nil {
				log.Error().Err(err).Msg("Failed to re-initialize storage")
			}
		})
	}

	settingsOpts := []store.SettingsOption{store.WithKeyValidator(remote.IsValidAPIKey)}
	if sealer, err := openSealer(cfg.KeyPath); err != nil {
		log.Warn().Err(err).Msg("API key sealing unavailable, keys are stored in clear")
	} else {
		settingsOpts = append(settingsOpts, store.WithSealer(sealer))
	}
	settings := store.NewSettingsStore(backend, settingsOpts...)

	optimizer := rewrite.New(settings, rewrite.GeminiFactory(remote.Config{
		Model:   cfg.Model,
		BaseURL: cfg.RemoteBaseURL,
		Timeout: time.Duration(cfg.RemoteTimeoutSec) * time.Second,
	}), tokens.Default())

	svc := worker.NewService(worker.Deps{
		Version:   Version,
		Config:    cfg,
		Store:     st,
		Settings:  settings,
		Optimizer: optimizer,
	})

	g.Go(svc.Start)

	if err := st.Initialize(gctx); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	svc.SetReady(true)
	log.Info().Str("backend", cfg.Backend).Msg("Storage ready")

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openSealer(keyPath string) (*secret.Sealer, error) {
	master, err := secret.LoadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return secret.New(master)
}

// openBackend opens the configured backend. The returned hook, when non-nil,
// registers a callback for the backing store disappearing underneath us.
func openBackend(ctx context.Context, g *errgroup.Group, cfg *config.Config, limits kv.Limits) (kv.Backend, func(func()), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return kv.NewMemory(limits), nil, nil

	case config.BackendFile:
		b, err := file.Open(cfg.FilePath, limits)
		if err != nil {
			return nil, nil, fmt.Errorf("open storage file: %w", err)
		}
		return b, watchFile(ctx, b), nil

	case config.BackendSQLite, config.BackendPostgres:
		driver := gormdb.DriverSQLite
		if cfg.Backend == config.BackendPostgres {
			driver = gormdb.DriverPostgres
		}
		db, err := gormdb.NewStore(gormdb.Config{
			Driver:   driver,
			Path:     cfg.SQLitePath,
			DSN:      cfg.PostgresDSN,
			MaxConns: cfg.MaxConns,
			LogLevel: logger.Silent,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		return closingKV{KVBackend: gormdb.NewKVBackend(db, limits), db: db}, nil, nil

	case config.BackendRedis:
		b, err := redis.New(ctx, redis.Config{
			Addr:   cfg.RedisAddr,
			Prefix: cfg.RedisPrefix,
		}, limits)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		g.Go(func() error {
			if err := b.Subscribe(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Redis change subscription ended")
			}
			return nil
		})
		return b, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// closingKV ties the database connection lifetime to the backend.
type closingKV struct {
	*gormdb.KVBackend
	db *gormdb.Store
}

func (c closingKV) Close() error {
	return c.db.Close()
}

// watchFile reloads the storage file on external edits. The returned hook
// registers what to run after the file is deleted and the store emptied.
func watchFile(ctx context.Context, b *file.Backend) func(func()) {
	return func(onDeleted func()) {
		w, err := watcher.New(b.Path(), func(op watcher.Op) {
			if err := b.Reload(); err != nil {
				log.Warn().Err(err).Str("op", op.String()).Msg("Failed to reload storage file")
				return
			}
			log.Info().Str("path", b.Path()).Str("op", op.String()).Msg("Storage file changed on disk")
			if op == watcher.Deleted {
				onDeleted()
			}
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create storage file watcher")
			return
		}
		if err := w.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start storage file watcher")
			return
		}
		go func() {
			<-ctx.Done()
			_ = w.Stop()
		}()
		log.Info().Str("path", b.Path()).Msg("Storage file watcher started")
	}
}
