package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cachem/cachem/internal/sample"
	"github.com/cachem/cachem/internal/server"
	"github.com/cachem/cachem/pkg/config"
	"github.com/cachem/cachem/pkg/logging"
	"github.com/cachem/cachem/pkg/persist"
	"github.com/cachem/cachem/pkg/router"
)

// snapshotTimeout bounds the final snapshot on shutdown.
const snapshotTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "cachem-server: %v\n", err)
		os.Exit(1)
	}
}

// run starts the server and blocks until ctx is cancelled. Snapshots are
// restored before the listener opens and saved after a clean shutdown. A
// server that failed to serve leaves the existing snapshots alone.
func run(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("cachem-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg, err := config.LoadServerConfig(fs, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}

	caches := sample.NewCaches()

	mgr, closeSink, err := newManager(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()
	if mgr != nil {
		for _, t := range caches.Targets() {
			if err := mgr.Register(t); err != nil {
				return err
			}
		}
		if err := mgr.RestoreAll(ctx); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	opts := []router.Option{router.WithLogger(logger), router.WithMaxSequenceLen(cfg.MaxSequenceLen)}
	if mgr != nil {
		opts = append(opts, router.WithSaveFunc(mgr.SnapshotAll))
	}
	b := router.NewBuilder(opts...)
	caches.Register(b)
	rt, err := b.Build()
	if err != nil {
		return err
	}

	logger.Info("starting cachem server",
		"addr", cfg.Address(),
		"snapshot", cfg.SnapshotBackend,
		"max_conns", cfg.MaxConns,
	)
	srv := server.New(cfg, rt, logger)
	serveErr := srv.Start(ctx)
	if err := srv.Stop(); err != nil && serveErr == nil {
		logger.Debug("error closing listener", "error", err)
	}
	logger.Info("server stopped")
	if serveErr != nil {
		return serveErr
	}

	if mgr != nil {
		snapCtx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		if err := mgr.SnapshotAll(snapCtx); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}
	return nil
}

// newManager builds the persistence manager for the configured backend. It
// returns a nil manager when snapshots are disabled.
func newManager(cfg *config.ServerConfig, logger *slog.Logger) (*persist.Manager, func(), error) {
	switch cfg.SnapshotBackend {
	case config.BackendFile:
		return persist.NewManager(persist.NewFileSink(cfg.DataDir), logger), func() {}, nil
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closeFn := func() {
			if err := rdb.Close(); err != nil {
				logger.Debug("error closing redis client", "error", err)
			}
		}
		return persist.NewManager(persist.NewRedisSink(rdb, cfg.RedisPrefix), logger), closeFn, nil
	case config.BackendNone:
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown snapshot backend %q", cfg.SnapshotBackend)
	}
}
