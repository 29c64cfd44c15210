package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	coreconfig "github.com/m3rciful/sessiongen/core/config"
	"github.com/m3rciful/sessiongen/core/logger"
	"github.com/m3rciful/sessiongen/internal/lock"
	"github.com/m3rciful/sessiongen/internal/metrics"
	"github.com/m3rciful/sessiongen/internal/session"
)

// Options control the generic bootstrap pipeline.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	// Registerer receives the metrics collectors; nil means the default registry.
	Registerer prometheus.Registerer
	OpenStore  func(dir, suffix string) (*session.Store, error)
	// ConnectLocker returns the artifact claim backend and its closer.
	ConnectLocker func(ctx context.Context, cfg coreconfig.RedisConfig) (lock.Locker, func() error, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Store  *session.Store
	Locker lock.Locker
	// Close releases what the pipeline opened.
	Close func() error
}

// Run initializes the logger and metrics, opens the session store and picks the claim backend.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	metrics.MustRegister(opts.Registerer)

	openStore := opts.OpenStore
	if openStore == nil {
		openStore = session.NewStore
	}
	store, err := openStore(cfg.Session.Dir, cfg.Session.Suffix)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: session store: %w", err)
	}

	connect := opts.ConnectLocker
	if connect == nil {
		connect = ConnectLocker
	}
	locker, closeLocker, err := connect(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: artifact locker: %w", err)
	}

	logger.L.With("component", "app").Info("bootstrap complete",
		slog.String("event", "bootstrap"),
		slog.String("session_dir", store.Dir()),
		slog.Bool("redis", cfg.Redis.URL != ""),
	)

	return &Result{Store: store, Locker: locker, Close: closeLocker}, nil
}

// ConnectLocker uses Redis when a URL is configured and an in-process locker otherwise.
func ConnectLocker(ctx context.Context, cfg coreconfig.RedisConfig) (lock.Locker, func() error, error) {
	if cfg.URL == "" {
		return lock.NewMemory(), func() error { return nil }, nil
	}
	r, err := lock.NewRedis(ctx, cfg.URL, cfg.Password, cfg.DB, cfg.LockTTL)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}
