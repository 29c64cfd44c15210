package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m3rciful/sessiongen/core/buildinfo"
	coreconfig "github.com/m3rciful/sessiongen/core/config"
	"github.com/m3rciful/sessiongen/core/logger"
	coretelegram "github.com/m3rciful/sessiongen/core/telegram"
)

// TelegramApp is the minimal interface required to run a Telegram bot.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
	// Close releases resources once the bot has stopped.
	Close() error
}

// Options describe how to load configuration, bootstrap the app, and run the bot.
type Options struct {
	// ConfigEnvVar names the variable holding an optional YAML path; default CONFIG_PATH.
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (*coreconfig.Config, error)
	Bootstrap  func(ctx context.Context, cfg *coreconfig.Config) (TelegramApp, error)

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
}

func configPath(opts Options) string {
	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	if p := os.Getenv(env); p != "" {
		return p
	}
	return opts.DefaultConfigPath
}

// Run loads configuration, bootstraps the app and runs the bot until SIGINT or SIGTERM.
func Run(opts Options) error {
	if opts.Bootstrap == nil {
		return fmt.Errorf("cmd: Bootstrap is required")
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = coreconfig.Load
	}
	if opts.ShutdownLogger == nil {
		opts.ShutdownLogger = logger.Shutdown
	}
	if opts.RunTelegram == nil {
		opts.RunTelegram = coretelegram.RunTelegram
	}

	path := configPath(opts)
	cfg, err := opts.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("cmd: load config %q: %w", path, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	began := time.Now()
	app, err := opts.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap: %w", err)
	}
	// deferred in reverse: the app closes before the logger flushes
	defer func() {
		if lerr := opts.ShutdownLogger(); lerr != nil {
			log.Printf("logger shutdown: %v", lerr)
		}
	}()
	defer func() {
		if cerr := app.Close(); cerr != nil {
			logger.Warn(context.Background(), "app", "app.close", slog.Any("err", cerr))
		}
	}()

	runOpts, err := app.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options: %w", err)
	}
	runOpts.OnStart = chainStart(runOpts.OnStart, func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.Info(ctx, "app", "app.ready",
			slog.String("version", buildinfo.String()),
			slog.Bool("webhook", rt.Webhook),
			slog.Duration("startup", time.Since(began)),
		)
		return nil
	})
	innerStop := runOpts.OnStop
	runOpts.OnStop = func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.Info(ctx, "app", "app.shutdown")
		if innerStop == nil {
			return nil
		}
		return innerStop(ctx, rt)
	}
	return opts.RunTelegram(ctx, runOpts)
}

type hook = func(context.Context, coretelegram.Runtime) error

func chainStart(first, then hook) hook {
	if first == nil {
		return then
	}
	return func(ctx context.Context, rt coretelegram.Runtime) error {
		if err := first(ctx, rt); err != nil {
			return err
		}
		return then(ctx, rt)
	}
}
