package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	coreconfig "github.com/m3rciful/sessiongen/core/config"
	"github.com/m3rciful/sessiongen/core/logger"
	tghelpers "github.com/m3rciful/sessiongen/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route declares a single bot handler bound to an arbitrary endpoint.
// Endpoint values are passed directly to tele.Bot.Handle.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls the behaviour of RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry
	// Bot is built from Config when nil.
	Bot *tele.Bot

	Middlewares []Middleware
	Routes      []Route

	// Serve runs the HTTP surface until ctx is done. It is required in webhook
	// mode, where it must feed updates to Runtime.Bot.ProcessUpdate.
	Serve func(ctx context.Context, rt Runtime) error

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Bot      *tele.Bot
	Registry *Registry
	Webhook  bool
}

// AllowedUpdates lists the update kinds the bot subscribes to.
var AllowedUpdates = []string{coreconfig.UpdateMessage}

// NewBot builds a bot for cfg. Handlers run on the calling goroutine so a
// webhook response is only written once the update has been handled.
func NewBot(cfg *coreconfig.Config) (*tele.Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram: nil config provided")
	}
	settings := tele.Settings{
		Token: cfg.Telegram.Token,
		Poller: BuildPoller(PollerOptions{
			LongPollTimeoutSeconds: cfg.Telegram.LongPollTimeoutSeconds,
			AllowedUpdates:         AllowedUpdates,
		}),
		Synchronous: true,
		Client:      BuildHTTPClient(HTTPClientOptions{Retries: 2}),
		OnError:     logHandlerError,
	}
	bot, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	return bot, nil
}

func logHandlerError(err error, c tele.Context) {
	ctx := context.Background()
	if c != nil {
		ctx = tghelpers.BuildContext(c)
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelError, "handler.error", slog.Any("err", err))
}

// RunTelegram wires the bot, registers the update source for the configured
// run mode and blocks until ctx is done or the update source fails.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}
	rt := Runtime{Bot: opts.Bot, Registry: opts.Registry, Webhook: isWebhookMode(opts.Config.Telegram.RunMode)}
	if rt.Registry == nil {
		rt.Registry = NewRegistry()
	}
	if rt.Webhook && opts.Serve == nil {
		return fmt.Errorf("telegram: webhook mode needs an HTTP server")
	}
	if rt.Bot == nil {
		b, err := NewBot(opts.Config)
		if err != nil {
			return err
		}
		rt.Bot = b
	}

	wire(rt, opts)
	if err := registerSource(ctx, rt, opts.Config); err != nil {
		return err
	}
	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	runErr := serve(ctx, rt, opts.Serve)

	if opts.OnStop != nil {
		if err := opts.OnStop(context.WithoutCancel(ctx), rt); err != nil {
			return err
		}
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func wire(rt Runtime, opts RunOptions) {
	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			rt.Bot.Use(mw.Use)
		}
	}
	for _, r := range opts.Routes {
		if r.Endpoint != nil && r.Handler != nil {
			rt.Bot.Handle(r.Endpoint, r.Handler)
		}
	}
	InitBotCommands(rt.Bot, rt.Registry)
	logger.LogEvent(context.Background(), logger.TWire, slog.LevelInfo, "tg.wired",
		slog.Int("middlewares", len(opts.Middlewares)),
		slog.Int("routes", len(opts.Routes)),
	)
}

// registerSource points Telegram at the webhook, or clears it so long polling works.
func registerSource(ctx context.Context, rt Runtime, cfg *coreconfig.Config) error {
	if !rt.Webhook {
		if err := rt.Bot.RemoveWebhook(false); err != nil {
			logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "tg.delete_webhook", slog.Any("err", err))
		}
		logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "tg.mode", slog.String("mode", RunModeLongpoll))
		return nil
	}
	hook := BuildWebhook(PollerOptions{
		AllowedUpdates: AllowedUpdates,
		Webhook:        WebhookOptions{URL: cfg.Webhook.URL, SecretToken: cfg.Webhook.SecretToken},
	})
	if err := rt.Bot.SetWebhook(hook); err != nil {
		return fmt.Errorf("telegram: set webhook: %w", err)
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "tg.mode",
		slog.String("mode", RunModeWebhook),
		slog.String("public_url", hook.Endpoint.PublicURL),
		slog.Bool("secret", hook.SecretToken != ""),
	)
	return nil
}

// serve runs the HTTP surface and, outside webhook mode, the long poller until
// ctx ends or either of them exits. Both are stopped before it returns.
func serve(ctx context.Context, rt Runtime, httpServe func(context.Context, Runtime) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpDone := make(chan error, 1)
	if httpServe != nil {
		go func() { httpDone <- httpServe(runCtx, rt) }()
	}
	pollDone := make(chan struct{})
	if !rt.Webhook {
		go func() {
			rt.Bot.Start()
			close(pollDone)
		}()
	}

	var err error
	httpExited, pollExited := false, false
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-httpDone:
		httpExited = true
		if err == nil {
			err = errors.New("telegram: http server stopped")
		}
	case <-pollDone:
		pollExited = true
	}

	// Stop blocks forever once the poller has already returned.
	if !rt.Webhook && !pollExited {
		rt.Bot.Stop()
		<-pollDone
	}
	cancel()
	if httpServe != nil && !httpExited {
		if herr := <-httpDone; herr != nil && err == nil {
			err = herr
		}
	}
	return err
}
