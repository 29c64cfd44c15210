// Package app wires configuration, the conversation service and the Telegram runtime together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/m3rciful/sessiongen/core/bootstrap"
	corecmd "github.com/m3rciful/sessiongen/core/cmd"
	coreconfig "github.com/m3rciful/sessiongen/core/config"
	coretelegram "github.com/m3rciful/sessiongen/core/telegram"
	"github.com/m3rciful/sessiongen/core/telegram/commands"
	tghelpers "github.com/m3rciful/sessiongen/core/telegram/helpers"
	"github.com/m3rciful/sessiongen/core/telegram/router"
	"github.com/m3rciful/sessiongen/core/telegram/sender"
	"github.com/m3rciful/sessiongen/internal/conversation"
	"github.com/m3rciful/sessiongen/internal/httpapi"
	"github.com/m3rciful/sessiongen/internal/mtproto"

	tele "gopkg.in/telebot.v4"
)

const msgPrivateBot = "Sorry, this bot is private."

// App owns the long-lived components of the process.
type App struct {
	cfg       *coreconfig.Config
	boot      *bootstrap.Result
	bot       *tele.Bot
	messenger conversation.Messenger
	service   *conversation.Service
	registry  *coretelegram.Registry

	stopReaper context.CancelFunc
	reaperDone chan struct{}
}

// Bootstrap builds the application for cfg. It matches corecmd.Options.Bootstrap.
func Bootstrap(ctx context.Context, cfg *coreconfig.Config) (corecmd.TelegramApp, error) {
	boot, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return nil, err
	}

	bot, err := coretelegram.NewBot(cfg)
	if err != nil {
		_ = boot.Close()
		return nil, err
	}
	messenger, err := tghelpers.NewMessenger(bot, sender.New(sender.Options{
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}))
	if err != nil {
		_ = boot.Close()
		return nil, err
	}

	a, err := newApp(cfg, boot, messenger, &mtproto.GotdFactory{
		AppID:   cfg.Backend.APIID,
		AppHash: cfg.Backend.APIHash,
		Timeout: cfg.Backend.Timeout,
		Logger:  newProtocolLogger(cfg.Logging),
	})
	if err != nil {
		_ = boot.Close()
		return nil, err
	}
	a.bot = bot
	return a, nil
}

func newApp(cfg *coreconfig.Config, boot *bootstrap.Result, messenger conversation.Messenger, factory mtproto.Factory) (*App, error) {
	svc, err := conversation.NewService(conversation.Options{
		Store:           boot.Store,
		Factory:         factory,
		Messenger:       messenger,
		Locker:          boot.Locker,
		DeleteAfterSend: cfg.Session.DeleteAfterSend.Enabled(),
		IdleTimeout:     cfg.Session.IdleTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("app: conversation service: %w", err)
	}
	a := &App{
		cfg:       cfg,
		boot:      boot,
		messenger: messenger,
		service:   svc,
	}
	if a.registry, err = a.commandRegistry(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) commandRegistry() (*coretelegram.Registry, error) {
	reg := coretelegram.NewRegistry()
	for _, c := range []struct {
		name string
		desc string
	}{
		{conversation.CmdStart, "How this bot works"},
		{conversation.CmdGenSession, "Generate a session file"},
		{conversation.CmdCancel, "Abort the current login"},
	} {
		if err := reg.RegisterCommand(c.name, commands.Command{Handler: a.handleMessage, Description: c.desc}); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	reg.SetTextFallback(a.handleMessage)
	return reg, nil
}

// handleMessage feeds one text update into the conversation service.
func (a *App) handleMessage(c tele.Context) error {
	m := c.Message()
	chat := c.Chat()
	if m == nil || chat == nil {
		return nil
	}
	var userID int64
	if u := c.Sender(); u != nil {
		userID = u.ID
	}
	a.service.Dispatch(tghelpers.BuildContext(c), conversation.Message{
		ChatID:    chat.ID,
		UserID:    userID,
		MessageID: m.ID,
		Text:      m.Text,
	})
	return nil
}

func (a *App) handleDenied(c tele.Context) error {
	chat := c.Chat()
	if chat == nil {
		return nil
	}
	return a.messenger.SendText(tghelpers.BuildContext(c), chat.ID, msgPrivateBot)
}

// TelegramRunOptions implements corecmd.TelegramApp.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	if a.bot == nil {
		return coretelegram.RunOptions{}, errors.New("app: bot is not initialized")
	}
	routes := router.CommandRoutes(a.registry)
	routes = append(routes, router.TextRoutes(a.registry, router.TextOptions{})...)

	return coretelegram.RunOptions{
		Config:   a.cfg,
		Registry: a.registry,
		Bot:      a.bot,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg, coretelegram.MiddlewareOptions{
			OnDenied: a.handleDenied,
			Commands: a.registry.Names(),
		}),
		Routes:  routes,
		Serve:   a.serve,
		OnStart: a.onStart,
		OnStop:  a.onStop,
	}, nil
}

func (a *App) serve(ctx context.Context, rt coretelegram.Runtime) error {
	return a.httpServer(rt).Run(ctx)
}

func (a *App) httpServer(rt coretelegram.Runtime) *httpapi.Server {
	opts := httpapi.Options{
		Addr:        net.JoinHostPort(a.cfg.Webhook.Listen, strconv.Itoa(a.cfg.Webhook.Port)),
		WebhookPath: a.cfg.Webhook.Path,
		SecretToken: a.cfg.Webhook.SecretToken,
	}
	if rt.Webhook && rt.Bot != nil {
		opts.Updates = rt.Bot
	}
	return httpapi.New(opts)
}

func (a *App) onStart(ctx context.Context, _ coretelegram.Runtime) error {
	reaperCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopReaper = cancel
	a.reaperDone = make(chan struct{})
	go func() {
		defer close(a.reaperDone)
		a.service.RunReaper(reaperCtx, a.cfg.Session.ReapInterval)
	}()
	return nil
}

func (a *App) onStop(ctx context.Context, _ coretelegram.Runtime) error {
	if a.stopReaper != nil {
		a.stopReaper()
		<-a.reaperDone
	}
	a.service.Shutdown(ctx)
	return nil
}

// Close implements corecmd.TelegramApp.
func (a *App) Close() error {
	if a.boot == nil || a.boot.Close == nil {
		return nil
	}
	return a.boot.Close()
}

// newProtocolLogger returns the logger handed to the MTProto client. It stays
// silent unless protocol debugging is switched on.
func newProtocolLogger(cfg coreconfig.LoggingConfig) *zap.Logger {
	if !cfg.MTProtoDebug {
		return zap.NewNop()
	}
	build := zap.NewProduction
	if strings.EqualFold(strings.TrimSpace(cfg.Profile), "debug") {
		build = zap.NewDevelopment
	}
	l, err := build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
