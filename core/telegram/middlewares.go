package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/m3rciful/sessiongen/core/config"
	"github.com/m3rciful/sessiongen/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// MiddlewareOptions holds the optional callbacks of DefaultMiddlewares.
type MiddlewareOptions struct {
	OnLimited tele.HandlerFunc
	OnDenied  tele.HandlerFunc
	// Commands labels the command counter; anything else counts as "other".
	Commands []string
}

// DefaultMiddlewares builds the shared middleware chain for bots.
func DefaultMiddlewares(cfg *coreconfig.Config, opts MiddlewareOptions) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "logger", Use: middleware.LoggerMiddleware},
	}

	if cfg != nil {
		if len(cfg.Telegram.AllowedUsers) > 0 {
			mws = append(mws, Middleware{
				Name: "allowlist",
				Use:  middleware.AllowlistMiddleware(middleware.NewAllowlist(cfg.Telegram.AllowedUsers, opts.OnDenied)),
			})
		}

		interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
		if interval > 0 {
			ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
			for _, t := range cfg.RateLimit.ExcludeUpdates {
				ex[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
			}
			mws = append(mws, Middleware{
				Name: "rate_limit",
				Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
					Interval:  interval,
					Exclude:   ex,
					OnLimited: opts.OnLimited,
				}),
			})
		}
	}

	mws = append(mws, Middleware{Name: "metrics", Use: middleware.CommandMetricsMiddleware(opts.Commands)})
	return mws
}
