package middleware

import (
	"log/slog"

	"github.com/m3rciful/sessiongen/core/logger"
	tghelpers "github.com/m3rciful/sessiongen/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// AllowlistOptions restricts the bot to a fixed set of Telegram users.
type AllowlistOptions struct {
	Users    map[int64]struct{}
	OnReject tele.HandlerFunc
}

// NewAllowlist builds options from user ids; zero ids are ignored.
func NewAllowlist(ids []int64, onReject tele.HandlerFunc) AllowlistOptions {
	users := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id != 0 {
			users[id] = struct{}{}
		}
	}
	return AllowlistOptions{Users: users, OnReject: onReject}
}

// AllowlistMiddleware stops updates from senders outside opts.Users.
// An empty set admits everyone.
func AllowlistMiddleware(opts AllowlistOptions) tele.MiddlewareFunc {
	allowed := func(c tele.Context) bool {
		if len(opts.Users) == 0 {
			return true
		}
		u := c.Sender()
		if u == nil {
			return false
		}
		_, ok := opts.Users[u.ID]
		return ok
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if allowed(c) {
				return next(c)
			}
			logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelWarn, "tg.access_denied",
				slog.String("status", "denied"),
			)
			if opts.OnReject == nil {
				return nil
			}
			return opts.OnReject(c)
		}
	}
}
