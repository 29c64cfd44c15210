package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/sessiongen/core/logger"
	tghelpers "github.com/m3rciful/sessiongen/core/telegram/helpers"
	"github.com/m3rciful/sessiongen/internal/metrics"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures RateLimitMiddleware.
type RateLimitOptions struct {
	Interval time.Duration
	// Exclude lists update kinds ("message", "other") that bypass the limit.
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
}

// pruneAt is the table size that triggers dropping stale users.
const pruneAt = 1024

// limiter remembers when each user was last let through.
type limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[int64]time.Time
}

func (l *limiter) allow(userID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.last[userID]; ok && now.Sub(t) < l.interval {
		return false
	}
	if len(l.last) >= pruneAt {
		for id, t := range l.last {
			if now.Sub(t) >= l.interval {
				delete(l.last, id)
			}
		}
	}
	l.last[userID] = now
	return true
}

// RateLimitMiddleware lets through at most one update per user per Interval.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	lim := &limiter{interval: opts.Interval, last: make(map[int64]time.Time)}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			kind := "other"
			if c.Update().Message != nil {
				kind = "message"
			}
			if _, skip := opts.Exclude[kind]; skip || lim.allow(user.ID, time.Now()) {
				return next(c)
			}

			metrics.IncRateLimited()
			logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelWarn, "tg.rate_limit",
				slog.String("status", "rate_limited"),
			)
			if opts.OnLimited != nil {
				return opts.OnLimited(c)
			}
			return nil
		}
	}
}
