package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/sessiongen/core/logger"
	tghelpers "github.com/m3rciful/sessiongen/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// LoggerMiddleware seeds the update's logging context and logs how the update
// went. Message text may be a phone number, a login code or a password, so only
// its length and leading command are recorded.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		start := time.Now()
		ctx := tghelpers.BuildContext(c)
		c.Set("rid", logger.RIDFrom(ctx))

		text := c.Text()
		attrs := []slog.Attr{slog.Int("text_len", len(text))}
		if cmd := commandOf(text); cmd != "" {
			attrs = append(attrs, slog.String("command", logger.SanitizeLimit(cmd, 64)))
		}
		if chat := c.Chat(); chat != nil {
			attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
		}
		if logger.ShouldSampleDebug() {
			logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", attrs...)
		}

		err := next(c)

		lvl := slog.LevelDebug
		if err != nil {
			lvl = slog.LevelWarn
			attrs = append(attrs, slog.Any("err", err))
		}
		logger.LogEvent(tghelpers.BuildContext(c), logger.TG, lvl, "update.done", append(attrs,
			slog.String("status", logger.Status(err)),
			slog.Duration("duration", time.Since(start)),
		)...)
		return err
	}
}

// commandOf returns the lower-cased leading "/command" of text without any "@bot" suffix.
func commandOf(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}
