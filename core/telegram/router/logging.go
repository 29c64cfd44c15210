package router

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/sessiongen/core/logger"
	tghelpers "github.com/m3rciful/sessiongen/core/telegram/helpers"
	"github.com/m3rciful/sessiongen/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// run executes fn as the named handler and logs a one-line summary of it.
func run(c tele.Context, handler string, fn tele.HandlerFunc) error {
	start := time.Now()
	ctx := tghelpers.WithHandler(c, handler)
	err := fn(c)

	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("outcome", logger.Status(err)),
		slog.Duration("duration", time.Since(start)),
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", errorCode(err)),
		)
	}
	logger.LogEvent(ctx, logger.TG, level, "handler.handled", attrs...)
	return err
}

// skip records an update that no handler wanted.
func skip(c tele.Context, handler string) {
	ctx := tghelpers.WithHandler(c, handler)
	logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "handler.skipped",
		slog.String("status", "skip"),
	)
}

func normalizeHandlerName(name string) string {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
	if name == "" {
		return "unknown"
	}
	return strings.ReplaceAll(name, " ", "_")
}

// errorCode maps handler failures to a small, stable label set.
func errorCode(err error) string {
	var (
		apiErr *tele.Error
		flood  tele.FloodError
		floodP *tele.FloodError
	)
	switch {
	case errors.As(err, &flood), errors.As(err, &floodP):
		return "FLOOD_WAIT"
	case errors.As(err, &apiErr):
		return "TG_" + strconv.Itoa(apiErr.Code)
	case errors.Is(err, sender.ErrGiveUp):
		return "SEND_GAVE_UP"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return "CANCELED"
	default:
		return "INTERNAL"
	}
}
