package helpers

import (
	"context"

	"github.com/m3rciful/sessiongen/core/logger"

	tele "gopkg.in/telebot.v4"
)

// key under which the per-update context.Context rides on tele.Context.
const updateCtxKey = "sessiongen.ctx"

// StoreContext makes ctx the logging context of the current update.
func StoreContext(c tele.Context, ctx context.Context) {
	if c != nil && ctx != nil {
		c.Set(updateCtxKey, ctx)
	}
}

// BuildContext returns the update's logging context, deriving it from the
// update ids when no middleware stored one. It never carries a deadline:
// conversation steps must outlive the webhook request that delivered them.
func BuildContext(c tele.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if ctx, ok := c.Get(updateCtxKey).(context.Context); ok {
		return ctx
	}

	var chatID, userID int64
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
	}
	if user := c.Sender(); user != nil {
		userID = user.ID
	}
	updateID := c.Update().ID

	rid, _ := c.Get("rid").(string)
	if rid == "" {
		rid = logger.BuildRID(updateID, chatID, userID)
	}
	ctx := logger.WithUpdateMeta(logger.WithRID(context.Background(), rid), updateID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.TG)
	StoreContext(c, ctx)
	return ctx
}

// WithHandler tags the update context with the handler name and stores it back.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler != "" && logger.HandlerFrom(ctx) != handler {
		ctx = logger.WithHandler(ctx, handler)
		StoreContext(c, ctx)
	}
	return ctx
}
