package conversation

import (
	"context"
	"log/slog"

	"github.com/m3rciful/sessiongen/core/logger"
	"github.com/m3rciful/sessiongen/internal/metrics"
	"github.com/m3rciful/sessiongen/internal/session"
)

// Messenger is the outbound side of the bot.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
}

// DeliveryResult reports how a delivery ended.
type DeliveryResult int

const (
	Delivered DeliveryResult = iota
	NotFound
	SendFailed
)

func (r DeliveryResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case NotFound:
		return "not_found"
	default:
		return "send_failed"
	}
}

// Deliverer sends finished artifacts and optionally purges them.
type Deliverer struct {
	store           *session.Store
	messenger       Messenger
	deleteAfterSend bool
}

func NewDeliverer(store *session.Store, messenger Messenger, deleteAfterSend bool) *Deliverer {
	return &Deliverer{store: store, messenger: messenger, deleteAfterSend: deleteAfterSend}
}

// Deliver sends the artifact at path to chatID.
// Removal failures after a successful send are logged only.
func (d *Deliverer) Deliver(ctx context.Context, chatID int64, path string) DeliveryResult {
	res := d.deliver(ctx, chatID, path)
	metrics.IncDelivery(res.String())
	return res
}

func (d *Deliverer) deliver(ctx context.Context, chatID int64, path string) DeliveryResult {
	ok, err := d.store.Exists(path)
	if err != nil || !ok {
		logger.LogEvent(ctx, logger.Conv, slog.LevelError, "delivery.not_found",
			slog.Int64("chat_id", chatID),
			slog.Any("err", err),
		)
		d.notify(ctx, chatID, msgNotFound)
		return NotFound
	}

	if err := d.messenger.SendDocument(ctx, chatID, path, msgCaption); err != nil {
		logger.LogEvent(ctx, logger.Conv, slog.LevelError, "delivery.send_failed",
			slog.Int64("chat_id", chatID),
			slog.Any("err", err),
		)
		d.notify(ctx, chatID, msgDeliverFailed)
		return SendFailed
	}

	if d.deleteAfterSend {
		if err := d.store.Remove(path); err != nil {
			logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "delivery.remove_failed",
				slog.Int64("chat_id", chatID),
				slog.Any("err", err),
			)
		} else {
			logger.LogEvent(ctx, logger.Conv, slog.LevelInfo, "delivery.removed",
				slog.Int64("chat_id", chatID),
			)
		}
	}
	return Delivered
}

func (d *Deliverer) notify(ctx context.Context, chatID int64, text string) {
	if err := d.messenger.SendText(ctx, chatID, text); err != nil {
		logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "reply.failed",
			slog.Int64("chat_id", chatID),
			slog.Any("err", err),
		)
	}
}
