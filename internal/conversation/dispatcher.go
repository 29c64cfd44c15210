// Package conversation drives the per-chat login flow that produces session files.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/sessiongen/core/logger"
	"github.com/m3rciful/sessiongen/internal/lock"
	"github.com/m3rciful/sessiongen/internal/metrics"
	"github.com/m3rciful/sessiongen/internal/mtproto"
	"github.com/m3rciful/sessiongen/internal/session"
)

// Commands understood by the dispatcher.
const (
	CmdStart      = "/start"
	CmdGenSession = "/gensession"
	CmdCancel     = "/cancel"
)

// Message is the part of an inbound update the dispatcher needs.
type Message struct {
	ChatID    int64
	UserID    int64
	MessageID int
	Text      string
}

// Options wires a Service.
type Options struct {
	Registry        *Registry
	Store           *session.Store
	Factory         mtproto.Factory
	Messenger       Messenger
	Locker          lock.Locker
	DeleteAfterSend bool
	IdleTimeout     time.Duration
}

// Service is the webhook dispatcher and owner of every live conversation.
type Service struct {
	registry    *Registry
	store       *session.Store
	factory     mtproto.Factory
	messenger   Messenger
	locker      lock.Locker
	deliverer   *Deliverer
	idleTimeout time.Duration
}

const defaultIdleTimeout = 10 * time.Minute

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Factory == nil || opts.Messenger == nil {
		return nil, errors.New("conversation: store, factory and messenger are required")
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewMemory()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	return &Service{
		registry:    opts.Registry,
		store:       opts.Store,
		factory:     opts.Factory,
		messenger:   opts.Messenger,
		locker:      opts.Locker,
		deliverer:   NewDeliverer(opts.Store, opts.Messenger, opts.DeleteAfterSend),
		idleTimeout: opts.IdleTimeout,
	}, nil
}

// Registry exposes the conversation table.
func (s *Service) Registry() *Registry { return s.registry }

// ParseCommand returns the lower-cased command of text, without a "@bot" suffix.
// Plain text yields "".
func ParseCommand(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0]
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}

// Dispatch applies exactly one transition for msg under the chat's exclusive section.
func (s *Service) Dispatch(ctx context.Context, msg Message) {
	unlock := s.registry.Lock(msg.ChatID)
	defer unlock()

	cmd := ParseCommand(msg.Text)
	c, active := s.registry.Get(msg.ChatID)

	logger.Debug(ctx, "conv", "conv.dispatch",
		slog.Int64("chat_id", msg.ChatID),
		slog.String("command", cmd),
		slog.Bool("active", active),
		slog.Int("text_len", len(msg.Text)),
	)

	if active {
		s.registry.Touch(msg.ChatID)
		s.dispatchActive(ctx, c, cmd, msg.Text)
		return
	}
	s.dispatchIdle(ctx, msg.ChatID, cmd)
}

func (s *Service) dispatchActive(ctx context.Context, c *Conversation, cmd, text string) {
	switch cmd {
	case CmdCancel:
		s.reply(ctx, c.ChatID, msgCancelled)
		s.finish(ctx, c, Aborted, "cancelled")
	case CmdGenSession:
		s.reply(ctx, c.ChatID, msgAlreadyActive)
	case CmdStart:
		s.reply(ctx, c.ChatID, msgWelcome)
	case "":
		switch c.State {
		case AwaitingPhone:
			s.onPhone(ctx, c, text)
		case AwaitingCode:
			s.onCode(ctx, c, text)
		case AwaitingSecondFactor:
			s.onPassword(ctx, c, text)
		default:
			// terminal conversations are removed before the handler returns
			s.finish(ctx, c, c.State, c.State.String())
			s.reply(ctx, c.ChatID, msgExpired)
		}
	default:
		s.reply(ctx, c.ChatID, msgInProgress)
	}
}

func (s *Service) dispatchIdle(ctx context.Context, chatID int64, cmd string) {
	switch cmd {
	case CmdStart:
		s.reply(ctx, chatID, msgWelcome)
	case CmdCancel:
		s.registry.TakeExpired(chatID)
		s.reply(ctx, chatID, msgCancelled)
	case CmdGenSession:
		c, err := s.registry.Begin(chatID)
		if errors.Is(err, ErrAlreadyActive) {
			s.reply(ctx, chatID, msgAlreadyActive)
			return
		}
		metrics.ConversationStarted()
		logger.LogEvent(ctx, logger.Conv, slog.LevelInfo, "conv.begin",
			slog.Int64("chat_id", c.ChatID),
			slog.String("state", c.State.String()),
		)
		s.reply(ctx, chatID, msgAskPhone)
	case "":
		if s.registry.TakeExpired(chatID) {
			s.reply(ctx, chatID, msgExpired)
		}
	default:
		// unknown commands outside a conversation are ignored
	}
}

// Shutdown aborts every live conversation.
func (s *Service) Shutdown(ctx context.Context) {
	for _, chatID := range s.registry.Chats() {
		unlock := s.registry.Lock(chatID)
		if c, ok := s.registry.Get(chatID); ok {
			s.reply(ctx, chatID, msgShuttingDown)
			s.finish(ctx, c, Aborted, "aborted")
		}
		unlock()
	}
}

func (s *Service) reply(ctx context.Context, chatID int64, text string) {
	if err := s.messenger.SendText(ctx, chatID, text); err != nil {
		logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "reply.failed",
			slog.Int64("chat_id", chatID),
			slog.Any("err", err),
		)
	}
}
