package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/sessiongen/core/logger"
	"github.com/m3rciful/sessiongen/internal/lock"
	"github.com/m3rciful/sessiongen/internal/metrics"
	"github.com/m3rciful/sessiongen/internal/mtproto"
	"github.com/m3rciful/sessiongen/internal/session"
)

// State is the position of a conversation in the login flow.
type State int

const (
	AwaitingPhone State = iota
	AwaitingCode
	AwaitingSecondFactor
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case AwaitingPhone:
		return "awaiting_phone"
	case AwaitingCode:
		return "awaiting_code"
	case AwaitingSecondFactor:
		return "awaiting_second_factor"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further input is accepted.
func (s State) Terminal() bool { return s == Completed || s == Aborted }

// Conversation is one chat's login attempt.
// Fields are mutated only inside the chat's exclusive section.
type Conversation struct {
	ChatID       int64
	State        State
	Phone        string
	ArtifactPath string
	StartedAt    time.Time

	client      mtproto.Client
	release     lock.Release
	preexisting bool
	// guarded by Registry.mu
	lastActivity time.Time
}

const releaseTimeout = 5 * time.Second

func (s *Service) onPhone(ctx context.Context, c *Conversation, text string) {
	if !session.ValidPhone(text) {
		s.reply(ctx, c.ChatID, msgInvalidPhone)
		return
	}
	phone := session.Normalize(text)
	path, err := s.store.Path(phone)
	if err != nil {
		s.reply(ctx, c.ChatID, msgInvalidPhone)
		return
	}

	release, err := s.locker.TryLock(ctx, path)
	if errors.Is(err, lock.ErrLocked) {
		logger.LogEvent(ctx, logger.Conv, slog.LevelInfo, "conv.phone_busy",
			slog.Int64("chat_id", c.ChatID),
			slog.String("phone", logger.MaskPhone(phone)),
		)
		s.reply(ctx, c.ChatID, msgPhoneBusy)
		return
	}
	if err != nil {
		s.fail(ctx, c, "claim", err)
		s.reply(ctx, c.ChatID, msgSendCodeFailed)
		s.finish(ctx, c, Aborted, "aborted")
		return
	}

	c.Phone = phone
	c.ArtifactPath = path
	c.release = release
	c.preexisting, _ = s.store.Exists(path)

	s.reply(ctx, c.ChatID, msgSendingCode)

	client, err := s.factory.New(path)
	if err != nil {
		s.fail(ctx, c, "new_client", err)
		s.reply(ctx, c.ChatID, msgSendCodeFailed)
		s.finish(ctx, c, Aborted, "aborted")
		return
	}
	c.client = client

	start := time.Now()
	err = client.Connect(ctx)
	s.observe("connect", start, err)
	if err == nil {
		start = time.Now()
		err = client.RequestCode(ctx, phone)
		s.observe("send_code", start, err)
	}
	if err != nil {
		var flood *mtproto.FloodWaitError
		switch {
		case errors.Is(err, mtproto.ErrPhoneInvalid):
			s.reply(ctx, c.ChatID, msgPhoneRejected)
		case errors.As(err, &flood):
			s.reply(ctx, c.ChatID, fmt.Sprintf(msgFloodWait, flood.Wait.Round(time.Second)))
		default:
			s.fail(ctx, c, "send_code", err)
			s.reply(ctx, c.ChatID, msgSendCodeFailed)
		}
		s.finish(ctx, c, Aborted, "aborted")
		return
	}

	s.transition(ctx, c, AwaitingCode)
	s.reply(ctx, c.ChatID, msgCodeSent)
}

func (s *Service) onCode(ctx context.Context, c *Conversation, text string) {
	code := session.Normalize(text)
	start := time.Now()
	res := c.client.SignIn(ctx, c.Phone, code)
	s.observe("sign_in", start, res.Err)

	switch res.Outcome {
	case mtproto.Success:
		s.reply(ctx, c.ChatID, msgSignedIn)
		s.complete(ctx, c)
	case mtproto.NeedSecondFactor:
		s.transition(ctx, c, AwaitingSecondFactor)
		s.reply(ctx, c.ChatID, msgNeedPassword)
	case mtproto.InvalidCode:
		s.reply(ctx, c.ChatID, msgInvalidCode)
		s.finish(ctx, c, Aborted, "aborted")
	case mtproto.ExpiredCode:
		s.reply(ctx, c.ChatID, msgExpiredCode)
		s.finish(ctx, c, Aborted, "aborted")
	default:
		s.fail(ctx, c, "sign_in", res.Err)
		s.reply(ctx, c.ChatID, msgSignInFailed)
		s.finish(ctx, c, Aborted, "aborted")
	}
}

func (s *Service) onPassword(ctx context.Context, c *Conversation, text string) {
	start := time.Now()
	res := c.client.CheckPassword(ctx, strings.TrimSpace(text))
	s.observe("password", start, res.Err)

	switch res.Outcome {
	case mtproto.Success:
		s.reply(ctx, c.ChatID, msgPasswordOK)
		s.complete(ctx, c)
	case mtproto.WrongPassword:
		s.reply(ctx, c.ChatID, msgWrongPassword)
	default:
		s.fail(ctx, c, "password", res.Err)
		s.reply(ctx, c.ChatID, msgPasswordFailed)
		s.finish(ctx, c, Aborted, "aborted")
	}
}

// complete flushes the session by disconnecting, then delivers and tears down.
func (s *Service) complete(ctx context.Context, c *Conversation) {
	s.transition(ctx, c, Completed)
	s.releaseClient(ctx, c)
	res := s.deliverer.Deliver(ctx, c.ChatID, c.ArtifactPath)
	logger.LogEvent(ctx, logger.Conv, slog.LevelInfo, "conv.delivered",
		slog.Int64("chat_id", c.ChatID),
		slog.String("result", res.String()),
	)
	s.finish(ctx, c, Completed, "completed")
}

// finish is the single exit of a conversation. Every step is idempotent.
func (s *Service) finish(ctx context.Context, c *Conversation, state State, outcome string) {
	if c.State != state {
		s.transition(ctx, c, state)
	}
	clientUsed := c.client != nil
	s.releaseClient(ctx, c)

	if state == Aborted && clientUsed && !c.preexisting && c.ArtifactPath != "" {
		if err := s.store.Remove(c.ArtifactPath); err != nil {
			logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "conv.cleanup_failed",
				slog.Int64("chat_id", c.ChatID),
				slog.Any("err", err),
			)
		}
	}

	if c.release != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		if err := c.release(rctx); err != nil {
			logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "conv.unclaim_failed",
				slog.Int64("chat_id", c.ChatID),
				slog.Any("err", err),
			)
		}
		cancel()
		c.release = nil
	}

	if cur, ok := s.registry.Get(c.ChatID); ok && cur == c {
		s.registry.End(c.ChatID)
		metrics.ConversationFinished(outcome)
		logger.LogEvent(ctx, logger.Conv, slog.LevelInfo, "conv.end",
			slog.Int64("chat_id", c.ChatID),
			slog.String("outcome", outcome),
			slog.Duration("duration", time.Since(c.StartedAt)),
		)
	}
}

func (s *Service) releaseClient(ctx context.Context, c *Conversation) {
	if c.client == nil {
		return
	}
	client := c.client
	c.client = nil
	start := time.Now()
	err := client.Disconnect()
	s.observe("disconnect", start, err)
	if err != nil {
		logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "conv.disconnect_failed",
			slog.Int64("chat_id", c.ChatID),
			slog.Any("err", err),
		)
	}
}

func (s *Service) transition(ctx context.Context, c *Conversation, to State) {
	from := c.State
	c.State = to
	logger.LogEvent(ctx, logger.Conv, slog.LevelInfo, "conv.transition",
		slog.Int64("chat_id", c.ChatID),
		slog.String("from_state", from.String()),
		slog.String("to_state", to.String()),
	)
}

// fail logs an unexpected error. Codes and passwords are never part of err.
func (s *Service) fail(ctx context.Context, c *Conversation, op string, err error) {
	logger.LogEvent(ctx, logger.Conv, slog.LevelError, "conv.error",
		slog.Int64("chat_id", c.ChatID),
		slog.String("state", c.State.String()),
		slog.String("op", op),
		slog.String("phone", logger.MaskPhone(c.Phone)),
		slog.Any("err", err),
	)
}

func (s *Service) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ObserveBackendCall(op, result, time.Since(start))
}
