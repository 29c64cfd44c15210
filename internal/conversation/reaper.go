package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/sessiongen/core/logger"
)

// tombstones outlive the conversation by this many idle timeouts.
const tombstoneFactor = 6

// RunReaper tears down idle conversations every interval until ctx is done.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	logger.LogEvent(ctx, logger.Conv, slog.LevelInfo, "reaper.start",
		slog.Duration("interval", interval),
		slog.Duration("idle_timeout", s.idleTimeout),
	)
	for {
		select {
		case <-ctx.Done():
			logger.LogEvent(ctx, logger.Conv, slog.LevelInfo, "reaper.stop")
			return
		case now := <-t.C:
			if n := s.ReapIdle(ctx, now); n > 0 {
				logger.LogEvent(ctx, logger.Conv, slog.LevelInfo, "reaper.tick",
					slog.Int("reaped", n),
				)
			}
		}
	}
}

// ReapIdle aborts conversations idle since before now-idleTimeout and returns how many it tore down.
func (s *Service) ReapIdle(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-s.idleTimeout)
	s.registry.PruneExpired(now.Add(-tombstoneFactor * s.idleTimeout))

	reaped := 0
	for _, chatID := range s.registry.Idle(cutoff) {
		if s.reapOne(ctx, chatID, cutoff) {
			reaped++
		}
	}
	return reaped
}

// reapOne skips a chat whose section is busy; a transition in flight refreshes
// its activity anyway, and the next tick looks again.
func (s *Service) reapOne(ctx context.Context, chatID int64, cutoff time.Time) bool {
	unlock, ok := s.registry.TryLock(chatID)
	if !ok {
		return false
	}
	defer unlock()

	// the chat may have moved on while we waited for its lock
	last, ok := s.registry.LastActivity(chatID)
	if !ok || !last.Before(cutoff) {
		return false
	}
	c, ok := s.registry.Get(chatID)
	if !ok {
		return false
	}
	s.reply(ctx, chatID, msgTimedOut)
	s.finish(ctx, c, Aborted, "timeout")
	s.registry.MarkExpired(chatID)
	return true
}
