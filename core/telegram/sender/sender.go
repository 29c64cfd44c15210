// Package sender runs outbound Bot API calls with bounded retries.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/m3rciful/sessiongen/core/logger"
	"github.com/m3rciful/sessiongen/core/telegram/netutil"
	"github.com/m3rciful/sessiongen/internal/metrics"

	tele "gopkg.in/telebot.v4"
)

// ErrGiveUp is joined with the last error once every attempt is spent.
var ErrGiveUp = errors.New("telegram sender: giving up")

// Options controls retries for outbound Telegram calls. Zero values take defaults.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds one call including its retries.
	MaxDuration time.Duration
	// MaxFloodWait is the longest retry_after worth waiting for; longer waits fail fast.
	MaxFloodWait time.Duration
}

// Sender executes calls on the caller's goroutine. A reply has to reach the
// user before the chat's next update is processed, so nothing is queued.
type Sender struct {
	opts   Options
	failed atomic.Uint64
}

func New(opts Options) *Sender {
	opts.MaxRetries = max(opts.MaxRetries, 0)
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 30 * time.Second
	}
	if opts.MaxFloodWait <= 0 {
		opts.MaxFloodWait = 10 * time.Second
	}
	return &Sender{opts: opts}
}

// ErrorCount is the number of calls that failed for good.
func (s *Sender) ErrorCount() uint64 { return s.failed.Load() }

// Do calls run until it succeeds, fails permanently or the retry budget is
// spent. run must be safe to repeat.
func (s *Sender) Do(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	bounded, cancel := context.WithTimeout(ctx, s.opts.MaxDuration)
	defer cancel()

	log := logger.Component("tg.sender")
	base := []slog.Attr{slog.String("action", action), slog.String("endpoint", endpoint)}
	start := time.Now()

	var err error
	attempt := 0
	for attempt < s.opts.MaxRetries+1 {
		if cerr := bounded.Err(); cerr != nil {
			err = errors.Join(err, cerr)
			break
		}
		attempt++
		if err = run(); err == nil {
			lvl := slog.LevelDebug
			if attempt > 1 {
				lvl = slog.LevelInfo
			}
			logger.LogEvent(ctx, log, lvl, "send.ok", append(base,
				slog.Int("attempts", attempt),
				slog.Duration("duration", time.Since(start)),
			)...)
			return nil
		}

		delay, retry := s.backoff(err, attempt)
		if !retry || attempt > s.opts.MaxRetries {
			break
		}
		metrics.IncSendRetry(action)
		logger.LogEvent(ctx, log, slog.LevelDebug, "send.retry", append(base,
			slog.Int("attempts", attempt),
			slog.Duration("backoff", delay),
			slog.String("err_code", classifyError(err)),
		)...)
		if werr := wait(bounded, delay); werr != nil {
			err = errors.Join(err, werr)
			break
		}
	}

	s.failed.Add(1)
	logger.LogEvent(ctx, log, slog.LevelError, "send.fail", append(base,
		slog.Int("attempts", attempt),
		slog.Duration("duration", time.Since(start)),
		slog.String("err_code", classifyError(err)),
		slog.Any("err", err),
	)...)
	return errors.Join(ErrGiveUp, err)
}

// backoff returns how long to wait before repeating a call that failed with err.
func (s *Sender) backoff(err error, attempt int) (time.Duration, bool) {
	if d, ok := floodWait(err); ok {
		return d, d <= s.opts.MaxFloodWait
	}
	if netutil.ShouldRetry(err) || apiStatus(err) >= http.StatusInternalServerError {
		return s.opts.RetryBackoff * time.Duration(attempt), true
	}
	return 0, false
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func floodWait(err error) (time.Duration, bool) {
	var v tele.FloodError
	if errors.As(err, &v) {
		return time.Duration(v.RetryAfter) * time.Second, true
	}
	var p *tele.FloodError
	if errors.As(err, &p) && p != nil {
		return time.Duration(p.RetryAfter) * time.Second, true
	}
	return 0, false
}

// apiStatus is the Bot API error code carried by err, or 0.
func apiStatus(err error) int {
	if _, ok := floodWait(err); ok {
		return http.StatusTooManyRequests
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// classifyError labels err for logs: a netutil transient reason, flood,
// http_4xx/http_5xx, canceled or unknown.
func classifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return netutil.ReasonTimeout
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	if _, ok := floodWait(err); ok {
		return "flood"
	}
	if reason := netutil.Transient(err); reason != "" {
		return reason
	}
	switch code := apiStatus(err); {
	case code >= 500:
		return "http_5xx"
	case code >= 400:
		return "http_4xx"
	}
	return "unknown"
}
