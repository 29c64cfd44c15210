package telegram

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/sessiongen/core/logger"
	"github.com/m3rciful/sessiongen/core/telegram/netutil"
	"github.com/m3rciful/sessiongen/internal/metrics"
)

// HTTPClientOptions tunes the Bot API client. Zero fields take defaults.
type HTTPClientOptions struct {
	Timeout     time.Duration
	DialTimeout time.Duration
	// Retries applies to requests whose body can be replayed; uploads are sent once.
	Retries int
	Backoff time.Duration
}

func (o HTTPClientOptions) withDefaults() HTTPClientOptions {
	if o.Timeout <= 0 {
		// sendDocument uploads can be slow on poor links
		o.Timeout = 60 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	return o
}

// BuildHTTPClient returns the client telebot uses for Bot API calls.
func BuildHTTPClient(opts HTTPClientOptions) *http.Client {
	opts = opts.withDefaults()
	dialer := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.DialTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &replayTransport{next: base, retries: opts.Retries, backoff: opts.Backoff},
	}
}

// replayTransport repeats a request after a transient network failure.
type replayTransport struct {
	next    http.RoundTripper
	retries int
	backoff time.Duration
}

func (t *replayTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	for attempt := 1; attempt <= t.retries && err != nil; attempt++ {
		reason := netutil.Transient(err)
		if reason == "" || (req.Body != nil && req.GetBody == nil) {
			return nil, err
		}
		logger.LogEvent(req.Context(), logger.TWire, slog.LevelDebug, "http.retry",
			slog.Int("attempt", attempt),
			slog.String("reason", reason),
		)
		metrics.IncSendRetry("http_" + reason)
		if werr := sleepCtx(req.Context(), t.backoff*time.Duration(attempt)); werr != nil {
			return nil, werr
		}

		replay := req.Clone(req.Context())
		if req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, berr
			}
			replay.Body = body
		}
		resp, err = t.next.RoundTrip(replay)
	}
	return resp, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
