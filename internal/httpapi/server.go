// Package httpapi serves the webhook, health and metrics endpoints.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/sessiongen/core/logger"
	"github.com/m3rciful/sessiongen/internal/metrics"

	tele "gopkg.in/telebot.v4"
)

// SecretHeader carries the webhook secret set through setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const (
	maxUpdateBytes         = 1 << 20
	defaultShutdownTimeout = 10 * time.Second
)

// UpdateProcessor handles one decoded update before the request is answered.
type UpdateProcessor interface {
	ProcessUpdate(u tele.Update)
}

// Options configures a Server.
type Options struct {
	Addr string
	// WebhookPath is where updates are POSTed; the route is omitted when Updates is nil.
	WebhookPath string
	SecretToken string
	Updates     UpdateProcessor
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer        prometheus.Gatherer
	ShutdownTimeout time.Duration
}

// Server is the process HTTP surface.
type Server struct {
	opts    Options
	handler http.Handler
}

// New builds the router for opts.
func New(opts Options) *Server {
	if opts.WebhookPath == "" {
		opts.WebhookPath = "/"
	}
	if !strings.HasPrefix(opts.WebhookPath, "/") {
		opts.WebhookPath = "/" + opts.WebhookPath
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{opts: opts}
	s.handler = s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	if s.opts.Updates != nil {
		r.Post(s.opts.WebhookPath, s.handleWebhook)
	}
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.opts.SecretToken != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.SecretToken)) != 1 {
			metrics.IncWebhookUpdate("unauthorized")
			logger.LogEvent(ctx, logger.HTTP, slog.LevelWarn, "webhook.unauthorized",
				slog.String("remote", r.RemoteAddr),
			)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var upd tele.Update
	dec := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBytes))
	if err := dec.Decode(&upd); err != nil {
		metrics.IncWebhookUpdate("bad_request")
		logger.LogEvent(ctx, logger.HTTP, slog.LevelWarn, "webhook.bad_request",
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	start := time.Now()
	s.opts.Updates.ProcessUpdate(upd)
	metrics.IncWebhookUpdate("ok")
	logger.Debug(ctx, "http", "webhook.processed",
		slog.Int("update_id", upd.ID),
		slog.Duration("took", logger.RoundMS(time.Since(start))),
	)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithRID(r.Context(), middleware.GetReqID(r.Context()))
		r = r.WithContext(ctx)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.LogEvent(ctx, logger.HTTP, level, "http.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("http_status", ww.Status()),
			slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
		)
	})
}

// Run listens on Addr and serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	logger.HTTP.Info("http listening",
		slog.String("event", "listen"),
		slog.String("addr", ln.Addr().String()),
		slog.String("webhook_path", s.opts.WebhookPath),
		slog.Bool("webhook", s.opts.Updates != nil),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("httpapi: shutdown: %w", err)
		}
		<-errCh
		logger.HTTP.Info("http stopped", slog.String("event", "stop"))
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi: serve: %w", err)
	}
}
