// Package logger is the structured slog setup shared by every component:
// ordered JSON or key=value lines, per-update correlation ids and secret redaction.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/sessiongen/core/buildinfo"
	coreconfig "github.com/m3rciful/sessiongen/core/config"
)

var (
	// L is the base logger; slog.Default until InitLogger runs.
	L = slog.Default()

	TG    = L.With("component", "tg")
	TWire = L.With("component", "tg.wire")
	Conv  = L.With("component", "conv")
	HTTP  = L.With("component", "http")
)

var (
	initOnce sync.Once
	level    slog.LevelVar
	sampler  = newRatioSampler(1, 50)
	trace    bool

	closeMu sync.Mutex
	sink    *asyncWriter
	files   []io.Closer
)

// settings is the resolved logging configuration.
type settings struct {
	format   logFormat
	keyOrder []string
	level    slog.Level
	num, den int
	dir      string
	file     string
	profile  string
}

func settingsFrom(cfg *coreconfig.Config) settings {
	s := settings{
		format:   formatJSON,
		keyOrder: defaultKeyOrder,
		level:    slog.LevelInfo,
		num:      1,
		den:      50,
		profile:  "prod",
	}
	if cfg == nil {
		return s
	}
	lc := cfg.Logging
	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		s.profile = p
	}
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		s.format = formatKV
	case "json":
	default:
		if s.profile == "debug" || s.profile == "dev" {
			s.format = formatKV
		}
	}
	if keys := splitKeys(lc.KeysOrder); len(keys) > 0 {
		s.keyOrder = keys
	}
	lvl := strings.TrimSpace(lc.Level)
	if strings.EqualFold(lvl, "warning") {
		lvl = "warn"
	}
	// unknown names keep the default
	_ = s.level.UnmarshalText([]byte(lvl))
	if spec := strings.TrimSpace(lc.DebugSample); spec != "" {
		s.num, s.den = parseRatioSpec(spec)
	}
	s.dir, s.file = strings.TrimSpace(lc.Dir), strings.TrimSpace(lc.BotFile)
	return s
}

func splitKeys(raw string) []string {
	if raw = strings.TrimSpace(raw); raw == "" || raw == "default" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// InitLogger installs the structured handler as slog's default. Later calls are no-ops.
func InitLogger(cfg *coreconfig.Config) error {
	var err error
	initOnce.Do(func() {
		s := settingsFrom(cfg)
		level.Set(s.level)
		sampler.Set(s.num, s.den)
		trace = truthy(os.Getenv("TRACE")) || truthy(os.Getenv("LOG_TRACE"))

		outputs := []io.Writer{os.Stdout}
		if s.dir != "" && s.file != "" {
			f, ferr := openLogFile(s.dir, s.file)
			if ferr != nil {
				err = ferr
				return
			}
			outputs = append(outputs, f)
			files = append(files, f)
		}
		sink = newAsyncWriter(outputs, 64*1024)

		L = slog.New(newStructuredHandler(handlerConfig{
			level:    &level,
			writer:   sink,
			format:   s.format,
			keyOrder: s.keyOrder,
		}))
		slog.SetDefault(L)
		TG, TWire, Conv, HTTP = Component("tg"), Component("tg.wire"), Component("conv"), Component("http")

		attrs := []slog.Attr{
			slog.String("component", "app"),
			slog.String("go_version", runtime.Version()),
			slog.String("build", buildinfo.String()),
			slog.String("cfg_profile", s.profile),
		}
		if cfg != nil {
			attrs = append(attrs, slog.String("mode", cfg.Telegram.RunMode))
		}
		LogEvent(context.Background(), L, slog.LevelInfo, "startup", attrs...)
	})
	return err
}

func openLogFile(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logger: create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open log file: %w", err)
	}
	return f, nil
}

// Shutdown flushes pending lines and closes log files. It is safe to call twice.
func Shutdown() error {
	closeMu.Lock()
	defer closeMu.Unlock()
	var errs []error
	if sink != nil {
		errs = append(errs, sink.Close())
		sink = nil
	}
	for _, f := range files {
		errs = append(errs, f.Close())
	}
	files = nil
	return errors.Join(errs...)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// LogEvent writes one event line. A nil logg means the logger carried by ctx.
func LogEvent(ctx context.Context, logg *slog.Logger, lvl slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = FromContext(ctx)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, lvl, "", attrs...)
}

// Component returns L tagged with a component name.
func Component(name string) *slog.Logger {
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelDebug, event, attrs...)
}

func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelInfo, event, attrs...)
}

func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelWarn, event, attrs...)
}

// ShouldSampleDebug reports whether a high-volume debug event should be logged.
// TRACE=1 lets every event through.
func ShouldSampleDebug() bool {
	return trace || sampler.Allow()
}
