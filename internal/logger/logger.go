// Package logger is the process-wide structured logger. It wraps log/slog
// with a small package-level API so call sites read like the rest of the
// server: logger.Info("msg", "key", value).
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

// Standard field keys.
const (
	KeyRequestID = "request_id"
	KeyMethod    = "method"
	KeyPath      = "path"
	KeyStatus    = "status"
	KeyDuration  = "duration_ms"
	KeyWorker    = "worker"
	KeyPID       = "pid"
	KeyError     = "error"
	KeyState     = "state"
	KeyAddr      = "addr"
)

var (
	mu       sync.RWMutex
	levelVar = new(slog.LevelVar)
	format   = "text"
	output   io.Writer = os.Stdout
	closer   io.Closer
	slogger  *slog.Logger
)

func init() {
	reconfigure()
}

// reconfigure rebuilds the handler. Callers must not hold mu.
func reconfigure() {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: levelVar}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = slog.NewTextHandler(output, opts)
	}
	slogger = slog.New(h)
}

// Init applies cfg. Empty fields keep their current value.
func Init(cfg Config) error {
	if cfg.Output != "" {
		var w io.Writer
		var c io.Closer
		switch strings.ToLower(cfg.Output) {
		case "stdout":
			w = os.Stdout
		case "stderr":
			w = os.Stderr
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			w, c = f, f
		}

		mu.Lock()
		if closer != nil {
			_ = closer.Close()
		}
		output, closer = w, c
		mu.Unlock()
	}

	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}

	reconfigure()
	return nil
}

// InitWithWriter points the logger at w. Used by tests.
func InitWithWriter(w io.Writer, level, fmtName string) {
	mu.Lock()
	output = w
	mu.Unlock()

	if level != "" {
		SetLevel(level)
	}
	if fmtName != "" {
		SetFormat(fmtName)
	}
	reconfigure()
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		levelVar.Set(slog.LevelDebug)
	case "INFO":
		levelVar.Set(slog.LevelInfo)
	case "WARN":
		levelVar.Set(slog.LevelWarn)
	case "ERROR":
		levelVar.Set(slog.LevelError)
	}
}

// SetFormat switches between text and json output.
func SetFormat(f string) {
	f = strings.ToLower(f)
	if f != "text" && f != "json" {
		return
	}
	mu.Lock()
	format = f
	mu.Unlock()
	reconfigure()
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

func Debug(msg string, args ...any) { get().Debug(msg, args...) }
func Info(msg string, args ...any)  { get().Info(msg, args...) }
func Warn(msg string, args ...any)  { get().Warn(msg, args...) }
func Error(msg string, args ...any) { get().Error(msg, args...) }

// ErrorCtx logs at error level, attaching the request ID carried by ctx.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	get().Error(msg, withRequestID(ctx, args)...)
}

// DebugCtx logs at debug level, attaching the request ID carried by ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	get().Debug(msg, withRequestID(ctx, args)...)
}

// With returns a logger with pre-bound attributes.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

type requestIDKey struct{}

// WithRequestID returns a context carrying id for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request ID stored in ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func withRequestID(ctx context.Context, args []any) []any {
	id := RequestIDFrom(ctx)
	if id == "" {
		return args
	}
	return append([]any{KeyRequestID, id}, args...)
}
