package utils

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is what every mural component logs through. The Ctx variants
// append the attributes stored by WithDefaultArgs, typically a room name
// or a connection trace id.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	DebugCtx(ctx context.Context, msg string, args ...any)
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)
}

type DefaultLogger struct {
	logger *slog.Logger
}

// NewDefaultLogger writes text records to stderr.
func NewDefaultLogger(level slog.Level) *DefaultLogger {
	return NewTextLogger(os.Stderr, level)
}

func NewTextLogger(w io.Writer, level slog.Level) *DefaultLogger {
	return &DefaultLogger{logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

const prefix = "[mural] "

type defaultArgsKey struct{}

func defaultArgs(ctx context.Context) []any {
	args, _ := ctx.Value(defaultArgsKey{}).([]any)
	return args
}

// WithDefaultArgs adds key-value pairs to every Ctx log call made with the
// returned context.
func WithDefaultArgs(ctx context.Context, args ...any) context.Context {
	prev := defaultArgs(ctx)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(append(merged, prev...), args...)
	return context.WithValue(ctx, defaultArgsKey{}, merged)
}

func (d *DefaultLogger) log(ctx context.Context, level slog.Level, msg string, args []any) {
	if !d.logger.Enabled(ctx, level) {
		return
	}
	d.logger.Log(ctx, level, prefix+msg, append(args, defaultArgs(ctx)...)...)
}

func (d *DefaultLogger) Debug(msg string, args ...any) {
	d.log(context.Background(), slog.LevelDebug, msg, args)
}

func (d *DefaultLogger) Info(msg string, args ...any) {
	d.log(context.Background(), slog.LevelInfo, msg, args)
}

func (d *DefaultLogger) Warn(msg string, args ...any) {
	d.log(context.Background(), slog.LevelWarn, msg, args)
}

func (d *DefaultLogger) Error(msg string, args ...any) {
	d.log(context.Background(), slog.LevelError, msg, args)
}

func (d *DefaultLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	d.log(ctx, slog.LevelDebug, msg, args)
}

func (d *DefaultLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	d.log(ctx, slog.LevelInfo, msg, args)
}

func (d *DefaultLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	d.log(ctx, slog.LevelWarn, msg, args)
}

func (d *DefaultLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	d.log(ctx, slog.LevelError, msg, args)
}

// ParseLevel reads a -log-level value: debug, info, warn or error, case
// insensitive, optionally with an offset such as "warn+2".
func ParseLevel(s string) (level slog.Level, err error) {
	err = level.UnmarshalText([]byte(strings.TrimSpace(s)))
	return
}
