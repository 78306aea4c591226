package utils

import (
	"context"
	"io"
	"log/slog"
	"os"
)

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

func NewDefaultLogger(level slog.Level) *DefaultLogger {
	return NewWriterLogger(os.Stderr, level)
}

// NewWriterLogger logs text records into w; tests pass io.Discard or a buffer.
func NewWriterLogger(w io.Writer, level slog.Level) *DefaultLogger {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	return &DefaultLogger{logger: logger}
}

func NewNopLogger() *DefaultLogger {
	return NewWriterLogger(io.Discard, slog.LevelError)
}

const prefix = "[mirror] "

func (d *DefaultLogger) Debug(msg string, args ...any) {
	d.logger.Debug(prefix+msg, args...)
}

func (d *DefaultLogger) Info(msg string, args ...any) {
	d.logger.Info(prefix+msg, args...)
}

func (d *DefaultLogger) Warn(msg string, args ...any) {
	d.logger.Warn(prefix+msg, args...)
}

func (d *DefaultLogger) Error(msg string, args ...any) {
	d.logger.Error(prefix+msg, args...)
}

type defaultArgsKey struct{}

func getDefaultArgs(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	args, _ := ctx.Value(defaultArgsKey{}).([]any)
	return args
}

// WithDefaultArgs attaches key/value pairs that every *Ctx log call appends,
// e.g. the peer a batch came from.
func WithDefaultArgs(ctx context.Context, args ...any) context.Context {
	prev := getDefaultArgs(ctx)
	dargs := make([]any, 0, len(prev)+len(args))
	dargs = append(dargs, prev...)
	dargs = append(dargs, args...)
	return context.WithValue(ctx, defaultArgsKey{}, dargs)
}

func (d *DefaultLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	args = append(args, getDefaultArgs(ctx)...)
	d.logger.Debug(prefix+msg, args...)
}

func (d *DefaultLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	args = append(args, getDefaultArgs(ctx)...)
	d.logger.Info(prefix+msg, args...)
}

func (d *DefaultLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	args = append(args, getDefaultArgs(ctx)...)
	d.logger.Warn(prefix+msg, args...)
}

func (d *DefaultLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	args = append(args, getDefaultArgs(ctx)...)
	d.logger.Error(prefix+msg, args...)
}
