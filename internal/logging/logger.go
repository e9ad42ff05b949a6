// Package logging provides the structured logger every component of
// the replication core takes at construction time.
package logging

import (
	"context"
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

type SlogLogger struct {
	logger *slog.Logger
}

func New(level slog.Level) *SlogLogger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	return &SlogLogger{logger: logger}
}

const prefix = "[suset] "

func (d *SlogLogger) Debug(msg string, args ...any) { d.logger.Debug(prefix+msg, args...) }
func (d *SlogLogger) Info(msg string, args ...any)  { d.logger.Info(prefix+msg, args...) }
func (d *SlogLogger) Warn(msg string, args ...any)  { d.logger.Warn(prefix+msg, args...) }
func (d *SlogLogger) Error(msg string, args ...any) { d.logger.Error(prefix+msg, args...) }

type defaultArgsKey struct{}

func getDefaultArgs(ctx context.Context) []any {
	v := ctx.Value(defaultArgsKey{})
	if v == nil {
		return nil
	}
	return v.([]any)
}

// WithDefaultArgs attaches key/value pairs that every *Ctx log call made
// against this context will append automatically, e.g. clone id, domain.
func WithDefaultArgs(ctx context.Context, args ...any) context.Context {
	merged := append(append([]any{}, getDefaultArgs(ctx)...), args...)
	return context.WithValue(ctx, defaultArgsKey{}, merged)
}

func (d *SlogLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	d.logger.Debug(prefix+msg, append(args, getDefaultArgs(ctx)...)...)
}

func (d *SlogLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	d.logger.Info(prefix+msg, append(args, getDefaultArgs(ctx)...)...)
}

func (d *SlogLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	d.logger.Warn(prefix+msg, append(args, getDefaultArgs(ctx)...)...)
}

func (d *SlogLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	d.logger.Error(prefix+msg, append(args, getDefaultArgs(ctx)...)...)
}

// Nop discards everything; used as the default in tests and wherever a
// caller hasn't supplied a Logger.
type Nop struct{}

func (Nop) Debug(string, ...any) {}
func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}
func (Nop) DebugCtx(context.Context, string, ...any) {}
func (Nop) InfoCtx(context.Context, string, ...any)  {}
func (Nop) WarnCtx(context.Context, string, ...any)  {}
func (Nop) ErrorCtx(context.Context, string, ...any) {}
