package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type ctxKey struct{}

type Options struct {
	Service string
	// Level is any slog level name ("debug", "warn", "INFO+2"). Unknown
	// names log at info.
	Level string
	// Format is "json" or "text".
	Format    string
	AddSource bool
}

// FormatFor picks text output for development and JSON everywhere else.
func FormatFor(appEnv string) string {
	if appEnv == "development" {
		return "text"
	}
	return "json"
}

// Init installs the process logger on stdout.
func Init(opts Options) *slog.Logger {
	logger := New(os.Stdout, opts)
	slog.SetDefault(logger)
	return logger
}

func New(w io.Writer, opts Options) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = slog.LevelInfo
	}
	ho := &slog.HandlerOptions{Level: level, AddSource: opts.AddSource}

	var h slog.Handler = slog.NewJSONHandler(w, ho)
	if opts.Format == "text" {
		h = slog.NewTextHandler(w, ho)
	}
	if opts.Service == "" {
		return slog.New(h)
	}
	return slog.New(h).With("service", opts.Service)
}

func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// WithFields returns a context whose logger carries args on every line.
func WithFields(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(args...))
}
