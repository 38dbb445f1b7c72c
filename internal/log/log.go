// Package log provides structured logging utilities and configuration.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

type ctxKey string

const (
	slogFields       ctxKey = "slog_fields"
	priorityCritical        = "critical"
)

// Config is read from LOG_* environment variables.
type Config struct {
	Level     string `env:"LOG_LEVEL" envDefault:"debug"`
	AddSource bool   `env:"LOG_ADD_SOURCE" envDefault:"false"`
	Format    string `env:"LOG_FORMAT" envDefault:"json"`
}

type contextHandler struct {
	slog.Handler
}

// Handle adds contextual attributes to the Record before calling the underlying handler
func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(slogFields).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

// AppendCtx adds an slog attribute to the provided context so that it will be
// included in any Record created with such context
func AppendCtx(parent context.Context, attr slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	prev, _ := parent.Value(slogFields).([]slog.Attr)
	attrs := make([]slog.Attr, 0, len(prev)+1)
	attrs = append(attrs, prev...)
	return context.WithValue(parent, slogFields, append(attrs, attr))
}

// NewLogger builds a logger writing to w that honors AppendCtx attributes.
func NewLogger(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(contextHandler{h})
}

// InitStructureLogConfig sets the default logger from the environment.
func InitStructureLogConfig() (*slog.Logger, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	logger := NewLogger(os.Stdout, cfg)
	slog.SetDefault(logger)
	logger.Debug("log config", "log_level", cfg.Level, "log_add_source", cfg.AddSource, "log_format", cfg.Format)
	return logger, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// Priority creates a slog.Attr for error priority classification
func Priority(level string) slog.Attr {
	return slog.String("priority", level)
}

// PriorityCritical marks errors that should be escalated.
func PriorityCritical() slog.Attr {
	return Priority(priorityCritical)
}
