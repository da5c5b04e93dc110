package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/zkgate/zkgate-core/internal/infrastructure/config"
)

// Logger is the gateway's structured logger. It embeds slog.Logger, so
// the usual Debug/Info/Warn/Error calls work directly, and every line
// carries the service and version attributes.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the configured level, format, and output.
// Unrecognised values fall back to info, JSON, and stdout.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return newLogger(cfg, version, w)
}

func newLogger(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "zkgate"),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// With returns a child logger carrying extra default attributes, used
// to tag each subsystem's lines with its component name.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is for early startup, before the config file has been read.
// JSON to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
