package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
)

// Logger is the process logger. Every entry carries service and version;
// subsystem loggers add a component attribute.
//
// Thread Safety:
//   - Safe for concurrent use; Component and With share the output.
type Logger struct {
	*slog.Logger
	out io.Closer
}

// New builds the logger described by the logging config section.
//
// Parameters:
//   - cfg: Level, format and destination
//   - version: Stamped on every entry
//
// Returns:
//   - *Logger: Call Close on shutdown when output is "file"
func New(cfg config.LoggingConfig, version string) *Logger {
	w, closer := destination(cfg)
	return &Logger{
		Logger: slog.New(handler(w, cfg.Format, parseLevel(cfg.Level), version)),
		out:    closer,
	}
}

// Default logs JSON at info to stdout. It serves until the config is read.
func Default() *Logger {
	return New(config.LoggingConfig{Format: "json", Output: "stdout"}, "dev")
}

func handler(w io.Writer, format string, level slog.Level, version string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return h.WithAttrs([]slog.Attr{
		slog.String("service", "nodelink"),
		slog.String("version", version),
	})
}

// destination resolves logging.output. "file" rotates through lumberjack,
// which creates the directory on first write.
func destination(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	switch strings.ToLower(cfg.Output) {
	case "file":
		rot := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    max(cfg.File.MaxSize, 1),
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		return rot, rot
	case "stderr":
		return os.Stderr, nil
	}
	return os.Stdout, nil
}

// parseLevel maps debug, info, warn(ing) and error; anything else is info.
func parseLevel(s string) slog.Level {
	var level slog.Level
	if strings.EqualFold(s, "warning") {
		s = "warn"
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// With returns a child logger with extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), out: l.out}
}

// Component returns a child logger tagged component=name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Close releases the log file. It does nothing for stdout and stderr.
func (l *Logger) Close() error {
	if l.out == nil {
		return nil
	}
	return l.out.Close()
}
