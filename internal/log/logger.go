// Package log holds the process-wide slog logger. Records go to stderr so
// stdout stays clean for call results.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup installs the global logger on stderr. Unknown levels mean info;
// format "text" selects the text handler, anything else JSON.
func Setup(level, format string) {
	SetupWriter(os.Stderr, level, format)
}

// SetupWriter is Setup with an explicit destination. Later calls are ignored.
func SetupWriter(w io.Writer, level, format string) {
	once.Do(func() {
		logger = slog.New(newHandler(w, parseLevel(level), format))
		slog.SetDefault(logger)
	})
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Get returns the global logger, installing a JSON one at info if needed.
func Get() *slog.Logger {
	if logger == nil {
		Setup("info", "json")
	}
	return logger
}

func WithComponent(name string) *slog.Logger {
	return Get().With("component", name)
}

// WithCall tags records with the call ID shared by events and the journal.
func WithCall(id string) *slog.Logger {
	return Get().With("call_id", id)
}

func WithAPI(api, method string) *slog.Logger {
	return Get().With("api", api, "method", method)
}

func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }
