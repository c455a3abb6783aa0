package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names a subsystem. It is written as the "component" field of
// every record its logger emits.
type Component string

const (
	CompSnapshot Component = "snapshot"
	CompDetector Component = "detector"
	CompMonitor  Component = "monitor"
	CompVCS      Component = "vcs"
	CompServer   Component = "server"
	CompWatch    Component = "watch"
	CompCLI      Component = "cli"
)

// LogFileName is the active log file inside Config.LogDir.
const LogFileName = "agentwatch.log"

// Config holds logging configuration.
type Config struct {
	// LogDir is the directory for log files (e.g. ~/.local/state/agentwatch)
	LogDir string

	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format is "json" (default) or "text"
	Format string

	// MaxSizeMB is the max size in MB before rotation (default: 10)
	MaxSizeMB int

	// MaxBackups is rotated files to keep (default: 5)
	MaxBackups int

	// MaxAgeDays is days to keep rotated files (default: 10)
	MaxAgeDays int

	// Compress rotated files
	Compress bool

	// Debug mirrors every record to stderr.
	Debug bool
}

var (
	globalLogger *slog.Logger
	globalMu     sync.RWMutex
	lumberjackW  *lumberjack.Logger
)

// ParseLevel maps a level name to a slog.Level. Unknown names yield info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Init initializes the global logging system.
// When debug is false and no log dir is provided, logs are discarded.
func Init(cfg Config) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 10
	}

	if !cfg.Debug && cfg.LogDir == "" {
		globalLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
		return
	}

	var writers []io.Writer
	if cfg.LogDir != "" {
		lumberjackW = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, LogFileName),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, lumberjackW)
	}
	if cfg.Debug {
		writers = append(writers, os.Stderr)
	}

	handlerOpts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}

	out := io.MultiWriter(writers...)
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	globalLogger = slog.New(handler)
}

var discard = slog.New(slog.NewJSONHandler(io.Discard, nil))

// Logger returns the global logger, or a discarding one before Init.
func Logger() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return discard
	}
	return globalLogger
}

// ForComponent returns a logger tagged with c. It may be created before Init,
// e.g. as a package-level var; records go to whatever Init installed last.
func ForComponent(c Component) *slog.Logger {
	return slog.New(routed{}.WithAttrs([]slog.Attr{slog.String("component", string(c))}))
}

// ForDetector is ForComponent(CompDetector) with the agent name attached.
func ForDetector(agent string) *slog.Logger {
	return ForComponent(CompDetector).With(slog.String("agent", agent))
}

// routed resolves the global handler on every call and replays the attrs and
// groups added to it, in the order they were added.
type routed struct {
	steps []routeStep
}

// routeStep is one WithGroup (group set) or WithAttrs (attrs set) call.
type routeStep struct {
	group string
	attrs []slog.Attr
}

func (h routed) target() slog.Handler {
	out := Logger().Handler()
	for _, st := range h.steps {
		if st.group != "" {
			out = out.WithGroup(st.group)
		} else {
			out = out.WithAttrs(st.attrs)
		}
	}
	return out
}

func (h routed) push(st routeStep) routed {
	steps := make([]routeStep, len(h.steps), len(h.steps)+1)
	copy(steps, h.steps)
	return routed{steps: append(steps, st)}
}

func (h routed) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h routed) Handle(ctx context.Context, r slog.Record) error {
	return h.target().Handle(ctx, r)
}

func (h routed) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.push(routeStep{attrs: attrs})
}

func (h routed) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.push(routeStep{group: name})
}

// Shutdown closes the rotating writer and resets the global logger.
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if lumberjackW != nil {
		lumberjackW.Close()
		lumberjackW = nil
	}
	globalLogger = nil
}
