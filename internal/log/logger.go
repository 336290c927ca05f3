// Package log carries the component-tagged slog logger used across the
// ledger and the request-scoped copy handed to HTTP handlers.
package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Logger is a slog.Logger that remembers which component it belongs to.
type Logger struct {
	*slog.Logger
	component string
	// root is the handler before any attributes were added; attrs are the
	// ones added through With, replayed when the component changes.
	root  slog.Handler
	attrs []any
}

type Config struct {
	Level     slog.Level
	Component string
	// Handler overrides the default text handler on stdout.
	Handler slog.Handler
}

func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Component: ComponentApp,
	}
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New builds a logger. Every record carries the component when one is set.
func New(cfg Config) *Logger {
	handler := cfg.Handler
	if handler == nil {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level})
	}
	l := slog.New(handler)
	if cfg.Component != "" {
		l = l.With(FieldComponent, cfg.Component)
	}
	return &Logger{Logger: l, component: cfg.Component, root: handler}
}

func (l *Logger) With(args ...any) *Logger {
	attrs := append(append([]any{}, l.attrs...), args...)
	return &Logger{Logger: l.Logger.With(args...), component: l.component, root: l.root, attrs: attrs}
}

// WithComponent derives a logger for another component. The component
// attribute is replaced rather than repeated.
func (l *Logger) WithComponent(component string) *Logger {
	root := l.root
	if root == nil {
		root = l.Handler()
	}
	next := slog.New(root).With(FieldComponent, component)
	if len(l.attrs) > 0 {
		next = next.With(l.attrs...)
	}
	return &Logger{Logger: next, component: component, root: root, attrs: l.attrs}
}

// ForWorkspace tags records with the acting user and the workspace.
func (l *Logger) ForWorkspace(actor, workspaceID string) *Logger {
	return l.With(FieldActor, actor, FieldWorkspaceID, workspaceID)
}

func (l *Logger) Component() string {
	return l.component
}

// SetDefault installs logger as the slog default.
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}
