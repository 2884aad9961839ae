package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

var defaultLogger Logger = NewLogger(nil)

type (
	LogLevel string
	// Logger defines the interface for structured logging
	Logger interface {
		Debug(msg string, keyvals ...any)
		Info(msg string, keyvals ...any)
		Warn(msg string, keyvals ...any)
		Error(msg string, keyvals ...any)
		With(keyvals ...any) Logger
	}

	// loggerImpl implements Logger interface using charm logger and mirrors
	// every emitted record onto the configured Stream.
	loggerImpl struct {
		charmLogger *charmlog.Logger
		stream      *Stream
		scope       string
		keyvals     []any
	}
)

const (
	DebugLevel    LogLevel = "debug"
	InfoLevel     LogLevel = "info"
	WarnLevel     LogLevel = "warn"
	ErrorLevel    LogLevel = "error"
	DisabledLevel LogLevel = "disabled"
	NoLevel       LogLevel = ""
)

func (c *LogLevel) String() string {
	return string(*c)
}

func (c *LogLevel) ToCharmlogLevel() charmlog.Level {
	switch *c {
	case DebugLevel:
		return charmlog.DebugLevel
	case InfoLevel:
		return charmlog.InfoLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	case DisabledLevel:
		return charmlog.Level(1000)
	default:
		return charmlog.InfoLevel
	}
}

func (l *loggerImpl) Debug(msg string, keyvals ...any) {
	l.charmLogger.Debug(msg, keyvals...)
	l.publish(DebugLevel, msg, keyvals)
}

func (l *loggerImpl) Info(msg string, keyvals ...any) {
	l.charmLogger.Info(msg, keyvals...)
	l.publish(InfoLevel, msg, keyvals)
}

func (l *loggerImpl) Warn(msg string, keyvals ...any) {
	l.charmLogger.Warn(msg, keyvals...)
	l.publish(WarnLevel, msg, keyvals)
}

func (l *loggerImpl) Error(msg string, keyvals ...any) {
	l.charmLogger.Error(msg, keyvals...)
	l.publish(ErrorLevel, msg, keyvals)
}

func (l *loggerImpl) With(keyvals ...any) Logger {
	merged := make([]any, 0, len(l.keyvals)+len(keyvals))
	merged = append(merged, l.keyvals...)
	merged = append(merged, keyvals...)
	return &loggerImpl{
		charmLogger: l.charmLogger.With(keyvals...),
		stream:      l.stream,
		scope:       l.scope,
		keyvals:     merged,
	}
}

// withScope returns a copy whose records are tagged with scope on the stream.
func (l *loggerImpl) withScope(scope string) *loggerImpl {
	if l.scope == scope {
		return l
	}
	return &loggerImpl{
		charmLogger: l.charmLogger,
		stream:      l.stream,
		scope:       scope,
		keyvals:     l.keyvals,
	}
}

func (l *loggerImpl) publish(level LogLevel, msg string, keyvals []any) {
	if l.stream == nil {
		return
	}
	if level.ToCharmlogLevel() < l.charmLogger.GetLevel() {
		return
	}
	all := make([]any, 0, len(l.keyvals)+len(keyvals))
	all = append(all, l.keyvals...)
	all = append(all, keyvals...)
	l.stream.Publish(Entry{
		Level:   level,
		Scope:   l.scope,
		Message: msg,
		Keyvals: all,
	})
}

type Config struct {
	Level      LogLevel
	Output     io.Writer
	JSON       bool
	AddSource  bool
	TimeFormat string
	// Stream receives a copy of every record; nil disables mirroring.
	Stream *Stream
}

func DefaultConfig() *Config {
	return &Config{
		Level:      InfoLevel,
		Output:     os.Stdout,
		JSON:       false,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}
}

// TestConfig returns a configuration that keeps test output quiet.
func TestConfig() *Config {
	return &Config{
		Level:      DisabledLevel,
		Output:     io.Discard,
		TimeFormat: "15:04:05",
	}
}

func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	charmLogger := charmlog.NewWithOptions(output, charmlog.Options{
		ReportCaller:    cfg.AddSource,
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Level:           cfg.Level.ToCharmlogLevel(),
	})
	if cfg.JSON {
		charmLogger.SetFormatter(charmlog.JSONFormatter)
	} else {
		charmLogger.SetFormatter(charmlog.TextFormatter)
		charmLogger.SetStyles(getDefaultStyles())
	}
	return &loggerImpl{charmLogger: charmLogger, stream: cfg.Stream}
}

func Init(cfg *Config) error {
	logger := NewLogger(cfg)
	if _, ok := logger.(*loggerImpl); !ok {
		return fmt.Errorf("failed to initialize logger")
	}
	defaultLogger = logger
	return nil
}

type ContextKey string

const (
	LoggerCtxKey ContextKey = "logger"
	ScopeCtxKey  ContextKey = "log_scope"
)

func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, LoggerCtxKey, l)
}

// ContextWithScope marks every record logged through FromContext(ctx) with
// scope, which is what log capture filters on.
func ContextWithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, ScopeCtxKey, scope)
}

func ScopeFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	scope, _ := ctx.Value(ScopeCtxKey).(string)
	return scope
}

func FromContext(ctx context.Context) Logger {
	base := defaultLogger
	if ctx != nil {
		if l, ok := ctx.Value(LoggerCtxKey).(Logger); ok && l != nil {
			base = l
		}
	}
	scope := ScopeFromContext(ctx)
	if impl, ok := base.(*loggerImpl); ok && scope != "" {
		return impl.withScope(scope)
	}
	return base
}

func GetDefault() Logger {
	return defaultLogger
}

func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

func With(args ...any) Logger {
	return defaultLogger.With(args...)
}
