// Package logging provides the structured logging facade used across the
// remote-node client. It wraps zerolog so call sites stay small and the
// choice of backend can change without touching every component.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger behind the Debug/Info/Warn/Error,
// key-value signature the rest of the module calls into.
type Logger struct {
	z zerolog.Logger
}

// Config holds logging configuration.
type Config struct {
	Level  zerolog.Level
	Output io.Writer
}

// DefaultConfig returns a sensible default configuration: info level,
// stderr output.
func DefaultConfig() *Config {
	return &Config{
		Level:  zerolog.InfoLevel,
		Output: os.Stderr,
	}
}

// New creates a new Logger from the given config (nil uses DefaultConfig).
func New(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	z := zerolog.New(output).With().Timestamp().Logger().Level(config.Level)
	return &Logger{z: z}
}

// With returns a child logger carrying an additional field for every
// subsequent line, such as a correlation id.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Default returns the process-wide default logger, creating it lazily.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

func logEvent(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

// Debug logs at debug level with alternating key/value pairs.
func (l *Logger) Debug(msg string, kv ...any) { logEvent(l.z.Debug(), msg, kv) }

// Info logs at info level with alternating key/value pairs.
func (l *Logger) Info(msg string, kv ...any) { logEvent(l.z.Info(), msg, kv) }

// Warn logs at warn level with alternating key/value pairs.
func (l *Logger) Warn(msg string, kv ...any) { logEvent(l.z.Warn(), msg, kv) }

// Error logs at error level with alternating key/value pairs.
func (l *Logger) Error(msg string, kv ...any) { logEvent(l.z.Error(), msg, kv) }

// Package-level convenience functions operating on the default logger.

func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
