// Package logging provides simple leveled logging for kbnet.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger wraps stdlib log with level support and a fixed set of context
// fields that get prepended to every message.
type Logger struct {
	logger  *log.Logger
	level   LogLevel
	format  string
	noColor bool
	mu      *sync.Mutex
	fields  []any
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logging configuration
type Config struct {
	Level   LogLevel
	Output  io.Writer
	Format  string // "text" (default) or "json"
	Sync    bool   // reserved for future async sink support; currently always synchronous
	NoColor bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
		Format: "text",
	}
}

// NewLogger creates a new logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		logger:  log.New(output, "", log.LstdFlags),
		level:   config.Level,
		format:  format,
		noColor: config.NoColor,
		mu:      &sync.Mutex{},
	}
}

// Default returns the default logger, creating it if necessary
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
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithFields returns a child logger that prepends the given key-value pairs
// to every message it logs. The parent's mutex and sink are shared.
func (l *Logger) WithFields(args ...any) *Logger {
	child := &Logger{
		logger:  l.logger,
		level:   l.level,
		format:  l.format,
		noColor: l.noColor,
		mu:      l.mu,
		fields:  append(append([]any{}, l.fields...), args...),
	}
	return child
}

// WithPort returns a child logger tagged with a NIC port id.
func (l *Logger) WithPort(portID uint16) *Logger {
	return l.WithFields("port_id", portID)
}

// WithQueue returns a child logger tagged with a queue id, in addition to
// whatever context this logger already carries.
func (l *Logger) WithQueue(queueID uint16) *Logger {
	return l.WithFields("queue_id", queueID)
}

// WithFd returns a child logger tagged with a socket fd.
func (l *Logger) WithFd(fd int) *Logger {
	return l.WithFields("fd", fd)
}

// WithError returns a child logger tagged with an error value.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err)
}

// formatArgs converts key-value pairs to a string
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]any{}, l.fields...), args...)
	if l.format == "json" {
		l.logger.Printf(`{"level":%q,"msg":%q%s}`, prefix, msg, jsonFields(all))
		return
	}
	l.logger.Printf("%s %s%s", prefix, msg, formatArgs(all))
}

func jsonFields(args []any) string {
	var out string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			out += fmt.Sprintf(`,%q:%q`, fmt.Sprint(args[i]), fmt.Sprint(args[i+1]))
		}
	}
	return out
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, "[INFO]", msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, "[WARN]", msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, "[ERROR]", msg, args...)
}

// Printf-style logging
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...))
}

// Printf for compatibility
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
