package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Level represents log level
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the upper-case level name used in log lines
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Output io.Writer
}

// Logger is a small leveled logger with structured fields
type Logger struct {
	level     Level
	format    string
	component string
	out       io.Writer
	logger    *log.Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// New creates a new logger
func New(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	format := strings.ToLower(cfg.Format)
	if format != "json" {
		format = "text"
	}

	l := &Logger{
		level:  parseLevel(cfg.Level),
		format: format,
		out:    output,
	}
	l.logger = l.newStdLogger("")
	return l
}

// WithComponent creates a child logger that tags every line with component
func (l *Logger) WithComponent(component string) *Logger {
	child := &Logger{
		level:     l.level,
		format:    l.format,
		component: component,
		out:       l.out,
	}
	child.logger = child.newStdLogger(component)
	return child
}

// Enabled reports whether messages at lvl would be written
func (l *Logger) Enabled(lvl Level) bool {
	return l.level <= lvl
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Field) {
	if l.level <= DebugLevel {
		l.log(DebugLevel, msg, fields...)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Field) {
	if l.level <= InfoLevel {
		l.log(InfoLevel, msg, fields...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Field) {
	if l.level <= WarnLevel {
		l.log(WarnLevel, msg, fields...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...Field) {
	if l.level <= ErrorLevel {
		l.log(ErrorLevel, msg, fields...)
	}
}

func (l *Logger) newStdLogger(component string) *log.Logger {
	if l.format == "json" {
		return log.New(l.out, "", 0)
	}
	prefix := ""
	if component != "" {
		prefix = fmt.Sprintf("[%s] ", component)
	}
	return log.New(l.out, prefix, log.LstdFlags)
}

func (l *Logger) log(level Level, msg string, fields ...Field) {
	if l.format == "json" {
		l.logJSON(level, msg, fields...)
		return
	}

	if len(fields) == 0 {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}

	fieldStrs := make([]string, 0, len(fields))
	for _, f := range fields {
		fieldStrs = append(fieldStrs, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}

	l.logger.Printf("[%s] %s %s", level, msg, strings.Join(fieldStrs, " "))
}

func (l *Logger) logJSON(level Level, msg string, fields ...Field) {
	entry := make(map[string]interface{}, len(fields)+4)
	for _, f := range fields {
		entry[f.Key] = f.Value
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = strings.ToLower(level.String())
	entry["msg"] = msg
	if l.component != "" {
		entry["component"] = l.component
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf(`{"level":"error","msg":"log marshal failed","error":%q}`, err.Error())
		return
	}
	l.logger.Print(string(data))
}

func parseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Field constructors

// String creates a string field
func String(key, val string) Field {
	return Field{Key: key, Value: val}
}

// Int creates an int field
func Int(key string, val int) Field {
	return Field{Key: key, Value: val}
}

// Int64 creates an int64 field
func Int64(key string, val int64) Field {
	return Field{Key: key, Value: val}
}

// Uint64 creates a uint64 field
func Uint64(key string, val uint64) Field {
	return Field{Key: key, Value: val}
}

// Uint32 creates a uint32 field
func Uint32(key string, val uint32) Field {
	return Field{Key: key, Value: val}
}

// Bool creates a bool field
func Bool(key string, val bool) Field {
	return Field{Key: key, Value: val}
}

// Float64 creates a float64 field
func Float64(key string, val float64) Field {
	return Field{Key: key, Value: val}
}

// Duration creates a duration field rendered as a Go duration string
func Duration(key string, val time.Duration) Field {
	return Field{Key: key, Value: val.String()}
}

// Error creates an error field
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "nil"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Any creates a field with any value
func Any(key string, val interface{}) Field {
	return Field{Key: key, Value: val}
}
