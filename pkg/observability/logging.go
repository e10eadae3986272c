// Package observability provides the logging and Prometheus metrics the
// index packages hang their build, search, and serialization telemetry on.
package observability

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel orders log line severities. Anything below the logger's
// configured level is dropped.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the level tag written into each log line.
func (l LogLevel) String() string {
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

// ParseLogLevel maps a configuration string (NNINDEX_LOG_LEVEL) to a level,
// case-insensitively. Unknown strings fall back to InfoLevel rather than
// failing: a typo in an env var should not silence an index.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
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

// Logger writes leveled, field-tagged lines for index operations. It is
// deliberately small: one line per completed operation, no format-string
// variants, no call-site capture. Anything that wants aggregation belongs
// in Metrics, not in log output.
//
// Fields are emitted in sorted key order so that a given operation always
// produces the same line, and a mutex serializes writes: batch search fans
// out across workers, and two workers finishing at once must not interleave
// their lines.
type Logger struct {
	mu    sync.Mutex
	level LogLevel
	out   io.Writer
}

// NewLogger returns a logger writing lines at or above level to out.
// A nil out selects os.Stderr, keeping log lines away from result output.
func NewLogger(level LogLevel, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{level: level, out: out}
}

// NewDefaultLogger returns an InfoLevel logger writing to os.Stderr.
func NewDefaultLogger() *Logger {
	return NewLogger(InfoLevel, nil)
}

// SetLevel changes the minimum level of subsequent lines.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Enabled reports whether a line at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

// Debug writes a DebugLevel line.
func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	l.log(DebugLevel, msg, fields)
}

// Info writes an InfoLevel line.
func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.log(InfoLevel, msg, fields)
}

// Warn writes a WarnLevel line.
func (l *Logger) Warn(msg string, fields map[string]interface{}) {
	l.log(WarnLevel, msg, fields)
}

// Error writes an ErrorLevel line.
func (l *Logger) Error(msg string, fields map[string]interface{}) {
	l.log(ErrorLevel, msg, fields)
}

func (l *Logger) log(level LogLevel, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(level.String())
	b.WriteByte(' ')
	b.WriteString(msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')

	l.out.Write([]byte(b.String()))
}

// QueryLogger is the shape the trees log through: one line per completed
// build, search, or serialize, and one per failed operation. The tree and
// op tags match the label values the same operations record in Metrics, so
// a log line and its metric series can be joined by eye.
type QueryLogger struct {
	logger *Logger
}

// NewQueryLogger wraps logger for use by a tree's WithLogger option.
func NewQueryLogger(logger *Logger) *QueryLogger {
	return &QueryLogger{logger: logger}
}

// LogQuery logs one completed operation against a tree. fields carries the
// operation's own details (batch size, seed, result counts, blob bytes);
// tree, op, status, and duration are tagged onto every line.
func (ql *QueryLogger) LogQuery(tree, op, status string, duration time.Duration, fields map[string]interface{}) {
	all := map[string]interface{}{
		"tree":     tree,
		"op":       op,
		"status":   status,
		"duration": duration,
	}
	for k, v := range fields {
		all[k] = v
	}
	ql.logger.Info("query", all)
}

// LogQueryError logs a failed operation at ErrorLevel, tagged with the
// error's kind-bearing message.
func (ql *QueryLogger) LogQueryError(tree, op string, err error) {
	ql.logger.Error("query", map[string]interface{}{
		"tree":   tree,
		"op":     op,
		"status": "error",
		"error":  err.Error(),
	})
}
