package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

var slogLevels = map[LogLevel]slog.Level{
	DebugLevel: slog.LevelDebug,
	InfoLevel:  slog.LevelInfo,
	WarnLevel:  slog.LevelWarn,
	ErrorLevel: slog.LevelError,
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return levelNames[InfoLevel]
}

func (l LogLevel) toSlog() slog.Level {
	if lvl, ok := slogLevels[l]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// ParseLogLevel maps a case-insensitive level name to a LogLevel.
// Unknown names fall back to InfoLevel.
func ParseLogLevel(s string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		return WarnLevel
	}
	for level, n := range levelNames {
		if n == name {
			return level
		}
	}
	return InfoLevel
}

// Logger writes structured JSON lines through slog. Derived loggers share
// the handler and carry their own fields.
type Logger struct {
	logger *slog.Logger
	level  LogLevel
}

// NewLogger creates a logger writing to output, or stdout when nil
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level.toSlog()})
	return &Logger{logger: slog.New(handler), level: level}
}

// Level returns the minimum level this logger emits
func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), level: l.level}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(key, value)
}

// WithFields adds multiple fields in key order
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return l.with(args...)
}

// WithError adds err under "error". A nil error returns l unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

// WithSubject adds the org, user and site of an authorization query,
// skipping empty values
func (l *Logger) WithSubject(orgID, userID, siteID string) *Logger {
	args := make([]any, 0, 6)
	for _, kv := range [][2]string{{"org_id", orgID}, {"user_id", userID}, {"site_id", siteID}} {
		if kv[1] != "" {
			args = append(args, kv[0], kv[1])
		}
	}
	if len(args) == 0 {
		return l
	}
	return l.with(args...)
}

func (l *Logger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l *Logger) Debug(message string) { l.log(slog.LevelDebug, message) }
func (l *Logger) Info(message string)  { l.log(slog.LevelInfo, message) }
func (l *Logger) Warn(message string)  { l.log(slog.LevelWarn, message) }
func (l *Logger) Error(message string) { l.log(slog.LevelError, message) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(slog.LevelDebug, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(slog.LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(slog.LevelWarn, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(slog.LevelError, fmt.Sprintf(format, args...))
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return contextkeys.WithLogger(ctx, logger)
}

// GetLogger retrieves the logger from context, or a default stdout logger
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextkeys.LoggerKey).(*Logger); ok {
		return logger
	}
	return NewLogger(InfoLevel, os.Stdout)
}

// FromContext returns the context logger decorated with the request ID and
// the authorization subject found in ctx
func FromContext(ctx context.Context) *Logger {
	logger := GetLogger(ctx)
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	return logger.WithSubject(
		contextkeys.GetOrgID(ctx),
		contextkeys.GetPrincipal(ctx),
		contextkeys.GetSiteID(ctx),
	)
}
