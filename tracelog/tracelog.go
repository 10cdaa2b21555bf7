// Package tracelog provides the leveled logging hooks used by poolsource and its
// statement caches.
//
// poolsource does not log on its own. A DriverSource or statement cache that is given
// a Logger reports connection establishment, statement cache activity, and background
// eviction through it. Adapters for concrete logging libraries live alongside the
// Logger interface; NewCharmLogger adapts github.com/charmbracelet/log.
package tracelog

import (
	"context"
	"fmt"
)

// LogLevel is the severity of a log message. Levels are ordered from LogLevelTrace
// down to LogLevelNone so that a simple comparison answers "is this level enabled".
type LogLevel int

const (
	LogLevelTrace = LogLevel(6)
	LogLevelDebug = LogLevel(5)
	LogLevelInfo  = LogLevel(4)
	LogLevelWarn  = LogLevel(3)
	LogLevelError = LogLevel(2)
	LogLevelNone  = LogLevel(1)
)

func (ll LogLevel) String() string {
	switch ll {
	case LogLevelTrace:
		return "trace"
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelNone:
		return "none"
	default:
		return fmt.Sprintf("invalid level %d", ll)
	}
}

// LogLevelFromString converts a level name to a LogLevel. It returns an error for
// names it does not recognize.
func LogLevelFromString(s string) (LogLevel, error) {
	switch s {
	case "trace":
		return LogLevelTrace, nil
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none":
		return LogLevelNone, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", s)
	}
}

// Logger is the interface poolsource logs through.
//
// The data map holds structured context for the message, such as the driver name or
// the statement key. Implementations must not retain the map past the call.
type Logger interface {
	Log(ctx context.Context, level LogLevel, msg string, data map[string]any)
}

// LoggerFunc is an adapter to allow use of ordinary functions as Loggers.
type LoggerFunc func(ctx context.Context, level LogLevel, msg string, data map[string]any)

// Log calls f itself.
func (f LoggerFunc) Log(ctx context.Context, level LogLevel, msg string, data map[string]any) {
	f(ctx, level, msg, data)
}
