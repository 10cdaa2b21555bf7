package tracelog

import (
	"context"
	"sort"

	charmlog "github.com/charmbracelet/log"
)

// CharmLogger adapts a github.com/charmbracelet/log logger to the Logger interface.
type CharmLogger struct {
	logger *charmlog.Logger
}

// NewCharmLogger wraps logger. A nil logger means the charm default logger.
func NewCharmLogger(logger *charmlog.Logger) *CharmLogger {
	if logger == nil {
		logger = charmlog.Default()
	}

	return &CharmLogger{logger: logger}
}

func (cl *CharmLogger) Log(ctx context.Context, level LogLevel, msg string, data map[string]any) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	keyvals := make([]any, 0, len(data)*2)
	for _, k := range keys {
		keyvals = append(keyvals, k, data[k])
	}

	switch level {
	case LogLevelTrace, LogLevelDebug:
		cl.logger.Debug(msg, keyvals...)
	case LogLevelInfo:
		cl.logger.Info(msg, keyvals...)
	case LogLevelWarn:
		cl.logger.Warn(msg, keyvals...)
	case LogLevelError:
		cl.logger.Error(msg, keyvals...)
	case LogLevelNone:
	default:
		cl.logger.Error(msg, append(keyvals, "INVALID_LOG_LEVEL", level)...)
	}
}
