package tracelog

import "context"

// MultiLogger fans every message out to several loggers. Use NewMultiLogger to
// build one.
type MultiLogger struct {
	Loggers []Logger
}

// NewMultiLogger returns a MultiLogger that forwards to every logger in order.
// nil loggers are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	var m MultiLogger

	for _, logger := range loggers {
		if logger == nil {
			continue
		}

		m.Loggers = append(m.Loggers, logger)
	}

	return &m
}

func (m *MultiLogger) Log(ctx context.Context, level LogLevel, msg string, data map[string]any) {
	for _, logger := range m.Loggers {
		logger.Log(ctx, level, msg, data)
	}
}
