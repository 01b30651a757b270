package log

import "github.com/rs/zerolog"

// Leveled adapts the package logger to the key/value logging interface used by
// HTTP client libraries such as go-retryablehttp.
type Leveled struct {
	Component string
}

func (l Leveled) Error(msg string, keysAndValues ...interface{}) {
	logger := l.logger()
	emit(logger.Error(), msg, keysAndValues)
}

func (l Leveled) Warn(msg string, keysAndValues ...interface{}) {
	logger := l.logger()
	emit(logger.Warn(), msg, keysAndValues)
}

func (l Leveled) Info(msg string, keysAndValues ...interface{}) {
	logger := l.logger()
	emit(logger.Info(), msg, keysAndValues)
}

// Debug goes out at trace: the HTTP client chats on every attempt.
func (l Leveled) Debug(msg string, keysAndValues ...interface{}) {
	logger := l.logger()
	emit(logger.Trace(), msg, keysAndValues)
}

func (l Leveled) logger() zerolog.Logger {
	if l.Component == "" {
		return Logger
	}
	return With(l.Component)
}

func emit(event *zerolog.Event, msg string, keysAndValues []interface{}) {
	if event == nil {
		return
	}
	if len(keysAndValues) > 0 {
		event = event.Fields(keysAndValues)
	}
	event.Msg(msg)
}
