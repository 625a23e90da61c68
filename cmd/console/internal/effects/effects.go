// Package effects carries the side effects the sync layer fires at the
// presentation layer: toasts, auto-scroll and forced logout. None of them
// return values to the caller.
package effects

import (
	"sync"

	"go.uber.org/zap"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Sink receives presentation-layer effects.
type Sink interface {
	Toast(level Level, msg string)
	ScrollToBottom(ticketID string)
	ForceLogout(reason string)
}

// LogSink renders effects through zap. ForceLogout runs onLogout at most once.
type LogSink struct {
	logger   *zap.Logger
	onLogout func(reason string)
	once     sync.Once
}

func NewLogSink(logger *zap.Logger, onLogout func(reason string)) *LogSink {
	return &LogSink{logger: logger, onLogout: onLogout}
}

func (s *LogSink) Toast(level Level, msg string) {
	if level == LevelError {
		s.logger.Error("Toast", zap.String("message", msg))
		return
	}
	s.logger.Info("Toast", zap.String("message", msg))
}

func (s *LogSink) ScrollToBottom(ticketID string) {
	s.logger.Debug("Scroll to bottom", zap.String("ticket_id", ticketID))
}

func (s *LogSink) ForceLogout(reason string) {
	s.once.Do(func() {
		s.logger.Warn("Forced logout", zap.String("reason", reason))
		if s.onLogout != nil {
			s.onLogout(reason)
		}
	})
}
