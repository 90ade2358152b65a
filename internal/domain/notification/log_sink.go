package notification

import (
	"context"

	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
)

// LogSink writes notifications to the log. Used when no transport is
// configured and in local runs.
type LogSink struct {
	logger logging.Logger
}

func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logger.Named("notification")}
}

func (s *LogSink) Notify(_ context.Context, n Notification) error {
	s.logger.Info(n.Title,
		logging.String("target", n.Target.String()),
		logging.String("kind", string(n.Kind)),
		logging.String("body", n.Body),
		logging.Any("payload", n.Payload))
	return nil
}
