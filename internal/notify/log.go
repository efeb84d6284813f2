package notify

import (
	"context"
	"log/slog"
)

// LogSender writes alerts to the structured log. It always succeeds and is
// the default channel in development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "alert_log"))}
}

// Send logs the alert at info level.
func (l *LogSender) Send(ctx context.Context, title, message string) error {
	l.logger.InfoContext(ctx, "alert",
		slog.String("title", title),
		slog.String("message", message),
	)
	return nil
}

// Name returns the sender identifier.
func (l *LogSender) Name() string {
	return "log"
}
