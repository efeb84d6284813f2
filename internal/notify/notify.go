// Package notify provides the alert channel drivers. Each channel implements
// the Sender interface with a single send operation; the alert dispatcher
// decides what goes where.
package notify

import (
	"context"
	"log/slog"

	"github.com/polymercado/engine/internal/config"
)

// Sender is the interface every alert channel driver implements.
type Sender interface {
	// Send delivers a pre-formatted message with a short title.
	Send(ctx context.Context, title, message string) error
	// Name returns the channel identifier used in alert routing and logs
	// (e.g. "slack").
	Name() string
}

// Registry maps channel names to their configured drivers.
type Registry map[string]Sender

// NewRegistry builds the driver set from the alert configuration. Channels
// without credentials are omitted; the log channel is always available.
func NewRegistry(cfg config.AlertConfig, logger *slog.Logger) Registry {
	reg := Registry{}

	reg["log"] = NewLogSender(logger)
	if cfg.SlackWebhookURL != "" {
		reg["slack"] = NewSlackSender(cfg.SlackWebhookURL)
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		reg["telegram"] = NewTelegramSender(cfg.TelegramBotToken, cfg.TelegramChatID)
	}
	if cfg.SMTPHost != "" && cfg.EmailFrom != "" && len(cfg.EmailTo) > 0 {
		reg["email"] = NewEmailSender(EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
			To:       cfg.EmailTo,
		})
	}
	return reg
}

// Get returns the driver for a channel name.
func (r Registry) Get(name string) (Sender, bool) {
	s, ok := r[name]
	return s, ok
}
