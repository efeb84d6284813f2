// Package alerts routes materialized signals to external channels with
// ordered rules, per-channel dedupe, and bounded delivery retries.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/domain"
	"github.com/polymercado/engine/internal/notify"
)

// dispatchBatchLimit bounds the signals pulled per run.
const dispatchBatchLimit = 200

// retryBaseDelay is the base backoff between delivery attempts to one
// channel.
const retryBaseDelay = 500 * time.Millisecond

// Dispatcher reads signals that have no delivery log yet and routes them.
type Dispatcher struct {
	runtime *config.Runtime
	signals domain.SignalStore
	log     domain.AlertStore
	senders notify.Registry
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(runtime *config.Runtime, signals domain.SignalStore, alertLog domain.AlertStore, senders notify.Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		runtime: runtime,
		signals: signals,
		log:     alertLog,
		senders: senders,
		logger:  logger.With(slog.String("component", "alert_dispatcher")),
	}
}

// Run dispatches undispatched signals once and returns the number of
// deliveries sent.
func (d *Dispatcher) Run(ctx context.Context) (int, error) {
	cfg := d.runtime.Current()
	if !cfg.Alerts.Enabled {
		return 0, nil
	}

	candidates, err := d.signals.ListUndispatched(ctx, dispatchBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("alerts: list undispatched: %w", err)
	}

	sent := 0
	now := time.Now().UTC()
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		n, err := d.dispatchOne(ctx, cfg, &candidates[i], now)
		if err != nil {
			return sent, err
		}
		sent += n
	}
	return sent, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, cfg *config.Config, ev *domain.SignalEvent, now time.Time) (int, error) {
	key := ev.NotificationKey()

	if ev.Severity < cfg.Alerts.MinSeverity {
		return 0, d.suppress(ctx, ev, key, "below_min_severity")
	}

	channels := cfg.Alerts.Channels
	cooldown := time.Duration(cfg.Alerts.DedupWindowSeconds) * time.Second
	if len(cfg.Alerts.Rules) > 0 {
		rule, ok := matchRule(cfg.Alerts.Rules, ev, now)
		if !ok {
			return 0, d.suppress(ctx, ev, key, "no_rule_match")
		}
		if len(rule.Channels) > 0 {
			channels = rule.Channels
		}
		if rule.CooldownSeconds > 0 {
			cooldown = time.Duration(rule.CooldownSeconds) * time.Second
		}
	}

	sent := 0
	for _, channel := range channels {
		sender, ok := d.senders.Get(channel)
		if !ok {
			if err := d.append(ctx, ev, channel, key, domain.AlertFailed, "unconfigured_channel", now); err != nil {
				return sent, err
			}
			continue
		}

		// Per-channel dedupe: a SENT delivery for the same key inside the
		// window suppresses this one unless severity strictly increased.
		prior, err := d.log.LatestSent(ctx, channel, key)
		switch {
		case err == nil:
			if now.Sub(prior.SentAt) < cooldown && prior.Severity >= ev.Severity {
				if err := d.append(ctx, ev, channel, key, domain.AlertSuppressed, "", now); err != nil {
					return sent, err
				}
				continue
			}
		case err == domain.ErrNotFound:
		default:
			return sent, fmt.Errorf("alerts: dedupe lookup %s/%s: %w", channel, key, err)
		}

		title, body := FormatMessage(*ev, cfg.Alerts.DetailBaseURL)
		if err := d.deliver(ctx, cfg, sender, title, body); err != nil {
			d.logger.WarnContext(ctx, "alert delivery failed",
				slog.String("channel", channel),
				slog.String("notification_key", key),
				slog.String("error", err.Error()),
			)
			if err := d.append(ctx, ev, channel, key, domain.AlertFailed, err.Error(), now); err != nil {
				return sent, err
			}
			continue
		}

		if err := d.append(ctx, ev, channel, key, domain.AlertSent, "", now); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// deliver attempts the send with exponential backoff up to the configured
// attempt cap.
func (d *Dispatcher) deliver(ctx context.Context, cfg *config.Config, sender notify.Sender, title, body string) error {
	attempts := cfg.Alerts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = sender.Send(ctx, title, body); lastErr == nil {
			return nil
		}
		if attempt < attempts {
			delay := retryBaseDelay << (attempt - 1)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return lastErr
}

func (d *Dispatcher) suppress(ctx context.Context, ev *domain.SignalEvent, key, reason string) error {
	return d.append(ctx, ev, "none", key, domain.AlertSuppressed, reason, time.Now().UTC())
}

func (d *Dispatcher) append(ctx context.Context, ev *domain.SignalEvent, channel, key string, status domain.AlertStatus, errMsg string, now time.Time) error {
	entry := domain.AlertLog{
		SignalEventID:   ev.ID,
		DeliveryID:      uuid.New().String(),
		Channel:         channel,
		NotificationKey: key,
		SentAt:          now,
		Status:          status,
		Severity:        ev.Severity,
		Error:           errMsg,
	}
	if err := d.log.Append(ctx, entry); err != nil {
		return fmt.Errorf("alerts: append log: %w", err)
	}
	return nil
}

// matchRule returns the first rule matching the signal, evaluated in
// declared order.
func matchRule(rules []config.AlertRule, ev *domain.SignalEvent, now time.Time) (config.AlertRule, bool) {
	for _, rule := range rules {
		if ruleMatches(rule, ev, now) {
			return rule, true
		}
	}
	return config.AlertRule{}, false
}

func ruleMatches(rule config.AlertRule, ev *domain.SignalEvent, now time.Time) bool {
	if len(rule.SignalTypes) > 0 {
		found := false
		for _, st := range rule.SignalTypes {
			if domain.SignalType(st) == ev.SignalType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if rule.MinSeverity > 0 && ev.Severity < rule.MinSeverity {
		return false
	}
	if rule.MaxSeverity > 0 && ev.Severity > rule.MaxSeverity {
		return false
	}
	if rule.QuietStartHour != nil && rule.QuietEndHour != nil {
		if inQuietHours(now.Hour(), *rule.QuietStartHour, *rule.QuietEndHour) {
			return false
		}
	}
	return true
}

func inQuietHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
