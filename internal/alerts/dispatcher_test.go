package alerts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/domain"
	"github.com/polymercado/engine/internal/notify"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeSignalStore struct {
	pending []domain.SignalEvent
}

func (f *fakeSignalStore) Insert(ctx context.Context, ev domain.SignalEvent) (bool, error) {
	return false, nil
}

func (f *fakeSignalStore) LastEmittedAt(ctx context.Context, st domain.SignalType, conditionID string) (time.Time, error) {
	return time.Time{}, nil
}

func (f *fakeSignalStore) ListUndispatched(ctx context.Context, limit int) ([]domain.SignalEvent, error) {
	return append([]domain.SignalEvent(nil), f.pending...), nil
}

func (f *fakeSignalStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.SignalEvent, error) {
	return nil, nil
}

func (f *fakeSignalStore) CountByTypeSince(ctx context.Context, since time.Time) (map[domain.SignalType]int64, error) {
	return nil, nil
}

type fakeAlertStore struct {
	entries []domain.AlertLog
}

func (f *fakeAlertStore) Append(ctx context.Context, entry domain.AlertLog) error {
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAlertStore) LatestSent(ctx context.Context, channel, key string) (domain.AlertLog, error) {
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		if e.Channel == channel && e.NotificationKey == key && e.Status == domain.AlertSent {
			return e, nil
		}
	}
	return domain.AlertLog{}, domain.ErrNotFound
}

func (f *fakeAlertStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.AlertLog, error) {
	return nil, nil
}

func (f *fakeAlertStore) byStatus(status domain.AlertStatus) []domain.AlertLog {
	var out []domain.AlertLog
	for _, e := range f.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

type fakeSender struct {
	name  string
	sent  []string
	fails int
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	if f.fails > 0 {
		f.fails--
		return errors.New("downstream unavailable")
	}
	f.sent = append(f.sent, title+"\n"+message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

// ---------------------------------------------------------------------------

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Alerts.Enabled = true
	cfg.Alerts.Channels = []string{"test"}
	cfg.Alerts.MinSeverity = 2
	cfg.Alerts.MaxAttempts = 3
	return &cfg
}

func newTestDispatcher(t *testing.T, cfg *config.Config, signals *fakeSignalStore, log *fakeAlertStore, sender *fakeSender) *Dispatcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runtime := config.NewRuntime("", nil, cfg)
	senders := notify.Registry{sender.name: sender}
	return NewDispatcher(runtime, signals, log, senders, logger)
}

func arbSignal(id int64, severity int, createdAt time.Time) domain.SignalEvent {
	return domain.SignalEvent{
		ID:          id,
		SignalType:  domain.SignalArbBuyBoth,
		DedupeKey:   "unused",
		CreatedAt:   createdAt,
		Severity:    severity,
		ConditionID: "0xC1",
		Payload:     []byte(`{"edge_at_q_max":0.012,"q_max":200}`),
	}
}

func TestDispatchAndWindowDedupe(t *testing.T) {
	now := time.Now().UTC()
	signals := &fakeSignalStore{pending: []domain.SignalEvent{
		arbSignal(1, 3, now.Add(-2*time.Second)),
		arbSignal(2, 3, now.Add(-time.Second)),
	}}
	log := &fakeAlertStore{}
	sender := &fakeSender{name: "test"}

	d := newTestDispatcher(t, testConfig(), signals, log, sender)
	sent, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Same condition within the window, severity unchanged: exactly one
	// delivery, the second writes a SUPPRESSED row.
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if len(sender.sent) != 1 {
		t.Errorf("channel deliveries = %d, want 1", len(sender.sent))
	}
	if got := len(log.byStatus(domain.AlertSent)); got != 1 {
		t.Errorf("SENT rows = %d, want 1", got)
	}
	if got := len(log.byStatus(domain.AlertSuppressed)); got != 1 {
		t.Errorf("SUPPRESSED rows = %d, want 1", got)
	}
}

func TestDispatchSeverityEscalationResends(t *testing.T) {
	now := time.Now().UTC()
	signals := &fakeSignalStore{pending: []domain.SignalEvent{
		arbSignal(1, 2, now.Add(-2*time.Second)),
		arbSignal(2, 4, now.Add(-time.Second)),
	}}
	log := &fakeAlertStore{}
	sender := &fakeSender{name: "test"}

	d := newTestDispatcher(t, testConfig(), signals, log, sender)
	sent, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 2 {
		t.Errorf("sent = %d, want 2 (strictly greater severity re-sends)", sent)
	}
}

func TestDispatchBelowMinSeveritySuppressed(t *testing.T) {
	now := time.Now().UTC()
	signals := &fakeSignalStore{pending: []domain.SignalEvent{
		arbSignal(1, 1, now),
	}}
	log := &fakeAlertStore{}
	sender := &fakeSender{name: "test"}

	d := newTestDispatcher(t, testConfig(), signals, log, sender)
	sent, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 0 || len(sender.sent) != 0 {
		t.Errorf("low-severity signal must not deliver (sent=%d)", sent)
	}
	if got := log.byStatus(domain.AlertSuppressed); len(got) != 1 || got[0].Error != "below_min_severity" {
		t.Errorf("suppression rows = %+v", got)
	}
}

func TestDispatchRetriesThenSends(t *testing.T) {
	now := time.Now().UTC()
	signals := &fakeSignalStore{pending: []domain.SignalEvent{
		arbSignal(1, 3, now),
	}}
	log := &fakeAlertStore{}
	sender := &fakeSender{name: "test", fails: 2}

	d := newTestDispatcher(t, testConfig(), signals, log, sender)
	sent, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1 after retries", sent)
	}
}

func TestDispatchFailureLogged(t *testing.T) {
	now := time.Now().UTC()
	signals := &fakeSignalStore{pending: []domain.SignalEvent{
		arbSignal(1, 3, now),
	}}
	log := &fakeAlertStore{}
	sender := &fakeSender{name: "test", fails: 99}

	d := newTestDispatcher(t, testConfig(), signals, log, sender)
	sent, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 0 {
		t.Errorf("sent = %d, want 0", sent)
	}
	failed := log.byStatus(domain.AlertFailed)
	if len(failed) != 1 || failed[0].Error == "" {
		t.Errorf("FAILED rows = %+v, want one with an error", failed)
	}
}

func TestRuleRouting(t *testing.T) {
	now := time.Now().UTC()
	cfg := testConfig()
	cfg.Alerts.Rules = []config.AlertRule{
		{SignalTypes: []string{"ARB_BUY_BOTH"}, MinSeverity: 3, Channels: []string{"test"}},
	}

	signals := &fakeSignalStore{pending: []domain.SignalEvent{
		arbSignal(1, 3, now),
		{
			ID: 2, SignalType: domain.SignalNewMarket, Severity: 2,
			ConditionID: "0xC9", CreatedAt: now, Payload: []byte(`{}`),
		},
	}}
	log := &fakeAlertStore{}
	sender := &fakeSender{name: "test"}

	d := newTestDispatcher(t, cfg, signals, log, sender)
	sent, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 {
		t.Errorf("sent = %d, want only the rule-matched signal", sent)
	}
	suppressed := log.byStatus(domain.AlertSuppressed)
	if len(suppressed) != 1 || suppressed[0].Error != "no_rule_match" {
		t.Errorf("unmatched signal rows = %+v", suppressed)
	}
}

func TestFormatMessage(t *testing.T) {
	ev := arbSignal(7, 3, time.Now().UTC())
	title, body := FormatMessage(ev, "https://ui.example.com")
	if title != "[SEV3] Arb buy-both" {
		t.Errorf("title = %q", title)
	}
	if !strings.Contains(body, "1.20% edge @ 200 shares") {
		t.Errorf("body = %q", body)
	}
	if !strings.Contains(body, "https://ui.example.com/signals/7") {
		t.Errorf("missing deep link: %q", body)
	}
}
