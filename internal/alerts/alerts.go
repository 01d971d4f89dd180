// Package alerts turns classified failures into operator notifications.
// Noisy-but-expected kinds are counted against hourly thresholds before
// escalating; severe kinds escalate on the first occurrence.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is one escalated notification.
type Alert struct {
	Severity  Severity        `json:"severity"`
	Kind      model.ErrorKind `json:"kind,omitempty"`
	Title     string          `json:"title"`
	Detail    string          `json:"detail,omitempty"`
	Count     int             `json:"count,omitempty"` // occurrences in the window
	Timestamp time.Time       `json:"timestamp"`
}

// Sink delivers alerts somewhere an operator will see them.
type Sink interface {
	Send(ctx context.Context, a Alert) error
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Send(_ context.Context, a Alert) error {
	s.Logger.Error("alert",
		"severity", a.Severity,
		"kind", a.Kind,
		"title", a.Title,
		"detail", a.Detail,
		"count", a.Count)
	return nil
}

// WebhookSink POSTs alerts as JSON to an escalation endpoint.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSink) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alerts: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerts: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("alerts: webhook post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alerts: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// NoopSink discards alerts.
type NoopSink struct{}

func (NoopSink) Send(context.Context, Alert) error { return nil }

// hourlyThresholds set how many occurrences of a kind per hour are
// tolerated before escalating. Kinds absent here escalate immediately.
var hourlyThresholds = map[model.ErrorKind]int{
	model.ErrKindRateLimit:     10,
	model.ErrKindTimeout:       20,
	model.ErrKindServerError:   5,
	model.ErrKindAuthError:     1,
	model.ErrKindContextLength: 5,
	model.ErrKindUnknown:       15,
}

// kindSeverity maps kinds to escalation severity.
var kindSeverity = map[model.ErrorKind]Severity{
	model.ErrKindAuthError:      SeverityCritical,
	model.ErrKindBudgetExceeded: SeverityError,
	model.ErrKindServerError:    SeverityError,
}

func severityFor(kind model.ErrorKind) Severity {
	if s, ok := kindSeverity[kind]; ok {
		return s
	}
	return SeverityWarning
}

// Manager counts failures per kind in a sliding hour and escalates
// through the sink when a threshold is crossed.
type Manager struct {
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	events map[model.ErrorKind][]time.Time
	now    func() time.Time
}

// NewManager creates a manager over the given sink.
func NewManager(sink Sink, logger *slog.Logger) *Manager {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Manager{
		sink:   sink,
		logger: logger,
		events: make(map[model.ErrorKind][]time.Time),
		now:    time.Now,
	}
}

// ReportError records one failure of the given kind. When the hourly
// count reaches the kind's threshold the manager escalates; below it
// the failure is only logged.
func (m *Manager) ReportError(ctx context.Context, kind model.ErrorKind, detail string) {
	count := m.bump(kind)
	threshold, known := hourlyThresholds[kind]
	if !known {
		threshold = 1
	}

	if count < threshold {
		m.logger.Warn("alerts: failure below threshold",
			"kind", kind, "count", count, "threshold", threshold, "detail", detail)
		return
	}
	if count > threshold {
		// Already escalated this window; avoid repeating per occurrence.
		m.logger.Warn("alerts: failure after escalation", "kind", kind, "count", count)
		return
	}

	m.send(ctx, Alert{
		Severity:  severityFor(kind),
		Kind:      kind,
		Title:     fmt.Sprintf("%s threshold reached", kind),
		Detail:    detail,
		Count:     count,
		Timestamp: m.now().UTC(),
	})
}

// Escalate sends an alert immediately, bypassing thresholds.
func (m *Manager) Escalate(ctx context.Context, a Alert) {
	if a.Timestamp.IsZero() {
		a.Timestamp = m.now().UTC()
	}
	m.send(ctx, a)
}

// CostSpike satisfies the cost scheduler's notifier contract.
func (m *Manager) CostSpike(today, baseline, factor float64) {
	m.Escalate(context.Background(), Alert{
		Severity: SeverityCritical,
		Title:    "LLM cost spike",
		Detail: fmt.Sprintf("today $%.4f exceeds %.1fx the daily baseline $%.4f",
			today, factor, baseline),
	})
}

// bump records one event and returns the count in the last hour.
func (m *Manager) bump(kind model.ErrorKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-time.Hour)
	kept := m.events[kind][:0]
	for _, t := range m.events[kind] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, m.now())
	m.events[kind] = kept
	return len(kept)
}

func (m *Manager) send(ctx context.Context, a Alert) {
	if err := m.sink.Send(ctx, a); err != nil {
		m.logger.Error("alerts: delivery failed", "title", a.Title, "error", err)
	}
}
