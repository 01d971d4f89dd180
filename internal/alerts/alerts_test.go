package alerts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *captureSink) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func TestManagerSuppressesBelowThreshold(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(sink, testLogger())
	ctx := context.Background()

	// server_error threshold is 5: four failures stay quiet.
	for range 4 {
		m.ReportError(ctx, model.ErrKindServerError, "upstream 503")
	}
	assert.Equal(t, 0, sink.count())

	m.ReportError(ctx, model.ErrKindServerError, "upstream 503")
	require.Equal(t, 1, sink.count())
	assert.Equal(t, model.ErrKindServerError, sink.alerts[0].Kind)
	assert.Equal(t, SeverityError, sink.alerts[0].Severity)
	assert.Equal(t, 5, sink.alerts[0].Count)
}

func TestManagerEscalatesOncePerWindow(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(sink, testLogger())
	ctx := context.Background()

	for range 20 {
		m.ReportError(ctx, model.ErrKindServerError, "boom")
	}
	assert.Equal(t, 1, sink.count(), "one escalation per threshold crossing")
}

func TestManagerAuthErrorEscalatesImmediately(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(sink, testLogger())

	m.ReportError(context.Background(), model.ErrKindAuthError, "invalid api key")
	require.Equal(t, 1, sink.count())
	assert.Equal(t, SeverityCritical, sink.alerts[0].Severity)
}

func TestManagerWindowSlides(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(sink, testLogger())

	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	ctx := context.Background()

	for range 5 {
		m.ReportError(ctx, model.ErrKindServerError, "boom")
	}
	require.Equal(t, 1, sink.count())

	// Two hours later the window is empty and the threshold can trip again.
	clock = clock.Add(2 * time.Hour)
	for range 5 {
		m.ReportError(ctx, model.ErrKindServerError, "boom")
	}
	assert.Equal(t, 2, sink.count())
}

func TestManagerUnlistedKindEscalatesImmediately(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(sink, testLogger())

	m.ReportError(context.Background(), model.ErrKindBudgetExceeded, "too expensive")
	require.Equal(t, 1, sink.count())
	assert.Equal(t, SeverityError, sink.alerts[0].Severity)
}

func TestManagerCostSpike(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(sink, testLogger())

	m.CostSpike(10.0, 2.0, 2.0)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, SeverityCritical, sink.alerts[0].Severity)
	assert.Contains(t, sink.alerts[0].Detail, "$10.0000")
}

func TestWebhookSink(t *testing.T) {
	var received Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	err := sink.Send(context.Background(), Alert{
		Severity: SeverityError,
		Title:    "something broke",
	})
	require.NoError(t, err)
	assert.Equal(t, "something broke", received.Title)
}

func TestWebhookSinkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL).Send(context.Background(), Alert{Title: "x"})
	assert.Error(t, err)
}
