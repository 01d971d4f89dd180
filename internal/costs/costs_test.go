package costs

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	l := NewRateLimiter(3, time.Minute)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, 3, l.InWindow())
}

func TestRateLimiterWindowSlides(t *testing.T) {
	l := NewRateLimiter(2, 30*time.Millisecond)

	require.True(t, l.Allow())
	require.True(t, l.Allow())
	require.False(t, l.Allow())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, l.Allow(), "old calls must age out of the window")
}

func TestRateLimiterDisabled(t *testing.T) {
	l := NewRateLimiter(0, time.Minute)
	for range 100 {
		assert.True(t, l.Allow())
	}
}

func TestTrackerRecordAndSummary(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer tr.Close()

	ctx := context.Background()
	tr.Record(ctx, "gpt-4o-mini", model.Usage{PromptTokens: 100, CompletionTokens: 20, Cost: 0.001})
	tr.Record(ctx, "gpt-4o-mini", model.Usage{PromptTokens: 200, CompletionTokens: 40, Cost: 0.002})

	s := tr.Summary()
	assert.Equal(t, 2, s.TodayCalls)
	assert.InDelta(t, 0.003, s.TodayCost, 1e-12)
	assert.InDelta(t, 0.003, s.MonthCost, 1e-12)
	require.Len(t, s.Days, 1)
	assert.Equal(t, 360, s.Days[0].Tokens)
}

func TestTrackerReplaysLedgerOnRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	tr, err := NewTracker(dir, testLogger())
	require.NoError(t, err)
	tr.Record(ctx, "gpt-4o-mini", model.Usage{PromptTokens: 100, CompletionTokens: 20, Cost: 0.005})
	require.NoError(t, tr.Close())

	tr2, err := NewTracker(dir, testLogger())
	require.NoError(t, err)
	defer tr2.Close()

	s := tr2.Summary()
	assert.Equal(t, 1, s.TodayCalls)
	assert.InDelta(t, 0.005, s.TodayCost, 1e-12)
}

// seed writes synthetic history directly into the aggregates.
func seed(tr *Tracker, date string, cost float64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.daily[date] = &DayTotals{Date: date, Calls: 1, Cost: cost}
}

func TestSpikeDetector(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer tr.Close()

	d := NewSpikeDetector(tr, 2.0)
	d.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	// No history: never a spike.
	spike, _, _ := d.Check()
	assert.False(t, spike)

	seed(tr, "2026-03-08", 1.0)
	seed(tr, "2026-03-09", 1.0)

	// Today within 2x the baseline: fine.
	seed(tr, "2026-03-10", 1.5)
	spike, today, baseline := d.Check()
	assert.False(t, spike)
	assert.Equal(t, 1.5, today)
	assert.Equal(t, 1.0, baseline)

	// Today beyond 2x the baseline: spike.
	seed(tr, "2026-03-10", 2.5)
	spike, _, _ = d.Check()
	assert.True(t, spike)
}

func TestSpikeDetectorNeedsTwoDaysHistory(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer tr.Close()

	d := NewSpikeDetector(tr, 2.0)
	d.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	seed(tr, "2026-03-09", 0.1)
	seed(tr, "2026-03-10", 100.0)

	spike, _, _ := d.Check()
	assert.False(t, spike, "one historical day is not a baseline")
}

type spikeRecorder struct {
	fired atomic.Int64
}

func (r *spikeRecorder) CostSpike(_, _, _ float64) { r.fired.Add(1) }

func TestSchedulerNotifiesOnSpike(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer tr.Close()

	d := NewSpikeDetector(tr, 2.0)
	d.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	seed(tr, "2026-03-08", 1.0)
	seed(tr, "2026-03-09", 1.0)
	seed(tr, "2026-03-10", 10.0)

	rec := &spikeRecorder{}
	s := NewScheduler(d, rec, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return rec.fired.Load() >= 1 },
		time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
