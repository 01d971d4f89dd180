package costs

import (
	"context"
	"log/slog"
	"time"
)

// Notifier receives spike findings. The alert manager satisfies it.
type Notifier interface {
	CostSpike(today, baseline, factor float64)
}

// SpikeDetector flags days whose spend runs ahead of recent history.
type SpikeDetector struct {
	tracker *Tracker
	factor  float64
	now     func() time.Time
}

// NewSpikeDetector creates a detector. factor is the multiple of the
// historical daily average that counts as a spike.
func NewSpikeDetector(tracker *Tracker, factor float64) *SpikeDetector {
	return &SpikeDetector{
		tracker: tracker,
		factor:  factor,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Check compares today's spend against the average of previous days.
// With fewer than two days of history there is no baseline and no spike.
func (d *SpikeDetector) Check() (spike bool, today, baseline float64) {
	daily := d.tracker.DailyCosts()
	todayKey := d.now().Format("2006-01-02")

	var sum float64
	var days int
	for day, cost := range daily {
		if day == todayKey {
			today = cost
			continue
		}
		sum += cost
		days++
	}
	if days < 2 {
		return false, today, 0
	}

	baseline = sum / float64(days)
	return baseline > 0 && today > d.factor*baseline, today, baseline
}

// Scheduler runs the spike check on a fixed cadence.
type Scheduler struct {
	detector *SpikeDetector
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler; notifier may be nil.
func NewScheduler(detector *SpikeDetector, notifier Notifier, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{detector: detector, notifier: notifier, interval: interval, logger: logger}
}

// Run checks immediately and then on every tick until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *Scheduler) check() {
	spike, today, baseline := s.detector.Check()
	if !spike {
		s.logger.Debug("costs: spike check clear", "today", today, "baseline", baseline)
		return
	}
	s.logger.Warn("costs: spend spike detected",
		"today", today, "baseline", baseline, "factor", s.detector.factor)
	if s.notifier != nil {
		s.notifier.CostSpike(today, baseline, s.detector.factor)
	}
}
