package costs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
	"github.com/indpro-interns-oct-25/chatNShop/internal/telemetry"
)

var costsMeter = telemetry.Meter("chatnshop/costs")

const ledgerFile = "llm_usage.jsonl"

// Record is one line in the usage ledger.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Cost             float64   `json:"cost"`
}

// DayTotals aggregates one calendar day (UTC).
type DayTotals struct {
	Date   string  `json:"date"` // 2006-01-02
	Calls  int     `json:"calls"`
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// Summary is the aggregate view served by the costs endpoint.
type Summary struct {
	TodayCost  float64     `json:"today_cost"`
	TodayCalls int         `json:"today_calls"`
	MonthCost  float64     `json:"month_cost"`
	TotalCost  float64     `json:"total_cost"`
	Days       []DayTotals `json:"days"`
}

// Tracker persists per-call LLM usage as JSONL and keeps daily
// aggregates in memory. It implements the llm.UsageRecorder interface.
type Tracker struct {
	mu     sync.Mutex
	file   *os.File
	daily  map[string]*DayTotals
	logger *slog.Logger
	now    func() time.Time // overridable in tests
}

// NewTracker opens (or creates) the ledger under dataDir and replays it
// to rebuild the daily aggregates.
func NewTracker(dataDir string, logger *slog.Logger) (*Tracker, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("costs: create data dir: %w", err)
	}
	path := filepath.Join(dataDir, ledgerFile)

	t := &Tracker{
		daily:  make(map[string]*DayTotals),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := t.replay(path); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("costs: open ledger: %w", err)
	}
	t.file = f
	return t, nil
}

// replay rebuilds aggregates from the existing ledger. Unparseable
// lines are skipped: a torn write on crash must not brick startup.
func (t *Tracker) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("costs: open ledger for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	skipped := 0
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			skipped++
			continue
		}
		t.aggregate(rec)
	}
	if skipped > 0 {
		t.logger.Warn("costs: skipped unparseable ledger lines", "count", skipped)
	}
	return scanner.Err()
}

func (t *Tracker) aggregate(rec Record) {
	day := rec.Timestamp.UTC().Format("2006-01-02")
	d, ok := t.daily[day]
	if !ok {
		d = &DayTotals{Date: day}
		t.daily[day] = d
	}
	d.Calls++
	d.Tokens += rec.PromptTokens + rec.CompletionTokens
	d.Cost += rec.Cost
}

// Record appends one usage line to the ledger and updates aggregates.
func (t *Tracker) Record(ctx context.Context, mdl string, usage model.Usage) {
	if counter, err := costsMeter.Float64Counter("llm.cost_usd"); err == nil {
		counter.Add(ctx, usage.Cost, otelmetric.WithAttributes(
			attribute.String("model", mdl),
		))
	}
	rec := Record{
		Timestamp:        t.now(),
		Model:            mdl,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Cost:             usage.Cost,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.aggregate(rec)
	if t.file != nil {
		line, err := json.Marshal(rec)
		if err == nil {
			_, err = t.file.Write(append(line, '\n'))
		}
		if err != nil {
			t.logger.Error("costs: ledger write failed", "error", err)
		}
	}
}

// Summary returns aggregates with days sorted oldest first.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	today := now.Format("2006-01-02")
	month := now.Format("2006-01")

	s := Summary{Days: make([]DayTotals, 0, len(t.daily))}
	for day, d := range t.daily {
		s.Days = append(s.Days, *d)
		s.TotalCost += d.Cost
		if day == today {
			s.TodayCost = d.Cost
			s.TodayCalls = d.Calls
		}
		if len(day) >= 7 && day[:7] == month {
			s.MonthCost += d.Cost
		}
	}
	sort.Slice(s.Days, func(i, j int) bool { return s.Days[i].Date < s.Days[j].Date })
	return s
}

// DailyCosts returns cost per day keyed by date.
func (t *Tracker) DailyCosts() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]float64, len(t.daily))
	for day, d := range t.daily {
		out[day] = d.Cost
	}
	return out
}

// Close flushes and closes the ledger file.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
