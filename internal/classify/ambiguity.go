package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

const ambiguityFile = "ambiguous_queries.jsonl"

// ambiguityRecord is one line in the ambiguity log, kept for offline
// tuning of keyword dictionaries and thresholds.
type ambiguityRecord struct {
	Timestamp  time.Time           `json:"timestamp"`
	Query      string              `json:"query"`
	Verdict    Verdict             `json:"verdict"`
	Variant    string              `json:"variant"`
	RequestID  string              `json:"request_id,omitempty"`
	Candidates []ambiguousCandidate `json:"candidates"`
}

type ambiguousCandidate struct {
	ActionCode model.ActionCode `json:"action_code"`
	Score      float64          `json:"score"`
	Keyword    float64          `json:"keyword"`
	Embedding  float64          `json:"embedding"`
}

// AmbiguityLog appends escalated queries to a JSONL file.
type AmbiguityLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenAmbiguityLog opens (or creates) the log under dataDir.
func OpenAmbiguityLog(dataDir string) (*AmbiguityLog, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("classify: create data dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dataDir, ambiguityFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("classify: open ambiguity log: %w", err)
	}
	return &AmbiguityLog{file: f}, nil
}

// Record appends one escalation, best-effort.
func (l *AmbiguityLog) Record(query string, verdict Verdict, variant, requestID string, candidates []model.Candidate) {
	if l == nil {
		return
	}
	rec := ambiguityRecord{
		Timestamp: time.Now().UTC(),
		Query:     query,
		Verdict:   verdict,
		Variant:   variant,
		RequestID: requestID,
	}
	for _, c := range candidates {
		ac := ambiguousCandidate{ActionCode: c.ActionCode, Score: c.Score}
		if c.Components != nil {
			ac.Keyword = c.Components.Keyword
			ac.Embedding = c.Components.Embedding
		}
		rec.Candidates = append(rec.Candidates, ac)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.file.Write(append(line, '\n'))
}

// Close closes the underlying file.
func (l *AmbiguityLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
