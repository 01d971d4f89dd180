// Package taxonomy loads the closed intent taxonomy and the keyword
// dictionaries from JSON files. Loaded data is immutable; the engine
// rebuilds it only on explicit reload.
package taxonomy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

// IntentPriority buckets intents for routing decisions.
type IntentPriority string

const (
	PriorityCritical IntentPriority = "CRITICAL"
	PriorityHigh     IntentPriority = "HIGH"
	PriorityMedium   IntentPriority = "MEDIUM"
	PriorityLow      IntentPriority = "LOW"
	PriorityFallback IntentPriority = "FALLBACK"
)

// IntentDefinition describes one action code: its category, example
// phrases (the seed for reference embeddings), entity requirements, and
// a per-intent confidence threshold.
type IntentDefinition struct {
	ActionCode          model.ActionCode `json:"action_code"`
	Category            string           `json:"category"`
	Description         string           `json:"description"`
	Examples            []string         `json:"examples"`
	RequiredEntities    []string         `json:"required_entities,omitempty"`
	OptionalEntities    []string         `json:"optional_entities,omitempty"`
	ConfidenceThreshold float64          `json:"confidence_threshold"`
	Priority            IntentPriority   `json:"priority"`
}

// LoadIntents reads every *.json file in dir. Each file holds a list of
// intent definitions. Action codes must be unique across all files.
func LoadIntents(dir string, logger *slog.Logger) (map[model.ActionCode]IntentDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read intents dir %s: %w", dir, err)
	}

	intents := make(map[model.ActionCode]IntentDefinition)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("taxonomy: read %s: %w", path, err)
		}

		var defs []IntentDefinition
		if err := json.Unmarshal(data, &defs); err != nil {
			return nil, fmt.Errorf("taxonomy: parse %s: %w", path, err)
		}

		for _, def := range defs {
			if def.ActionCode == "" {
				logger.Warn("taxonomy: intent without action code dropped", "file", e.Name())
				continue
			}
			if _, dup := intents[def.ActionCode]; dup {
				return nil, fmt.Errorf("taxonomy: duplicate action code %q in %s", def.ActionCode, e.Name())
			}
			if len(def.Examples) < 5 {
				logger.Warn("taxonomy: intent has fewer than 5 examples",
					"action_code", def.ActionCode, "examples", len(def.Examples))
			}
			intents[def.ActionCode] = def
		}
	}

	if len(intents) == 0 {
		return nil, fmt.Errorf("taxonomy: no intents loaded from %s", dir)
	}
	return intents, nil
}

// KeywordEntry is the raw dictionary entry for one action code: a
// file-local priority (1 highest .. 9 lowest) and a de-duplicated set
// of patterns. Patterns are either literal phrases or regexes; the
// matcher classifies and compiles them at load.
type KeywordEntry struct {
	ActionCode model.ActionCode
	Priority   int
	Patterns   []string
}

// keywordFile mirrors the on-disk shape: {ActionCode: {"priority": n, "keywords": [...]}}.
type keywordFileEntry struct {
	Priority int      `json:"priority"`
	Keywords []string `json:"keywords"`
}

// LoadKeywords reads every *.json keyword file in dir. A malformed file
// is skipped with a warning so a single bad dictionary never prevents
// startup. Within a file, patterns are de-duplicated case-insensitively
// and empty patterns are dropped.
func LoadKeywords(dir string, logger *slog.Logger) (map[model.ActionCode]KeywordEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read keywords dir %s: %w", dir, err)
	}

	keywords := make(map[model.ActionCode]KeywordEntry)
	loadedFiles := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("taxonomy: keyword file unreadable, skipping", "file", e.Name(), "error", err)
			continue
		}

		var file map[model.ActionCode]keywordFileEntry
		if err := json.Unmarshal(data, &file); err != nil {
			logger.Warn("taxonomy: keyword file malformed, skipping", "file", e.Name(), "error", err)
			continue
		}

		for code, fe := range file {
			priority := fe.Priority
			if priority < 1 || priority > 9 {
				logger.Warn("taxonomy: keyword priority out of range, clamping",
					"action_code", code, "priority", priority)
				if priority < 1 {
					priority = 1
				} else {
					priority = 9
				}
			}

			entry := keywords[code]
			entry.ActionCode = code
			entry.Priority = priority

			seen := make(map[string]bool, len(entry.Patterns)+len(fe.Keywords))
			for _, p := range entry.Patterns {
				seen[strings.ToLower(p)] = true
			}
			for _, p := range fe.Keywords {
				p = strings.TrimSpace(p)
				if p == "" {
					continue
				}
				key := strings.ToLower(p)
				if seen[key] {
					continue
				}
				seen[key] = true
				entry.Patterns = append(entry.Patterns, p)
			}
			keywords[code] = entry
		}
		loadedFiles++
	}

	if loadedFiles == 0 {
		return nil, fmt.Errorf("taxonomy: no keyword files loaded from %s", dir)
	}

	logger.Info("taxonomy: keywords loaded", "files", loadedFiles, "action_codes", len(keywords))
	return keywords, nil
}
