package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

const weightEpsilon = 1e-6

// Variant is one named rule set driving the classification pipeline.
// Exactly one variant is active at a time; a request reads the active
// variant once at entry and never observes a mixed snapshot.
type Variant struct {
	Name                string  `json:"name"`
	KwWeight            float64 `json:"kw_weight"`
	EmbWeight           float64 `json:"emb_weight"`
	PriorityThreshold   float64 `json:"priority_threshold"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	GapThreshold        float64 `json:"gap_threshold"`
	UseEmbedding        bool    `json:"use_embedding"`
	UseLLM              bool    `json:"use_llm"`
	LLMModel            string  `json:"llm_model"`
}

// Validate rejects variants whose weights don't sum to 1 or whose
// thresholds fall outside [0, 1].
func (v Variant) Validate() error {
	if math.Abs(v.KwWeight+v.EmbWeight-1.0) > weightEpsilon {
		return fmt.Errorf("config: variant %q: kw_weight + emb_weight = %g, must equal 1.0",
			v.Name, v.KwWeight+v.EmbWeight)
	}
	for _, th := range []struct {
		name string
		val  float64
	}{
		{"priority_threshold", v.PriorityThreshold},
		{"confidence_threshold", v.ConfidenceThreshold},
		{"gap_threshold", v.GapThreshold},
	} {
		if th.val < 0 || th.val > 1 {
			return fmt.Errorf("config: variant %q: %s = %g, must be in [0,1]", v.Name, th.name, th.val)
		}
	}
	return nil
}

// DefaultVariant is used when the rules file names no variants.
func DefaultVariant() Variant {
	return Variant{
		Name:                "default",
		KwWeight:            0.6,
		EmbWeight:           0.4,
		PriorityThreshold:   0.85,
		ConfidenceThreshold: 0.6,
		GapThreshold:        0.15,
		UseEmbedding:        true,
		UseLLM:              true,
		LLMModel:            "gpt-4o-mini",
	}
}

// Rules is the parsed content of the rules file.
type Rules struct {
	ActiveVariant string
	Variants      map[string]Variant
}

// rulesFile mirrors the on-disk JSON shape.
type rulesFile struct {
	ActiveVariant string `json:"active_variant"`
	Rules         struct {
		RuleSets map[string]Variant `json:"rule_sets"`
	} `json:"rules"`
}

// ParseRules decodes and validates a rules document. Every named variant
// must pass validation and the active variant must exist.
func ParseRules(data []byte) (Rules, error) {
	var rf rulesFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return Rules{}, fmt.Errorf("config: parse rules: %w", err)
	}

	variants := make(map[string]Variant, len(rf.Rules.RuleSets))
	for name, v := range rf.Rules.RuleSets {
		if v.Name == "" {
			v.Name = name
		}
		if err := v.Validate(); err != nil {
			return Rules{}, err
		}
		variants[name] = v
	}

	if len(variants) == 0 {
		dv := DefaultVariant()
		variants[dv.Name] = dv
		if rf.ActiveVariant == "" {
			rf.ActiveVariant = dv.Name
		}
	}

	if _, ok := variants[rf.ActiveVariant]; !ok {
		return Rules{}, fmt.Errorf("config: active variant %q not defined", rf.ActiveVariant)
	}

	return Rules{ActiveVariant: rf.ActiveVariant, Variants: variants}, nil
}

// LoadRules reads and parses the rules file at path.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("config: read rules %s: %w", path, err)
	}
	return ParseRules(data)
}
