// Package scoring implements the two lead scoring strategies and the tier
// classifier.
//
// The engine scorer drives real qualification; the demo scorer backs the
// local demo command. They must never be merged, since blending them would
// silently change qualification behavior.
package scoring

import (
	"math"
	"strings"

	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/rules"
)

// Scorer maps a raw lead to a numeric score under the given rules.
// Implementations are pure: deterministic, no side effects, no failures.
type Scorer interface {
	Score(lead model.RawLead, cfg rules.Config) int
}

// EngineScorer is the additive-bonus scorer used by the run engine.
type EngineScorer struct{}

// Score starts at zero and adds the configured bonus for each present
// attribute. No upper bound; the bound is implicit in configuration.
func (EngineScorer) Score(lead model.RawLead, cfg rules.Config) int {
	s := cfg.Scoring
	score := 0
	if strings.TrimSpace(lead.Email) != "" {
		score += s.EmailPresentBonus
	}
	if strings.TrimSpace(lead.Company) != "" {
		score += s.CompanyPresenceBonus
	}
	if strings.TrimSpace(lead.JobTitle) != "" {
		score += s.JobTitlePresenceBonus
	}
	if isHighIntent(lead.Source, s.HighIntentSources) {
		score += s.HighIntentSourceBonus
	}
	return score
}

func isHighIntent(source string, highIntent []string) bool {
	src := strings.ToLower(strings.TrimSpace(source))
	if src == "" {
		return false
	}
	for _, h := range highIntent {
		if src == strings.ToLower(h) {
			return true
		}
	}
	return false
}

// DemoScorer is the heuristic scorer for UI-facing demo simulations. It
// starts at a base of 50, nudges on source keywords and note contents,
// penalizes low-signal email domains, and blends in a caller-supplied prior
// score carried in the lead's "score" extra field.
type DemoScorer struct{}

const demoBase = 50

// Score implements the demo formula. Clamped to [0, 100].
func (DemoScorer) Score(lead model.RawLead, _ rules.Config) int {
	score := demoBase

	source := strings.ToLower(lead.Source)
	switch {
	case strings.Contains(source, "partner"):
		score += 15
	case strings.Contains(source, "referral"):
		score += 12
	case strings.Contains(source, "event"):
		score += 8
	case strings.Contains(source, "chat"):
		score += 5
	}

	notes := strings.ToLower(extraString(lead, "notes"))
	if strings.Contains(notes, "enterprise") {
		score += 15
	}
	if strings.Contains(notes, "scaling") {
		score += 10
	}

	email := strings.ToLower(strings.TrimSpace(lead.Email))
	switch {
	case strings.HasSuffix(email, ".edu"):
		score -= 10
	case strings.HasSuffix(email, "@gmail.com"), strings.HasSuffix(email, "@outlook.com"):
		score -= 5
	}

	if prior, ok := extraNumber(lead, "score"); ok {
		score = int(math.Round(0.6*float64(score) + 0.4*prior))
	}

	return clamp(score, 0, 100)
}

func extraString(lead model.RawLead, key string) string {
	v, _ := lead.Extra[key].(string)
	return v
}

func extraNumber(lead model.RawLead, key string) (float64, bool) {
	switch v := lead.Extra[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
