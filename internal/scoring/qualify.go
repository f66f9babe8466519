package scoring

import (
	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/rules"
)

// Reason strings are fixed per (qualified, tier) pair so test fixtures and
// downstream task templates stay stable.
var reasons = map[bool]map[model.Tier]string{
	true: {
		model.TierA: "Strong fit: qualified at tier A.",
		model.TierB: "Good fit: qualified at tier B.",
		model.TierC: "Qualified below tier B threshold.",
	},
	false: {
		model.TierA: "Not qualified despite tier A score.",
		model.TierB: "Not qualified: below the qualification cutoff.",
		model.TierC: "Not qualified: low engagement signals.",
	},
}

// Qualify classifies an already-scored lead. Tier is computed from the
// thresholds regardless of the pass/fail outcome; qualification uses the
// independently configured minimum, resolved per tenant. Pure function.
func Qualify(lead model.EnrichedLead, cfg rules.Config, settings model.Settings) model.QualificationResult {
	tier := TierFor(lead.Score, cfg.Tiers)
	qualified := lead.Score >= cfg.EffectiveMinScore(settings)

	return model.QualificationResult{
		IsQualified: qualified,
		Tier:        tier,
		Score:       lead.Score,
		Reason:      reasons[qualified][tier],
	}
}

// TierFor buckets a score: A at or above the A threshold, B at or above the
// B threshold, otherwise C.
func TierFor(score int, t rules.TierThresholds) model.Tier {
	switch {
	case score >= t.A:
		return model.TierA
	case score >= t.B:
		return model.TierB
	default:
		return model.TierC
	}
}
