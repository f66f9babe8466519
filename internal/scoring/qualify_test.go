package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/rules"
)

func TestTierFor(t *testing.T) {
	thresholds := rules.TierThresholds{A: 80, B: 60}

	assert.Equal(t, model.TierA, TierFor(95, thresholds))
	assert.Equal(t, model.TierA, TierFor(80, thresholds))
	assert.Equal(t, model.TierB, TierFor(79, thresholds))
	assert.Equal(t, model.TierB, TierFor(60, thresholds))
	assert.Equal(t, model.TierC, TierFor(59, thresholds))
	assert.Equal(t, model.TierC, TierFor(0, thresholds))
}

func TestQualifyUsesTenantThreshold(t *testing.T) {
	cfg := rules.Default()
	lead := model.EnrichedLead{Score: 70}

	strict := model.DefaultSettings()
	strict.QualificationScoreThreshold = 75
	q := Qualify(lead, cfg, strict)
	assert.False(t, q.IsQualified)
	assert.Equal(t, model.TierB, q.Tier)

	lenient := model.DefaultSettings()
	lenient.QualificationScoreThreshold = 50
	q = Qualify(lead, cfg, lenient)
	assert.True(t, q.IsQualified)
	assert.Equal(t, model.TierB, q.Tier)
}

// An unset tenant threshold falls back to the deployment cutoff.
func TestQualifyFallsBackToRulesCutoff(t *testing.T) {
	cfg := rules.Default()
	settings := model.Settings{} // threshold 0

	q := Qualify(model.EnrichedLead{Score: 60}, cfg, settings)
	assert.True(t, q.IsQualified)

	q = Qualify(model.EnrichedLead{Score: 59}, cfg, settings)
	assert.False(t, q.IsQualified)
}

// Tier is always computed, including for unqualified leads, and the reason
// is fixed per (qualified, tier) pair.
func TestQualifyReasonStable(t *testing.T) {
	cfg := rules.Default()
	settings := model.DefaultSettings()

	q := Qualify(model.EnrichedLead{Score: 90}, cfg, settings)
	assert.True(t, q.IsQualified)
	assert.Equal(t, model.TierA, q.Tier)
	assert.Equal(t, "Strong fit: qualified at tier A.", q.Reason)

	q = Qualify(model.EnrichedLead{Score: 20}, cfg, settings)
	assert.False(t, q.IsQualified)
	assert.Equal(t, model.TierC, q.Tier)
	assert.Equal(t, "Not qualified: low engagement signals.", q.Reason)
}
