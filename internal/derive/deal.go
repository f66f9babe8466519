package derive

import (
	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/rules"
)

// BuildDeal proposes a CRM deal for a lead, or nil when the lead's tier is
// outside the configured creation set. Amount is the base amount scaled by
// the tier multiplier.
func BuildDeal(lead model.EnrichedLead, q model.QualificationResult, cfg rules.Config) *model.Deal {
	if !cfg.Deal.CreatesForTier(q.Tier) {
		return nil
	}

	return &model.Deal{
		Name:     dealName(lead),
		Amount:   cfg.Deal.BaseAmount * cfg.Deal.TierMultipliers[q.Tier],
		Stage:    cfg.Deal.Stage,
		Pipeline: cfg.Deal.Pipeline,
	}
}

// dealName falls through company+fullName, company, fullName, email, then a
// generic placeholder, in that priority order.
func dealName(lead model.EnrichedLead) string {
	switch {
	case lead.Company != "" && lead.FullName != "":
		return lead.Company + " - " + lead.FullName
	case lead.Company != "":
		return lead.Company
	case lead.FullName != "":
		return lead.FullName
	case lead.NormalizedEmail != "":
		return lead.NormalizedEmail
	default:
		return "Unnamed lead"
	}
}
