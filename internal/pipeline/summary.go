package pipeline

import (
	"fmt"
	"math"

	"github.com/sells-group/leadflow-engine/internal/derive"
	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/rules"
)

// MeetingsPolicy converts a qualified-lead count into a meetings-booked
// figure. The engine counts every qualified lead as a meeting; the demo
// path assumes half convert. Callers pick one explicitly.
type MeetingsPolicy func(qualifiedLeads int) int

// MeetingsAllQualified is the engine policy: one meeting per qualified lead.
func MeetingsAllQualified(qualifiedLeads int) int {
	return qualifiedLeads
}

// MeetingsHalfQualified is the demo policy: round(qualified * 0.5).
func MeetingsHalfQualified(qualifiedLeads int) int {
	return int(math.Round(float64(qualifiedLeads) * 0.5))
}

// BuildSummary aggregates an ordered sequence of per-lead results. The
// actions log order is part of the contract: overall processed count, then
// the qualified+meetings line, then per-lead lines in input order.
func BuildSummary(results []model.ProcessResult, cfg rules.Config, policy MeetingsPolicy) model.RunSummary {
	qualified := 0
	for _, r := range results {
		if r.Qualification.IsQualified {
			qualified++
		}
	}
	meetings := policy(qualified)
	hoursSaved := math.Round(float64(qualified)*cfg.HoursSavedPerQualifiedLead*10) / 10

	actions := make([]string, 0, len(results)+2)
	actions = append(actions, fmt.Sprintf("Processed %d inbound leads", len(results)))
	actions = append(actions, fmt.Sprintf("Qualified %d leads and booked %d meetings", qualified, meetings))
	for _, r := range results {
		q := r.Qualification
		name := derive.DisplayName(r.EnrichedLead)
		if q.IsQualified {
			actions = append(actions, fmt.Sprintf("Qualified %s as tier %s with score %d", name, q.Tier, q.Score))
		} else {
			actions = append(actions, fmt.Sprintf("Left %s unqualified at tier %s with score %d", name, q.Tier, q.Score))
		}
	}

	return model.RunSummary{
		InboundLeadsProcessed: len(results),
		QualifiedLeads:        qualified,
		MeetingsBooked:        meetings,
		HoursSaved:            hoursSaved,
		Actions:               actions,
	}
}
