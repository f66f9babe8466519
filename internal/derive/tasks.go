// Package derive turns qualification results into follow-up tasks and CRM
// deal proposals under the tenant's settings.
package derive

import (
	"strconv"
	"strings"

	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/rules"
)

// RenderTemplate substitutes the {{leadName}}, {{tier}}, {{score}} and
// {{reason}} placeholders literally. Unresolved placeholders are a caller
// configuration error, not a runtime failure, so no validation happens here.
func RenderTemplate(tmpl string, lead model.EnrichedLead, q model.QualificationResult) string {
	r := strings.NewReplacer(
		"{{leadName}}", DisplayName(lead),
		"{{tier}}", string(q.Tier),
		"{{score}}", strconv.Itoa(q.Score),
		"{{reason}}", q.Reason,
	)
	return r.Replace(tmpl)
}

// BuildTasks derives the follow-up tasks for one processed lead.
//
// Qualified leads get a follow-up task and a qualification-note task.
// Unqualified leads get a single disqualify task when the tenant enables
// auto-close, and nothing otherwise (the lead stays for manual review).
func BuildTasks(lead model.EnrichedLead, q model.QualificationResult, cfg rules.Config, settings model.Settings) []model.Task {
	if q.IsQualified {
		return []model.Task{
			taskFrom(cfg.Tasks.FollowUp, lead, q, settings),
			taskFrom(cfg.Tasks.QualificationNote, lead, q, settings),
		}
	}
	if settings.AutoCloseBelowThreshold {
		return []model.Task{taskFrom(cfg.Tasks.Disqualify, lead, q, settings)}
	}
	return nil
}

func taskFrom(tmpl rules.TaskTemplate, lead model.EnrichedLead, q model.QualificationResult, settings model.Settings) model.Task {
	return model.Task{
		Title:       RenderTemplate(tmpl.Title, lead, q),
		Description: RenderTemplate(tmpl.Description, lead, q),
		DueInDays:   resolveDueDays(settings.FollowUpDueInDays, tmpl.DefaultDueInDays),
		Owner:       settings.DefaultOwner,
	}
}

// resolveDueDays prefers the tenant value when it is a positive number,
// falling back to the template default.
func resolveDueDays(tenant, fallback int) int {
	if tenant > 0 {
		return tenant
	}
	return fallback
}

// DisplayName picks the best human label for a lead: full name, then email,
// then company.
func DisplayName(lead model.EnrichedLead) string {
	switch {
	case lead.FullName != "":
		return lead.FullName
	case lead.NormalizedEmail != "":
		return lead.NormalizedEmail
	case lead.Company != "":
		return lead.Company
	default:
		return "Unnamed lead"
	}
}
