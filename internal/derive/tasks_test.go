package derive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/rules"
)

func qualifiedLead() (model.EnrichedLead, model.QualificationResult) {
	lead := model.EnrichedLead{
		RawLead:         model.RawLead{Company: "Acme"},
		FullName:        "Jane Doe",
		NormalizedEmail: "jane@acme.com",
		Score:           90,
	}
	q := model.QualificationResult{
		IsQualified: true,
		Tier:        model.TierA,
		Score:       90,
		Reason:      "Strong fit: qualified at tier A.",
	}
	return lead, q
}

func TestRenderTemplate(t *testing.T) {
	lead, q := qualifiedLead()

	out := RenderTemplate("Follow up with {{leadName}} ({{tier}}/{{score}}): {{reason}}", lead, q)
	assert.Equal(t, "Follow up with Jane Doe (A/90): Strong fit: qualified at tier A.", out)
}

func TestRenderTemplateLeavesUnknownPlaceholders(t *testing.T) {
	lead, q := qualifiedLead()
	assert.Equal(t, "{{bogus}}", RenderTemplate("{{bogus}}", lead, q))
}

func TestBuildTasksQualified(t *testing.T) {
	cfg := rules.Default()
	settings := model.DefaultSettings()
	settings.DefaultOwner = "sdr-team"
	lead, q := qualifiedLead()

	tasks := BuildTasks(lead, q, cfg, settings)
	require.Len(t, tasks, 2)

	assert.Equal(t, "Follow up with Jane Doe", tasks[0].Title)
	assert.Equal(t, "Log qualification note for Jane Doe", tasks[1].Title)
	for _, task := range tasks {
		assert.Equal(t, "sdr-team", task.Owner)
		assert.Equal(t, settings.FollowUpDueInDays, task.DueInDays)
	}
}

func TestBuildTasksUnqualifiedRespectsAutoClose(t *testing.T) {
	cfg := rules.Default()
	lead, _ := qualifiedLead()
	q := model.QualificationResult{Tier: model.TierC, Score: 20, Reason: "Not qualified: low engagement signals."}

	settings := model.DefaultSettings()
	assert.Nil(t, BuildTasks(lead, q, cfg, settings))

	settings.AutoCloseBelowThreshold = true
	tasks := BuildTasks(lead, q, cfg, settings)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Close out Jane Doe", tasks[0].Title)
}

// A non-positive tenant due-days falls back to each template's own default.
func TestBuildTasksDueDaysFallback(t *testing.T) {
	cfg := rules.Default()
	settings := model.DefaultSettings()
	settings.FollowUpDueInDays = 0
	lead, q := qualifiedLead()

	tasks := BuildTasks(lead, q, cfg, settings)
	require.Len(t, tasks, 2)
	assert.Equal(t, cfg.Tasks.FollowUp.DefaultDueInDays, tasks[0].DueInDays)
	assert.Equal(t, cfg.Tasks.QualificationNote.DefaultDueInDays, tasks[1].DueInDays)
}

func TestDisplayNameFallbacks(t *testing.T) {
	assert.Equal(t, "Jane Doe", DisplayName(model.EnrichedLead{FullName: "Jane Doe", NormalizedEmail: "j@a.co"}))
	assert.Equal(t, "j@a.co", DisplayName(model.EnrichedLead{NormalizedEmail: "j@a.co"}))
	assert.Equal(t, "Acme", DisplayName(model.EnrichedLead{RawLead: model.RawLead{Company: "Acme"}}))
	assert.Equal(t, "Unnamed lead", DisplayName(model.EnrichedLead{}))
}
