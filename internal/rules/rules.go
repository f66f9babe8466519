// Package rules holds the static, per-deployment tuning for the lead flow
// engine: scoring bonuses, tier thresholds, deal creation rules, task
// templates and reporting constants. Tenant-mutable knobs live in
// model.Settings; everything here is fixed at deploy time.
package rules

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadflow-engine/internal/model"
)

// Config is the full engine rule set.
type Config struct {
	Scoring ScoringRules   `yaml:"scoring"`
	Tiers   TierThresholds `yaml:"tiers"`
	// MinQualifiedScore is the qualification cutoff. Independent of the tier
	// thresholds: a tenant may legitimately configure tier B below it.
	MinQualifiedScore          int       `yaml:"min_qualified_score"`
	Deal                       DealRules `yaml:"deal"`
	Tasks                      TaskRules `yaml:"tasks"`
	HoursSavedPerQualifiedLead float64   `yaml:"hours_saved_per_qualified_lead"`
}

// ScoringRules are the additive bonuses of the engine scorer.
type ScoringRules struct {
	EmailPresentBonus     int      `yaml:"email_present_bonus"`
	CompanyPresenceBonus  int      `yaml:"company_presence_bonus"`
	JobTitlePresenceBonus int      `yaml:"job_title_presence_bonus"`
	HighIntentSourceBonus int      `yaml:"high_intent_source_bonus"`
	HighIntentSources     []string `yaml:"high_intent_sources"`
}

// TierThresholds bucket scores into tiers A and B; everything below B is C.
type TierThresholds struct {
	A int `yaml:"a"`
	B int `yaml:"b"`
}

// DealRules gate and size CRM deal proposals.
type DealRules struct {
	CreateWhenTierIn []model.Tier           `yaml:"create_when_tier_in"`
	BaseAmount       float64                `yaml:"base_amount"`
	TierMultipliers  map[model.Tier]float64 `yaml:"tier_multipliers"`
	Stage            string                 `yaml:"stage"`
	Pipeline         string                 `yaml:"pipeline"`
}

// CreatesForTier reports whether a deal should be created for the tier.
func (d DealRules) CreatesForTier(tier model.Tier) bool {
	for _, t := range d.CreateWhenTierIn {
		if t == tier {
			return true
		}
	}
	return false
}

// TaskTemplate renders one task kind. Placeholders {{leadName}}, {{tier}},
// {{score}} and {{reason}} are substituted literally.
type TaskTemplate struct {
	Title            string `yaml:"title"`
	Description      string `yaml:"description"`
	DefaultDueInDays int    `yaml:"default_due_in_days"`
}

// TaskRules are the three task templates the deriver can emit.
type TaskRules struct {
	FollowUp          TaskTemplate `yaml:"follow_up"`
	QualificationNote TaskTemplate `yaml:"qualification_note"`
	Disqualify        TaskTemplate `yaml:"disqualify"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		Scoring: ScoringRules{
			EmailPresentBonus:     30,
			CompanyPresenceBonus:  20,
			JobTitlePresenceBonus: 20,
			HighIntentSourceBonus: 20,
			HighIntentSources:     []string{"webinar", "demo_request", "referral"},
		},
		Tiers:             TierThresholds{A: 80, B: 60},
		MinQualifiedScore: 60,
		Deal: DealRules{
			CreateWhenTierIn: []model.Tier{model.TierA, model.TierB},
			BaseAmount:       5000,
			TierMultipliers: map[model.Tier]float64{
				model.TierA: 2.0,
				model.TierB: 1.0,
				model.TierC: 0.5,
			},
			Stage:    "Qualification",
			Pipeline: "default",
		},
		Tasks: TaskRules{
			FollowUp: TaskTemplate{
				Title:            "Follow up with {{leadName}}",
				Description:      "Tier {{tier}} lead scored {{score}}. {{reason}}",
				DefaultDueInDays: 2,
			},
			QualificationNote: TaskTemplate{
				Title:            "Log qualification note for {{leadName}}",
				Description:      "{{reason}} (score {{score}}, tier {{tier}})",
				DefaultDueInDays: 1,
			},
			Disqualify: TaskTemplate{
				Title:            "Close out {{leadName}}",
				Description:      "Below qualification threshold with score {{score}}. {{reason}}",
				DefaultDueInDays: 3,
			},
		},
		HoursSavedPerQualifiedLead: 0.5,
	}
}

// Load reads rules from a YAML file layered over Default. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "rules: read %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, eris.Wrapf(err, "rules: parse %s", path)
	}
	return cfg, nil
}

// EffectiveMinScore resolves the qualification cutoff for a tenant: the
// tenant's snapshot/settings threshold when positive, the deployment default
// otherwise.
func (c Config) EffectiveMinScore(settings model.Settings) int {
	if settings.QualificationScoreThreshold > 0 {
		return settings.QualificationScoreThreshold
	}
	return c.MinQualifiedScore
}
