// Package pipeline composes scoring, qualification and derivation into
// per-lead results and orchestrates full runs against the CRM.
package pipeline

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/leadflow-engine/internal/derive"
	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/rules"
	"github.com/sells-group/leadflow-engine/internal/scoring"
)

var nameCaser = cases.Title(language.English, cases.NoLower)

// Processor runs the per-lead pipeline: enrich, score, qualify, derive.
// The scorer is injected so the engine and demo strategies stay distinct.
type Processor struct {
	cfg    rules.Config
	scorer scoring.Scorer
}

// NewProcessor builds a Processor over the given rule set and scorer.
func NewProcessor(cfg rules.Config, scorer scoring.Scorer) *Processor {
	return &Processor{cfg: cfg, scorer: scorer}
}

// Enrich derives identity fields and the score for a raw lead. The result
// is immutable for the remainder of the run.
func (p *Processor) Enrich(raw model.RawLead) model.EnrichedLead {
	return model.EnrichedLead{
		RawLead:         raw,
		FullName:        fullName(raw),
		NormalizedEmail: strings.ToLower(strings.TrimSpace(raw.Email)),
		Score:           p.scorer.Score(raw, p.cfg),
	}
}

// Process runs one lead through the whole per-lead pipeline. It has no
// failure modes: malformed leads degrade to low scores rather than errors.
func (p *Processor) Process(raw model.RawLead, settings model.Settings) model.ProcessResult {
	enriched := p.Enrich(raw)
	qualification := scoring.Qualify(enriched, p.cfg, settings)

	return model.ProcessResult{
		RawLead:       raw,
		EnrichedLead:  enriched,
		Qualification: qualification,
		Tasks:         derive.BuildTasks(enriched, qualification, p.cfg, settings),
		Deal:          derive.BuildDeal(enriched, qualification, p.cfg),
	}
}

// fullName joins the name parts, title-casing fully lower-cased parts so
// "jane doe" renders as "Jane Doe" without mangling "McAllister".
func fullName(raw model.RawLead) string {
	var parts []string
	for _, p := range []string{raw.FirstName, raw.LastName} {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p == strings.ToLower(p) {
			p = nameCaser.String(p)
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}
