package model

import "encoding/json"

// Tier is the qualification bucket derived from score. It is computed for
// every lead, qualified or not, so near-miss leads can still be bucketed.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// rawLeadFields lists the keys RawLead decodes into named fields; everything
// else is preserved opaquely in Extra.
var rawLeadFields = map[string]bool{
	"email":     true,
	"firstName": true,
	"lastName":  true,
	"company":   true,
	"jobTitle":  true,
	"source":    true,
}

// RawLead is an untrusted inbound lead. All fields are optional; malformed
// leads degrade to low scores rather than errors.
type RawLead struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Company   string `json:"company,omitempty"`
	JobTitle  string `json:"jobTitle,omitempty"`
	Source    string `json:"source,omitempty"`

	// Extra holds any payload fields outside the known set, round-tripped
	// untouched.
	Extra map[string]any `json:"-"`
}

// UnmarshalJSON decodes the known fields and stashes the rest in Extra.
func (l *RawLead) UnmarshalJSON(data []byte) error {
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	str := func(key string) string {
		if v, ok := all[key].(string); ok {
			return v
		}
		return ""
	}

	l.Email = str("email")
	l.FirstName = str("firstName")
	l.LastName = str("lastName")
	l.Company = str("company")
	l.JobTitle = str("jobTitle")
	l.Source = str("source")

	l.Extra = nil
	for k, v := range all {
		if rawLeadFields[k] {
			continue
		}
		if l.Extra == nil {
			l.Extra = make(map[string]any)
		}
		l.Extra[k] = v
	}
	return nil
}

// MarshalJSON merges the named fields with Extra. Named fields win on key
// collision.
func (l RawLead) MarshalJSON() ([]byte, error) {
	all := make(map[string]any, len(l.Extra)+6)
	for k, v := range l.Extra {
		all[k] = v
	}
	set := func(key, val string) {
		if val != "" {
			all[key] = val
		} else {
			delete(all, key)
		}
	}
	set("email", l.Email)
	set("firstName", l.FirstName)
	set("lastName", l.LastName)
	set("company", l.Company)
	set("jobTitle", l.JobTitle)
	set("source", l.Source)
	return json.Marshal(all)
}

// EnrichedLead is a RawLead plus derived identity fields and its score.
// Immutable once produced for a given run.
type EnrichedLead struct {
	RawLead
	FullName        string `json:"fullName"`
	NormalizedEmail string `json:"normalizedEmail"`
	Score           int    `json:"score"`
}

// QualificationResult is the outcome of classifying an enriched lead.
type QualificationResult struct {
	IsQualified bool   `json:"isQualified"`
	Tier        Tier   `json:"tier"`
	Score       int    `json:"score"`
	Reason      string `json:"reason"`
}

// Task is a follow-up action derived for a lead, stamped with the resolved
// due-date offset and tenant-configured owner before it joins a run's output.
type Task struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueInDays   int    `json:"dueInDays"`
	Owner       string `json:"owner,omitempty"`
}

// Deal is an optional CRM deal proposal for a qualified lead.
type Deal struct {
	Name     string  `json:"name"`
	Amount   float64 `json:"amount,omitempty"`
	Stage    string  `json:"stage,omitempty"`
	Pipeline string  `json:"pipeline,omitempty"`
}

// ProcessResult is the full per-lead pipeline output.
type ProcessResult struct {
	RawLead       RawLead             `json:"rawLead"`
	EnrichedLead  EnrichedLead        `json:"enrichedLead"`
	Qualification QualificationResult `json:"qualification"`
	Tasks         []Task              `json:"tasks"`
	Deal          *Deal               `json:"deal"`
}
