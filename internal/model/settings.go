package model

import "time"

// Settings is the per-tenant mutable configuration for the run engine.
// Created with defaults on first read if absent, updated via explicit save,
// never deleted.
type Settings struct {
	IsEnabled                   bool      `json:"isEnabled"`
	QualificationScoreThreshold int       `json:"qualificationScoreThreshold"`
	AutoCloseBelowThreshold     bool      `json:"autoCloseBelowThreshold"`
	DefaultOwner                string    `json:"defaultOwner,omitempty"`
	FollowUpDueInDays           int       `json:"followUpDueInDays"`
	UpdatedAt                   time.Time `json:"updatedAt"`
}

// DefaultSettings returns the settings a tenant gets before its first save.
func DefaultSettings() Settings {
	return Settings{
		IsEnabled:                   true,
		QualificationScoreThreshold: 60,
		AutoCloseBelowThreshold:     false,
		FollowUpDueInDays:           2,
		UpdatedAt:                   time.Now().UTC(),
	}
}

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	IsEnabled                   *bool   `json:"isEnabled,omitempty"`
	QualificationScoreThreshold *int    `json:"qualificationScoreThreshold,omitempty"`
	AutoCloseBelowThreshold     *bool   `json:"autoCloseBelowThreshold,omitempty"`
	DefaultOwner                *string `json:"defaultOwner,omitempty"`
	FollowUpDueInDays           *int    `json:"followUpDueInDays,omitempty"`
}

// Apply merges the patch into s and stamps UpdatedAt.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.IsEnabled != nil {
		s.IsEnabled = *p.IsEnabled
	}
	if p.QualificationScoreThreshold != nil {
		s.QualificationScoreThreshold = *p.QualificationScoreThreshold
	}
	if p.AutoCloseBelowThreshold != nil {
		s.AutoCloseBelowThreshold = *p.AutoCloseBelowThreshold
	}
	if p.DefaultOwner != nil {
		s.DefaultOwner = *p.DefaultOwner
	}
	if p.FollowUpDueInDays != nil {
		s.FollowUpDueInDays = *p.FollowUpDueInDays
	}
	s.UpdatedAt = time.Now().UTC()
	return s
}

// Snapshot is an immutable point-in-time copy of a tenant's settings,
// referenced by ID so a run's behavior is reproducible after settings edits.
type Snapshot struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"createdAt"`
}
