package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.True(t, s.IsEnabled)
	assert.Equal(t, 60, s.QualificationScoreThreshold)
	assert.False(t, s.AutoCloseBelowThreshold)
	assert.Equal(t, 2, s.FollowUpDueInDays)
	assert.False(t, s.UpdatedAt.IsZero())
}

func TestSettingsPatchApplyOnlyChangesSetFields(t *testing.T) {
	base := DefaultSettings()
	threshold := 75
	owner := "sdr-team"

	patched := SettingsPatch{
		QualificationScoreThreshold: &threshold,
		DefaultOwner:                &owner,
	}.Apply(base)

	assert.Equal(t, 75, patched.QualificationScoreThreshold)
	assert.Equal(t, "sdr-team", patched.DefaultOwner)
	assert.Equal(t, base.IsEnabled, patched.IsEnabled)
	assert.Equal(t, base.FollowUpDueInDays, patched.FollowUpDueInDays)
	assert.False(t, patched.UpdatedAt.Before(base.UpdatedAt))
}

func TestSettingsPatchApplyEmptyPatchOnlyStamps(t *testing.T) {
	base := DefaultSettings()
	patched := SettingsPatch{}.Apply(base)

	base.UpdatedAt = patched.UpdatedAt
	assert.Equal(t, base, patched)
}
