package model

import (
	"net/http"
	"strings"
)

// LeadSource identifies where a run's leads came from.
type LeadSource string

const (
	SourceHubSpot LeadSource = "hubspot"
	SourceCSV     LeadSource = "csv"
)

// Valid reports whether the source is one the engine accepts.
func (s LeadSource) Valid() bool {
	return s == SourceHubSpot || s == SourceCSV
}

// RunRequest is a transport-agnostic request to execute a run.
//
// Real (non-simulated) runs require SettingsSnapshotID and an idempotency
// key; simulated runs ignore the snapshot and may use the inline Settings
// override in place of live settings.
type RunRequest struct {
	AgentID            string     `json:"agentId"`
	Source             LeadSource `json:"source"`
	SettingsSnapshotID string     `json:"settingsSnapshotId,omitempty"`
	Simulate           bool       `json:"simulate"`
	Leads              []RawLead  `json:"leads"`
	Settings           *Settings  `json:"settings,omitempty"`
}

// NormalizeAgentID lower-cases and trims a tenant identifier. Applied before
// the ID is used anywhere.
func NormalizeAgentID(agentID string) string {
	return strings.ToLower(strings.TrimSpace(agentID))
}

// RunSummary aggregates a run's per-lead results.
type RunSummary struct {
	InboundLeadsProcessed int      `json:"inboundLeadsProcessed"`
	QualifiedLeads        int      `json:"qualifiedLeads"`
	MeetingsBooked        int      `json:"meetingsBooked"`
	HoursSaved            float64  `json:"hoursSaved"`
	Actions               []string `json:"actions"`
}

// CRMSyncCounters counts the CRM writes that actually succeeded. A lead
// whose sync fails under-reports here without failing the run.
type CRMSyncCounters struct {
	ContactsSynced int `json:"contactsSynced"`
	TasksCreated   int `json:"tasksCreated"`
	DealsCreated   int `json:"dealsCreated"`
}

// RunResult is the success payload of a run.
type RunResult struct {
	Summary             RunSummary       `json:"summary"`
	Leads               []ProcessResult  `json:"leads"`
	CRMSync             *CRMSyncCounters `json:"crmSync,omitempty"`
	SettingsSnapshotID  string           `json:"settingsSnapshotId,omitempty"`
	Simulated           bool             `json:"simulated"`
	IdempotencyReplayed bool             `json:"idempotencyReplayed,omitempty"`
}

// ErrorCode classifies run failures for callers.
type ErrorCode string

const (
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrMissingIntegration ErrorCode = "MISSING_INTEGRATION"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrInProgress         ErrorCode = "IN_PROGRESS"
	ErrIdempotencyReplay  ErrorCode = "IDEMPOTENCY_REPLAY"
	ErrEngineFailure      ErrorCode = "ENGINE_FAILURE"
	ErrUnknown            ErrorCode = "UNKNOWN"
)

// HTTPStatus maps a code to its fixed status class.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrInvalidInput, ErrMissingIntegration:
		return http.StatusBadRequest
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrInProgress:
		return http.StatusAccepted
	case ErrIdempotencyReplay:
		return http.StatusConflict
	case ErrEngineFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RunError is the failure payload of a run.
type RunError struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *RunError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewRunError builds a RunError with the retryable flag fixed by code:
// only IN_PROGRESS and ENGINE_FAILURE invite a retry.
func NewRunError(code ErrorCode, message string) *RunError {
	return &RunError{
		Code:      code,
		Message:   message,
		Retryable: code == ErrInProgress || code == ErrEngineFailure,
	}
}
