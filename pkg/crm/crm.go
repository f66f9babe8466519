// Package crm defines the CRM adapter the run engine writes to, with one
// named variant per provider. The variant is selected once at startup by
// configuration; call sites never probe the client's shape.
package crm

import "context"

// Task is a follow-up task to create in the CRM.
type Task struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueInDays   int    `json:"dueInDays"`
	Owner       string `json:"owner,omitempty"`
}

// Deal is a deal/opportunity to create in the CRM.
type Deal struct {
	Name     string  `json:"name"`
	Amount   float64 `json:"amount,omitempty"`
	Stage    string  `json:"stage,omitempty"`
	Pipeline string  `json:"pipeline,omitempty"`
}

// CRM is the adapter contract the pipeline calls once per lead. Every
// method must tolerate one call per lead per run, and errors must be
// catchable per-call without aborting the caller's loop.
type CRM interface {
	UpsertContact(ctx context.Context, fields map[string]any) (string, error)
	CreateTasks(ctx context.Context, tasks []Task) error
	CreateDeal(ctx context.Context, deal Deal) (string, error)
}

// Provider names a CRM variant.
type Provider string

const (
	ProviderSalesforce Provider = "salesforce"
	ProviderHubSpot    Provider = "hubspot"
	ProviderMock       Provider = "mock"
)
