package crm

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a recording CRM for tests and demos. Construct one per test or
// process and inject it; it is not a shared singleton.
type Mock struct {
	mu       sync.Mutex
	Contacts []map[string]any
	Tasks    []Task
	Deals    []Deal

	// Error hooks: when set, the matching call returns the error instead
	// of recording.
	UpsertContactErr error
	CreateTasksErr   error
	CreateDealErr    error
}

// NewMock creates an empty recording CRM.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) UpsertContact(_ context.Context, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertContactErr != nil {
		return "", m.UpsertContactErr
	}
	m.Contacts = append(m.Contacts, fields)
	return fmt.Sprintf("contact-%d", len(m.Contacts)), nil
}

func (m *Mock) CreateTasks(_ context.Context, tasks []Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateTasksErr != nil {
		return m.CreateTasksErr
	}
	m.Tasks = append(m.Tasks, tasks...)
	return nil
}

func (m *Mock) CreateDeal(_ context.Context, deal Deal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateDealErr != nil {
		return "", m.CreateDealErr
	}
	m.Deals = append(m.Deals, deal)
	return fmt.Sprintf("deal-%d", len(m.Deals)), nil
}

// Counts returns the recorded totals.
func (m *Mock) Counts() (contacts, tasks, deals int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Contacts), len(m.Tasks), len(m.Deals)
}
