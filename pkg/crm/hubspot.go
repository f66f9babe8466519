package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultHubSpotBaseURL = "https://api.hubapi.com"

// HubSpotOption configures the HubSpot CRM variant.
type HubSpotOption func(*hubspotCRM)

// WithHubSpotBaseURL overrides the API base URL (tests point it at a local
// server).
func WithHubSpotBaseURL(baseURL string) HubSpotOption {
	return func(c *hubspotCRM) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHubSpotHTTPClient overrides the HTTP client.
func WithHubSpotHTTPClient(client *http.Client) HubSpotOption {
	return func(c *hubspotCRM) {
		if client != nil {
			c.client = client
		}
	}
}

// hubspotCRM talks to the HubSpot CRM v3 objects API with a private app
// token.
type hubspotCRM struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHubSpot creates the HubSpot CRM variant.
func NewHubSpot(token string, opts ...HubSpotOption) CRM {
	c := &hubspotCRM{
		baseURL: defaultHubSpotBaseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type hubspotObject struct {
	ID         string         `json:"id,omitempty"`
	Properties map[string]any `json:"properties"`
}

func (c *hubspotCRM) UpsertContact(ctx context.Context, fields map[string]any) (string, error) {
	props := map[string]any{}
	copyIf := func(from, to string) {
		if v, ok := fields[from]; ok && v != "" {
			props[to] = v
		}
	}
	copyIf("email", "email")
	copyIf("firstName", "firstname")
	copyIf("lastName", "lastname")
	copyIf("company", "company")
	copyIf("jobTitle", "jobtitle")
	copyIf("source", "hs_lead_status")

	var created hubspotObject
	err := c.post(ctx, "/crm/v3/objects/contacts", hubspotObject{Properties: props}, &created)
	if err != nil {
		return "", eris.Wrap(err, "hubspot: upsert contact")
	}
	return created.ID, nil
}

func (c *hubspotCRM) CreateTasks(ctx context.Context, tasks []Task) error {
	type input struct {
		Inputs []hubspotObject `json:"inputs"`
	}
	batch := input{Inputs: make([]hubspotObject, len(tasks))}
	for i, t := range tasks {
		props := map[string]any{
			"hs_task_subject": t.Title,
			"hs_task_body":    t.Description,
			"hs_timestamp":    time.Now().UTC().AddDate(0, 0, t.DueInDays).UnixMilli(),
			"hs_task_status":  "NOT_STARTED",
		}
		// Owner, when set, is the HubSpot owner ID.
		if t.Owner != "" {
			props["hubspot_owner_id"] = t.Owner
		}
		batch.Inputs[i] = hubspotObject{Properties: props}
	}
	if err := c.post(ctx, "/crm/v3/objects/tasks/batch/create", batch, nil); err != nil {
		return eris.Wrap(err, "hubspot: create tasks")
	}
	return nil
}

func (c *hubspotCRM) CreateDeal(ctx context.Context, deal Deal) (string, error) {
	props := map[string]any{
		"dealname": deal.Name,
	}
	if deal.Amount > 0 {
		props["amount"] = deal.Amount
	}
	if deal.Stage != "" {
		props["dealstage"] = deal.Stage
	}
	if deal.Pipeline != "" {
		props["pipeline"] = deal.Pipeline
	}

	var created hubspotObject
	if err := c.post(ctx, "/crm/v3/objects/deals", hubspotObject{Properties: props}, &created); err != nil {
		return "", eris.Wrap(err, "hubspot: create deal")
	}
	return created.ID, nil
}

// post sends an authenticated JSON request and decodes the response into
// out when out is non-nil.
func (c *hubspotCRM) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return eris.New(fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, path))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
