package crm

import (
	"context"
	"fmt"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// SalesforceOption configures the Salesforce CRM variant.
type SalesforceOption func(*salesforceCRM)

// WithRateLimit sets a per-second rate limit for Salesforce API calls.
// A burst equal to the integer portion of rps is allowed.
func WithRateLimit(rps float64) SalesforceOption {
	return func(c *salesforceCRM) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// salesforceCRM writes contacts, tasks and opportunities through
// go-salesforce/v3.
//
// NOTE: the underlying library does not accept context.Context, so the ctx
// covers only the rate limiter wait; callers can still cancel that.
type salesforceCRM struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewSalesforce wraps an authenticated go-salesforce instance as a CRM.
func NewSalesforce(sf *salesforce.Salesforce, opts ...SalesforceOption) CRM {
	c := &salesforceCRM{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *salesforceCRM) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// UpsertContact matches on email when present: update the existing contact
// or insert a new one.
func (c *salesforceCRM) UpsertContact(ctx context.Context, fields map[string]any) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "sf: rate limit")
	}

	email, _ := fields["email"].(string)
	record := contactRecord(fields)

	if email != "" {
		var result struct {
			Records []struct {
				Id string
			}
		}
		soql := fmt.Sprintf("SELECT Id FROM Contact WHERE Email = '%s' LIMIT 1", soqlEscape(email))
		if err := c.sf.Query(soql, &result); err != nil {
			return "", eris.Wrap(err, "sf: query contact")
		}
		if len(result.Records) > 0 {
			id := result.Records[0].Id
			record["Id"] = id
			if err := c.sf.UpdateOne("Contact", record); err != nil {
				return "", eris.Wrapf(err, "sf: update contact %s", id)
			}
			return id, nil
		}
	}

	result, err := c.sf.InsertOne("Contact", record)
	if err != nil {
		return "", eris.Wrap(err, "sf: insert contact")
	}
	if !result.Success {
		return "", eris.New(fmt.Sprintf("sf: insert contact failed: %v", result.Errors))
	}
	return result.Id, nil
}

func (c *salesforceCRM) CreateTasks(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "sf: rate limit")
	}

	records := make([]map[string]any, len(tasks))
	for i, t := range tasks {
		records[i] = taskRecord(t)
	}

	results, err := c.sf.InsertCollection("Task", records, 200)
	if err != nil {
		return eris.Wrap(err, "sf: insert tasks")
	}
	for _, r := range results.Results {
		if !r.Success {
			return eris.New(fmt.Sprintf("sf: insert task failed: %v", r.Errors))
		}
	}
	return nil
}

func (c *salesforceCRM) CreateDeal(ctx context.Context, deal Deal) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "sf: rate limit")
	}

	stage := deal.Stage
	if stage == "" {
		stage = "Qualification"
	}
	record := map[string]any{
		"Name":      deal.Name,
		"StageName": stage,
		"CloseDate": time.Now().UTC().AddDate(0, 1, 0).Format("2006-01-02"),
	}
	if deal.Amount > 0 {
		record["Amount"] = deal.Amount
	}

	result, err := c.sf.InsertOne("Opportunity", record)
	if err != nil {
		return "", eris.Wrap(err, "sf: insert opportunity")
	}
	if !result.Success {
		return "", eris.New(fmt.Sprintf("sf: insert opportunity failed: %v", result.Errors))
	}
	return result.Id, nil
}

// taskRecord maps a Task onto Salesforce Task fields. Owner, when set, is
// the Salesforce user ID and becomes OwnerId.
func taskRecord(t Task) map[string]any {
	record := map[string]any{
		"Subject":      t.Title,
		"Description":  t.Description,
		"ActivityDate": time.Now().UTC().AddDate(0, 0, t.DueInDays).Format("2006-01-02"),
	}
	if t.Owner != "" {
		record["OwnerId"] = t.Owner
	}
	return record
}

// contactRecord maps adapter field names onto Contact fields, dropping
// unknowns.
func contactRecord(fields map[string]any) map[string]any {
	mapping := map[string]string{
		"email":     "Email",
		"firstName": "FirstName",
		"lastName":  "LastName",
		"company":   "Account_Name__c",
		"jobTitle":  "Title",
		"source":    "LeadSource",
	}
	record := make(map[string]any, len(fields))
	for k, sfName := range mapping {
		if v, ok := fields[k]; ok && v != "" {
			record[sfName] = v
		}
	}
	return record
}

// soqlEscape escapes single quotes and backslashes in a SOQL string literal.
func soqlEscape(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
