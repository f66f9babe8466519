package main

import (
	"context"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow-engine/internal/notify"
	"github.com/sells-group/leadflow-engine/internal/pipeline"
	"github.com/sells-group/leadflow-engine/internal/rules"
	"github.com/sells-group/leadflow-engine/internal/store"
	"github.com/sells-group/leadflow-engine/pkg/crm"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadflow.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
			MinConns: int32(cfg.Store.MinConns),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCRM builds the configured CRM integration. An empty provider returns
// nil, which the engine reports as MISSING_INTEGRATION on real runs.
func initCRM() (crm.CRM, error) {
	switch crm.Provider(cfg.CRM.Provider) {
	case "":
		return nil, nil
	case crm.ProviderMock:
		return crm.NewMock(), nil
	case crm.ProviderHubSpot:
		if cfg.CRM.HubSpot.Token == "" {
			return nil, eris.New("hubspot token is required (LEADFLOW_CRM_HUBSPOT_TOKEN)")
		}
		return crm.NewHubSpot(cfg.CRM.HubSpot.Token, crm.WithHubSpotBaseURL(cfg.CRM.HubSpot.BaseURL)), nil
	case crm.ProviderSalesforce:
		sf, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		return crm.NewSalesforce(sf, crm.WithRateLimit(cfg.CRM.RateLimit)), nil
	default:
		return nil, eris.Errorf("unsupported crm provider: %s", cfg.CRM.Provider)
	}
}

func initSalesforce() (*salesforce.Salesforce, error) {
	if cfg.CRM.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (LEADFLOW_CRM_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.CRM.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.CRM.Salesforce.LoginURL,
		Username:       cfg.CRM.Salesforce.Username,
		ConsumerKey:    cfg.CRM.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sf, nil
}

func loadRules() (rules.Config, error) {
	if cfg.Engine.RulesPath == "" {
		return rules.Default(), nil
	}
	return rules.Load(cfg.Engine.RulesPath)
}

// initEngine wires the store, CRM, rules and notifier into a run engine.
// Callers must Close the returned store.
func initEngine(ctx context.Context) (*pipeline.Engine, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	crmClient, err := initCRM()
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	ruleCfg, err := loadRules()
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	notifier := notify.NewSlack(cfg.Notify.SlackWebhookURL)

	return pipeline.New(ruleCfg, st, crmClient, notifier, cfg.Engine.FreeRunsPerMonth), st, nil
}
