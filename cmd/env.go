package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadsense/internal/automation"
	"github.com/sells-group/leadsense/internal/notify"
	"github.com/sells-group/leadsense/internal/pipeline"
	"github.com/sells-group/leadsense/internal/store"
	sfpkg "github.com/sells-group/leadsense/pkg/salesforce"
)

// pipelineEnv holds the initialized store and pipeline needed by the
// serve/worker/process commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadsense.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initSalesforce() (sfpkg.Client, error) {
	return sfpkg.Connect(sfpkg.Creds{
		LoginURL: cfg.CRM.LoginURL,
		Username: cfg.CRM.Username,
		ClientID: cfg.CRM.ClientID,
		KeyPath:  cfg.CRM.KeyPath,
	}, sfpkg.WithRateLimit(cfg.CRM.RateRPS))
}

// initPipeline sets up the store, notification channels, the automation
// engine, and the pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	if cfg.Automation.RulesFile != "" {
		rules, err := automation.LoadRulesFile(cfg.Automation.RulesFile)
		if err != nil {
			st.Close()
			return nil, err
		}
		if err := st.ReplaceRules(ctx, rules); err != nil {
			st.Close()
			return nil, err
		}
		zap.L().Info("loaded automation rules",
			zap.String("file", cfg.Automation.RulesFile),
			zap.Int("count", len(rules)),
		)
	}

	// The CRM client is optional: without credentials, crm automation rules
	// fail individually and everything else keeps working.
	var sfClient sfpkg.Client
	if cfg.CRM.AutoAssign {
		sfClient, err = initSalesforce()
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	notifier := notify.New(cfg.Notify, st)
	engine := automation.New(st, sfClient)

	return &pipelineEnv{
		Store:    st,
		Pipeline: pipeline.New(cfg, st, notifier, engine),
	}, nil
}
