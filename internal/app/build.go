package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tweetyapp/voiced/internal/billing"
	"github.com/tweetyapp/voiced/internal/config"
	"github.com/tweetyapp/voiced/internal/history"
	"github.com/tweetyapp/voiced/internal/httpapi"
	"github.com/tweetyapp/voiced/internal/observability"
	"github.com/tweetyapp/voiced/internal/policy"
	"github.com/tweetyapp/voiced/internal/session"
	"github.com/tweetyapp/voiced/internal/store"
	"github.com/tweetyapp/voiced/internal/tools"
	"github.com/tweetyapp/voiced/internal/xapi"
)

type RealtimeInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config   config.Config
	Logger   *slog.Logger
	API      *httpapi.Server
	Sessions *session.Manager
	Engines  *EngineFactory
	Metrics  *observability.Metrics
	Realtime RealtimeInfo

	// Cleanup releases external resources (DB pool, history store).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	rt, err := resolveRealtime(cfg, metrics)
	if err != nil {
		return nil, err
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres init failed: %w", err)
		}
	}
	closePool := func() {
		if pool != nil {
			pool.Close()
		}
	}

	var rules *policy.RegoEngine
	if cfg.PolicyRegoPath != "" {
		rules, err = policy.LoadRegoEngine(ctx, cfg.PolicyRegoPath)
		if err != nil {
			closePool()
			return nil, fmt.Errorf("policy rules init failed: %w", err)
		}
	}

	ledger, err := newLedger(cfg, pool)
	if err != nil {
		closePool()
		return nil, err
	}

	catalog := tools.Catalog()
	historyLog := history.NewLog(history.NewStore(pool), logger.With("component", "history"))
	evaluator := policy.NewEvaluator(tools.DefaultPolicy(catalog), policy.EvaluatorOptions{
		Overrides: policy.NewOverrideStore(pool),
		Rules:     rules,
		Logger:    logger.With("component", "policy"),
	})

	engines := &EngineFactory{
		cfg:        cfg,
		newAdapter: rt.newAdapter,
		issuer:     newIssuer(cfg),
		ledger:     ledger,
		executor:   xapi.NewClient(cfg.XAPIBaseURL, cfg.XAPIToken, catalog),
		gate:       evaluator,
		history:    historyLog,
		metrics:    metrics,
		logger:     logger.With("component", "voice"),
	}

	sessions := session.NewManager(rt.provider, cfg.SessionInactivityTimeout)
	api := httpapi.New(cfg, httpapi.Deps{
		Sessions: sessions,
		Engines:  engines,
		Policy:   evaluator,
		History:  historyLog,
		Ledger:   ledger,
		Metrics:  metrics,
		Logger:   logger.With("component", "httpapi"),
	})
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ObserveSessionEvent("expired")
		logger.Info("session expired", "session_id", s.ID, "user_id", s.UserID)
		api.CloseSession(s.ID)
	})

	cleanup := func() error {
		var result *multierror.Error
		if err := historyLog.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close history: %w", err))
		}
		closePool()
		return result.ErrorOrNil()
	}

	return &BuildResult{
		Config:   cfg,
		Logger:   logger,
		API:      api,
		Sessions: sessions,
		Engines:  engines,
		Metrics:  metrics,
		Realtime: RealtimeInfo{Provider: rt.provider, Detail: rt.detail},
		Cleanup:  cleanup,
	}, nil
}

func newLedger(cfg config.Config, pool *pgxpool.Pool) (billing.Ledger, error) {
	switch cfg.BillingMode {
	case "", "memory":
		return billing.NewMemoryLedger(cfg.BillingStartingCredits, cfg.BillingMinuteCost), nil
	case "http":
		return billing.NewHTTPLedger(cfg.BillingURL, cfg.CredentialAppSecret), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("BILLING_MODE=postgres requires DATABASE_URL")
		}
		return billing.NewPostgresLedger(pool, cfg.BillingStartingCredits, cfg.BillingMinuteCost), nil
	default:
		return nil, fmt.Errorf("invalid BILLING_MODE: %q (expected memory|http|postgres)", cfg.BillingMode)
	}
}
