// Package app assembles the market analyst from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/playintel/market-analyst/internal/config"
	"github.com/playintel/market-analyst/internal/executor"
	"github.com/playintel/market-analyst/internal/interpret"
	"github.com/playintel/market-analyst/internal/llm"
	natsclient "github.com/playintel/market-analyst/internal/nats"
	"github.com/playintel/market-analyst/internal/quota"
	"github.com/playintel/market-analyst/internal/router"
	"github.com/playintel/market-analyst/internal/schema"
	"github.com/playintel/market-analyst/internal/service"
	"github.com/playintel/market-analyst/internal/store"
	"github.com/playintel/market-analyst/internal/synth"
	"github.com/playintel/market-analyst/pkg/logger"
)

// Components are the external connections the pipeline runs on.
type Components struct {
	Store      store.Store
	LLM        llm.Client
	QuotaStore quota.Store
	// NATS is nil when exchange recording is off.
	NATS *natsclient.Client
	// Recorder defaults to a recorder on NATS, or a no-op without it.
	Recorder natsclient.Recorder
}

// App holds the assembled services.
type App struct {
	Config *config.Config
	Logger *logger.Logger

	Store  store.Store
	Quota  *quota.Tracker
	Schema *schema.Builder
	Chat   *service.ChatService
	Stats  *service.StatsService
	NATS   *natsclient.Client
}

// Build connects every dependency named by cfg and assembles the app.
// On error, connections opened so far are closed.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	var c Components
	ok := false
	defer func() {
		if !ok {
			c.close()
		}
	}()

	var err error
	c.Store, err = store.Open(ctx, cfg.AnalyticsDriver, cfg.AnalyticsDSN, store.Options{
		StatementTimeout: cfg.StatementTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open analytic store: %w", err)
	}

	c.QuotaStore, err = quota.Open(ctx, cfg.QuotaBackend, quota.Options{
		DSN:           cfg.QuotaDSN,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("open quota store: %w", err)
	}

	client, err := llm.NewClient(ctx, llm.Provider(cfg.LLMProvider), cfg.APIKey())
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	c.LLM = llm.NewInstrumented(client, cfg.LLMTimeout, log)

	if cfg.NATSURL != "" {
		c.NATS, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		rec := natsclient.NewStreamRecorder(c.NATS, log)
		if err := rec.EnsureStream(ctx); err != nil {
			return nil, fmt.Errorf("ensure exchange stream: %w", err)
		}
		c.Recorder = rec
	} else {
		log.Info("NATS_URL not set, exchange recording disabled")
	}

	a, err := Assemble(cfg, c, log)
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

// Assemble wires the pipeline stages over already-open components.
func Assemble(cfg *config.Config, c Components, log *logger.Logger) (*App, error) {
	models := llm.DefaultModels(llm.Provider(cfg.LLMProvider))
	if cfg.LLMModel != "" {
		models.Main = cfg.LLMModel
	}
	if cfg.LLMFastModel != "" {
		models.Fast = cfg.LLMFastModel
	}

	knowledge, err := readKnowledge(cfg.KnowledgeFile)
	if err != nil {
		return nil, err
	}

	builder, err := schema.NewBuilder(c.Store, c.Store.Driver(), log)
	if err != nil {
		return nil, fmt.Errorf("load schema catalog: %w", err)
	}

	tracker := quota.NewTracker(c.QuotaStore, quota.DefaultPlans, log)
	synthesizer := synth.New(c.LLM, models, cfg.HistoryTurns)

	chat := service.NewChatService(service.Deps{
		Quota:       tracker,
		Router:      router.New(c.LLM, models, cfg.HistoryTurns, log),
		Schema:      builder,
		Executor:    executor.New(synthesizer, c.Store, cfg.MaxRepairAttempts, cfg.QueryRowLimit, log),
		Interpreter: interpret.New(c.LLM, models, log),
		Responder:   interpret.NewResponder(c.LLM, models, knowledge, cfg.HistoryTurns),
		Recorder:    c.Recorder,
	}, service.Options{
		RequestTimeout: cfg.RequestTimeout,
		HistoryTurns:   cfg.HistoryTurns,
	}, log)

	log.Info("pipeline assembled",
		zap.String("llm_provider", c.LLM.Name()),
		zap.String("main_model", models.Main),
		zap.String("fast_model", models.Fast),
		zap.String("analytics_driver", c.Store.Driver()),
		zap.String("quota_backend", cfg.QuotaBackend),
		zap.Bool("recording", c.NATS != nil),
	)

	return &App{
		Config: cfg,
		Logger: log,
		Store:  c.Store,
		Quota:  tracker,
		Schema: builder,
		Chat:   chat,
		Stats:  service.NewStatsService(c.Store, log),
		NATS:   c.NATS,
	}, nil
}

// Close releases every connection held by the app.
func (a *App) Close() error {
	var errs []error
	if a.NATS != nil {
		a.NATS.Close()
	}
	if a.Quota != nil {
		errs = append(errs, a.Quota.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

func (c *Components) close() {
	if c.NATS != nil {
		c.NATS.Close()
	}
	if c.QuotaStore != nil {
		_ = c.QuotaStore.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func readKnowledge(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read knowledge file: %w", err)
	}
	return string(b), nil
}
