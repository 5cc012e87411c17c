package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/srinidhi621/knowledge-atlas/config"
	"github.com/srinidhi621/knowledge-atlas/internal/agent/core"
	"github.com/srinidhi621/knowledge-atlas/internal/executor"
	"github.com/srinidhi621/knowledge-atlas/internal/oracle/llm"
	"github.com/srinidhi621/knowledge-atlas/internal/planner"
	"github.com/srinidhi621/knowledge-atlas/internal/store"
	"github.com/srinidhi621/knowledge-atlas/internal/store/memory"
	"github.com/srinidhi621/knowledge-atlas/internal/synthesis"
	"github.com/srinidhi621/knowledge-atlas/internal/tool"
	"github.com/srinidhi621/knowledge-atlas/internal/tools/docsearch"
	"github.com/srinidhi621/knowledge-atlas/internal/tools/sqltables"
)

// app holds the wired dependencies shared by serve, ask and trace.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	orch     *core.Orchestrator
	registry *tool.Registry
	metrics  *prometheus.Registry
	store    *store.Store
	redis    *redis.Client
	journal  *executor.StreamJournal
	library  *docsearch.Library
	tablesDB *sql.DB
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger, metrics: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.registry = tool.NewRegistry()
	a.library = docsearch.NewLibrary(cfg.Tools.DocumentIndexDir, logger.Named("docsearch"))
	if err := a.registry.Register(docsearch.NewTool(a.library, cfg.Tools.SearchLimit)); err != nil {
		return nil, err
	}
	if cfg.Tools.TablesDSN != "" {
		db, err := sql.Open("postgres", cfg.Tools.TablesDSN)
		if err != nil {
			return nil, fmt.Errorf("open tables db: %w", err)
		}
		a.tablesDB = db
		tableOpts := []sqltables.Option{sqltables.WithMaxRows(cfg.Tools.MaxRows), sqltables.WithLogger(logger.Named("sqltables"))}
		if cfg.Tools.TablesRoleScoped {
			tableOpts = append(tableOpts, sqltables.WithRoleResolver(sqltables.SchemaFor))
		}
		tables := sqltables.New(db, tableOpts...)
		if err := a.registry.Register(tables.DescribeTool()); err != nil {
			return nil, err
		}
		if err := a.registry.Register(tables.RunSQLTool()); err != nil {
			return nil, err
		}
	}
	a.registry.Seal()

	planModel := cfg.LLM.Routing.Model("planning")
	synthModel := cfg.LLM.Routing.Model("synthesis")
	planProvider, err := llm.NewProvider(cfg.LLM, planModel)
	if err != nil {
		return nil, fmt.Errorf("planning provider: %w", err)
	}
	synthProvider, err := llm.NewProvider(cfg.LLM, synthModel)
	if err != nil {
		return nil, fmt.Errorf("synthesis provider: %w", err)
	}
	planningOracle := llm.NewPlanningOracle(planProvider, planModel, cfg.LLM.Routing.Model("repair"), logger.Named("llm"))
	synthesisOracle := llm.NewSynthesisOracle(synthProvider, synthModel, logger.Named("llm"))

	p := planner.New(a.registry, planningOracle,
		planner.WithLogger(logger.Named("planner")),
		planner.WithMaxSteps(cfg.Agent.MaxPlanSteps))

	exMetrics, err := executor.NewPrometheusMetrics(a.metrics)
	if err != nil {
		return nil, err
	}
	exOpts := []executor.Option{
		executor.WithRepairer(p),
		executor.WithMetrics(exMetrics),
		executor.WithLogger(logger.Named("executor")),
		executor.WithMaxAttempts(cfg.Agent.MaxAttempts),
		executor.WithStepTimeout(cfg.Agent.StepTimeout),
	}
	if cfg.Storage.Journal.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:        cfg.Storage.Redis.Addr(),
			Password:    cfg.Storage.Redis.Password,
			DB:          cfg.Storage.Redis.DB,
			ReadTimeout: cfg.Storage.Redis.Timeout,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		a.journal = executor.NewStreamJournal(a.redis,
			executor.WithStreamPrefix(cfg.Storage.Journal.Prefix),
			executor.WithStreamMaxLen(cfg.Storage.Journal.MaxLen),
			executor.WithStreamTTL(cfg.Storage.Journal.TTL))
		exOpts = append(exOpts, executor.WithJournal(a.journal))
	}
	ex := executor.New(a.registry, exOpts...)

	synth := synthesis.New(synthesisOracle,
		synthesis.WithLogger(logger.Named("synthesis")),
		synthesis.WithSnippetLength(cfg.Agent.SnippetLength))

	var recorder core.TraceRecorder
	switch cfg.Storage.Traces {
	case config.TracesPostgres:
		a.store, err = store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		recorder = a.store
	default:
		recorder = memory.New()
	}

	orchMetrics, err := core.NewPrometheusMetrics(a.metrics)
	if err != nil {
		return nil, err
	}
	orchOpts := []core.Option{
		core.WithLogger(logger.Named("orchestrator")),
		core.WithMetrics(orchMetrics),
		core.WithRunTimeout(cfg.Agent.RunTimeout),
	}
	if a.journal != nil {
		orchOpts = append(orchOpts, core.WithJournalReader(a.journal))
	}
	a.orch = core.New(a.registry, p, ex, synth, recorder, orchOpts...)
	return a, nil
}

// healthChecks returns the dependency checks served on /healthz.
func (a *app) healthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if a.store != nil {
		checks["postgres"] = a.store.Ping
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	if a.tablesDB != nil {
		checks["tables"] = a.tablesDB.PingContext
	}
	return checks
}

func (a *app) Close() {
	if a.library != nil {
		if err := a.library.Close(); err != nil {
			a.logger.Warn("close document library", zap.Error(err))
		}
	}
	if a.tablesDB != nil {
		_ = a.tablesDB.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
