package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/querypilot/querypilot/internal/agents"
	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/extract"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/progress"
	"github.com/querypilot/querypilot/internal/prompts"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/workflow"
)

func main() {
	cfg, err := config.LoadFromEnv("querypilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	fail := func(msg string, err error) {
		logger.Error(msg, slog.Any("error", err))
		os.Exit(1)
	}

	startCtx, cancelStart := withTimeout(context.Background(), time.Minute)
	defer cancelStart()

	credential, err := newCredential(cfg)
	if err != nil {
		fail("failed to create azure credential", err)
	}
	objectStore, err := newObjectStore(startCtx, cfg)
	if err != nil {
		fail("failed to initialize object store", err)
	}

	tgt, err := openTarget(startCtx, cfg, objectStore)
	if err != nil {
		fail("failed to open target database", err)
	}
	defer func() { _ = tgt.close() }()

	tool, err := query.NewTool(tgt.engine, query.ToolOptions{
		RowLimit: cfg.Database.RowLimit,
		Timeout:  cfg.Database.QueryTimeout,
		Logger:   logger,
	})
	if err != nil {
		fail("failed to initialize query tool", err)
	}

	cat, err := loadCatalog(startCtx, cfg, objectStore)
	if err != nil {
		fail("failed to load template catalog", err)
	}
	tables := tableProvider(cfg, tgt, cat.Tables)
	logger.Info("template catalog loaded", slog.Int("templates", len(cat.Templates)), slog.Int("tables", len(cat.Tables)))

	completer, err := llm.FromConfig(startCtx, cfg.LLM, credential)
	if err != nil {
		fail("failed to initialize llm completer", err)
	}

	redisClient, err := openRedis(startCtx, cfg)
	if err != nil {
		fail("failed to connect to redis", err)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	agentService, err := newAgentService(cfg, credential)
	if err != nil {
		fail("failed to initialize agent service", err)
	}
	provider, err := agents.NewProvider(agents.ProviderOptions{
		Service:   agentService,
		Cache:     newIDCache(cfg, redisClient),
		Completer: completer,
		Logger:    logger,
		Cleanup:   cfg.Agents.CleanupOnShutdown,
	})
	if err != nil {
		fail("failed to initialize agent provider", err)
	}
	promptLoader, err := prompts.NewLoader(cfg.Agents.PromptsDir)
	if err != nil {
		fail("failed to load prompts", err)
	}
	agentSet, err := agents.LoadSet(startCtx, provider, promptLoader, cfg.LLM.Model)
	if err != nil {
		fail("failed to resolve agents", err)
	}

	reporter := progress.NewLogReporter(logger)
	extractor := extract.New(extract.Options{
		Agent:   agentSet.Extraction,
		Dialect: tool.Dialect(),
		Values: extract.ChainValues{
			extract.StaticValues{},
			extract.NewSQLValues(tool, cfg.Extraction.AllowedValuesTTL, cfg.Extraction.AllowedValuesLimit),
		},
		SimilarityThreshold: cfg.Extraction.SimilarityThreshold,
		MinNameLength:       cfg.Extraction.MinNameLength,
		Reporter:            reporter,
		Logger:              logger,
	})
	translator, err := nl2sql.NewAgentTranslator(agentSet.Builder, agents.BuilderAgentName)
	if err != nil {
		fail("failed to initialize query builder", err)
	}
	searcher, err := newSearcher(cfg, cat, credential)
	if err != nil {
		fail("failed to initialize template search", err)
	}

	pipeline, err := workflow.NewPipeline(workflow.PipelineOptions{
		Search:     searcher,
		Templates:  cat.Lookup,
		Extractor:  extractor,
		Translator: translator,
		Tables:     tables,
		Executor:   tool,
		Reporter:   reporter,
		Logger:     logger,
		TopK:       cfg.Search.TopK,
	})
	if err != nil {
		fail("failed to initialize pipeline", err)
	}

	historyStore, err := openHistory(startCtx, cfg, logger)
	if err != nil {
		fail("failed to open query history", err)
	}
	if historyStore.db != nil {
		defer func() { _ = historyStore.db.Close() }()
	}
	stateStore := newStateStore(cfg, redisClient)

	orchestrator, err := workflow.New(workflow.Options{
		Classifier:     workflow.NewFallbackClassifier(workflow.NewAgentClassifier(agentSet.Intent), nil, logger),
		Pipeline:       pipeline,
		Store:          stateStore,
		History:        historyStore.store,
		Conversational: agentSet.Conversation,
		HistoryTurns:   cfg.State.HistoryTurns,
		Logger:         logger,
	})
	if err != nil {
		fail("failed to initialize orchestrator", err)
	}

	readiness := []api.ReadinessCheck{
		api.CheckDatabaseDSN(cfg),
		api.CheckObjectStoreConfig(cfg),
		api.CheckHealth("target database", tgt.health),
	}
	if historyStore.health != nil {
		readiness = append(readiness, api.CheckHealth("history database", historyStore.health))
	}
	if checker, ok := stateStore.(api.HealthChecker); ok {
		readiness = append(readiness, api.CheckHealth("conversation store", checker))
	}

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Chat:              orchestrator,
		SQL:               tool,
		Translator:        translator,
		Tables:            tables,
		Extractor:         extractor,
		Templates:         cat,
	}
	if cfg.Auth.Required {
		static, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			fail("failed to parse static auth keys", err)
		}
		var validator auth.APIKeyValidator = static
		if historyStore.db != nil {
			validator = auth.ChainValidator{static, auth.NewSQLAPIKeyValidator(historyStore.db)}
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}
	cancelStart()

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("dialect", tool.Dialect()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
	if err := provider.Close(shutdownCtx); err != nil {
		logger.Warn("agent cleanup failed", slog.Any("error", err))
	}
}
