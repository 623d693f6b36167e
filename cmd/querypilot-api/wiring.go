package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/go-redis/redis/v8"

	"github.com/querypilot/querypilot/internal/agents"
	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/catalog"
	catalogpostgres "github.com/querypilot/querypilot/internal/catalog/postgres"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/conversation"
	convredis "github.com/querypilot/querypilot/internal/conversation/redis"
	"github.com/querypilot/querypilot/internal/history"
	historypostgres "github.com/querypilot/querypilot/internal/history/postgres"
	"github.com/querypilot/querypilot/internal/query"
	duckdbengine "github.com/querypilot/querypilot/internal/query/duckdb"
	"github.com/querypilot/querypilot/internal/query/sqldb"
	"github.com/querypilot/querypilot/internal/storage"
	s3store "github.com/querypilot/querypilot/internal/storage/s3"
	"github.com/querypilot/querypilot/internal/templates"
	"github.com/querypilot/querypilot/internal/templates/azuresearch"
)

// target is the database questions are answered against.
type target struct {
	engine query.Engine
	db     *sql.DB
	health api.HealthChecker
	close  func() error
}

func needsCredential(cfg config.Config) bool {
	if cfg.LLM.Provider == "azure" && cfg.LLM.UseManagedIdentity {
		return true
	}
	if cfg.Agents.Backend == "foundry" {
		return true
	}
	return cfg.Search.Provider == "azure" && strings.TrimSpace(cfg.Search.APIKey) == ""
}

func newCredential(cfg config.Config) (azcore.TokenCredential, error) {
	if !needsCredential(cfg) {
		return nil, nil
	}
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("create azure credential: %w", err)
	}
	return credential, nil
}

func newObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	if !cfg.ObjectStore.Enabled {
		return nil, nil
	}
	return s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
}

func openTarget(ctx context.Context, cfg config.Config, store storage.ObjectStore) (target, error) {
	if cfg.Database.Driver == "duckdb" {
		datasets, err := storage.ParseDatasets(cfg.Database.DuckDBDatasets)
		if err != nil {
			return target{}, err
		}
		path := cfg.Database.DSN
		if strings.Contains(path, "://") {
			path = ""
		}
		engine, err := duckdbengine.Open(ctx, duckdbengine.Config{Path: path, Store: store, Datasets: datasets})
		if err != nil {
			return target{}, err
		}
		return target{engine: engine, db: engine.DB(), health: engine, close: engine.Close}, nil
	}

	db, err := sqldb.Open(ctx, sqldb.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return target{}, err
	}
	engine := sqldb.NewEngine(db, cfg.Database.Driver)
	return target{engine: engine, db: db, health: engine, close: db.Close}, nil
}

func loadCatalog(ctx context.Context, cfg config.Config, store storage.ObjectStore) (templates.Catalog, error) {
	if key := strings.TrimSpace(cfg.Catalog.ObjectKey); key != "" {
		if store == nil {
			return templates.Catalog{}, fmt.Errorf("catalog object key requires QUERYPILOT_OBJECTSTORE_ENABLED")
		}
		return templates.LoadObject(ctx, store, key)
	}
	return templates.LoadFile(cfg.Catalog.Path)
}

// tableProvider merges the catalog's table descriptions with introspected
// schema when enabled.
func tableProvider(cfg config.Config, tgt target, described []catalog.TableMetadata) catalog.Provider {
	static := catalog.NewStaticProvider(described)
	if !cfg.Database.Introspect || tgt.db == nil {
		return static
	}
	schema := cfg.Database.Schema
	introspector := catalogpostgres.NewIntrospector(tgt.db, schema)
	switch cfg.Database.Driver {
	case "mysql":
		introspector.Placeholder = "?"
	case "duckdb":
		if schema == "" || schema == "public" {
			introspector = catalogpostgres.NewIntrospector(tgt.db, "main")
		}
	}
	return catalog.NewCachedProvider(catalog.NewMergedProvider(static, introspector))
}

func newSearcher(cfg config.Config, cat templates.Catalog, credential azcore.TokenCredential) (templates.Searcher, error) {
	if cfg.Search.Provider != "azure" {
		return templates.NewLocalIndex(cat.Templates, cfg.Search.MinScore), nil
	}
	client, err := azuresearch.New(azuresearch.Config{
		Endpoint:   cfg.Search.Endpoint,
		Index:      cfg.Search.Index,
		APIKey:     cfg.Search.APIKey,
		APIVersion: cfg.Search.APIVersion,
		MinScore:   cfg.Search.MinScore,
		Timeout:    cfg.Search.Timeout,
		Credential: credential,
	}, cat.Lookup)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func openRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if cfg.State.Backend != "redis" && cfg.Agents.Cache != "redis" {
		return nil, nil
	}
	return convredis.Open(ctx, cfg.State.RedisURL)
}

func newAgentService(cfg config.Config, credential azcore.TokenCredential) (agents.Service, error) {
	if cfg.Agents.Backend != "foundry" {
		return agents.NewLocalService(), nil
	}
	return agents.NewFoundryService(agents.FoundryConfig{
		Endpoint:   cfg.Agents.Endpoint,
		APIVersion: cfg.Agents.APIVersion,
		Model:      cfg.LLM.Model,
		Credential: credential,
		Timeout:    cfg.LLM.Timeout,
	})
}

func newIDCache(cfg config.Config, client *redis.Client) agents.IDCache {
	if cfg.Agents.Cache == "redis" && client != nil {
		return agents.NewRedisIDCache(client, cfg.Service.Name)
	}
	return agents.NewMemoryIDCache()
}

func newStateStore(cfg config.Config, client *redis.Client) conversation.Store {
	if cfg.State.Backend == "redis" && client != nil {
		return convredis.NewStore(client, cfg.State.ClarificationTTL)
	}
	return conversation.NewMemoryStore(cfg.State.ClarificationTTL)
}

// historyStore is the query history plus the database it lives in, if any.
type historyStore struct {
	store  history.Store
	db     *sql.DB
	health api.HealthChecker
}

func openHistory(ctx context.Context, cfg config.Config, logger *slog.Logger) (historyStore, error) {
	if strings.TrimSpace(cfg.History.DSN) == "" {
		logger.Warn("query history is kept in memory; set QUERYPILOT_HISTORY_DSN to persist it")
		return historyStore{store: history.NewMemoryStore()}, nil
	}
	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
		DSN:             cfg.History.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return historyStore{}, fmt.Errorf("open history db: %w", err)
	}
	repo := historypostgres.NewRepository(db)
	return historyStore{store: repo, db: db, health: repo}, nil
}

func withTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}
