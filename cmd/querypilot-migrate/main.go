package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/migrations"
	"github.com/querypilot/querypilot/internal/storage"
	s3store "github.com/querypilot/querypilot/internal/storage/s3"
	"github.com/querypilot/querypilot/internal/templates"
	"github.com/querypilot/querypilot/internal/templates/azuresearch"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down|status|none")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	syncIndex := flag.Bool("sync-index", false, "upload catalog templates to the azure search index")
	publish := flag.Bool("publish-catalog", false, "validate the catalog file and put it at QUERYPILOT_CATALOG_OBJECT_KEY")
	withdraw := flag.Bool("withdraw-catalog", false, "delete the catalog object at QUERYPILOT_CATALOG_OBJECT_KEY")
	flag.Parse()

	cfg, err := config.LoadFromEnv("querypilot-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if *direction != "none" {
		if err := migrate(ctx, cfg, *direction, *steps); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *publish && *withdraw {
		fmt.Fprintln(os.Stderr, "-publish-catalog and -withdraw-catalog are mutually exclusive")
		os.Exit(2)
	}
	if *publish || *withdraw {
		if err := manageCatalogObject(ctx, cfg, *publish); err != nil {
			fmt.Fprintf(os.Stderr, "catalog object update failed: %v\n", err)
			os.Exit(1)
		}
	}
	if *syncIndex {
		count, err := uploadTemplates(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "index sync failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("uploaded %d template(s) to %s\n", count, cfg.Search.Index)
	}
}

func migrate(ctx context.Context, cfg config.Config, direction string, steps int) error {
	if cfg.History.DSN == "" {
		return fmt.Errorf("QUERYPILOT_HISTORY_DSN is required")
	}

	db, err := sql.Open("pgx", cfg.History.DSN)
	if err != nil {
		return fmt.Errorf("database open error: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping error: %w", err)
	}

	runner := migrations.NewRunner()
	switch direction {
	case "up":
		applied, err := runner.Up(ctx, db, steps)
		if err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		fmt.Printf("applied %d migration(s)\n", applied)
	case "down":
		applied, err := runner.Down(ctx, db, steps)
		if err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		fmt.Printf("rolled back %d migration(s)\n", applied)
	case "status":
		statuses, err := runner.Status(ctx, db)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		for _, status := range statuses {
			state := "pending"
			if status.Applied {
				state = "applied"
			}
			fmt.Printf("%d\t%s\n", status.Version, state)
		}
	default:
		return fmt.Errorf("invalid direction: %s", direction)
	}
	return nil
}

func uploadTemplates(ctx context.Context, cfg config.Config) (int, error) {
	if cfg.Search.Provider != "azure" {
		return 0, fmt.Errorf("QUERYPILOT_SEARCH_PROVIDER must be azure to sync the index")
	}
	if cfg.Catalog.ObjectKey != "" {
		return 0, fmt.Errorf("index sync reads the catalog from QUERYPILOT_CATALOG_PATH; unset QUERYPILOT_CATALOG_OBJECT_KEY")
	}
	cat, err := templates.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return 0, err
	}
	var credential azcore.TokenCredential
	if cfg.Search.APIKey == "" {
		credential, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return 0, fmt.Errorf("create azure credential: %w", err)
		}
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
		return 0, err
	}
	if err := client.Upload(ctx, cat.Templates); err != nil {
		return 0, err
	}
	return len(cat.Templates), nil
}

func manageCatalogObject(ctx context.Context, cfg config.Config, publish bool) error {
	key := strings.TrimSpace(cfg.Catalog.ObjectKey)
	if key == "" {
		return fmt.Errorf("QUERYPILOT_CATALOG_OBJECT_KEY is required")
	}
	store, err := openObjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	if !publish {
		if err := templates.Withdraw(ctx, store, key); err != nil {
			return err
		}
		fmt.Printf("deleted catalog object %s\n", key)
		return nil
	}
	data, err := os.ReadFile(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", cfg.Catalog.Path, err)
	}
	cat, info, err := templates.Publish(ctx, store, key, data)
	if err != nil {
		return err
	}
	fmt.Printf("published %d template(s) to %s (%d bytes)\n", len(cat.Templates), info.Key, info.Size)
	return nil
}

func openObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	if !cfg.ObjectStore.Enabled {
		return nil, fmt.Errorf("QUERYPILOT_OBJECTSTORE_ENABLED must be true")
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
