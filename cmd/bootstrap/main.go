// Bootstrap verifies the storage backend is reachable and writable before
// the first deploy: it checks the table and round-trips a probe document.
// Run once per environment; safe to re-run.
package main

import (
	"context"
	"os"
	"time"

	"github.com/meridian-vc/backoffice/internal/config"
	"github.com/meridian-vc/backoffice/internal/pkg/logger"
	"github.com/meridian-vc/backoffice/internal/storage"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("schema check failed", "error", err, "table", cfg.Storage.DynamoDBTable)
		os.Exit(1)
	}

	logger.Info("storage ready", "backend", cfg.Storage.Backend, "table", cfg.Storage.DynamoDBTable)
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Backend == "memory" {
		return storage.NewMemory(), nil
	}
	return storage.NewDynamo(ctx, storage.DynamoOptions{
		Table:     cfg.DynamoDBTable,
		Region:    cfg.AWSRegion,
		Profile:   cfg.GetAWSProfile(),
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
}
