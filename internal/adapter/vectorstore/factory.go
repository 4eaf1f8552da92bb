package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"rgen/internal/domain"
	"rgen/internal/infra/config"
	rlog "rgen/internal/infra/logger"
)

// Open builds the backend selected by cfg.Backend and verifies it with a
// health check. It returns nil, nil when no backend is configured.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (domain.VectorStorage, error) {
	var (
		store domain.VectorStorage
		err   error
	)
	if cfg.Backend == config.BackendNone {
		return nil, nil
	}
	logger = rlog.Component(logger, "vectorstore."+cfg.Backend)

	switch cfg.Backend {
	case config.BackendPostgres:
		store, err = OpenPostgres(ctx, cfg.Postgres, logger)
	case config.BackendSQLite:
		store, err = OpenSQLite(cfg.SQLite, logger)
	case config.BackendPinecone:
		store, err = NewPineconeStore(cfg, logger)
	case config.BackendUpstash:
		store, err = NewUpstashStore(cfg, logger)
	default:
		return nil, domain.NewDomainError("vectorstore.Open", domain.ErrConfig,
			fmt.Sprintf("unknown storage backend %q", cfg.Backend))
	}
	if err != nil {
		return nil, err
	}

	ok, err := store.HealthCheck(ctx)
	if err != nil || !ok {
		store.Close()
		if err == nil {
			err = domain.NewDomainError("vectorstore.Open", domain.ErrInternal, "health check failed")
		}
		return nil, domain.WrapOp("vectorstore.Open", err)
	}

	logger.Info("vector storage ready", "backend", store.Name())
	return store, nil
}
