package repository

import (
	"context"
	"fmt"

	"github.com/proptax/calculator/api/internal/config"
	"github.com/proptax/calculator/api/internal/database"
	fsclient "github.com/proptax/calculator/api/internal/firestore"
	"github.com/proptax/calculator/api/internal/logger"
)

// Open connects the cache backend named by cfg.Cache.Backend. The returned
// function releases its connections.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (PropertyRepository, func(), error) {
	switch cfg.Cache.Backend {
	case config.BackendFirestore:
		client, source, err := fsclient.New(ctx, cfg.Firestore)
		if err != nil {
			return nil, nil, err
		}
		if err := fsclient.Ping(ctx, client); err != nil {
			// Reads degrade to misses, so a cold store is not fatal.
			log.Warn("Firestore ping failed", map[string]interface{}{
				"project_id": cfg.Firestore.ProjectID,
				"error":      err.Error(),
			})
		}

		log.Info("Firestore client initialized", map[string]interface{}{
			"project_id":   cfg.Firestore.ProjectID,
			"collection":   cfg.Cache.Collection,
			"creds_source": source,
		})
		return NewFirestoreRepository(client, cfg.Cache.Collection), func() { _ = client.Close() }, nil

	case config.BackendPostgres:
		db, err := database.NewPostgresPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}

		repo := NewPostgresRepository(db, cfg.Cache.Collection)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}

		log.Info("Database connection established", map[string]interface{}{
			"host":       cfg.Database.Host,
			"port":       cfg.Database.Port,
			"database":   cfg.Database.Name,
			"pool_min":   cfg.Database.PoolMin,
			"pool_max":   cfg.Database.PoolMax,
			"collection": cfg.Cache.Collection,
		})
		return repo, db.Close, nil

	case config.BackendMemory:
		log.Warn("Using in-memory property cache; entries are lost on restart", nil)
		return NewMemoryRepository(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
