package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/maorm36/bulletin/internal/config"
	"github.com/maorm36/bulletin/store"
	"github.com/maorm36/bulletin/store/cached"
	"github.com/maorm36/bulletin/store/memory"
	mongostore "github.com/maorm36/bulletin/store/mongo"
	"github.com/maorm36/bulletin/store/postgres"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// backends holds the store handed to the service and the clients behind it,
// which the store does not own.
type backends struct {
	store  store.Store
	redis  *redis.Client
	mongo  *mongo.Client
	sqlDB  *sqlx.DB
	logger *slog.Logger
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	be := &backends{logger: logger}

	switch cfg.Store {
	case config.StoreMongo:
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("mongo client: %w", err)
		}
		be.mongo = client
		be.store = mongostore.New(client,
			mongostore.WithDatabase(cfg.MongoDatabase),
			mongostore.WithCollection(cfg.MongoCollection),
			mongostore.WithTimeout(cfg.StoreTimeout),
			mongostore.WithLogger(logger),
		)
	case config.StorePostgres:
		db, err := sqlx.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		be.sqlDB = db
		be.store = postgres.New(db,
			postgres.WithTable(cfg.PostgresTable),
			postgres.WithTimeout(cfg.StoreTimeout),
			postgres.WithLogger(logger),
		)
	default:
		be.store = memory.New()
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			be.close(ctx)
			return nil, fmt.Errorf("redis url: %w", err)
		}
		be.redis = redis.NewClient(redisOpts)
	}

	if cfg.CacheEnabled && be.redis != nil {
		be.store = cached.New(be.store, be.redis,
			cached.WithTTL(cfg.CacheTTL),
			cached.WithLogger(logger),
		)
	}

	return be, nil
}

func (b *backends) close(ctx context.Context) error {
	var errs []error
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.mongo != nil {
		errs = append(errs, b.mongo.Disconnect(ctx))
	}
	if b.sqlDB != nil {
		errs = append(errs, b.sqlDB.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		b.logger.Warn("closing backends", "error", err)
	}
	return err
}
