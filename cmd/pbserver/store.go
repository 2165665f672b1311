package main

import (
	"context"
	"fmt"

	"pbserver/internal/config"
	"pbserver/internal/storage"
	"pbserver/internal/storage/boltstore"
	"pbserver/internal/storage/dynamostore"
	"pbserver/internal/storage/memstore"
	"pbserver/internal/storage/mongostore"
	"pbserver/internal/storage/redisstore"
)

// openStore connects the backend named by cfg.Store.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Store {
	case config.StoreRedis:
		return redisstore.Open(cfg.RedisURL, cfg.StoreTimeout)
	case config.StoreBolt:
		return boltstore.Open(cfg.DataPath)
	case config.StoreSQLite:
		return openSQLite(cfg.DataPath)
	case config.StoreDynamoDB:
		return dynamostore.Open(ctx, cfg.DynamoDBTable, cfg.DynamoDBRegion, cfg.DynamoDBEndpoint, cfg.StoreTimeout)
	case config.StoreMongoDB:
		return mongostore.Open(ctx, cfg.MongoDBURI, cfg.MongoDBDatabase, "kv", cfg.StoreTimeout)
	case config.StoreMemory:
		return memstore.New(), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}
