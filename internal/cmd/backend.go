package cmd

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/npezzotti/go-attendance/internal/config"
	"github.com/npezzotti/go-attendance/internal/store"
	"github.com/sirupsen/logrus"
)

// openBackend connects the configured store driver. The postgres schema is
// migrated before use.
func openBackend(ctx context.Context, cfg config.StoreConfig, log logrus.FieldLogger) (store.Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemoryBackend(), nil
	case config.DriverFile:
		b, err := store.NewFileBackend(cfg.Dir, log)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return b, nil
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return store.NewRedisBackend(client, cfg.RedisChannel, log), nil
	case config.DriverPostgres:
		if err := store.Migrate(cfg.DSN, log); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		b, err := store.NewPostgresBackend(cfg.DSN, log)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
