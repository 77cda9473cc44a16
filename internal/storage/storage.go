package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/eighttrack/internal/shared"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by [Store.Get] when the key has no value in the scope.
var ErrNotFound = errors.New("storage: key not found")

// Store is a string key/value scope for a single browsing session.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Backend hands out session scopes.
type Backend interface {
	// Session returns the scope for id. It does not touch the backend until used.
	Session(id string) Store
	// End discards every key of the session.
	End(ctx context.Context, id string) error
	Close() error
}

// sqliteMaxConns caps the connection pool of a file database.
const sqliteMaxConns = 4

// Open builds the backend selected by the storage configuration.
func Open(ctx context.Context, cfg shared.StorageConfig, logger *log.Logger) (Backend, error) {
	switch cfg.Driver {
	case "", "memory":
		logger.Debug("using in-memory session storage")
		return NewMemoryBackend(), nil
	case "sqlite":
		db, err := shared.NewDatabase(cfg.Path)
		if err != nil {
			return nil, err
		}
		if cfg.Path != ":memory:" {
			shared.ConfigureDatabase(db, sqliteMaxConns, sqliteMaxConns)
		}
		if err := shared.RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate session database: %w", err)
		}
		logger.Debug("using sqlite session storage", "path", cfg.Path)
		return NewSQLiteBackend(db, cfg.SessionTTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: redis at %s: %v", shared.ErrServiceUnavailable, cfg.RedisAddr, err)
		}
		logger.Debug("using redis session storage", "addr", cfg.RedisAddr)
		return NewRedisBackend(client, DefaultRedisPrefix, cfg.SessionTTL), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", shared.ErrInvalidConfig, cfg.Driver)
	}
}
