// Package credstore persists the session's bearer credentials and the cached
// user across restarts.
package credstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Yoseph-M/Soultalk-sub000/pkg/database"
)

// Storage keys.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

// AllKeys lists every key the session writes.
var AllKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// Store is a small string key-value store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a driver.
type Config struct {
	Driver    string
	Path      string // file driver
	DSN       string // sqlite and postgres drivers
	Namespace string // key prefix (redis) or namespace column (sql drivers)
	Redis     database.RedisConfig

	// Registerer receives connection pool metrics when non-nil.
	Registerer prometheus.Registerer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the configured store. The returned Closer releases any
// connections the store holds.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, io.Closer, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryStore(), nopCloser{}, nil
	case DriverFile:
		s, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	case DriverRedis:
		client, err := database.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis credential store: %w", err)
		}
		return NewRedisStore(client, cfg.Namespace), client, nil
	case DriverSQLite:
		s, err := OpenSQLiteStore(ctx, cfg.DSN, cfg.Namespace)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	default:
		return nil, nil, fmt.Errorf("unknown credential store driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (Store, io.Closer, error) {
	pgCfg := database.DefaultPostgresConfig()
	pgCfg.URL = cfg.DSN

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres credential store: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, Migrations(), logger); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if cfg.Registerer != nil {
		if err := database.RegisterPoolMetrics(cfg.Registerer, pool, "sessiond"); err != nil {
			logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}
	}
	return NewPostgresStore(pool, cfg.Namespace), closerFunc(func() error {
		pool.Close()
		return nil
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
