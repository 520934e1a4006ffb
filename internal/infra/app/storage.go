package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/infra/config"
	"github.com/arklim/auth-core/internal/infra/database"
	"github.com/arklim/auth-core/internal/infra/reaper"
	redisinfra "github.com/arklim/auth-core/internal/infra/redis"
	"github.com/arklim/auth-core/internal/repository/memory"
	postgresrepo "github.com/arklim/auth-core/internal/repository/postgres"
	redisrepo "github.com/arklim/auth-core/internal/repository/redis"
)

// Storage bundles the credential store selected by storage.driver.
type Storage struct {
	Accounts       port.AccountRepository
	Otps           port.OtpRepository
	Sessions       port.SessionRepository
	ResetTokens    port.PasswordResetTokenRepository
	SecurityEvents port.SecurityEventRepository

	// Pool is nil for the memory driver.
	Pool *pgxpool.Pool
	// Memory is set only for the memory driver so development tooling can seed accounts.
	Memory *memory.Repositories
}

// OpenStorage connects the configured credential store.
func OpenStorage(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*Storage, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		log.Warn("using in-memory credential store, data is lost on restart")
		repos := memory.NewRepositories()
		return &Storage{
			Accounts:       repos.Accounts,
			Otps:           repos.Otps,
			Sessions:       repos.Sessions,
			ResetTokens:    repos.ResetTokens,
			SecurityEvents: repos.SecurityEvents,
			Memory:         repos,
		}, nil
	case config.StorageDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		repos := postgresrepo.NewRepositories(pool)
		return &Storage{
			Accounts:       repos.Accounts,
			Otps:           repos.Otps,
			Sessions:       repos.Sessions,
			ResetTokens:    repos.ResetTokens,
			SecurityEvents: repos.SecurityEvents,
			Pool:           pool,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// Close releases the database pool, if any.
func (s *Storage) Close() {
	if s != nil && s.Pool != nil {
		s.Pool.Close()
	}
}

// Counters is the keyed counter store and the session touch throttle.
type Counters struct {
	Store     port.CounterStore
	Throttle  port.ActivityThrottle
	Blocklist port.IPBlocklist

	// Redis is nil when counters live in process.
	Redis *redisinfra.Client
	// Sweepers drop expired in-process entries; empty with Redis, where keys expire on their own.
	Sweepers []reaper.Sweeper
}

// OpenCounters connects Redis when redis.host is set, and falls back to in-process counters otherwise.
// In-process counters are only correct for a single replica.
func OpenCounters(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*Counters, error) {
	if cfg.Redis.Host == "" {
		log.Warn("redis not configured, rate limits and touch throttling are per process")
		store := memory.NewCounterStore()
		throttle := memory.NewActivityThrottle()
		blocklist := memory.NewIPBlocklist()
		return &Counters{
			Store:     store,
			Throttle:  throttle,
			Blocklist: blocklist,
			Sweepers:  []reaper.Sweeper{store, throttle, blocklist},
		}, nil
	}

	client, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	return &Counters{
		Store:     redisrepo.NewCounterStore(client.Client(), cfg.Redis.CounterPrefix),
		Throttle:  redisrepo.NewActivityThrottle(client.Client(), cfg.Redis.TouchPrefix),
		Blocklist: redisrepo.NewIPBlocklist(client.Client(), cfg.Redis.BlockPrefix),
		Redis:     client,
	}, nil
}

// Close releases the Redis connection, if any.
func (c *Counters) Close() error {
	if c == nil || c.Redis == nil {
		return nil
	}
	return c.Redis.Close()
}
