// Package app wires the billing reconciliation service together.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/carepath/internal/billing/application"
	"github.com/felixgeelhaar/carepath/internal/billing/domain"
	"github.com/felixgeelhaar/carepath/internal/billing/infrastructure/dedup"
	"github.com/felixgeelhaar/carepath/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/carepath/internal/billing/infrastructure/processor"
	"github.com/felixgeelhaar/carepath/internal/billing/infrastructure/sanity"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/carepath/internal/shared/infrastructure/database/postgres"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/resilience"
	"github.com/felixgeelhaar/carepath/pkg/config"
	"github.com/felixgeelhaar/carepath/pkg/observability"
)

// Container holds the process-wide clients and the billing services built on them.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics observability.Metrics
	Health  *observability.HealthRegistry

	// Stores and remote clients
	DBConn      database.Connection
	RedisClient *redis.Client
	Relational  domain.RelationalStore
	Documents   domain.DocumentStore
	Processor   domain.Processor
	Ledger      domain.EventLedger

	// Publishers
	EventPublisher eventbus.Publisher

	// Billing
	Operations *application.Operations
	Handlers   *application.Handlers
	Dispatcher *application.Dispatcher
}

// NewContainer connects to every configured dependency and wires the
// billing services. Missing required credentials fail here, before any
// request is accepted.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
		Health:  observability.NewHealthRegistry(),
	}

	if err := c.connectDatabase(ctx); err != nil {
		return nil, err
	}

	breaker := resilience.DefaultBreakerConfig()
	breaker.FailureThreshold = uint32(cfg.BreakerFailureThreshold)
	breaker.Timeout = cfg.BreakerTimeout

	proc, err := processor.NewClient(cfg.StripeSecretKey, logger,
		processor.WithBreaker(breaker), processor.WithMetrics(c.Metrics))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Processor = proc

	if cfg.HasDocumentStore() {
		docs, err := sanity.NewClient(sanity.Config{
			ProjectID:  cfg.SanityProjectID,
			Dataset:    cfg.SanityDataset,
			Token:      cfg.SanityAPIToken,
			APIVersion: cfg.SanityAPIVersion,
			Breaker:    breaker,
		}, logger, c.Metrics)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Documents = docs
	} else {
		logger.Warn("document store not configured, mirror documents will not be updated")
	}

	c.connectRedis(ctx)
	if err := c.connectPublisher(); err != nil {
		c.Close()
		return nil, err
	}

	c.Relational = persistence.NewSQLStore(c.DBConn, logger)
	c.Operations = application.NewOperations(c.Relational, c.Documents, c.Processor, logger)
	c.Handlers = application.NewHandlers(c.Operations, c.Processor, logger)
	c.Dispatcher = application.NewDispatcher(c.Handlers.Routes(), c.Ledger, c.EventPublisher, c.Metrics, logger)

	return c, nil
}

func (c *Container) connectDatabase(ctx context.Context) error {
	dbCfg := database.Config{
		Driver:   database.DriverPostgres,
		URL:      c.Config.DatabaseURL,
		Password: c.Config.DatabasePassword,
	}
	if c.Config.UsesSQLite() {
		dbCfg = database.Config{Driver: database.DriverSQLite, SQLitePath: c.Config.SQLitePath}
		if err := database.EnsureDirectory(dbCfg.SQLitePath); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := database.NewConnection(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if sqliteConn, ok := conn.(*sqlite.Connection); ok {
		if err := migrations.RunSQLiteMigrations(ctx, sqliteConn.DB()); err != nil {
			conn.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	c.DBConn = conn
	c.Health.Register("database", observability.PingChecker("database", true, conn.Ping))
	c.Logger.Info("connected to database", "driver", conn.Driver())
	return nil
}

// connectRedis sets up the event ledger. Without Redis, de-duplication falls
// back to process memory, which only holds for a single instance.
func (c *Container) connectRedis(ctx context.Context) {
	fallback := func(reason string, err error) {
		attrs := []any{"reason", reason}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		if c.Config.IsProduction() {
			c.Logger.Warn("event ledger is in-process only", attrs...)
		} else {
			c.Logger.Info("event ledger is in-process only", attrs...)
		}
		c.Ledger = dedup.NewMemoryLedger(c.Config.EventClaimTTL, c.Config.EventRetention)
	}

	if c.Config.RedisURL == "" {
		fallback("REDIS_URL not set", nil)
		return
	}
	opt, err := redis.ParseURL(c.Config.RedisURL)
	if err != nil {
		fallback("invalid REDIS_URL", err)
		return
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		fallback("redis unreachable", err)
		return
	}

	c.RedisClient = client
	ledger := dedup.NewRedisLedger(client, c.Config.EventClaimTTL, c.Config.EventRetention)
	c.Ledger = ledger
	c.Health.Register("redis", observability.PingChecker("redis", false, ledger.Ping))
	c.Logger.Info("connected to Redis")
}

func (c *Container) connectPublisher() error {
	if c.Config.RabbitMQURL == "" {
		c.EventPublisher = eventbus.NewNoopPublisher(c.Logger)
		return nil
	}
	publisher, err := eventbus.NewRabbitMQPublisher(c.Config.RabbitMQURL, c.Logger)
	if err != nil {
		if c.Config.IsDevelopment() {
			c.Logger.Warn("RabbitMQ not available, using noop publisher", "error", err)
			c.EventPublisher = eventbus.NewNoopPublisher(c.Logger)
			return nil
		}
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	c.EventPublisher = publisher
	c.Health.Register("rabbitmq", observability.PingChecker("rabbitmq", false, publisher.Ping))
	return nil
}

// Close releases every connection the container opened.
func (c *Container) Close() {
	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("failed to close event publisher", "error", err)
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("failed to close Redis client", "error", err)
		}
	}
	if c.DBConn != nil {
		if err := c.DBConn.Close(); err != nil {
			c.Logger.Warn("failed to close database connection", "error", err)
		}
	}
}
