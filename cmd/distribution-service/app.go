package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"leadflow/internal/broker"
	"leadflow/internal/config"
	"leadflow/internal/config_handler"
	"leadflow/internal/constants"
	"leadflow/internal/distribution"
	"leadflow/internal/logger"
	"leadflow/internal/scheduler"
	"leadflow/pkg/bootstrap"
	"leadflow/pkg/cel"
	"leadflow/pkg/health"
	"leadflow/pkg/logging"
	"leadflow/pkg/metrics"
	"leadflow/pkg/middleware"
	"leadflow/pkg/migrations"
	"leadflow/pkg/ratelimit"
	"leadflow/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	mongoClient    *mongo.Client
	ruleCache      *distribution.CachedRuleStore
	redisStore     *distribution.CircuitBreakerRepository
	counters       distribution.CounterStore
	service        *distribution.Service
	scheduler      *scheduler.Scheduler
	limiters       *ratelimit.Limiters
	health         *health.CheckerRegistry
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

// Initialize prepares everything the long-running service needs.
func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterAll()

	if err := a.InitBroker(constants.ServiceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.InitializeEngine(ctx); err != nil {
		return err
	}

	if a.Config.Scheduler.Enabled {
		s, err := scheduler.New(a.Config.Scheduler, a.service, a.counters, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize scheduler: %w", err)
		}
		a.scheduler = s
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}
	return nil
}

// InitializeEngine connects the stores and builds the distribution service.
// It is all the one-shot CLI commands need.
func (a *App) InitializeEngine(ctx context.Context) error {
	if err := a.initPostgres(ctx); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	if a.Config.Database.RunMigrations {
		version, err := migrations.UpPostgres(a.db)
		if err != nil {
			return err
		}
		a.Logger.InfowCtx(ctx, "Database migrations applied", "version", version)
	}

	if err := a.initRedis(ctx); err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	if err := a.initMongoDB(ctx); err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}

	if err := a.initService(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}
	return nil
}

func (a *App) initPostgres(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb
	return nil
}

// initMongoDB connects only when MongoDB is the configured log store.
func (a *App) initMongoDB(ctx context.Context) error {
	if a.Config.Distribution.LogStore != constants.LogStoreMongoDB {
		return nil
	}

	client, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	if client == nil {
		return fmt.Errorf("log_store is %q but database.mongodb.uri is empty", constants.LogStoreMongoDB)
	}
	a.mongoClient = client

	if err := migrations.EnsureDistributionLogIndexes(ctx, a.mongoDatabase(), constants.DistributionLogsCollection); err != nil {
		return err
	}
	return nil
}

func (a *App) mongoDatabase() *mongo.Database {
	return a.mongoClient.Database(a.Config.Database.MongoDB.Database)
}

func (a *App) initService(ctx context.Context) error {
	cfg := a.Config.Distribution
	initCtx := logging.WithServiceName(ctx, constants.ServiceName)

	pg := distribution.NewPostgresRepository(a.db, cfg.TerminalStatuses)
	a.counters = pg

	stores := distribution.Stores{
		Rules:     pg,
		Members:   pg,
		Leads:     pg,
		Logs:      pg,
		Counters:  pg,
		Cursors:   pg,
		Publisher: distribution.NewAssignmentPublisher(a.Producer, a.Config.Broker.Kafka.OutputTopic),
	}

	if cfg.RuleCache.Enabled {
		a.ruleCache = distribution.NewCachedRuleStore(pg, cfg.RuleCache.TTL)
		stores.Rules = a.ruleCache
		a.Logger.InfowCtx(initCtx, "Rule cache enabled", "ttl", cfg.RuleCache.TTL)
	}

	if a.mongoClient != nil {
		stores.Logs = distribution.NewMongoLogRepository(a.mongoDatabase(), constants.DistributionLogsCollection)
		a.Logger.InfowCtx(initCtx, "Distribution logs stored in MongoDB")
	}

	if a.redis != nil {
		base := distribution.NewRedisRepository(a.redis, cfg.CounterGuardTTL, cfg.OpenLeadsCacheTTL)
		a.redisStore = distribution.NewCircuitBreakerRepository(base, a.Config.CircuitBreaker)
		stores.Guard = a.redisStore
		stores.OpenLeads = a.redisStore
		a.Logger.InfowCtx(initCtx, "Redis counter guard enabled",
			"circuit_breaker", a.redisStore.State(),
		)
	} else {
		a.Logger.WarnwCtx(initCtx, "Redis not configured, counter increments are not deduplicated")
	}

	if cfg.Matching.EvaluateConditions {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return fmt.Errorf("failed to create condition evaluator: %w", err)
		}
		stores.Conditions = evaluator
	}

	svc, err := distribution.NewService(stores, distribution.OptionsFromConfig(cfg), a.Logger)
	if err != nil {
		return err
	}
	a.service = svc
	return nil
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName)...)
	}
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))

	var apiMiddleware []gin.HandlerFunc
	if a.Config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.Config.RateLimit.RPS,
			Burst:           a.Config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.RateLimit.MaxAge) * time.Second,
		}
		a.limiters = ratelimit.NewLimiters(rateLimitConfig)
		apiMiddleware = append(apiMiddleware, a.limiters.Middleware(ratelimit.WorkspaceOrIP))
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	handler := distribution.NewHandler(a.service, a.Logger)
	handler.RegisterRoutes(router, apiMiddleware...)

	a.health = health.NewCheckerRegistry(constants.HealthTimeout)
	a.health.Register(health.NewPostgreSQLChecker(a.db))
	if a.redis != nil {
		a.health.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	if a.mongoClient != nil {
		a.health.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	router.GET("/health", a.health.Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.limiters != nil {
		g.Go(func() error {
			a.limiters.RunCleanup(gCtx)
			return nil
		})
	}

	if a.scheduler != nil {
		g.Go(func() error {
			return a.scheduler.Start(gCtx)
		})
	}

	if a.Consumer != nil {
		inputTopic := a.Config.Broker.Kafka.InputTopic
		if inputTopic == "" {
			inputTopic = constants.DefaultInputTopic
		}
		leadHandler := distribution.NewLeadEventHandler(a.service, a.Logger)

		g.Go(func() error {
			a.Logger.InfowCtx(gCtx, "Starting lead event consumer", "topic", inputTopic)
			return a.Consumer.Consume(gCtx, inputTopic, leadHandler.HandleLeadCreated)
		})

		if err := a.runConfigConsumer(gCtx, g); err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to create config event consumer, event-driven reload disabled",
				"error", err,
			)
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runConfigConsumer invalidates cached rules whenever rule configuration
// changes. It needs its own consumer because each one reads a single topic.
func (a *App) runConfigConsumer(ctx context.Context, g *errgroup.Group) error {
	topic := a.Config.Broker.Kafka.ConfigUpdateTopic
	if a.ruleCache == nil || topic == "" {
		return nil
	}

	consumer, err := broker.NewConsumer(a.Config.Broker, a.Logger)
	if err != nil {
		return err
	}
	consumer.SetServiceName(constants.ServiceName)
	configHandler := config_handler.NewHandler(a.ruleCache, a.Logger)

	g.Go(func() error {
		defer consumer.Close()
		a.Logger.InfowCtx(ctx, "Starting config update event consumer", "topic", topic)
		return consumer.Consume(ctx, topic, configHandler.HandleConfigUpdateEvent)
	})
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down distribution service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
