package bootstrap

import (
	"context"
	"fmt"

	"tracker-server/internal/aggregation"
	"tracker-server/internal/auth"
	"tracker-server/internal/config"
	"tracker-server/internal/observability"
	"tracker-server/internal/postback"
	"tracker-server/internal/ratelimit"
	"tracker-server/internal/store"

	adminHandler "tracker-server/internal/admin/handler"
	redisClient "tracker-server/internal/clients/redis"
	"tracker-server/internal/jobs/scheduler"
	"tracker-server/internal/jobs/scheduler/jobs"
)

// Dependencies holds all initialized application dependencies
type Dependencies struct {
	// Core
	Store  *store.Store
	Logger *observability.Logger

	// HTTP surface
	AdminHandler  adminHandler.Handler
	AuthProcessor *auth.Processor
	RateLimiter   *ratelimit.Service

	// Domain services
	PostbackService   *postback.Service
	AggregationEngine *aggregation.Engine

	// Background workers
	RetryWorker *postback.RetryWorker
	Scheduler   *scheduler.Scheduler

	// Redis client (nil when disabled; for cleanup)
	RedisClient *redisClient.Client
}

// Initialize sets up all application dependencies
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Logger: logger,
	}

	// Initialize database store
	var err error
	deps.Store, err = store.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Initialize Redis client (nil when disabled)
	deps.RedisClient, err = redisClient.NewClient(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// Initialize postback delivery service and retry worker
	deps.PostbackService = postback.New(deps.Store, logger)
	deps.RetryWorker = postback.NewRetryWorker(deps.PostbackService, logger, cfg.Jobs.RetryWorkerInterval)

	// Initialize aggregation engine
	deps.AggregationEngine = aggregation.New(deps.Store, logger)

	// Initialize scheduler with background jobs
	deps.Scheduler = scheduler.New(logger)
	deps.Scheduler.Register(jobs.NewHoldReleaseJob(deps.Store, deps.PostbackService, logger, cfg.Jobs.HoldReleaseInterval))
	deps.Scheduler.Register(jobs.NewAggregationJob(deps.AggregationEngine, logger, cfg.Jobs.AggregationInterval))
	deps.Scheduler.Register(jobs.NewCapsWatcherJob(logger, cfg.Jobs.CapsWatchInterval))

	// Initialize ops API surface
	deps.AuthProcessor = auth.New(cfg.Auth.JWTSecret, logger)
	deps.RateLimiter = ratelimit.NewService(deps.RedisClient, cfg.Redis.RPM, logger)
	deps.AdminHandler = adminHandler.New(deps.Store, deps.AggregationEngine, deps.PostbackService, logger)

	return deps, nil
}

// Cleanup closes all resources that need cleanup
func (d *Dependencies) Cleanup() {
	if d.RedisClient != nil {
		if err := d.RedisClient.Close(); err != nil {
			d.Logger.Warn(context.Background(), "failed to close redis client")
		}
	}
}
