package ratelimit

import (
	"context"
	"fmt"
	"time"

	redisclient "tracker-server/internal/clients/redis"
	"tracker-server/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Service implements a sliding-window rate limiter on Redis sorted sets.
// When Redis is disabled the service is a no-op and every request is allowed.
type Service struct {
	redis  *redisclient.Client
	rpm    int
	logger *observability.Logger
}

// Result carries the outcome of a rate limit check
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

func NewService(redis *redisclient.Client, rpm int, logger *observability.Logger) *Service {
	return &Service{
		redis:  redis,
		rpm:    rpm,
		logger: logger,
	}
}

// Check records one request for key and reports whether it is within the
// per-minute budget. Errors from Redis fail open.
func (s *Service) Check(ctx context.Context, key string) (*Result, error) {
	if !s.redis.IsEnabled() {
		return &Result{Allowed: true, Remaining: s.rpm}, nil
	}

	client := s.redis.GetClient()
	now := time.Now()
	windowStart := now.Add(-time.Minute)
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	pipe := client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn(observability.WithFields(ctx,
			observability.Field{Key: "error", Value: err.Error()}), "rate limit check failed, allowing request")
		return &Result{Allowed: true, Remaining: s.rpm}, nil
	}

	count := int(countCmd.Val())
	if count >= s.rpm {
		retryAfter := time.Minute
		oldest, err := client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestTime := time.Unix(0, int64(oldest[0].Score))
			retryAfter = time.Until(oldestTime.Add(time.Minute))
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return &Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}

	pipe = client.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, redisKey, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn(observability.WithFields(ctx,
			observability.Field{Key: "error", Value: err.Error()}), "failed to record rate limit entry")
	}

	return &Result{Allowed: true, Remaining: s.rpm - count - 1}, nil
}
