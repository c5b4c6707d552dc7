package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SingleFlight 保证多副本部署时每个定时任务每个时间槽只跑一次
type SingleFlight struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewSingleFlight(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *SingleFlight {
	return &SingleFlight{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to take the run lock for a task + time slot.
// Returns true when this instance should run the task.
func (s *SingleFlight) AcquireOnce(ctx context.Context, task, slot string) bool {
	key := fmt.Sprintf("singleflight:%s:%s", task, slot)

	ok, err := s.rdb.SetNX(ctx, key, 1, s.ttl).Result()
	if err != nil {
		// Redis 挂了？任务本身是幂等的条件更新，重复执行无害，放行
		if s.logger != nil {
			s.logger.Warn("Redis singleflight check failed, allowing run",
				zap.String("task", task),
				zap.String("slot", slot),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && s.logger != nil {
		s.logger.Debug("Skipped duplicate scheduled run",
			zap.String("task", task),
			zap.String("slot", slot),
			zap.String("lock_key", key),
		)
	}

	return ok
}
