package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce returns true the first time handler sees key and false for a
// duplicate delivery.
func (d *Deduper) AcquireOnce(ctx context.Context, handler, key string) bool {
	dedupKey := fmt.Sprintf("dedup:%s:%s", handler, key)

	ok, err := d.rdb.SetNX(ctx, dedupKey, 1, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理，下游有唯一约束兜底
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("dedup_key", dedupKey),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("dedup_key", dedupKey),
		)
	}
	return ok
}

// Release 处理失败时删除去重标记，让重投的消息可以再次处理
func (d *Deduper) Release(ctx context.Context, handler, key string) {
	dedupKey := fmt.Sprintf("dedup:%s:%s", handler, key)
	if err := d.rdb.Del(ctx, dedupKey).Err(); err != nil {
		d.logger.Warn("Failed to release dedup key", zap.String("dedup_key", dedupKey), zap.Error(err))
	}
}
