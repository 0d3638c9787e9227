package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"milestone-tracker/internal/model"
	"milestone-tracker/pkg/metrics"
)

const (
	keyMilestones       = "catalog:milestones"
	keyDependencies     = "catalog:dependencies"
	keyDashboardVersion = "dashboard:version"
)

// Cache 是 Redis 读穿缓存。Redis 出错时直接回源，不影响请求。
type Cache struct {
	rdb          *redis.Client
	catalogTTL   time.Duration
	dashboardTTL time.Duration
	logger       *zap.Logger
}

func New(rdb *redis.Client, catalogTTL, dashboardTTL time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		rdb:          rdb,
		catalogTTL:   catalogTTL,
		dashboardTTL: dashboardTTL,
		logger:       logger,
	}
}

func (c *Cache) Milestones(ctx context.Context, load func(context.Context) ([]model.Milestone, error)) ([]model.Milestone, error) {
	return readThrough(ctx, c, "milestones", keyMilestones, c.catalogTTL, load)
}

func (c *Cache) Dependencies(ctx context.Context, load func(context.Context) ([]model.Dependency, error)) ([]model.Dependency, error) {
	return readThrough(ctx, c, "dependencies", keyDependencies, c.catalogTTL, load)
}

// Dashboard caches one dashboard per scope ("all" or "user:<id>"). Keys carry
// a version number so InvalidateDashboard drops every scope with one INCR.
func (c *Cache) Dashboard(ctx context.Context, scope string, load func(context.Context) (*model.Dashboard, error)) (*model.Dashboard, error) {
	version, err := c.rdb.Get(ctx, keyDashboardVersion).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("Redis unavailable, loading dashboard from database", zap.Error(err))
		return load(ctx)
	}
	key := fmt.Sprintf("dashboard:v%d:%s", version, scope)
	return readThrough(ctx, c, "dashboard", key, c.dashboardTTL, load)
}

func (c *Cache) InvalidateDashboard(ctx context.Context) error {
	if err := c.rdb.Incr(ctx, keyDashboardVersion).Err(); err != nil {
		return fmt.Errorf("failed to invalidate dashboard cache: %w", err)
	}
	return nil
}

// InvalidateCatalog 目录重新 seed 之后调用
func (c *Cache) InvalidateCatalog(ctx context.Context) error {
	if err := c.rdb.Del(ctx, keyMilestones, keyDependencies).Err(); err != nil {
		return fmt.Errorf("failed to invalidate catalog cache: %w", err)
	}
	return nil
}

func readThrough[T any](ctx context.Context, c *Cache, name, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			metrics.RecordCacheLookup(name, true)
			return v, nil
		}
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Redis read failed, falling back to loader", zap.String("key", key), zap.Error(err))
	}
	metrics.RecordCacheLookup(name, false)

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	if body, err := json.Marshal(v); err == nil {
		if err := c.rdb.Set(ctx, key, body, ttl).Err(); err != nil {
			c.logger.Warn("Redis write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return v, nil
}
