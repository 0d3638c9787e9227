package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"milestone-tracker/internal/model"
)

// 连接一个没有监听的端口，验证 Redis 故障时回源
func unreachableCache(t *testing.T) *Cache {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, time.Minute, time.Second, zap.NewNop())
}

func TestMilestones_FallsBackWhenRedisDown(t *testing.T) {
	c := unreachableCache(t)
	calls := 0
	load := func(context.Context) ([]model.Milestone, error) {
		calls++
		return []model.Milestone{{ID: 1, Name: "Survey", Sequence: 1}}, nil
	}

	got, err := c.Milestones(context.Background(), load)
	require.NoError(t, err)
	assert.Equal(t, "Survey", got[0].Name)
	assert.Equal(t, 1, calls)
}

func TestDashboard_LoaderErrorPropagates(t *testing.T) {
	c := unreachableCache(t)
	boom := errors.New("db down")

	_, err := c.Dashboard(context.Background(), "all", func(context.Context) (*model.Dashboard, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestInvalidateDashboard_ReportsRedisError(t *testing.T) {
	c := unreachableCache(t)
	assert.Error(t, c.InvalidateDashboard(context.Background()))
}
