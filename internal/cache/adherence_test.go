package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *AdherenceCache) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewAdherenceCache(client, ttl, zap.NewNop())
}

var (
	windowStart = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
)

func TestAdherenceCache_Miss(t *testing.T) {
	_, c := setupTestRedis(t, time.Minute)

	stat, err := c.Get(context.Background(), "sched-1", 1, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Nil(t, stat)
}

func TestAdherenceCache_SetThenGet(t *testing.T) {
	_, c := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	want := model.AdherenceStat{Total: 14, Taken: 12, Missed: 1, Late: 1, AdherenceRate: 85.71}
	require.NoError(t, c.Set(ctx, "sched-1", 1, windowStart, windowEnd, want))

	got, err := c.Get(ctx, "sched-1", 1, windowStart, windowEnd)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	other, err := c.Get(ctx, "sched-1", 1, windowStart, windowEnd.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, other, "windows are keyed by both bounds")
}

func TestAdherenceCache_VersionsAreSeparate(t *testing.T) {
	_, c := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "sched-1", 1, windowStart, windowEnd, model.AdherenceStat{Total: 7, Taken: 7, AdherenceRate: 100}))

	got, err := c.Get(ctx, "sched-1", 2, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAdherenceCache_InvalidateDropsEveryWindowOfSchedule(t *testing.T) {
	mr, c := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	stat := model.AdherenceStat{Total: 1, Taken: 1, AdherenceRate: 100}
	require.NoError(t, c.Set(ctx, "sched-1", 1, windowStart, windowEnd, stat))
	require.NoError(t, c.Set(ctx, "sched-1", 1, windowStart, windowEnd.AddDate(0, 0, 7), stat))
	require.NoError(t, c.Set(ctx, "sched-2", 1, windowStart, windowEnd, stat))

	require.NoError(t, c.Invalidate(ctx, "sched-1"))

	assert.False(t, mr.Exists(windowKey("sched-1", 1, windowStart, windowEnd)))
	assert.False(t, mr.Exists(windowKey("sched-1", 1, windowStart, windowEnd.AddDate(0, 0, 7))))
	assert.False(t, mr.Exists(indexKey("sched-1")))
	assert.True(t, mr.Exists(windowKey("sched-2", 1, windowStart, windowEnd)))
}

func TestAdherenceCache_InvalidateUnknownSchedule(t *testing.T) {
	_, c := setupTestRedis(t, time.Minute)

	assert.NoError(t, c.Invalidate(context.Background(), "never-cached"))
}

func TestAdherenceCache_EntriesExpire(t *testing.T) {
	mr, c := setupTestRedis(t, 10*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "sched-1", 1, windowStart, windowEnd, model.AdherenceStat{AdherenceRate: 100}))
	mr.FastForward(11 * time.Minute)

	got, err := c.Get(ctx, "sched-1", 1, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAdherenceCache_UndecodableEntryIsAMiss(t *testing.T) {
	mr, c := setupTestRedis(t, time.Minute)

	require.NoError(t, mr.Set(windowKey("sched-1", 1, windowStart, windowEnd), "not json"))

	got, err := c.Get(context.Background(), "sched-1", 1, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAdherenceCache_UnreachableServer(t *testing.T) {
	mr, c := setupTestRedis(t, time.Minute)
	mr.Close()

	_, err := c.Get(context.Background(), "sched-1", 1, windowStart, windowEnd)
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}
