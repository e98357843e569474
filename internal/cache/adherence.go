package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

const keyPrefix = "regimen:adherence:"

// AdherenceCache stores the adherence stats of fully elapsed windows in
// Redis. Every schedule owns a set listing its cached window keys so that
// recording a dose can drop all of them at once.
type AdherenceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewAdherenceCache creates a new AdherenceCache
func NewAdherenceCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *AdherenceCache {
	return &AdherenceCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// NewClient builds a Redis client from connection settings
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func windowKey(scheduleID string, version int, start, end time.Time) string {
	return fmt.Sprintf("%s%s:v%d:%d:%d", keyPrefix, scheduleID, version, start.Unix(), end.Unix())
}

func indexKey(scheduleID string) string {
	return keyPrefix + scheduleID + ":windows"
}

// Get returns the cached stat of a schedule version or nil on a miss
func (c *AdherenceCache) Get(ctx context.Context, scheduleID string, version int, start, end time.Time) (*model.AdherenceStat, error) {
	raw, err := c.client.Get(ctx, windowKey(scheduleID, version, start, end)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read adherence cache: %w", err)
	}

	var stat model.AdherenceStat
	if err := json.Unmarshal(raw, &stat); err != nil {
		c.logger.Warn("dropping undecodable adherence cache entry",
			zap.Error(err),
			zap.String("schedule_id", scheduleID),
		)
		return nil, nil
	}
	return &stat, nil
}

// Set stores a stat for the window and registers it under the schedule
func (c *AdherenceCache) Set(ctx context.Context, scheduleID string, version int, start, end time.Time, stat model.AdherenceStat) error {
	raw, err := json.Marshal(stat)
	if err != nil {
		return fmt.Errorf("failed to encode adherence stat: %w", err)
	}

	key := windowKey(scheduleID, version, start, end)
	idx := indexKey(scheduleID)

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, raw, c.ttl)
	pipe.SAdd(ctx, idx, key)
	if c.ttl > 0 {
		pipe.Expire(ctx, idx, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write adherence cache: %w", err)
	}
	return nil
}

// Invalidate drops every cached window of a schedule
func (c *AdherenceCache) Invalidate(ctx context.Context, scheduleID string) error {
	idx := indexKey(scheduleID)
	keys, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("failed to list cached windows: %w", err)
	}

	keys = append(keys, idx)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate adherence cache: %w", err)
	}

	c.logger.Debug("adherence cache invalidated",
		zap.String("schedule_id", scheduleID),
		zap.Int("windows", len(keys)-1),
	)
	return nil
}

// Ping checks the connection
func (c *AdherenceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
