package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"bookwell/backend/internal/domain"
)

// AvailabilityCache memoizes generated slot lists per (resource, date,
// duration). Every cached key is also recorded in a per-resource key set,
// so invalidation after a reservation or block mutation is scoped to that
// resource alone. Cache failures degrade to a recompute; they never fail
// the request.
type AvailabilityCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func New(addr, password string, db int, ttl time.Duration, log *slog.Logger) (*AvailabilityCache, error) {
	if log == nil {
		log = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return &AvailabilityCache{
		rdb: rdb,
		ttl: ttl,
		log: log.With(slog.String("component", "rediscache")),
	}, nil
}

func (c *AvailabilityCache) Close() error {
	return c.rdb.Close()
}

func (c *AvailabilityCache) GetSlots(ctx context.Context, resourceID, date string, duration time.Duration) ([]domain.Slot, bool) {
	raw, err := c.rdb.Get(ctx, slotKey(resourceID, date, duration)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WarnContext(ctx, "slot cache read failed", slog.String("resource_id", resourceID), slog.Any("err", err))
		}
		return nil, false
	}
	var slots []domain.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		c.log.WarnContext(ctx, "slot cache decode failed", slog.String("resource_id", resourceID), slog.Any("err", err))
		return nil, false
	}
	return slots, true
}

func (c *AvailabilityCache) SetSlots(ctx context.Context, resourceID, date string, duration time.Duration, slots []domain.Slot) {
	raw, err := json.Marshal(slots)
	if err != nil {
		c.log.WarnContext(ctx, "slot cache encode failed", slog.String("resource_id", resourceID), slog.Any("err", err))
		return
	}

	key := slotKey(resourceID, date, duration)
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, key, raw, c.ttl)
	pipe.SAdd(ctx, keySetKey(resourceID), key)
	pipe.Expire(ctx, keySetKey(resourceID), 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WarnContext(ctx, "slot cache write failed", slog.String("resource_id", resourceID), slog.Any("err", err))
	}
}

// Invalidate drops every cached slot list for the resource.
func (c *AvailabilityCache) Invalidate(ctx context.Context, resourceID string) {
	set := keySetKey(resourceID)
	keys, err := c.rdb.SMembers(ctx, set).Result()
	if err != nil {
		c.log.WarnContext(ctx, "slot cache invalidation read failed", slog.String("resource_id", resourceID), slog.Any("err", err))
		return
	}
	keys = append(keys, set)
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.WarnContext(ctx, "slot cache invalidation failed", slog.String("resource_id", resourceID), slog.Any("err", err))
	}
}

func slotKey(resourceID, date string, duration time.Duration) string {
	return fmt.Sprintf("slots:%s:%s:%d", resourceID, date, int(duration.Minutes()))
}

func keySetKey(resourceID string) string {
	return "slots:keys:" + resourceID
}
