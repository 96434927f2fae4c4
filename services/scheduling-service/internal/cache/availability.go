// Package cache keeps rendered availability responses in Redis, one hash per
// calendar date with one field per service. Bookings and schedule changes
// invalidate by date (or wholesale for rule changes), so a stale entry can
// only survive for the short TTL.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Availability struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New returns a cache around rdb. A nil client disables caching entirely;
// every method becomes a no-op miss.
func New(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Availability {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Availability{rdb: rdb, ttl: ttl, logger: logger}
}

const keyPrefix = "availability:"

func dateKey(date string) string {
	return keyPrefix + date
}

// Field distinguishes the default-duration response from per-service ones.
func field(serviceID string) string {
	if serviceID == "" {
		return "_default"
	}
	return serviceID
}

func (c *Availability) Get(ctx context.Context, date, serviceID string) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	payload, err := c.rdb.HGet(ctx, dateKey(date), field(serviceID)).Bytes()
	if err != nil {
		if err != redis.Nil && c.logger != nil {
			c.logger.Warn("availability cache read failed", "err", err)
		}
		return nil, false
	}
	return payload, true
}

func (c *Availability) Set(ctx context.Context, date, serviceID string, payload []byte) {
	if c == nil || c.rdb == nil {
		return
	}
	key := dateKey(date)
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, field(serviceID), payload)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil && c.logger != nil {
		c.logger.Warn("availability cache write failed", "err", err)
	}
}

// InvalidateDate drops every cached response for one date. Called after a
// booking, cancellation, or override change touching that date.
func (c *Availability) InvalidateDate(ctx context.Context, date string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, dateKey(date)).Err(); err != nil && c.logger != nil {
		c.logger.Warn("availability cache invalidation failed", "date", date, "err", err)
	}
}

// InvalidateAll drops every cached date. Called when the weekly rule set is
// replaced, which affects an unbounded set of future dates.
func (c *Availability) InvalidateAll(ctx context.Context) {
	if c == nil || c.rdb == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil && c.logger != nil {
			c.logger.Warn("availability cache invalidation failed", "key", iter.Val(), "err", err)
		}
	}
	if err := iter.Err(); err != nil && c.logger != nil {
		c.logger.Warn("availability cache scan failed", "err", err)
	}
}

func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
