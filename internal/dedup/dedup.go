// Package dedup records which notifications have already been delivered so
// that broker redeliveries do not send the same email twice.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "accountd:notify:claimed:"

type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduplicator{
		rdb: rdb,
		ttl: ttl,
	}
}

// Claim marks id as in-flight or delivered. It returns false when id was
// already claimed.
func (d *Deduplicator) Claim(ctx context.Context, id string) (bool, error) {
	if d == nil || d.rdb == nil {
		return true, nil
	}
	if id == "" {
		return false, errors.New("dedup id is empty")
	}
	ok, err := d.rdb.SetNX(ctx, keyPrefix+id, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}

// Release forgets id so a later delivery attempt can claim it again.
func (d *Deduplicator) Release(ctx context.Context, id string) error {
	if d == nil || d.rdb == nil || id == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}
