// Package dedup remembers which processor events have been handled.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

const (
	keyPrefix = "carepath:billing:event:"

	valueInFlight = "in_flight"
	valueDone     = "done"
)

// Defaults for the claim lifetime and how long handled events are remembered.
const (
	DefaultClaimTTL  = 2 * time.Minute
	DefaultRetention = 72 * time.Hour
)

// RedisLedger implements domain.EventLedger on Redis. A claim is a key set
// with SETNX that expires after claimTTL, so a crashed worker cannot block an
// event forever. Completed events are kept for retention, which should cover
// the processor's redelivery horizon.
type RedisLedger struct {
	client    *redis.Client
	claimTTL  time.Duration
	retention time.Duration
}

// NewRedisLedger creates a ledger. Zero durations use the defaults.
func NewRedisLedger(client *redis.Client, claimTTL, retention time.Duration) *RedisLedger {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisLedger{client: client, claimTTL: claimTTL, retention: retention}
}

func (l *RedisLedger) Claim(ctx context.Context, eventID string) (domain.ClaimState, error) {
	key := keyPrefix + eventID
	for attempt := 0; attempt < 2; attempt++ {
		acquired, err := l.client.SetNX(ctx, key, valueInFlight, l.claimTTL).Result()
		if err != nil {
			return 0, fmt.Errorf("claim event %s: %w", eventID, err)
		}
		if acquired {
			return domain.ClaimAcquired, nil
		}

		value, err := l.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// Expired between the two calls.
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read event %s: %w", eventID, err)
		}
		if value == valueDone {
			return domain.ClaimDone, nil
		}
		return domain.ClaimInFlight, nil
	}
	return domain.ClaimInFlight, nil
}

func (l *RedisLedger) Complete(ctx context.Context, eventID string) error {
	if err := l.client.Set(ctx, keyPrefix+eventID, valueDone, l.retention).Err(); err != nil {
		return fmt.Errorf("complete event %s: %w", eventID, err)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, eventID string) error {
	if err := l.client.Del(ctx, keyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

var _ domain.EventLedger = (*RedisLedger)(nil)
