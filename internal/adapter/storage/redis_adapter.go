package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour
	eventStreamKey       = "shop:events"
	eventStreamMaxLen    = 100000
)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// PublishEvent appends the event to a capped stream consumers read with
// XREAD or consumer groups.
func (r *RedisAdapter) PublishEvent(ctx context.Context, event domain.Event) error {
	amount := "0"
	if event.Amount != nil {
		amount = event.Amount.Dec()
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStreamKey,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":          event.ID,
			"kind":        string(event.Kind),
			"shop":        string(event.Shop),
			"actor":       string(event.Actor),
			"sale_id":     strconv.FormatUint(event.SaleID, 10),
			"offer_id":    strconv.FormatUint(event.OfferID, 10),
			"amount":      amount,
			"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
		},
	}).Err()
}
