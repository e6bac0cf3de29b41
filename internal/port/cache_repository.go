package port

import (
	"context"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
)

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key so the request it guarded can be retried
	ReleaseIdempotency(ctx context.Context, key string) error

	// PublishEvent appends a shop notification to the event stream
	PublishEvent(ctx context.Context, event domain.Event) error
}
