package handler

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
	"github.com/rl1809/secondhand-shop/internal/port"
)

const releaseTimeout = 2 * time.Second

// idempotencyGuard claims client request keys so a retried command runs at
// most once. A key is released again when its command fails, since a failed
// command changes nothing and the client must be able to retry it.
type idempotencyGuard struct {
	cache port.CacheRepository
	log   *zap.Logger
}

// claim reserves key for caller. The returned settle func must be called with
// the command's result. Without a cache or a key every request passes.
func (g idempotencyGuard) claim(ctx context.Context, caller domain.Identity, key string) (settle func(error), err error) {
	key = strings.TrimSpace(key)
	if key == "" || g.cache == nil {
		return func(error) {}, nil
	}

	scoped := "cmd:" + caller.String() + ":" + key
	ok, err := g.cache.SetIdempotency(ctx, scoped)
	if err != nil {
		g.log.Error("idempotency check failed", zap.Error(err))
		return nil, err
	}
	if !ok {
		return nil, errDuplicateRequest
	}

	return func(cmdErr error) {
		if cmdErr == nil {
			return
		}
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := g.cache.ReleaseIdempotency(releaseCtx, scoped); err != nil {
			g.log.Warn("failed to release idempotency key", zap.String("key", scoped), zap.Error(err))
		}
	}, nil
}
