package port

import (
	"context"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
)

type EventEmitter interface {
	Emit(ctx context.Context, event domain.Event)
}

type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, domain.Event) {}
