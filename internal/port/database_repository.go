package port

import (
	"context"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
)

type DatabaseRepository interface {
	Wallet

	// AppendEvent persists a shop notification in the event journal
	AppendEvent(ctx context.Context, event domain.Event) error
}
