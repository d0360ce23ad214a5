package signal

import (
	"context"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

// Source produces trade signals for a symbol. A nil signal with nil error
// means "not enough information yet", which callers treat as HOLD.
type Source interface {
	GetSignal(ctx context.Context, symbol string, market domain.Market) (*domain.Signal, error)
}
