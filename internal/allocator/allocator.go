// Package allocator turns a buyer's requested quantity into an atomic claim
// over the raffle's number pool.
package allocator

import (
	"context"
	"fmt"

	"github.com/and161185/raffle/internal/errs"
	"github.com/and161185/raffle/internal/model"
	"go.uber.org/zap"
)

type Store interface {
	GetRaffle(ctx context.Context, id int64) (model.Raffle, error)
	ReserveNumbers(ctx context.Context, raffleID, clientID int64, requestedQty, bonusQty int, total int64) (int64, string, []int, error)
}

type Allocator struct {
	store       Store
	maxQuantity int
	logger      *zap.SugaredLogger
}

func New(store Store, maxQuantity int, logger *zap.SugaredLogger) *Allocator {
	return &Allocator{
		store:       store,
		maxQuantity: maxQuantity,
		logger:      logger,
	}
}

// BonusFor is the promotional tier function: free extra numbers at fixed
// purchased quantities. Bonus numbers are reserved but never priced.
func BonusFor(quantity int) int {
	switch quantity {
	case 10:
		return 5
	case 20:
		return 7
	default:
		return 0
	}
}

// Reserve validates the request, computes the bonus and the total, and
// performs the single atomic reservation. On any failure nothing persists.
func (a *Allocator) Reserve(ctx context.Context, raffleID, clientID int64, quantity int) (model.Order, error) {
	if quantity <= 0 || quantity > a.maxQuantity {
		return model.Order{}, errs.ErrInvalidQuantity
	}

	raffle, err := a.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return model.Order{}, err
	}
	if raffle.Status != model.RaffleActive {
		return model.Order{}, errs.ErrRaffleNotActive
	}

	bonus := BonusFor(quantity)
	total := int64(quantity) * raffle.PricePerTicket

	orderID, clientTxID, numbers, err := a.store.ReserveNumbers(ctx, raffleID, clientID, quantity, bonus, total)
	if err != nil {
		return model.Order{}, fmt.Errorf("reserve numbers: %w", err)
	}

	a.logger.Infow("numbers reserved",
		"order_id", orderID,
		"client_tx_id", clientTxID,
		"raffle_id", raffleID,
		"quantity", quantity,
		"bonus", bonus,
		"total", total,
	)

	return model.Order{
		ID:           orderID,
		RaffleID:     raffleID,
		ClientID:     clientID,
		RequestedQty: quantity,
		BonusQty:     bonus,
		Total:        total,
		Status:       model.OrderPending,
		ClientTxID:   clientTxID,
		Numbers:      numbers,
	}, nil
}
