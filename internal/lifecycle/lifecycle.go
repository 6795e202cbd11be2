// Package lifecycle owns the order state machine: pending → completed and
// pending → expired, both terminal. Replaying a transition the order already
// took is a no-op; crossing from one terminal state to the other is an error.
package lifecycle

import (
	"context"

	"github.com/and161185/raffle/internal/metrics"
	"go.uber.org/zap"
)

type Store interface {
	CompleteOrder(ctx context.Context, orderID int64) (bool, error)
	ExpireOrder(ctx context.Context, orderID int64, reason string) (bool, error)
}

type Notifier interface {
	SendConfirmation(ctx context.Context, orderID int64) error
}

type Lifecycle struct {
	store    Store
	notifier Notifier
	logger   *zap.SugaredLogger
}

func New(store Store, notifier Notifier, logger *zap.SugaredLogger) *Lifecycle {
	return &Lifecycle{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// MarkCompleted flips the order and its reserved numbers to paid state and
// sends the confirmation. The notification goes out only on the actual
// transition, so replays cannot send it twice, and its failure is non-fatal.
func (l *Lifecycle) MarkCompleted(ctx context.Context, orderID int64) error {
	changed, err := l.store.CompleteOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if !changed {
		l.logger.Infow("order already completed, replay ignored", "order_id", orderID)
		return nil
	}

	l.logger.Infow("order completed", "order_id", orderID)

	if err := l.notifier.SendConfirmation(ctx, orderID); err != nil {
		metrics.RecordNotificationFailure()
		l.logger.Errorw("send confirmation", "order_id", orderID, "error", err)
	}

	return nil
}

// MarkExpired flips the order to expired and releases its reserved numbers.
func (l *Lifecycle) MarkExpired(ctx context.Context, orderID int64, reason string) error {
	changed, err := l.store.ExpireOrder(ctx, orderID, reason)
	if err != nil {
		return err
	}

	if !changed {
		l.logger.Infow("order already expired, replay ignored", "order_id", orderID)
		return nil
	}

	l.logger.Infow("order expired", "order_id", orderID, "reason", reason)
	return nil
}
