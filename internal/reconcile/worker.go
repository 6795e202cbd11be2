// Package reconcile drives the payment callback pipeline: correlate the
// order, confirm the transaction with the provider, check idempotency and
// amount, then apply the result to the local ledger. The callback is
// delivered at least once (provider retry, browser back-button), so every
// step must tolerate replays.
package reconcile

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/and161185/raffle/internal/errs"
	"github.com/and161185/raffle/internal/gateway"
	"github.com/and161185/raffle/internal/model"
	"github.com/and161185/raffle/internal/txid"
	"go.uber.org/zap"
)

// Decision is what the buyer's browser is redirected to. Ambiguous outcomes
// map to pending: the buyer is never shown a false success or false failure.
type Decision string

const (
	DecisionSuccess  Decision = "success"
	DecisionPending  Decision = "pending"
	DecisionRejected Decision = "rejected"
)

// AmountTolerance absorbs provider-side rounding, one minor currency unit.
const AmountTolerance = int64(1)

const applyTimeout = 30 * time.Second

type Store interface {
	GetOrder(ctx context.Context, id int64) (model.Order, error)
	GetPaymentByProviderRef(ctx context.Context, providerRef string) (model.Payment, error)
	SavePayment(ctx context.Context, payment model.Payment) (int64, error)
}

type Confirmer interface {
	Confirm(ctx context.Context, transactionID int64, clientTxID string) (gateway.Result, error)
}

type OrderLifecycle interface {
	MarkCompleted(ctx context.Context, orderID int64) error
	MarkExpired(ctx context.Context, orderID int64, reason string) error
}

type Worker struct {
	store     Store
	gateway   Confirmer
	lifecycle OrderLifecycle
	logger    *zap.SugaredLogger

	wg sync.WaitGroup
}

func NewWorker(store Store, gw Confirmer, lc OrderLifecycle, logger *zap.SugaredLogger) *Worker {
	return &Worker{
		store:     store,
		gateway:   gw,
		lifecycle: lc,
		logger:    logger,
	}
}

// Wait blocks until all scheduled ledger applications finish.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// HandleCallback resolves one provider callback to a redirect decision.
// The decision is computed from the synchronous steps only; writing the
// payment and flipping the order runs after the response is on its way,
// because the provider cares about confirmation latency, not about when the
// local ledger settles.
func (w *Worker) HandleCallback(ctx context.Context, providerTxID int64, clientTxID string) Decision {
	log := w.logger.With("provider_tx_id", providerTxID, "client_tx_id", clientTxID)

	// correlate: the order id travels inside the client transaction id
	orderID, err := txid.Parse(clientTxID)
	if err != nil {
		log.Errorw("correlate callback", "error", err)
		return DecisionPending
	}

	order, err := w.store.GetOrder(ctx, orderID)
	if err != nil {
		log.Errorw("load correlated order", "order_id", orderID, "error", err)
		return DecisionPending
	}
	if order.ClientTxID != clientTxID {
		log.Errorw("client tx id does not match order", "order_id", orderID)
		return DecisionPending
	}
	if order.Status == model.OrderExpired {
		// свипер уже отпустил номера, успех здесь обещать нельзя
		log.Errorw("callback for expired order", "order_id", orderID, "error", errs.ErrOrderFinalized)
		return DecisionPending
	}

	// confirm before any write: the provider reverses unconfirmed
	// transactions once its window closes
	result, confirmErr := w.gateway.Confirm(ctx, providerTxID, clientTxID)

	providerRef := strconv.FormatInt(providerTxID, 10)
	if confirmErr == nil && result.TransactionID != 0 {
		providerRef = strconv.FormatInt(result.TransactionID, 10)
	}

	// idempotency: a provider reference already applied to this order means
	// this is a replay, not a new payment
	existing, err := w.store.GetPaymentByProviderRef(ctx, providerRef)
	switch {
	case err == nil:
		if existing.OrderID != order.ID {
			log.Errorw("provider reference bound to another order",
				"order_id", order.ID, "bound_order_id", existing.OrderID, "error", errs.ErrIdempotencyConflict)
			return DecisionPending
		}
		if existing.Status == model.PaymentApproved {
			log.Infow("approved payment replayed", "order_id", order.ID)
			return DecisionSuccess
		}
	case !errors.Is(err, errs.ErrPaymentNotFound):
		log.Errorw("lookup payment", "order_id", order.ID, "error", err)
		return DecisionPending
	}

	if confirmErr != nil {
		if errors.Is(confirmErr, errs.ErrGatewayRejected) {
			log.Infow("gateway rejected transaction", "order_id", order.ID, "error", confirmErr)
			w.scheduleApply(ctx, order, providerRef, gateway.Result{}, false)
			return DecisionRejected
		}
		// unreachable or ambiguous: the charge may have gone through,
		// never claim failure here
		log.Errorw("confirm transaction", "order_id", order.ID, "error", confirmErr)
		return DecisionPending
	}

	switch {
	case result.Approved():
		if delta := result.Amount - order.Total; delta > AmountTolerance || delta < -AmountTolerance {
			log.Errorw("confirmed amount does not match order",
				"order_id", order.ID, "confirmed", result.Amount, "total", order.Total,
				"error", errs.ErrAmountMismatch)
			return DecisionPending
		}
		w.scheduleApply(ctx, order, providerRef, result, true)
		return DecisionSuccess

	case result.Canceled():
		w.scheduleApply(ctx, order, providerRef, result, false)
		return DecisionRejected

	default:
		log.Infow("transaction still pending at provider",
			"order_id", order.ID, "status_code", result.StatusCode, "status", result.TransactionStatus)
		return DecisionPending
	}
}

func (w *Worker) scheduleApply(ctx context.Context, order model.Order, providerRef string, result gateway.Result, approved bool) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), applyTimeout)
		defer cancel()

		w.apply(applyCtx, order, providerRef, result, approved)
	}()
}

// apply upserts the payment and drives the order transition. Errors here are
// logged, not surfaced: the buyer already has a redirect.
func (w *Worker) apply(ctx context.Context, order model.Order, providerRef string, result gateway.Result, approved bool) {
	log := w.logger.With("order_id", order.ID, "provider_ref", providerRef)

	status := model.PaymentCanceled
	if approved {
		status = model.PaymentApproved
	}

	payment := model.Payment{
		OrderID:     order.ID,
		ProviderRef: providerRef,
		Amount:      result.Amount,
		Status:      status,
		RawPayload:  result.Raw,
	}

	if _, err := w.store.SavePayment(ctx, payment); err != nil {
		log.Errorw("save payment", "error", err)
		return
	}

	if approved {
		if err := w.lifecycle.MarkCompleted(ctx, order.ID); err != nil {
			log.Errorw("mark order completed", "error", err)
		}
		return
	}

	if err := w.lifecycle.MarkExpired(ctx, order.ID, "gateway canceled"); err != nil {
		log.Errorw("mark order expired", "error", err)
	}
}
