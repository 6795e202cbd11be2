package reconcile

import (
	"context"
	"sync"
	"testing"

	"github.com/and161185/raffle/internal/errs"
	"github.com/and161185/raffle/internal/gateway"
	"github.com/and161185/raffle/internal/model"
	"github.com/and161185/raffle/internal/txid"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	mu        sync.Mutex
	orders    map[int64]model.Order
	payments  map[string]model.Payment
	saveCalls int
}

func newFakeStore(orders ...model.Order) *fakeStore {
	f := &fakeStore{
		orders:   make(map[int64]model.Order),
		payments: make(map[string]model.Payment),
	}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeStore) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[id]
	if !ok {
		return model.Order{}, errs.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeStore) GetPaymentByProviderRef(ctx context.Context, providerRef string) (model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	payment, ok := f.payments[providerRef]
	if !ok {
		return model.Payment{}, errs.ErrPaymentNotFound
	}
	return payment, nil
}

func (f *fakeStore) SavePayment(ctx context.Context, payment model.Payment) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.saveCalls++
	if existing, ok := f.payments[payment.ProviderRef]; ok && existing.OrderID != payment.OrderID {
		return 0, errs.ErrIdempotencyConflict
	}
	payment.ID = int64(len(f.payments) + 1)
	f.payments[payment.ProviderRef] = payment
	return payment.ID, nil
}

func (f *fakeStore) savedPayment(providerRef string) (model.Payment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[providerRef]
	return p, ok
}

func (f *fakeStore) saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCalls
}

type fakeLifecycle struct {
	mu        sync.Mutex
	completed []int64
	expired   []int64
}

func (f *fakeLifecycle) MarkCompleted(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, orderID)
	return nil
}

func (f *fakeLifecycle) MarkExpired(ctx context.Context, orderID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, orderID)
	return nil
}

func (f *fakeLifecycle) snapshot() (completed, expired []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.completed...), append([]int64(nil), f.expired...)
}

type fakeConfirmer struct {
	result gateway.Result
	err    error
	calls  int
}

func (f *fakeConfirmer) Confirm(ctx context.Context, transactionID int64, clientTxID string) (gateway.Result, error) {
	f.calls++
	return f.result, f.err
}

func approvedResult(txID int64, clientTxID string, amount int64) gateway.Result {
	return gateway.Result{
		StatusCode:          gateway.StatusCodeApproved,
		TransactionStatus:   gateway.StatusApproved,
		Amount:              amount,
		TransactionID:       txID,
		ClientTransactionID: clientTxID,
		Raw:                 []byte(`{"transactionStatus":"Approved"}`),
	}
}

func pendingOrder(id, total int64) model.Order {
	return model.Order{
		ID:         id,
		RaffleID:   1,
		ClientID:   5,
		Total:      total,
		Status:     model.OrderPending,
		ClientTxID: txid.Encode(id),
	}
}

func TestHandleCallbackApproved(t *testing.T) {
	order := pendingOrder(42, 1500)
	store := newFakeStore(order)
	lc := &fakeLifecycle{}
	confirmer := &fakeConfirmer{result: approvedResult(777, order.ClientTxID, 1500)}

	w := NewWorker(store, confirmer, lc, zaptest.NewLogger(t).Sugar())

	decision := w.HandleCallback(context.Background(), 777, order.ClientTxID)
	if decision != DecisionSuccess {
		t.Fatalf("expected success, got %s", decision)
	}
	w.Wait()

	payment, ok := store.savedPayment("777")
	if !ok {
		t.Fatal("payment not saved")
	}
	if payment.Status != model.PaymentApproved {
		t.Errorf("expected approved payment, got %s", payment.Status)
	}
	if payment.Amount != 1500 {
		t.Errorf("expected amount 1500, got %d", payment.Amount)
	}
	if len(payment.RawPayload) == 0 {
		t.Error("raw provider payload must be stored")
	}

	completed, expired := lc.snapshot()
	if len(completed) != 1 || completed[0] != 42 {
		t.Errorf("expected order 42 completed, got %v", completed)
	}
	if len(expired) != 0 {
		t.Errorf("nothing should expire, got %v", expired)
	}
}

func TestHandleCallbackReplayAfterApproval(t *testing.T) {
	order := pendingOrder(42, 1500)
	store := newFakeStore(order)
	store.payments["777"] = model.Payment{ID: 1, OrderID: 42, ProviderRef: "777", Amount: 1500, Status: model.PaymentApproved}

	lc := &fakeLifecycle{}
	confirmer := &fakeConfirmer{result: approvedResult(777, order.ClientTxID, 1500)}
	w := NewWorker(store, confirmer, lc, zaptest.NewLogger(t).Sugar())

	decision := w.HandleCallback(context.Background(), 777, order.ClientTxID)
	if decision != DecisionSuccess {
		t.Fatalf("replay must succeed, got %s", decision)
	}
	w.Wait()

	if store.saves() != 0 {
		t.Errorf("replay must not write, got %d saves", store.saves())
	}
	completed, _ := lc.snapshot()
	if len(completed) != 0 {
		t.Errorf("replay must not re-run transitions, got %v", completed)
	}
}

func TestHandleCallbackReplayWhenProviderErrors(t *testing.T) {
	// браузер дёрнул callback второй раз, провайдер на повторный confirm
	// отвечает 4xx — но платёж уже применён, это успешный повтор
	order := pendingOrder(42, 1500)
	store := newFakeStore(order)
	store.payments["777"] = model.Payment{ID: 1, OrderID: 42, ProviderRef: "777", Amount: 1500, Status: model.PaymentApproved}

	lc := &fakeLifecycle{}
	confirmer := &fakeConfirmer{err: errs.ErrGatewayRejected}
	w := NewWorker(store, confirmer, lc, zaptest.NewLogger(t).Sugar())

	decision := w.HandleCallback(context.Background(), 777, order.ClientTxID)
	if decision != DecisionSuccess {
		t.Fatalf("replay of an applied payment must stay success, got %s", decision)
	}
	w.Wait()

	_, expired := lc.snapshot()
	if len(expired) != 0 {
		t.Errorf("an applied order must never expire on replay, got %v", expired)
	}
}

func TestHandleCallbackIdempotencyConflict(t *testing.T) {
	// провайдерская транзакция уже привязана к другому заказу
	orderX := pendingOrder(41, 1000)
	orderY := pendingOrder(42, 1500)
	store := newFakeStore(orderX, orderY)
	store.payments["777"] = model.Payment{ID: 1, OrderID: 41, ProviderRef: "777", Amount: 1000, Status: model.PaymentApproved}

	lc := &fakeLifecycle{}
	confirmer := &fakeConfirmer{result: approvedResult(777, orderY.ClientTxID, 1500)}
	w := NewWorker(store, confirmer, lc, zaptest.NewLogger(t).Sugar())

	decision := w.HandleCallback(context.Background(), 777, orderY.ClientTxID)
	if decision != DecisionPending {
		t.Fatalf("conflict must map to pending, got %s", decision)
	}
	w.Wait()

	if store.saves() != 0 {
		t.Errorf("conflict must not write, got %d saves", store.saves())
	}
	completed, expired := lc.snapshot()
	if len(completed) != 0 || len(expired) != 0 {
		t.Errorf("conflict must not change either order: completed=%v expired=%v", completed, expired)
	}
}

func TestHandleCallbackAmountMismatch(t *testing.T) {
	order := pendingOrder(42, 1500)
	store := newFakeStore(order)
	lc := &fakeLifecycle{}
	confirmer := &fakeConfirmer{result: approvedResult(777, order.ClientTxID, 9900)}
	w := NewWorker(store, confirmer, lc, zaptest.NewLogger(t).Sugar())

	decision := w.HandleCallback(context.Background(), 777, order.ClientTxID)
	if decision != DecisionPending {
		t.Fatalf("amount mismatch must map to pending, got %s", decision)
	}
	w.Wait()

	if store.saves() != 0 {
		t.Errorf("mismatched payment must never be applied, got %d saves", store.saves())
	}
	completed, expired := lc.snapshot()
	if len(completed) != 0 || len(expired) != 0 {
		t.Errorf("order must stay pending: completed=%v expired=%v", completed, expired)
	}
}

func TestHandleCallbackAmountTolerance(t *testing.T) {
	tests := []struct {
		amount int64
		want   Decision
	}{
		{amount: 1500, want: DecisionSuccess},
		{amount: 1501, want: DecisionSuccess},
		{amount: 1499, want: DecisionSuccess},
		{amount: 1502, want: DecisionPending},
		{amount: 1498, want: DecisionPending},
	}

	for _, tt := range tests {
		order := pendingOrder(42, 1500)
		store := newFakeStore(order)
		confirmer := &fakeConfirmer{result: approvedResult(777, order.ClientTxID, tt.amount)}
		w := NewWorker(store, confirmer, &fakeLifecycle{}, zaptest.NewLogger(t).Sugar())

		decision := w.HandleCallback(context.Background(), 777, order.ClientTxID)
		w.Wait()
		if decision != tt.want {
			t.Errorf("amount %d: expected %s, got %s", tt.amount, tt.want, decision)
		}
	}
}

func TestHandleCallbackCanceled(t *testing.T) {
	order := pendingOrder(42, 1500)
	store := newFakeStore(order)
	lc := &fakeLifecycle{}
	confirmer := &fakeConfirmer{result: gateway.Result{
		StatusCode:          gateway.StatusCodeCanceled,
		TransactionStatus:   gateway.StatusCanceled,
		Amount:              1500,
		TransactionID:       777,
		ClientTransactionID: order.ClientTxID,
	}}
	w := NewWorker(store, confirmer, lc, zaptest.NewLogger(t).Sugar())

	decision := w.HandleCallback(context.Background(), 777, order.ClientTxID)
	if decision != DecisionRejected {
		t.Fatalf("expected rejected, got %s", decision)
	}
	w.Wait()

	payment, ok := store.savedPayment("777")
	if !ok {
		t.Fatal("canceled payment must still be recorded")
	}
	if payment.Status != model.PaymentCanceled {
		t.Errorf("expected canceled payment, got %s", payment.Status)
	}

	completed, expired := lc.snapshot()
	if len(completed) != 0 {
		t.Errorf("canceled payment must not complete the order, got %v", completed)
	}
	if len(expired) != 1 || expired[0] != 42 {
		t.Errorf("expected order 42 expired, got %v", expired)
	}
}

func TestHandleCallbackDisagreeingStatusFields(t *testing.T) {
	// числовой код говорит approved, метка говорит Canceled — заказ не
	// должен завершиться
	order := pendingOrder(42, 1500)
	store := newFakeStore(order)
	lc := &fakeLifecycle{}
	confirmer := &fakeConfirmer{result: gateway.Result{
		StatusCode:          gateway.StatusCodeApproved,
		TransactionStatus:   gateway.StatusCanceled,
		Amount:              1500,
		TransactionID:       777,
		ClientTransactionID: order.ClientTxID,
	}}
	w := NewWorker(store, confirmer, lc, zaptest.NewLogger(t).Sugar())

	decision := w.HandleCallback(context.Background(), 777, order.ClientTxID)
	if decision == DecisionSuccess {
		t.Fatal("disagreeing status fields must never produce success")
	}
	w.Wait()

	completed, _ := lc.snapshot()
	if len(completed) != 0 {
		t.Errorf("order must not complete, got %v", completed)
	}
}

func TestHandleCallbackGatewayUnavailable(t *testing.T) {
	order := pendingOrder(42, 1500)
	store := newFakeStore(order)
	lc := &fakeLifecycle{}
	confirmer := &fakeConfirmer{err: errs.ErrGatewayUnavailable}
	w := NewWorker(store, confirmer, lc, zaptest.NewLogger(t).Sugar())

	decision := w.HandleCallback(context.Background(), 777, order.ClientTxID)
	if decision != DecisionPending {
		t.Fatalf("unreachable gateway must map to pending, got %s", decision)
	}
	w.Wait()

	if store.saves() != 0 {
		t.Errorf("nothing must be written while the outcome is unknown, got %d saves", store.saves())
	}
	completed, expired := lc.snapshot()
	if len(completed) != 0 || len(expired) != 0 {
		t.Errorf("order must stay pending: completed=%v expired=%v", completed, expired)
	}
}

func TestHandleCallbackGatewayRejected(t *testing.T) {
	order := pendingOrder(42, 1500)
	store := newFakeStore(order)
	lc := &fakeLifecycle{}
	confirmer := &fakeConfirmer{err: errs.ErrGatewayRejected}
	w := NewWorker(store, confirmer, lc, zaptest.NewLogger(t).Sugar())

	decision := w.HandleCallback(context.Background(), 777, order.ClientTxID)
	if decision != DecisionRejected {
		t.Fatalf("expected rejected, got %s", decision)
	}
	w.Wait()

	_, expired := lc.snapshot()
	if len(expired) != 1 || expired[0] != 42 {
		t.Errorf("expected order 42 expired, got %v", expired)
	}
}

func TestHandleCallbackBadCorrelationID(t *testing.T) {
	store := newFakeStore()
	confirmer := &fakeConfirmer{}
	w := NewWorker(store, confirmer, &fakeLifecycle{}, zaptest.NewLogger(t).Sugar())

	decision := w.HandleCallback(context.Background(), 777, "order_42_legacy")
	if decision != DecisionPending {
		t.Fatalf("malformed id must map to pending, got %s", decision)
	}
	if confirmer.calls != 0 {
		t.Error("uncorrelated callback must not reach the gateway")
	}
}

func TestHandleCallbackExpiredOrder(t *testing.T) {
	// свипер успел истечь заказ — номера уже в пуле, подтверждать нечего
	order := pendingOrder(42, 1500)
	order.Status = model.OrderExpired
	store := newFakeStore(order)
	lc := &fakeLifecycle{}
	confirmer := &fakeConfirmer{result: approvedResult(777, order.ClientTxID, 1500)}
	w := NewWorker(store, confirmer, lc, zaptest.NewLogger(t).Sugar())

	decision := w.HandleCallback(context.Background(), 777, order.ClientTxID)
	if decision != DecisionPending {
		t.Fatalf("expired order must map to pending, got %s", decision)
	}
	w.Wait()

	if confirmer.calls != 0 {
		t.Error("expired order must not reach the gateway")
	}
	if store.saves() != 0 {
		t.Errorf("nothing must be written, got %d saves", store.saves())
	}
	completed, expired := lc.snapshot()
	if len(completed) != 0 || len(expired) != 0 {
		t.Errorf("no transitions expected: completed=%v expired=%v", completed, expired)
	}
}

func TestHandleCallbackForeignClientTxID(t *testing.T) {
	// id парсится на заказ 42, но заказ хранит другой correlation id
	order := pendingOrder(42, 1500)
	store := newFakeStore(order)
	confirmer := &fakeConfirmer{}
	w := NewWorker(store, confirmer, &fakeLifecycle{}, zaptest.NewLogger(t).Sugar())

	foreign := "v1-42-" + "deadbeef"
	if foreign == order.ClientTxID {
		t.Fatal("test ids must differ")
	}

	decision := w.HandleCallback(context.Background(), 777, foreign)
	if decision != DecisionPending {
		t.Fatalf("foreign correlation id must map to pending, got %s", decision)
	}
	if confirmer.calls != 0 {
		t.Error("mismatched correlation must not reach the gateway")
	}
}

func TestHandleCallbackIdempotentReplayEndToEnd(t *testing.T) {
	// два одинаковых вызова подряд: одно применение, одно и то же решение
	order := pendingOrder(42, 1500)
	store := newFakeStore(order)
	lc := &fakeLifecycle{}
	confirmer := &fakeConfirmer{result: approvedResult(777, order.ClientTxID, 1500)}
	w := NewWorker(store, confirmer, lc, zaptest.NewLogger(t).Sugar())

	first := w.HandleCallback(context.Background(), 777, order.ClientTxID)
	w.Wait()
	second := w.HandleCallback(context.Background(), 777, order.ClientTxID)
	w.Wait()

	if first != DecisionSuccess || second != DecisionSuccess {
		t.Fatalf("expected success twice, got %s and %s", first, second)
	}
	if store.saves() != 1 {
		t.Errorf("expected exactly one payment write, got %d", store.saves())
	}

	completed, _ := lc.snapshot()
	if len(completed) != 1 {
		t.Errorf("expected exactly one completion, got %v", completed)
	}
}
