package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/and161185/raffle/internal/errs"
	"github.com/and161185/raffle/internal/model"
	"github.com/and161185/raffle/internal/txid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStorage struct {
	db *pgxpool.Pool
}

func (store *PostgresStorage) initSchema(ctx context.Context) error {
	const initSchemaQuery = `
	CREATE TABLE IF NOT EXISTS raffles (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		price_per_ticket BIGINT NOT NULL,
		total_numbers INT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS clients (
		id BIGSERIAL PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		user_id BIGINT,
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		raffle_id BIGINT NOT NULL REFERENCES raffles(id),
		client_id BIGINT NOT NULL REFERENCES clients(id),
		requested_qty INT NOT NULL,
		bonus_qty INT NOT NULL DEFAULT 0,
		total BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		client_tx_id TEXT UNIQUE,
		expire_reason TEXT,
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS ticket_numbers (
		raffle_id BIGINT NOT NULL REFERENCES raffles(id),
		number INT NOT NULL,
		status TEXT NOT NULL DEFAULT 'available',
		order_id BIGINT REFERENCES orders(id),
		reserved_at TIMESTAMP,
		PRIMARY KEY (raffle_id, number)
	);
	CREATE INDEX IF NOT EXISTS idx_ticket_numbers_order ON ticket_numbers(order_id);
	CREATE INDEX IF NOT EXISTS idx_ticket_numbers_available ON ticket_numbers(raffle_id) WHERE status = 'available';
	CREATE TABLE IF NOT EXISTS payments (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id),
		provider_ref TEXT UNIQUE NOT NULL,
		amount BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		raw_payload JSONB,
		created_at TIMESTAMP DEFAULT NOW(),
		updated_at TIMESTAMP DEFAULT NOW()
	);`

	_, err := store.db.Exec(ctx, initSchemaQuery)
	return err
}

func NewPostgresStorage(ctx context.Context, DatabaseURI string) (*PostgresStorage, error) {
	db, err := pgxpool.New(ctx, DatabaseURI)
	if err != nil {
		return nil, err
	}

	storage := &PostgresStorage{db: db}

	if err := storage.Ping(ctx); err != nil {
		return nil, err
	}

	if err := storage.initSchema(ctx); err != nil {
		return nil, err
	}

	return storage, nil
}

func (store *PostgresStorage) Ping(ctx context.Context) error {
	return store.db.Ping(ctx)
}

// CreateRaffle inserts the raffle and populates its full number pool.
func (s *PostgresStorage) CreateRaffle(ctx context.Context, title string, pricePerTicket int64, totalNumbers int) (int64, error) {
	const insertRaffleQuery = `
		INSERT INTO raffles (title, price_per_ticket, total_numbers)
		VALUES ($1, $2, $3)
		RETURNING id`

	const insertNumbersQuery = `
		INSERT INTO ticket_numbers (raffle_id, number)
		SELECT $1, generate_series(1, $2)`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var raffleID int64
	err = tx.QueryRow(ctx, insertRaffleQuery, title, pricePerTicket, totalNumbers).Scan(&raffleID)
	if err != nil {
		return 0, fmt.Errorf("insert raffle: %w", err)
	}

	if _, err := tx.Exec(ctx, insertNumbersQuery, raffleID, totalNumbers); err != nil {
		return 0, fmt.Errorf("insert ticket numbers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return raffleID, nil
}

func (s *PostgresStorage) GetRaffle(ctx context.Context, id int64) (model.Raffle, error) {
	const query = `SELECT id, title, price_per_ticket, total_numbers, status FROM raffles WHERE id = $1`

	var raffle model.Raffle
	err := s.db.QueryRow(ctx, query, id).Scan(
		&raffle.ID, &raffle.Title, &raffle.PricePerTicket, &raffle.TotalNumbers, &raffle.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Raffle{}, errs.ErrRaffleNotFound
		}
		return model.Raffle{}, fmt.Errorf("get raffle: %w", err)
	}

	return raffle, nil
}

// GetOrCreateClient upserts the buyer by email and returns its id.
func (s *PostgresStorage) GetOrCreateClient(ctx context.Context, client model.Client) (int64, error) {
	const query = `
		INSERT INTO clients (email, name, phone, user_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET name = EXCLUDED.name,
		    phone = EXCLUDED.phone,
		    user_id = COALESCE(EXCLUDED.user_id, clients.user_id)
		RETURNING id`

	var id int64
	err := s.db.QueryRow(ctx, query, client.Email, client.Name, client.Phone, client.UserID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert client: %w", err)
	}

	return id, nil
}

// ReserveNumbers creates the pending order, assigns its correlation id and
// claims its ticket numbers in one transaction. The claim selects random
// available rows with FOR UPDATE SKIP LOCKED, so concurrent orders never see
// each other's picks; a shortfall rolls the whole thing back with ErrCapacity.
func (s *PostgresStorage) ReserveNumbers(ctx context.Context, raffleID, clientID int64, requestedQty, bonusQty int, total int64) (int64, string, []int, error) {
	const raffleStatusQuery = `SELECT status FROM raffles WHERE id = $1`

	const insertOrderQuery = `
		INSERT INTO orders (raffle_id, client_id, requested_qty, bonus_qty, total)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	const setClientTxIDQuery = `UPDATE orders SET client_tx_id = $2 WHERE id = $1`

	const claimNumbersQuery = `
		UPDATE ticket_numbers
		SET status = 'reserved', order_id = $2, reserved_at = NOW()
		WHERE raffle_id = $1 AND number IN (
			SELECT number FROM ticket_numbers
			WHERE raffle_id = $1 AND status = 'available'
			ORDER BY random()
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING number`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, "", nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var raffleStatus string
	err = tx.QueryRow(ctx, raffleStatusQuery, raffleID).Scan(&raffleStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", nil, errs.ErrRaffleNotFound
		}
		return 0, "", nil, fmt.Errorf("check raffle: %w", err)
	}
	if raffleStatus != string(model.RaffleActive) {
		return 0, "", nil, errs.ErrRaffleNotActive
	}

	var orderID int64
	err = tx.QueryRow(ctx, insertOrderQuery, raffleID, clientID, requestedQty, bonusQty, total).Scan(&orderID)
	if err != nil {
		return 0, "", nil, fmt.Errorf("insert order: %w", err)
	}

	clientTxID := txid.Encode(orderID)
	if _, err := tx.Exec(ctx, setClientTxIDQuery, orderID, clientTxID); err != nil {
		return 0, "", nil, fmt.Errorf("set client tx id: %w", err)
	}

	totalToReserve := requestedQty + bonusQty

	rows, err := tx.Query(ctx, claimNumbersQuery, raffleID, orderID, totalToReserve)
	if err != nil {
		return 0, "", nil, fmt.Errorf("claim numbers: %w", err)
	}

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return 0, "", nil, fmt.Errorf("scan claimed number: %w", err)
		}
		numbers = append(numbers, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, "", nil, fmt.Errorf("rows error: %w", err)
	}

	// меньше, чем нужно — откатываем всё, частичного резерва быть не должно
	if len(numbers) < totalToReserve {
		return 0, "", nil, errs.ErrCapacity
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, "", nil, fmt.Errorf("commit: %w", err)
	}

	sort.Ints(numbers)
	return orderID, clientTxID, numbers, nil
}

func (s *PostgresStorage) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	const orderQuery = `
		SELECT id, raffle_id, client_id, requested_qty, bonus_qty, total, status, client_tx_id, created_at
		FROM orders
		WHERE id = $1`

	const numbersQuery = `
		SELECT number FROM ticket_numbers WHERE order_id = $1 ORDER BY number`

	var order model.Order
	err := s.db.QueryRow(ctx, orderQuery, id).Scan(
		&order.ID, &order.RaffleID, &order.ClientID, &order.RequestedQty, &order.BonusQty,
		&order.Total, &order.Status, &order.ClientTxID, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, errs.ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}

	rows, err := s.db.Query(ctx, numbersQuery, id)
	if err != nil {
		return model.Order{}, fmt.Errorf("get order numbers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return model.Order{}, fmt.Errorf("scan order number: %w", err)
		}
		order.Numbers = append(order.Numbers, n)
	}
	if err := rows.Err(); err != nil {
		return model.Order{}, fmt.Errorf("rows error: %w", err)
	}

	return order, nil
}

func (s *PostgresStorage) GetPaymentByProviderRef(ctx context.Context, providerRef string) (model.Payment, error) {
	const query = `
		SELECT id, order_id, provider_ref, amount, status
		FROM payments
		WHERE provider_ref = $1`

	var payment model.Payment
	err := s.db.QueryRow(ctx, query, providerRef).Scan(
		&payment.ID, &payment.OrderID, &payment.ProviderRef, &payment.Amount, &payment.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Payment{}, errs.ErrPaymentNotFound
		}
		return model.Payment{}, fmt.Errorf("get payment: %w", err)
	}

	return payment, nil
}

// SavePayment upserts the payment keyed by provider reference. A reference
// already bound to a different order is never re-pointed: the conditional
// update simply matches no row and the call fails with ErrIdempotencyConflict.
func (s *PostgresStorage) SavePayment(ctx context.Context, payment model.Payment) (int64, error) {
	const query = `
		INSERT INTO payments (order_id, provider_ref, amount, status, raw_payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_ref) DO UPDATE
		SET amount = EXCLUDED.amount,
		    status = EXCLUDED.status,
		    raw_payload = EXCLUDED.raw_payload,
		    updated_at = NOW()
		WHERE payments.order_id = EXCLUDED.order_id
		RETURNING id`

	var id int64
	err := s.db.QueryRow(ctx, query,
		payment.OrderID, payment.ProviderRef, payment.Amount, payment.Status, payment.RawPayload).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errs.ErrIdempotencyConflict
		}
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			// гонка двух вставок с одним provider_ref
			return 0, errs.ErrIdempotencyConflict
		}
		return 0, fmt.Errorf("upsert payment: %w", err)
	}

	return id, nil
}

// CompleteOrder moves a pending order to completed and its reserved numbers
// to paid. Replaying on an already completed order is a no-op.
func (s *PostgresStorage) CompleteOrder(ctx context.Context, orderID int64) (bool, error) {
	const completeOrderQuery = `UPDATE orders SET status = 'completed' WHERE id = $1`
	const payNumbersQuery = `UPDATE ticket_numbers SET status = 'paid' WHERE order_id = $1 AND status = 'reserved'`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := lockOrderStatus(ctx, tx, orderID)
	if err != nil {
		return false, err
	}

	switch status {
	case model.OrderCompleted:
		return false, nil
	case model.OrderExpired:
		return false, errs.ErrOrderFinalized
	}

	if _, err := tx.Exec(ctx, completeOrderQuery, orderID); err != nil {
		return false, fmt.Errorf("complete order: %w", err)
	}

	if _, err := tx.Exec(ctx, payNumbersQuery, orderID); err != nil {
		return false, fmt.Errorf("mark numbers paid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	return true, nil
}

// ExpireOrder moves a pending order to expired and releases its reserved
// numbers back to the pool. Replaying on an already expired order is a no-op.
func (s *PostgresStorage) ExpireOrder(ctx context.Context, orderID int64, reason string) (bool, error) {
	const expireOrderQuery = `UPDATE orders SET status = 'expired', expire_reason = $2 WHERE id = $1`
	const releaseNumbersQuery = `
		UPDATE ticket_numbers
		SET status = 'available', order_id = NULL, reserved_at = NULL
		WHERE order_id = $1 AND status = 'reserved'`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := lockOrderStatus(ctx, tx, orderID)
	if err != nil {
		return false, err
	}

	switch status {
	case model.OrderExpired:
		return false, nil
	case model.OrderCompleted:
		return false, errs.ErrOrderFinalized
	}

	if _, err := tx.Exec(ctx, expireOrderQuery, orderID, reason); err != nil {
		return false, fmt.Errorf("expire order: %w", err)
	}

	if _, err := tx.Exec(ctx, releaseNumbersQuery, orderID); err != nil {
		return false, fmt.Errorf("release numbers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	return true, nil
}

func lockOrderStatus(ctx context.Context, tx pgx.Tx, orderID int64) (model.OrderStatus, error) {
	const query = `SELECT status FROM orders WHERE id = $1 FOR UPDATE`

	var status model.OrderStatus
	err := tx.QueryRow(ctx, query, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.ErrOrderNotFound
		}
		return "", fmt.Errorf("lock order: %w", err)
	}

	return status, nil
}

// SweepExpiredReservations expires pending orders older than the cutoff and
// returns their reserved numbers to the pool. Orders with an approved payment
// are completed before the cutoff elapses, so only dead reservations match.
func (s *PostgresStorage) SweepExpiredReservations(ctx context.Context, cutoff time.Time) (int, int, error) {
	const expireOrdersQuery = `
		UPDATE orders
		SET status = 'expired', expire_reason = 'reservation timeout'
		WHERE status = 'pending' AND created_at < $1
		RETURNING id`

	const releaseNumbersQuery = `
		UPDATE ticket_numbers
		SET status = 'available', order_id = NULL, reserved_at = NULL
		WHERE order_id = ANY($1) AND status = 'reserved'`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, expireOrdersQuery, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("expire stale orders: %w", err)
	}

	var orderIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("scan stale order: %w", err)
		}
		orderIDs = append(orderIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("rows error: %w", err)
	}

	if len(orderIDs) == 0 {
		return 0, 0, nil
	}

	cmdTag, err := tx.Exec(ctx, releaseNumbersQuery, orderIDs)
	if err != nil {
		return 0, 0, fmt.Errorf("release stale numbers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}

	return len(orderIDs), int(cmdTag.RowsAffected()), nil
}
