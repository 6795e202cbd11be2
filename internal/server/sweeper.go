package server

import (
	"context"
	"time"

	"github.com/and161185/raffle/internal/metrics"
)

// ReservationSweeper periodically returns timed-out reservations to the
// pool. Without it, orders that never saw a payment callback would hold
// their numbers forever and leak raffle capacity.
func (srv *Server) ReservationSweeper(ctx context.Context) {
	ticker := time.NewTicker(srv.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.sweepOnce(ctx)
		}
	}
}

func (srv *Server) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-srv.config.ReserveTTL)

	ordersExpired, ticketsReleased, err := srv.storage.SweepExpiredReservations(ctx, cutoff)
	if err != nil {
		srv.deps.Logger.Errorf("reservation sweep: %v", err)
		return
	}

	if ordersExpired == 0 {
		return
	}

	metrics.RecordSweptTickets(ticketsReleased)
	srv.deps.Logger.Infow("reservation sweep",
		"orders_expired", ordersExpired,
		"tickets_released", ticketsReleased,
	)
}
