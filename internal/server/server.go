package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/and161185/raffle/internal/config"
	"github.com/and161185/raffle/internal/deps"
	"github.com/and161185/raffle/internal/errs"
	"github.com/and161185/raffle/internal/metrics"
	"github.com/and161185/raffle/internal/middleware"
	"github.com/and161185/raffle/internal/model"
	"github.com/and161185/raffle/internal/reconcile"
	"github.com/and161185/raffle/internal/txid"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Storage interface {
	CreateRaffle(ctx context.Context, title string, pricePerTicket int64, totalNumbers int) (int64, error)
	GetOrCreateClient(ctx context.Context, client model.Client) (int64, error)
	GetOrder(ctx context.Context, id int64) (model.Order, error)
	SweepExpiredReservations(ctx context.Context, cutoff time.Time) (int, int, error)
	Ping(ctx context.Context) error
}

type Reserver interface {
	Reserve(ctx context.Context, raffleID, clientID int64, quantity int) (model.Order, error)
}

type CallbackHandler interface {
	HandleCallback(ctx context.Context, providerTxID int64, clientTxID string) reconcile.Decision
}

type Server struct {
	storage   Storage
	allocator Reserver
	callbacks CallbackHandler
	config    *config.Config
	deps      *deps.Deps
}

func NewServer(storage Storage, allocator Reserver, callbacks CallbackHandler, config *config.Config, deps *deps.Deps) *Server {
	return &Server{
		storage:   storage,
		allocator: allocator,
		callbacks: callbacks,
		config:    config,
		deps:      deps,
	}
}

func (srv *Server) buildRouter() http.Handler {
	router := chi.NewRouter()
	router.Use(chiMiddleware.StripSlashes)
	router.Use(middleware.LogMiddleware(srv.deps.Logger))
	router.Use(middleware.DecompressMiddleware)
	router.Use(middleware.CompressMiddleware(srv.deps.Logger))

	router.Get("/health", srv.HealthHandler)
	router.Handle("/metrics", promhttp.Handler())

	router.Post("/api/raffles", srv.CreateRaffleHandler)
	router.Get("/api/payments/callback", srv.PaymentCallbackHandler)
	router.Get("/api/orders/{orderID}", srv.GetOrderHandler)

	// покупатель может быть гостем, токен опционален
	router.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuthMiddleware(srv.deps.TokenManager))

		r.Post("/api/raffles/{raffleID}/orders", srv.ReserveHandler)
	})

	return router
}

func (srv *Server) Run(ctx context.Context) error {
	router := srv.buildRouter()

	server := &http.Server{
		Addr:    srv.config.RunAddress,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srv.deps.Logger.Fatalf("server error: %v", err)
		}
	}()

	go srv.ReservationSweeper(ctx)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// CreateRaffleHandler seeds a raffle: the raffle row and its full number
// pool are created in one transaction, ready for reservations.
func (s *Server) CreateRaffleHandler(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRaffleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "title required", http.StatusBadRequest)
		return
	}
	if req.PricePerTicket <= 0 || req.TotalNumbers <= 0 {
		http.Error(w, "price and total numbers must be positive", http.StatusUnprocessableEntity)
		return
	}

	raffleID, err := s.storage.CreateRaffle(r.Context(), req.Title, req.PricePerTicket, req.TotalNumbers)
	if err != nil {
		s.deps.Logger.Errorf("create raffle: %v", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	s.deps.Logger.Infow("raffle created",
		"raffle_id", raffleID,
		"total_numbers", req.TotalNumbers,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]int64{"id": raffleID}); err != nil {
		s.deps.Logger.Errorf("encode create raffle response: %v", err)
	}
}

func (s *Server) ReserveHandler(w http.ResponseWriter, r *http.Request) {
	raffleID, err := strconv.ParseInt(chi.URLParam(r, "raffleID"), 10, 64)
	if err != nil {
		http.Error(w, "bad raffle id", http.StatusBadRequest)
		return
	}

	var req model.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "email required", http.StatusBadRequest)
		return
	}

	client := model.Client{Email: req.Email, Name: req.Name, Phone: req.Phone}
	if userID, ok := middleware.UserID(r.Context()); ok {
		client.UserID = &userID
	}

	clientID, err := s.storage.GetOrCreateClient(r.Context(), client)
	if err != nil {
		s.deps.Logger.Errorf("upsert client: %v", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	start := time.Now()
	order, err := s.allocator.Reserve(r.Context(), raffleID, clientID, req.Quantity)
	if err != nil {
		metrics.RecordReserveDuration("failure", time.Since(start).Seconds())
		switch {
		case errors.Is(err, errs.ErrInvalidQuantity):
			http.Error(w, "invalid quantity", http.StatusUnprocessableEntity)
		case errors.Is(err, errs.ErrRaffleNotFound):
			http.Error(w, "raffle not found", http.StatusNotFound)
		case errors.Is(err, errs.ErrRaffleNotActive):
			http.Error(w, "raffle not active", http.StatusConflict)
		case errors.Is(err, errs.ErrCapacity):
			http.Error(w, "not enough available numbers", http.StatusConflict)
		default:
			s.deps.Logger.Errorf("reserve: %v", err)
			http.Error(w, "reserve failed", http.StatusInternalServerError)
		}
		return
	}
	metrics.RecordReserveDuration("success", time.Since(start).Seconds())

	resp := model.ReserveResponse{
		OrderID:    order.ID,
		ClientTxID: order.ClientTxID,
		Numbers:    order.Numbers,
		Total:      order.Total,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.deps.Logger.Errorf("encode reserve response: %v", err)
	}
}

func (s *Server) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		http.Error(w, "bad order id", http.StatusBadRequest)
		return
	}

	order, err := s.storage.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, errs.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		s.deps.Logger.Errorf("get order: %v", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(order); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

// PaymentCallbackHandler is the entry point for the provider's browser
// redirect. It must stay idempotent: the provider or the buyer may hit it
// any number of times.
func (s *Server) PaymentCallbackHandler(w http.ResponseWriter, r *http.Request) {
	providerTxID, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad transaction id", http.StatusBadRequest)
		return
	}

	clientTxID := r.URL.Query().Get("clientTransactionId")
	if clientTxID == "" {
		http.Error(w, "clientTransactionId required", http.StatusBadRequest)
		return
	}

	decision := s.callbacks.HandleCallback(r.Context(), providerTxID, clientTxID)
	metrics.RecordCallbackOutcome(string(decision))

	params := url.Values{}
	params.Set("status", string(decision))
	if orderID, err := txid.Parse(clientTxID); err == nil {
		params.Set("order", strconv.FormatInt(orderID, 10))
	}

	http.Redirect(w, r, s.config.ResultURL+"?"+params.Encode(), http.StatusFound)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Ping(r.Context()); err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
