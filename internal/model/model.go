package model

import "time"

type RaffleStatus string

const (
	RaffleActive RaffleStatus = "active"
	RaffleClosed RaffleStatus = "closed"
)

type TicketStatus string

const (
	TicketAvailable TicketStatus = "available"
	TicketReserved  TicketStatus = "reserved"
	TicketPaid      TicketStatus = "paid"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderExpired   OrderStatus = "expired"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentCanceled PaymentStatus = "canceled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderCompleted, OrderExpired:
		return true
	}
	return false
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentApproved, PaymentCanceled:
		return true
	}
	return false
}

// Terminal reports whether the order can no longer change state.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderExpired
}

type Raffle struct {
	ID             int64        `json:"id"`
	Title          string       `json:"title"`
	PricePerTicket int64        `json:"price_per_ticket"` // minor currency units
	TotalNumbers   int          `json:"total_numbers"`
	Status         RaffleStatus `json:"status"`
}

type Order struct {
	ID           int64       `json:"id"`
	RaffleID     int64       `json:"raffle_id"`
	ClientID     int64       `json:"client_id"`
	RequestedQty int         `json:"requested_qty"`
	BonusQty     int         `json:"bonus_qty"`
	Total        int64       `json:"total"` // minor units; bonus numbers are never priced
	Status       OrderStatus `json:"status"`
	ClientTxID   string      `json:"client_tx_id"`
	Numbers      []int       `json:"numbers,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

type Payment struct {
	ID          int64         `json:"id"`
	OrderID     int64         `json:"order_id"`
	ProviderRef string        `json:"provider_ref"`
	Amount      int64         `json:"amount"`
	Status      PaymentStatus `json:"status"`
	RawPayload  []byte        `json:"-"`
}

type Client struct {
	ID     int64  `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	UserID *int64 `json:"user_id,omitempty"` // set only for authenticated buyers
}
