package model

type CreateRaffleRequest struct {
	Title          string `json:"title"`
	PricePerTicket int64  `json:"price_per_ticket"` // minor currency units
	TotalNumbers   int    `json:"total_numbers"`
}

type ReserveRequest struct {
	Quantity int    `json:"quantity"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

type ReserveResponse struct {
	OrderID    int64  `json:"order_id"`
	ClientTxID string `json:"client_tx_id"`
	Numbers    []int  `json:"numbers"`
	Total      int64  `json:"total"`
}
