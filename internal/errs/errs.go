package errs

import "errors"

var ErrRaffleNotFound = errors.New("raffle not found")
var ErrRaffleNotActive = errors.New("raffle not active")
var ErrInvalidQuantity = errors.New("invalid quantity")
var ErrCapacity = errors.New("not enough available numbers")
var ErrOrderNotFound = errors.New("order not found")
var ErrPaymentNotFound = errors.New("payment not found")
var ErrOrderFinalized = errors.New("order already in terminal state")
var ErrAmountMismatch = errors.New("confirmed amount does not match order total")
var ErrIdempotencyConflict = errors.New("provider reference bound to another order")
var ErrGatewayRejected = errors.New("gateway rejected transaction")
var ErrGatewayUnavailable = errors.New("gateway unavailable")
var ErrBadCorrelationID = errors.New("malformed client transaction id")
var ErrInvalidToken = errors.New("invalid token")
