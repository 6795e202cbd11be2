// Package txid is the correlation-id scheme for gateway transactions.
// The id is chosen once at reservation time, carries the order id verbatim
// and is opaque to everything else: an order id is only ever recovered by
// parsing, never by scanning recent records.
package txid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/and161185/raffle/internal/errs"
	"github.com/google/uuid"
)

const version = "v1"

// Encode builds a client transaction id like "v1-42-9f86d081".
func Encode(orderID int64) string {
	nonce := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s-%d-%s", version, orderID, nonce)
}

// Parse extracts the order id. Anything that is not exactly
// version-orderID-nonce is rejected.
func Parse(clientTxID string) (int64, error) {
	parts := strings.Split(clientTxID, "-")
	if len(parts) != 3 || parts[0] != version || parts[2] == "" {
		return 0, errs.ErrBadCorrelationID
	}

	orderID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || orderID <= 0 {
		return 0, errs.ErrBadCorrelationID
	}

	return orderID, nil
}
