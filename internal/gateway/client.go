// Package gateway talks to the external payment provider. The provider
// issues a provisional redirect and auto-reverses the charge unless the
// platform confirms the transaction within its reversal window, so Confirm
// is called before anything is written locally.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/and161185/raffle/internal/errs"
	"github.com/and161185/raffle/internal/retry"
)

const (
	StatusCodeCanceled = 2
	StatusCodeApproved = 3

	StatusApproved = "Approved"
	StatusCanceled = "Canceled"
)

// Result is the provider's view of one transaction.
type Result struct {
	StatusCode          int    `json:"statusCode"`
	TransactionStatus   string `json:"transactionStatus"`
	Amount              int64  `json:"amount"` // minor currency units
	TransactionID       int64  `json:"transactionId"`
	ClientTransactionID string `json:"clientTransactionId"`
	Raw                 []byte `json:"-"`
}

// Approved requires the numeric code and the label to agree: a single
// corrupted field must never be enough to mark an order paid.
func (r Result) Approved() bool {
	return r.StatusCode == StatusCodeApproved && r.TransactionStatus == StatusApproved
}

func (r Result) Canceled() bool {
	return r.StatusCode == StatusCodeCanceled || r.TransactionStatus == StatusCanceled
}

var errTransient = errors.New("transient gateway error")

type Client struct {
	address        string
	token          string
	httpClient     *http.Client
	policy         retry.Policy
	attemptTimeout time.Duration
}

func NewClient(address, token string) *Client {
	return &Client{
		address:        address,
		token:          token,
		httpClient:     &http.Client{},
		policy:         retry.DefaultPolicy(),
		attemptTimeout: 10 * time.Second,
	}
}

// Confirm performs the provider confirmation call. Transport failures and
// busy/5xx responses are retried with backoff; a 4xx is a terminal
// ErrGatewayRejected. Exhausted retries surface as ErrGatewayUnavailable,
// which the caller must treat as "unknown", never as "payment failed".
func (c *Client) Confirm(ctx context.Context, transactionID int64, clientTxID string) (Result, error) {
	var result Result

	op := func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()

		res, err := c.confirmOnce(attemptCtx, transactionID, clientTxID)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	err := retry.Do(ctx, c.policy, op, func(err error) bool {
		return errors.Is(err, errTransient)
	})
	if err != nil {
		if errors.Is(err, errs.ErrGatewayRejected) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %v", errs.ErrGatewayUnavailable, err)
	}

	return result, nil
}

func (c *Client) confirmOnce(ctx context.Context, transactionID int64, clientTxID string) (Result, error) {
	payload, err := json.Marshal(struct {
		ID         int64  `json:"id"`
		ClientTxID string `json:"clientTxId"`
	}{ID: transactionID, ClientTxID: clientTxID})
	if err != nil {
		return Result{}, fmt.Errorf("marshal confirm request: %w", err)
	}

	url := c.address + "/api/transactions/confirm"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: send request: %v", errTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var buf bytes.Buffer
		var result Result
		if err := json.NewDecoder(io.TeeReader(resp.Body, &buf)).Decode(&result); err != nil {
			return Result{}, fmt.Errorf("decode response: %w", err)
		}
		if result.ClientTransactionID != "" && result.ClientTransactionID != clientTxID {
			return Result{}, fmt.Errorf("gateway echoed foreign client tx id %q", result.ClientTransactionID)
		}
		result.Raw = buf.Bytes()
		return result, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return Result{}, fmt.Errorf("%w: status code %d", errTransient, resp.StatusCode)

	default:
		return Result{}, fmt.Errorf("%w: status code %d", errs.ErrGatewayRejected, resp.StatusCode)
	}
}
