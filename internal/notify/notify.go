// Package notify hands completed orders to the external notification
// service. The hand-off is fire-and-forget: delivery problems are the
// caller's to log, never to propagate into the payment pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Dispatcher struct {
	address    string
	httpClient *http.Client
}

func NewDispatcher(address string) *Dispatcher {
	return &Dispatcher{
		address:    address,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (d *Dispatcher) SendConfirmation(ctx context.Context, orderID int64) error {
	if d.address == "" {
		return nil
	}

	payload, err := json.Marshal(struct {
		OrderID int64 `json:"order_id"`
	}{OrderID: orderID})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	url := d.address + "/api/notifications/confirmation"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}
