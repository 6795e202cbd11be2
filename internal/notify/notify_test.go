package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendConfirmation(t *testing.T) {
	var gotOrderID int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OrderID int64 `json:"order_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		gotOrderID = body.OrderID
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	d := NewDispatcher(ts.URL)
	if err := d.SendConfirmation(context.Background(), 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotOrderID != 42 {
		t.Errorf("expected order 42, got %d", gotOrderID)
	}
}

func TestSendConfirmationServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	d := NewDispatcher(ts.URL)
	if err := d.SendConfirmation(context.Background(), 42); err == nil {
		t.Fatal("expected error on 5xx")
	}
}

func TestSendConfirmationUnconfigured(t *testing.T) {
	d := NewDispatcher("")
	if err := d.SendConfirmation(context.Background(), 42); err != nil {
		t.Fatalf("unconfigured dispatcher must be a no-op, got %v", err)
	}
}
