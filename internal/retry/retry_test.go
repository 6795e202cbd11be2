package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")
var errTerminal = errors.New("terminal")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDefaultPolicyBudget(t *testing.T) {
	// один исходный вызов плюс три повтора
	p := DefaultPolicy()
	if len(p.Delays) != 3 {
		t.Fatalf("expected 3 retries after the first attempt, got %d", len(p.Delays))
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	for i, d := range p.Delays {
		if d != want[i] {
			t.Errorf("delay %d: expected %s, got %s", i, want[i], d)
		}
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	p := Policy{Delays: []time.Duration{time.Millisecond, time.Millisecond}}

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, isTransient)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnTerminalError(t *testing.T) {
	p := Policy{Delays: []time.Duration{time.Millisecond, time.Millisecond}}

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return errTerminal
	}, isTransient)

	if !errors.Is(err, errTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("terminal error must not be retried, got %d calls", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{Delays: []time.Duration{time.Millisecond, time.Millisecond}}

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return errTransient
	}, isTransient)

	if !errors.Is(err, errTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	p := Policy{Delays: []time.Duration{time.Hour}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, p, func(ctx context.Context) error {
		return errTransient
	}, isTransient)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
