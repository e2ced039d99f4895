package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

type flakyClient struct {
	calls  int
	errors []error // error per call, nil means success
}

func (c *flakyClient) Generate(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error) {
	idx := c.calls
	c.calls++
	if idx < len(c.errors) && c.errors[idx] != nil {
		return nil, c.errors[idx]
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func TestScheduledClientRetriesTransientOnce(t *testing.T) {
	base := &flakyClient{errors: []error{
		fmt.Errorf("429 too many requests: %w", ErrTransient),
		nil,
	}}
	sc := &ScheduledClient{Scheduler: NewSlotScheduler(1), Client: base}

	raw, err := sc.Generate(context.Background(), "p", Schema{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Errorf("raw = %s", raw)
	}
	if base.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", base.calls)
	}
	if sc.Scheduler.TotalCalls() != 2 {
		t.Errorf("TotalCalls = %d, want 2", sc.Scheduler.TotalCalls())
	}
}

func TestScheduledClientFatalIsImmediate(t *testing.T) {
	base := &flakyClient{errors: []error{
		fmt.Errorf("malformed output: %w", ErrFatal),
		nil,
	}}
	sc := &ScheduledClient{Scheduler: NewSlotScheduler(1), Client: base}

	_, err := sc.Generate(context.Background(), "p", Schema{})
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("err = %v, want ErrFatal", err)
	}
	if base.calls != 1 {
		t.Errorf("calls = %d, fatal errors must not be retried", base.calls)
	}
}

func TestScheduledClientTransientExhaustion(t *testing.T) {
	transient := fmt.Errorf("unavailable: %w", ErrTransient)
	base := &flakyClient{errors: []error{transient, transient}}
	sc := &ScheduledClient{Scheduler: NewSlotScheduler(1), Client: base}

	_, err := sc.Generate(context.Background(), "p", Schema{})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want wrapped transient", err)
	}
	if base.calls != 2 {
		t.Errorf("calls = %d, want 2", base.calls)
	}
}

func TestSlotSchedulerReleasesSlot(t *testing.T) {
	s := NewSlotScheduler(1)

	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s.Release()

	// The freed slot must be acquirable again without blocking.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	s.Release()
}

func TestSlotSchedulerAcquireHonorsCancel(t *testing.T) {
	s := NewSlotScheduler(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("blocked Acquire on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestSlotSchedulerStopUnblocks(t *testing.T) {
	s := NewSlotScheduler(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Acquire(context.Background()) }()
	s.Stop()

	if err := <-done; err == nil {
		t.Fatal("Acquire after Stop must fail")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(fmt.Errorf("wrap: %w", ErrTransient)) {
		t.Error("wrapped ErrTransient should be transient")
	}
	if IsTransient(fmt.Errorf("wrap: %w", ErrFatal)) {
		t.Error("ErrFatal should not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil should not be transient")
	}
}
