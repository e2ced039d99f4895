package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"codeatlas/internal/logging"
)

// SlotScheduler caps concurrent LLM calls with a channel semaphore. Callers
// acquire a slot per call and release it immediately after, so many analysis
// tasks can be in flight while only a bounded number hold the API.
type SlotScheduler struct {
	slots      chan struct{}
	maxSlots   int
	totalCalls int64
	stopCh     chan struct{}
}

// NewSlotScheduler creates a scheduler with the given slot count.
func NewSlotScheduler(maxSlots int) *SlotScheduler {
	if maxSlots < 1 {
		maxSlots = 1
	}
	return &SlotScheduler{
		slots:    make(chan struct{}, maxSlots),
		maxSlots: maxSlots,
		stopCh:   make(chan struct{}),
	}
}

// Acquire blocks until a slot is available or the context is cancelled.
func (s *SlotScheduler) Acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case s.slots <- struct{}{}:
		if wait := time.Since(start); wait > 100*time.Millisecond {
			logging.APIDebug("Slot acquired after %v", wait)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return fmt.Errorf("slot scheduler stopped")
	}
}

// Release returns a slot.
func (s *SlotScheduler) Release() {
	select {
	case <-s.slots:
		atomic.AddInt64(&s.totalCalls, 1)
	default:
		logging.Get(logging.CategoryAPI).Error("Slot released without acquire")
	}
}

// TotalCalls returns the number of completed scheduled calls.
func (s *SlotScheduler) TotalCalls() int64 {
	return atomic.LoadInt64(&s.totalCalls)
}

// Stop shuts down the scheduler; blocked Acquire calls return an error.
func (s *SlotScheduler) Stop() {
	close(s.stopCh)
}

// ScheduledClient wraps a Client with slot acquisition and a single transient
// retry with backoff. Implements Client so it can be injected transparently.
type ScheduledClient struct {
	Scheduler *SlotScheduler
	Client    Client
}

var _ Client = (*ScheduledClient)(nil)

// Generate acquires a slot, makes the call, and releases the slot. A
// transient failure is retried once after a short backoff; fatal failures
// surface immediately.
func (c *ScheduledClient) Generate(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.Scheduler.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("failed to acquire API slot: %w", err)
		}
		result, err := c.Client.Generate(ctx, prompt, schema)
		c.Scheduler.Release()

		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
			logging.APIDebug("Retrying after transient error: %v", err)
		}
	}
	return nil, fmt.Errorf("retry exhausted: %w", lastErr)
}
