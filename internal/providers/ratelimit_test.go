package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_Reserve(t *testing.T) {
	clock := time.Unix(1000, 0)
	r := NewRateLimiter(60)
	r.now = func() time.Time { return clock }
	r.refilledAt = clock

	for i := 0; i < 60; i++ {
		if d := r.reserve(); d != 0 {
			t.Fatalf("reserve %d waited %v, bucket should start full", i, d)
		}
	}
	if d := r.reserve(); d != time.Second {
		t.Errorf("empty bucket wait = %v, want 1s at 60/min", d)
	}

	clock = clock.Add(2 * time.Second)
	if d := r.reserve(); d != 0 {
		t.Errorf("after refill wait = %v, want 0", d)
	}

	t.Run("refill is capped", func(t *testing.T) {
		clock = clock.Add(time.Hour)
		r.reserve()
		if r.tokens > r.capacity {
			t.Errorf("tokens = %v, capacity %v", r.tokens, r.capacity)
		}
	})
}

func TestRateLimiter_Record429(t *testing.T) {
	clock := time.Unix(1000, 0)
	r := NewRateLimiter(600)
	r.now = func() time.Time { return clock }
	r.refilledAt = clock

	r.Record429(5 * time.Second)
	if d := r.reserve(); d != 5*time.Second {
		t.Errorf("paused wait = %v, want 5s", d)
	}

	clock = clock.Add(5 * time.Second)
	if d := r.reserve(); d != 0 {
		t.Errorf("after pause wait = %v, want 0", d)
	}
}

func TestRateLimiter_WaitCanceled(t *testing.T) {
	r := NewRateLimiter(1)
	r.Record429(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want deadline exceeded", err)
	}
}

func TestRateLimiter_DefaultRate(t *testing.T) {
	r := NewRateLimiter(0)
	if r.capacity != DefaultRequestsPerMinute {
		t.Errorf("capacity = %v, want %d", r.capacity, DefaultRequestsPerMinute)
	}
}
