package invoker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/castwright/internal/pipeline"
)

// fakeTimer fires immediately and records every requested wait.
type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (f *fakeTimer) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type countingObserver struct {
	kinds map[string]int
}

func (o *countingObserver) Retry(kind string) { o.kinds[kind]++ }

func newTestInvoker(timer Timer, obs Observer) *Invoker {
	return New(Config{
		Policy: Policy{
			Attempts:  8,
			BaseDelay: 2 * time.Second,
			MaxJitter: 500 * time.Millisecond,
			Pacing:    500 * time.Millisecond,
		},
		Timer:    timer,
		Rand:     func() float64 { return 0 },
		Observer: obs,
	})
}

func TestBackoff(t *testing.T) {
	t.Run("doubles per retry", func(t *testing.T) {
		base := 2 * time.Second
		for n := uint(1); n <= 7; n++ {
			got := Backoff(base, 0, n, 0)
			want := base * time.Duration(1<<n)
			if got != want {
				t.Errorf("n=%d: expected %s, got %s", n, want, got)
			}
		}
	})

	t.Run("jitter stays below max", func(t *testing.T) {
		got := Backoff(time.Second, 500*time.Millisecond, 1, 0.999)
		if got < 2*time.Second || got >= 2*time.Second+500*time.Millisecond {
			t.Errorf("jittered delay out of range: %s", got)
		}
	})
}

func TestDo_SucceedsAfterThrottles(t *testing.T) {
	for k := 0; k < 8; k++ {
		timer := &fakeTimer{}
		obs := &countingObserver{kinds: map[string]int{}}
		inv := newTestInvoker(timer, obs)

		calls := 0
		got, err := Do(context.Background(), inv, "generate", func(ctx context.Context) (string, error) {
			calls++
			if calls <= k {
				return "", &pipeline.ThrottlingError{Provider: "test"}
			}
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("k=%d: unexpected error: %v", k, err)
		}
		if got != "ok" {
			t.Errorf("k=%d: expected ok, got %q", k, got)
		}
		if calls != k+1 {
			t.Errorf("k=%d: expected %d attempts, got %d", k, k+1, calls)
		}
		if obs.kinds["throttled"] != k {
			t.Errorf("k=%d: expected %d throttled retries, got %d", k, k, obs.kinds["throttled"])
		}

		// pacing before every attempt plus one backoff per retry
		if len(timer.waits) != (k+1)+k {
			t.Fatalf("k=%d: expected %d waits, got %d", k, 2*k+1, len(timer.waits))
		}
		var backoffs []time.Duration
		for _, w := range timer.waits {
			if w != 500*time.Millisecond {
				backoffs = append(backoffs, w)
			}
		}
		for i := 1; i < len(backoffs); i++ {
			if backoffs[i] < backoffs[i-1] {
				t.Errorf("k=%d: backoff decreased: %v", k, backoffs)
			}
		}
	}
}

func TestDo_Exhausted(t *testing.T) {
	timer := &fakeTimer{}
	obs := &countingObserver{kinds: map[string]int{}}
	inv := newTestInvoker(timer, obs)

	calls := 0
	_, err := Do(context.Background(), inv, "submit", func(ctx context.Context) (int, error) {
		calls++
		return 0, &pipeline.TransientProviderError{Provider: "test", StatusCode: 503, Err: errors.New("unavailable")}
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 8 || calls != 8 {
		t.Errorf("expected 8 attempts, got %d (calls=%d)", exhausted.Attempts, calls)
	}
	var transient *pipeline.TransientProviderError
	if !errors.As(err, &transient) {
		t.Error("expected last error to be preserved")
	}
	if obs.kinds["error"] != 8 {
		t.Errorf("expected 8 failed attempts observed, got %d", obs.kinds["error"])
	}
}

func TestDo_ValidationNotRetried(t *testing.T) {
	inv := newTestInvoker(&fakeTimer{}, nil)

	calls := 0
	_, err := Do(context.Background(), inv, "generate", func(ctx context.Context) (string, error) {
		calls++
		return "", &pipeline.ValidationError{Field: "messages", Reason: "empty"}
	})
	if !pipeline.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if IsExhausted(err) {
		t.Error("validation failures must not be reported as exhaustion")
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	inv := newTestInvoker(&fakeTimer{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, inv, "generate", func(ctx context.Context) (string, error) {
		calls++
		return "x", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no attempts, got %d", calls)
	}
}
