package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAdmitWithinBudget(t *testing.T) {
	l := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		if err := l.Admit(); err != nil {
			t.Fatalf("Admit() #%d error = %v", i+1, err)
		}
	}
}

func TestAdmitOverBudget(t *testing.T) {
	l := New(2, time.Minute)
	_ = l.Admit()
	_ = l.Admit()

	err := l.Admit()
	if err == nil {
		t.Fatal("3rd Admit() should fail")
	}
	var rlErr *Error
	if !errors.As(err, &rlErr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if rlErr.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", rlErr.RetryAfter)
	}
	if !IsRateLimit(err) {
		t.Error("IsRateLimit should be true")
	}
}

func TestWindowReset(t *testing.T) {
	current := time.Now()
	l := New(1, time.Second)
	l.now = func() time.Time { return current }

	if err := l.Admit(); err != nil {
		t.Fatalf("first Admit() error = %v", err)
	}
	if err := l.Admit(); err == nil {
		t.Fatal("second Admit() in same window should fail")
	}

	// Advance past the window; budget is restored.
	current = current.Add(1100 * time.Millisecond)
	if err := l.Admit(); err != nil {
		t.Fatalf("Admit() after window elapsed error = %v", err)
	}
}

func TestWindowBoundaryNoDoubleCount(t *testing.T) {
	current := time.Now()
	l := New(1, time.Second)
	l.now = func() time.Time { return current }

	_ = l.Admit()
	current = current.Add(1100 * time.Millisecond)

	// Exactly at the reset boundary only one of two calls may pass.
	if err := l.Admit(); err != nil {
		t.Fatalf("Admit() at boundary error = %v", err)
	}
	if err := l.Admit(); err == nil {
		t.Fatal("second Admit() at boundary should fail")
	}
}

func TestConcurrentAdmit(t *testing.T) {
	const budget = 50
	l := New(budget, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit() == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != budget {
		t.Errorf("admitted = %d, want exactly %d", admitted, budget)
	}
}

func TestRemaining(t *testing.T) {
	l := New(5, time.Minute)
	if got := l.Remaining(); got != 5 {
		t.Errorf("Remaining() = %d, want 5", got)
	}
	_ = l.Admit()
	_ = l.Admit()
	if got := l.Remaining(); got != 3 {
		t.Errorf("Remaining() = %d, want 3", got)
	}
}

func TestDefaults(t *testing.T) {
	l := New(0, 0)
	if l.maxRequests != 1 {
		t.Errorf("maxRequests = %d, want 1", l.maxRequests)
	}
	if l.window != time.Minute {
		t.Errorf("window = %v, want 1m", l.window)
	}
}
