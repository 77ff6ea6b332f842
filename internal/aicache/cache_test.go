package aicache

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPutGet(t *testing.T) {
	c := newTestCache(t, Options{TTL: time.Minute})

	if _, ok := c.Get("fp1"); ok {
		t.Error("Get on empty cache should miss")
	}

	c.Put("fp1", `[{"severity":"high"}]`)
	got, ok := c.Get("fp1")
	if !ok {
		t.Fatal("Get after Put should hit")
	}
	if got != `[{"severity":"high"}]` {
		t.Errorf("Get = %q", got)
	}
}

func TestRoundTripLargePayload(t *testing.T) {
	c := newTestCache(t, Options{TTL: time.Minute})

	payload := strings.Repeat("func main() { fmt.Println(\"x\") }\n", 2000)
	c.Put("big", payload)
	got, ok := c.Get("big")
	if !ok || got != payload {
		t.Error("large payload did not round-trip")
	}
}

func TestLazyExpiry(t *testing.T) {
	c := newTestCache(t, Options{TTL: 20 * time.Millisecond})

	c.Put("fp", "resp")
	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Get("fp"); ok {
		t.Error("expired entry should miss")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, expired entry should be removed on read", c.Len())
	}
}

func TestBackgroundSweep(t *testing.T) {
	c := newTestCache(t, Options{TTL: 10 * time.Millisecond, SweepInterval: 20 * time.Millisecond})

	c.Put("a", "1")
	c.Put("b", "2")

	deadline := time.Now().Add(time.Second)
	for c.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, sweep should purge expired entries", c.Len())
	}
}

func TestMaxEntriesEviction(t *testing.T) {
	c := newTestCache(t, Options{TTL: time.Minute, MaxEntries: 10})

	for i := 0; i < 25; i++ {
		c.Put(fmt.Sprintf("fp-%d", i), "resp")
	}
	if c.Len() > 10 {
		t.Errorf("Len = %d, want <= 10", c.Len())
	}
	// Most recent entry survives.
	if _, ok := c.Get("fp-24"); !ok {
		t.Error("most recent entry should not be evicted")
	}
}

func TestStats(t *testing.T) {
	c := newTestCache(t, Options{TTL: time.Minute})

	c.Put("fp", "resp")
	c.Get("fp")
	c.Get("absent")

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats = (%d, %d), want (1, 1)", hits, misses)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(t, Options{TTL: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("fp-%d", n%5)
			for j := 0; j < 50; j++ {
				c.Put(key, "resp")
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 5 {
		t.Errorf("Len = %d, want 5", c.Len())
	}
}
