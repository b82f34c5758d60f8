package platform

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_SingleSlotWindow(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{Requests: 1, Window: time.Second})

	ok, _ := limiter.Allow("default")
	if !ok {
		t.Fatal("expected first call to be allowed")
	}

	ok, wait := limiter.Allow("default")
	if ok {
		t.Fatal("expected second call within the window to be rejected")
	}
	if wait <= 0 || wait > time.Second {
		t.Errorf("expected wait in (0, 1s], got %v", wait)
	}

	time.Sleep(wait + 10*time.Millisecond)

	ok, _ = limiter.Allow("default")
	if !ok {
		t.Error("expected call after the window to be allowed")
	}
}

func TestRateLimiter_KeysPartitionBudget(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{Requests: 1, Window: time.Minute})

	if ok, _ := limiter.Allow("profile"); !ok {
		t.Fatal("expected profile budget to have a slot")
	}
	if ok, _ := limiter.Allow("profile"); ok {
		t.Fatal("expected profile budget to be exhausted")
	}
	// A different key draws from its own bucket.
	if ok, _ := limiter.Allow("content"); !ok {
		t.Error("expected content budget to be untouched")
	}
}

func TestRateLimiter_ConcurrentConsumers(t *testing.T) {
	const slots = 10
	limiter := NewRateLimiter(RateLimitConfig{Requests: slots, Window: time.Minute})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < slots*3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow("default"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != slots {
		t.Errorf("expected exactly %d allowed calls, got %d", slots, allowed)
	}
}

func TestRateLimiter_InfoOnRejection(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{Requests: 5, Window: time.Minute})

	info := limiter.Info(30 * time.Second)
	if info.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", info.Remaining)
	}
	if info.Limit != 5 {
		t.Errorf("expected limit 5, got %d", info.Limit)
	}
	if info.RetryAfter != 30*time.Second {
		t.Errorf("expected retryAfter 30s, got %v", info.RetryAfter)
	}
	if info.Reset.Before(time.Now()) {
		t.Error("expected reset in the future")
	}
}
