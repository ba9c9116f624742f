package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterAllowAndReset(t *testing.T) {
	lim := NewMemory(2, time.Second)
	now := time.Now()

	allowed, retry, err := lim.Allow(context.Background(), "ip", now)
	if err != nil || !allowed || retry != 0 {
		t.Fatalf("expected allow on first call")
	}

	allowed, retry, err = lim.Allow(context.Background(), "ip", now)
	if err != nil || !allowed || retry != 0 {
		t.Fatalf("expected allow on second call")
	}

	allowed, retry, err = lim.Allow(context.Background(), "ip", now)
	if err != nil || allowed {
		t.Fatalf("expected rate limit on third call")
	}
	if retry <= 0 {
		t.Fatalf("expected retryAfter > 0")
	}

	allowed, _, err = lim.Allow(context.Background(), "ip", now.Add(2*time.Second))
	if err != nil || !allowed {
		t.Fatalf("expected allow after window reset")
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	lim := NewMemory(1, time.Second)
	now := time.Now()

	if allowed, _, _ := lim.Allow(context.Background(), "a", now); !allowed {
		t.Fatalf("expected allow for key a")
	}
	if allowed, _, _ := lim.Allow(context.Background(), "b", now); !allowed {
		t.Fatalf("expected allow for key b")
	}
	if allowed, _, _ := lim.Allow(context.Background(), "a", now); allowed {
		t.Fatalf("expected key a to be limited")
	}
}

func TestMemoryLimiterCleanup(t *testing.T) {
	lim := NewMemory(1, 100*time.Millisecond)
	now := time.Now()

	lim.Allow(context.Background(), "stale", now)
	lim.Allow(context.Background(), "fresh", now.Add(200*time.Millisecond))

	lim.mu.Lock()
	_, staleExists := lim.entries["stale"]
	lim.mu.Unlock()
	if staleExists {
		t.Fatalf("expected stale entry to be cleaned up")
	}
}
