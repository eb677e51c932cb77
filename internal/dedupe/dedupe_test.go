package dedupe

import (
	"context"
	"fmt"
	"syscall"
	"testing"
	"time"
)

// uniqueKey makes keys unique per run so reruns against a shared backend do
// not collide with markers left by earlier runs.
func uniqueKey(base string) string {
	return fmt.Sprintf("%s-%d", base, time.Now().UnixNano())
}

// guardUnderTest runs the contract tests against any Guard implementation.
func guardUnderTest(t *testing.T, g Guard) {
	ctx := context.Background()

	t.Run("success path marks duplicate", func(t *testing.T) {
		key := uniqueKey("msg-success")
		acquired, err := g.MarkProcessing(ctx, key, DefaultLockTTL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !acquired {
			t.Fatal("expected to acquire fresh lock")
		}
		if err := g.MarkProcessed(ctx, key, DefaultProcessedTTL); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		dup, err := g.IsDuplicate(ctx, key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !dup {
			t.Error("processed key must be a duplicate")
		}
	})

	t.Run("unmark releases lock", func(t *testing.T) {
		key := uniqueKey("msg-retry")
		if _, err := g.MarkProcessing(ctx, key, DefaultLockTTL); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := g.UnmarkProcessing(ctx, key); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		dup, err := g.IsDuplicate(ctx, key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dup {
			t.Error("unmarked key must not be a duplicate")
		}
		// The retry can now take the lock again.
		acquired, err := g.MarkProcessing(ctx, key, DefaultLockTTL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !acquired {
			t.Error("retry must be able to reacquire the lock")
		}
	})

	t.Run("concurrent delivery blocked while locked", func(t *testing.T) {
		key := uniqueKey("msg-concurrent")
		if _, err := g.MarkProcessing(ctx, key, DefaultLockTTL); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		acquired, err := g.MarkProcessing(ctx, key, DefaultLockTTL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if acquired {
			t.Error("second delivery must not acquire a held lock")
		}
		dup, err := g.IsDuplicate(ctx, key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !dup {
			t.Error("locked key must be reported as duplicate")
		}
	})

	t.Run("unmark does not remove processed marker", func(t *testing.T) {
		key := uniqueKey("msg-done")
		if _, err := g.MarkProcessing(ctx, key, DefaultLockTTL); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := g.MarkProcessed(ctx, key, DefaultProcessedTTL); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := g.UnmarkProcessing(ctx, key); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		dup, err := g.IsDuplicate(ctx, key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !dup {
			t.Error("processed marker must survive UnmarkProcessing")
		}
	})
}

func TestMemoryGuardContract(t *testing.T) {
	guardUnderTest(t, NewMemoryGuard())
}

func TestMemoryGuardExpiry(t *testing.T) {
	g := NewMemoryGuard()
	current := time.Now()
	g.now = func() time.Time { return current }

	ctx := context.Background()
	if _, err := g.MarkProcessing(ctx, "msg-expire", 10*time.Second); err != nil {
		t.Fatal(err)
	}
	current = current.Add(11 * time.Second)
	dup, err := g.IsDuplicate(ctx, "msg-expire")
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("expired lock must not report duplicate")
	}
}

func TestRedisGuardContract(t *testing.T) {
	// Requires a running Redis instance; set REDIS_ADDR to enable.
	addr := ""
	if v, ok := syscall.Getenv("REDIS_ADDR"); ok {
		addr = v
	}
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	g, err := NewRedisGuard(context.Background(), WithAddr(addr), WithKeyPrefix("convogate:test:dedupe:"))
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer g.Close()
	guardUnderTest(t, g)
}
