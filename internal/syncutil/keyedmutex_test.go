package syncutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutex_BasicLockUnlock(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.LockContext(context.Background(), "booking-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 live key, got %d", m.Len())
	}
	unlock()
	unlock() // second call is harmless
	if m.Len() != 0 {
		t.Fatalf("expected idle key to be dropped, got %d", m.Len())
	}
}

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	m := NewKeyedMutex()

	var counter int64
	var wg sync.WaitGroup
	const n = 100

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock := m.Lock("counter")
			defer unlock()
			// Non-atomic increment; broken exclusion would lose updates.
			v := atomic.LoadInt64(&counter)
			atomic.StoreInt64(&counter, v+1)
		}()
	}
	wg.Wait()

	if atomic.LoadInt64(&counter) != n {
		t.Fatalf("expected %d, got %d", n, atomic.LoadInt64(&counter))
	}
}

func TestKeyedMutex_DistinctKeysDoNotContend(t *testing.T) {
	m := NewKeyedMutex()

	unlockA := m.Lock("booking-a")
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockB, err := m.LockContext(ctx, "booking-b")
	if err != nil {
		t.Fatalf("distinct key blocked: %v", err)
	}
	unlockB()
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex()

	unlock := m.Lock("blocked")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.LockContext(ctx, "blocked")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	if m.Len() != 0 {
		t.Fatalf("cancelled waiter leaked an entry: %d", m.Len())
	}
}

func TestKeyedMutex_AlreadyCancelled(t *testing.T) {
	m := NewKeyedMutex()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.LockContext(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected no entries, got %d", m.Len())
	}
}
