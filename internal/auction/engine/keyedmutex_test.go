package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := km.Acquire(context.Background(), "auction1")
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("Expected at most 1 holder at a time, saw %d", maxInside)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := newKeyedMutex()

	release1, err := km.Acquire(context.Background(), "auction1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release1()

	// A different auction must not block.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	release2, err := km.Acquire(ctx, "auction2")
	if err != nil {
		t.Fatalf("Acquire on independent key blocked: %v", err)
	}
	release2()
}

func TestKeyedMutexAcquireTimeout(t *testing.T) {
	km := newKeyedMutex()

	release, err := km.Acquire(context.Background(), "auction1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := km.Acquire(ctx, "auction1"); err == nil {
		t.Fatal("Expected second Acquire to time out")
	}

	release()

	// After release the section is free again.
	release2, err := km.Acquire(context.Background(), "auction1")
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	release2()

	// All entries released; the map must not leak.
	km.mu.Lock()
	remaining := len(km.entries)
	km.mu.Unlock()
	if remaining != 0 {
		t.Errorf("Expected no leftover lock entries, got %d", remaining)
	}
}
