package state

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_SetNXSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan int, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := store.SetNX(ctx, "slot", "holder", time.Minute)
			if err != nil {
				t.Errorf("SetNX: %v", err)
				return
			}
			if ok {
				wins <- n
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("expected key to exist before expiry")
	}

	time.Sleep(20 * time.Millisecond)

	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expected key to expire")
	}

	// An expired key is absent for SetNX.
	if ok, _ := store.SetNX(ctx, "k", "v2", 0); !ok {
		t.Fatal("expected SetNX to claim expired key")
	}
}

func TestMemoryStore_IncrBoundedPair(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// boundA=2 queued, boundB=3 lifetime.
	for i := 0; i < 2; i++ {
		res, err := store.IncrBoundedPair(ctx, "queued", "lifetime", 2, 3, 0)
		if err != nil || res != BoundedOK {
			t.Fatalf("increment %d: res=%v err=%v", i, res, err)
		}
	}

	res, _ := store.IncrBoundedPair(ctx, "queued", "lifetime", 2, 3, 0)
	if res != BoundedLimitA {
		t.Fatalf("expected queue bound to block, got %v", res)
	}

	// Delete one queued song, admit one more; lifetime hits its bound.
	if _, err := store.IncrBy(ctx, "queued", -1); err != nil {
		t.Fatalf("IncrBy: %v", err)
	}
	res, _ = store.IncrBoundedPair(ctx, "queued", "lifetime", 2, 3, 0)
	if res != BoundedOK {
		t.Fatalf("expected admission after delete, got %v", res)
	}

	res, _ = store.IncrBoundedPair(ctx, "queued", "lifetime", 2, 3, 0)
	if res != BoundedLimitB {
		t.Fatalf("expected lifetime bound to block, got %v", res)
	}
}

func TestMemoryStore_IncrBoundedPairConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const racers = 64
	const boundA, boundB = 5, 9

	var wg sync.WaitGroup
	admitted := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.IncrBoundedPair(ctx, "a", "b", boundA, boundB, 0)
			if err == nil && res == BoundedOK {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != boundA {
		t.Fatalf("expected exactly %d admissions, got %d", boundA, count)
	}

	queued, _, _ := store.Get(ctx, "a")
	if queued != "5" {
		t.Errorf("expected counter a at 5, got %q", queued)
	}
}

func TestMemoryStore_CompareAndDel(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, "lease", "owner-1", 0)

	if ok, _ := store.CompareAndDel(ctx, "lease", "owner-2"); ok {
		t.Fatal("expected mismatch to refuse deletion")
	}
	if ok, _ := store.CompareAndDel(ctx, "lease", "owner-1"); !ok {
		t.Fatal("expected owner to delete")
	}
	if _, ok, _ := store.Get(ctx, "lease"); ok {
		t.Fatal("expected key gone")
	}
}

func TestMemoryStore_ListPrependBounded(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		entry := string(rune('a' + i))
		if err := store.ListPrepend(ctx, "log", entry, 3, time.Hour); err != nil {
			t.Fatalf("ListPrepend: %v", err)
		}
	}

	items, err := store.ListRange(ctx, "log", 0, -1)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected list trimmed to 3, got %d", len(items))
	}
	if items[0] != "j" || items[2] != "h" {
		t.Errorf("unexpected list order: %v", items)
	}
}

func TestMemoryStore_PubSub(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, "events:test")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := store.Publish(ctx, "events:test", "hello"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := store.Publish(ctx, "events:other", "ignored"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if msg.Payload != "hello" || msg.Channel != "events:test" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected second message: %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Publishes after close are lost, not delivered.
	if err := store.Publish(ctx, "events:test", "late"); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
}
