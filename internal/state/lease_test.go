package state

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLease_Acquire(t *testing.T) {
	store := NewMemoryStore()
	lease := NewLease(store, "lease:test", zerolog.Nop())
	ctx := context.Background()

	lease.attempt(ctx)
	if !lease.Held() {
		t.Fatal("expected lease acquired on free key")
	}

	// Renewal keeps ownership.
	lease.attempt(ctx)
	if !lease.Held() {
		t.Fatal("expected lease retained on renewal")
	}
}

func TestLease_SecondInstanceWaits(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := NewLease(store, "lease:test", zerolog.Nop())
	second := NewLease(store, "lease:test", zerolog.Nop())

	first.attempt(ctx)
	second.attempt(ctx)

	if !first.Held() {
		t.Fatal("expected first instance to hold the lease")
	}
	if second.Held() {
		t.Fatal("expected second instance to wait")
	}

	// Release hands the lease over on the next attempt.
	first.Stop()
	second.attempt(ctx)
	if !second.Held() {
		t.Fatal("expected second instance to take over after release")
	}
}

func TestLease_ExpiryAllowsTakeover(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := NewLease(store, "lease:test", zerolog.Nop())
	first.duration = 10 * time.Millisecond
	first.attempt(ctx)
	if !first.Held() {
		t.Fatal("expected first acquire")
	}

	time.Sleep(20 * time.Millisecond)

	second := NewLease(store, "lease:test", zerolog.Nop())
	second.attempt(ctx)
	if !second.Held() {
		t.Fatal("expected takeover after expiry")
	}
}
