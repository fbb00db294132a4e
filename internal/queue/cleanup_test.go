package queue

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tidecast/tidecast/internal/events"
	"github.com/tidecast/tidecast/internal/mixer"
)

func songChangedEnvelope(t *testing.T, songID, playlist string) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(events.SongChanged, "change", events.SongChangedData{
		SongID:   songID,
		Playlist: playlist,
		Source:   playlist,
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func queueSwitchedEnvelope(t *testing.T, from, to string) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(events.QueueSwitched, "switch", events.QueueSwitchedData{
		From: from,
		To:   to,
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

// consume simulates the mixer finishing a song: it leaves the queue.
func consume(t *testing.T, user *fakeQueue, songID string) {
	t.Helper()
	id, kind, err := mixer.ParseSongID(songID)
	if err != nil || kind != mixer.SourceUser {
		t.Fatalf("bad user song id %q", songID)
	}
	if err := user.DeleteID(context.Background(), id); err != nil {
		t.Fatalf("consume %s: %v", songID, err)
	}
}

func TestJanitor_ReapsPlayedUserSong(t *testing.T) {
	svc, user, _, store := setupService(t)
	ctx := context.Background()
	principal := userPrincipal(5, 10)

	idA, err := svc.AddUserSong(ctx, principal, AddRequest{URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("add A: %v", err)
	}
	idB, err := svc.AddUserSong(ctx, principal, AddRequest{URL: "https://example.com/b"})
	if err != nil {
		t.Fatalf("add B: %v", err)
	}

	pathA, ok, _ := store.Get(ctx, songFileKey(idA))
	if !ok {
		t.Fatal("expected tracked file for A")
	}

	janitor := NewJanitor(svc, events.NewStateBus(store, zerolog.Nop()), zerolog.Nop())

	// A is playing; then the mixer consumes it and moves on to B.
	janitor.handle(ctx, songChangedEnvelope(t, idA, "user"))
	consume(t, user, idA)
	janitor.handle(ctx, songChangedEnvelope(t, idB, "user"))

	if _, err := os.Stat(pathA); !os.IsNotExist(err) {
		t.Error("expected A's file to be removed after playback")
	}

	queued, lifetime, _ := svc.QuotaState(ctx, principal.ID)
	if queued != 1 {
		t.Errorf("expected queued count 1 after cleanup, got %d", queued)
	}
	if lifetime != 2 {
		t.Errorf("lifetime counter must not change on cleanup, got %d", lifetime)
	}

	if _, ok, _ := store.Get(ctx, songOwnerKey(idA)); ok {
		t.Error("expected A's tracking keys removed")
	}
}

func TestJanitor_DoesNotReapSongStillQueued(t *testing.T) {
	svc, _, _, store := setupService(t)
	ctx := context.Background()
	principal := userPrincipal(2, 10)

	idA, err := svc.AddUserSong(ctx, principal, AddRequest{URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("add A: %v", err)
	}
	idB, err := svc.AddUserSong(ctx, principal, AddRequest{URL: "https://example.com/b"})
	if err != nil {
		t.Fatalf("add B: %v", err)
	}

	janitor := NewJanitor(svc, events.NewStateBus(store, zerolog.Nop()), zerolog.Nop())

	// Both songs still sit in the queue: a transition event alone must
	// not reap A, or the queue bound would be silently widened.
	janitor.handle(ctx, songChangedEnvelope(t, idA, "user"))
	janitor.handle(ctx, songChangedEnvelope(t, idB, "user"))

	pathA, ok, _ := store.Get(ctx, songFileKey(idA))
	if !ok {
		t.Fatal("expected A's tracking to survive")
	}
	if _, err := os.Stat(pathA); err != nil {
		t.Errorf("expected A's file to survive: %v", err)
	}

	queued, _, _ := svc.QuotaState(ctx, principal.ID)
	if queued != 2 {
		t.Errorf("expected queued count to stay 2, got %d", queued)
	}

	// The freed slot must not admit a third song.
	if _, err := svc.AddUserSong(ctx, principal, AddRequest{URL: "https://example.com/c"}); err == nil {
		t.Fatal("expected third add to be rejected at the queue bound")
	}
}

func TestJanitor_ReapsFinalSongOnSwitchAway(t *testing.T) {
	svc, user, _, store := setupService(t)
	ctx := context.Background()
	principal := userPrincipal(5, 10)

	idA, err := svc.AddUserSong(ctx, principal, AddRequest{URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("add A: %v", err)
	}
	pathA, _, _ := store.Get(ctx, songFileKey(idA))

	janitor := NewJanitor(svc, events.NewStateBus(store, zerolog.Nop()), zerolog.Nop())

	// A plays, the queue drains, playback falls back: no further user
	// song_changed will ever arrive for A.
	janitor.handle(ctx, songChangedEnvelope(t, idA, "user"))
	consume(t, user, idA)
	janitor.handle(ctx, queueSwitchedEnvelope(t, "user", "fallback"))

	if _, err := os.Stat(pathA); !os.IsNotExist(err) {
		t.Error("expected final song's file to be removed")
	}

	queued, _, _ := svc.QuotaState(ctx, principal.ID)
	if queued != 0 {
		t.Errorf("expected queued count 0 after queue drained, got %d", queued)
	}

	if janitor.lastUserSongID != "" {
		t.Errorf("expected tracking reset after switch away, got %q", janitor.lastUserSongID)
	}

	// A later switch without user playback in between is a no-op.
	janitor.handle(ctx, queueSwitchedEnvelope(t, "user", "fallback"))
}

func TestJanitor_SwitchFromOtherSourcesIgnored(t *testing.T) {
	svc, _, _, store := setupService(t)
	ctx := context.Background()
	principal := userPrincipal(5, 10)

	idA, err := svc.AddUserSong(ctx, principal, AddRequest{URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("add A: %v", err)
	}

	janitor := NewJanitor(svc, events.NewStateBus(store, zerolog.Nop()), zerolog.Nop())
	janitor.handle(ctx, songChangedEnvelope(t, idA, "user"))

	// A livestream preempting the fallback says nothing about the user
	// queue.
	janitor.handle(ctx, queueSwitchedEnvelope(t, "fallback", "livestream"))

	if janitor.lastUserSongID != idA {
		t.Errorf("expected user tracking retained, got %q", janitor.lastUserSongID)
	}
	queued, _, _ := svc.QuotaState(ctx, principal.ID)
	if queued != 1 {
		t.Errorf("expected queued count unchanged, got %d", queued)
	}
}

func TestJanitor_IgnoresFallbackSongs(t *testing.T) {
	svc, _, _, store := setupService(t)
	ctx := context.Background()

	janitor := NewJanitor(svc, events.NewStateBus(store, zerolog.Nop()), zerolog.Nop())

	// Fallback transitions never trigger cleanup.
	janitor.handle(ctx, songChangedEnvelope(t, "f-1", "fallback"))
	janitor.handle(ctx, songChangedEnvelope(t, "f-2", "fallback"))

	if janitor.lastUserSongID != "" {
		t.Errorf("fallback events must not advance user tracking, got %q", janitor.lastUserSongID)
	}
}

func TestJanitor_MissingFileTolerated(t *testing.T) {
	svc, user, _, store := setupService(t)
	ctx := context.Background()
	principal := userPrincipal(5, 10)

	idA, err := svc.AddUserSong(ctx, principal, AddRequest{URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("add A: %v", err)
	}

	// The file vanished already (raced with something else).
	pathA, _, _ := store.Get(ctx, songFileKey(idA))
	_ = os.Remove(pathA)

	janitor := NewJanitor(svc, events.NewStateBus(store, zerolog.Nop()), zerolog.Nop())
	janitor.handle(ctx, songChangedEnvelope(t, idA, "user"))
	consume(t, user, idA)
	janitor.handle(ctx, songChangedEnvelope(t, "u-99", "user"))

	queued, _, _ := svc.QuotaState(ctx, principal.ID)
	if queued != 0 {
		t.Errorf("expected cleanup to proceed despite missing file, queued=%d", queued)
	}
}
