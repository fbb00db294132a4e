package livestream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidecast/tidecast/internal/auth"
	"github.com/tidecast/tidecast/internal/events"
	"github.com/tidecast/tidecast/internal/state"
)

var testSecret = []byte("arbiter-test-secret")

type fakeTelnet struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeTelnet) Disconnect(harborID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, harborID)
	return nil
}

func (f *fakeTelnet) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func setupArbiter(t *testing.T) (*Arbiter, *state.MemoryStore, *fakeTelnet, events.Bus) {
	t.Helper()
	store := state.NewMemoryStore()
	bus := events.NewStateBus(store, zerolog.Nop())
	telnet := &fakeTelnet{}
	arb := NewArbiter(store, bus, testSecret, telnet, "live", zerolog.Nop())
	return arb, store, telnet, bus
}

func liveToken(t *testing.T, userID string, maxSeconds int) string {
	t.Helper()
	token, err := auth.Issue(testSecret, auth.Claims{
		Type:                 auth.TokenLivestream,
		UserID:               userID,
		MaxStreamingSeconds:  maxSeconds,
		ShowName:             "test-show",
		MinRecordingDuration: 10,
	}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestAuth_RejectsBadToken(t *testing.T) {
	arb, _, _, _ := setupArbiter(t)
	ctx := context.Background()

	result, err := arb.Auth(ctx, "not-a-jwt", "10.0.0.1")
	if err != nil {
		t.Fatalf("Auth: %v", err)
	}
	if result.Accept {
		t.Fatal("expected rejection for invalid token")
	}

	userToken, _ := auth.Issue(testSecret, auth.Claims{Type: auth.TokenUser, UserID: "u1"}, time.Hour)
	result, err = arb.Auth(ctx, userToken, "10.0.0.1")
	if err != nil {
		t.Fatalf("Auth: %v", err)
	}
	if result.Accept {
		t.Fatal("expected rejection for non-livestream token")
	}
}

func TestAuth_SlotRace_SingleWinner(t *testing.T) {
	arb, _, _, _ := setupArbiter(t)
	ctx := context.Background()

	t1 := liveToken(t, "dj1", 60)
	t2 := liveToken(t, "dj2", 60)

	var wg sync.WaitGroup
	results := make([]AuthResult, 2)
	for i, token := range []string{t1, t2} {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			res, err := arb.Auth(ctx, token, "10.0.0.1")
			if err != nil {
				t.Errorf("Auth: %v", err)
				return
			}
			results[i] = res
		}(i, token)
	}
	wg.Wait()

	accepted := 0
	var winner AuthResult
	for _, res := range results {
		if res.Accept {
			accepted++
			winner = res
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accept, got %d", accepted)
	}

	// Loser retries after the winner disconnects and is accepted.
	if err := arb.Disconnect(ctx, winner.SessionID, ReasonClient); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	loser := t1
	if results[0].Accept {
		loser = t2
	}
	res, err := arb.Auth(ctx, loser, "10.0.0.2")
	if err != nil {
		t.Fatalf("retry Auth: %v", err)
	}
	if !res.Accept {
		t.Fatalf("expected loser retry to succeed, got reason %q", res.Reason)
	}
}

func TestAuth_SameUserReconnectConfirmsSession(t *testing.T) {
	arb, _, _, _ := setupArbiter(t)
	ctx := context.Background()
	token := liveToken(t, "dj1", 60)

	first, err := arb.Auth(ctx, token, "10.0.0.1")
	if err != nil || !first.Accept {
		t.Fatalf("first auth failed: %+v %v", first, err)
	}

	second, err := arb.Auth(ctx, token, "10.0.0.1")
	if err != nil || !second.Accept {
		t.Fatalf("reconnect auth failed: %+v %v", second, err)
	}
	if second.SessionID != first.SessionID {
		t.Errorf("reconnect created a new session: %s vs %s", second.SessionID, first.SessionID)
	}
}

func TestAuth_RejectsExhaustedLedger(t *testing.T) {
	arb, store, _, _ := setupArbiter(t)
	ctx := context.Background()

	_ = store.Set(ctx, ledgerKey("dj1"), "60", 0)

	res, err := arb.Auth(ctx, liveToken(t, "dj1", 60), "10.0.0.1")
	if err != nil {
		t.Fatalf("Auth: %v", err)
	}
	if res.Accept {
		t.Fatal("expected rejection for exhausted streaming time")
	}
	if !strings.Contains(res.Reason, "limit exceeded") {
		t.Errorf("unexpected reason %q", res.Reason)
	}
}

func TestConnectDisconnect_Lifecycle(t *testing.T) {
	arb, store, _, bus := setupArbiter(t)
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, events.LivestreamStarted, events.LivestreamEnded)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	res, err := arb.Auth(ctx, liveToken(t, "dj1", 3600), "10.0.0.1")
	if err != nil || !res.Accept {
		t.Fatalf("auth failed: %+v %v", res, err)
	}

	if err := arb.Connect(ctx, res.SessionID); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	env := waitEvent(t, ch)
	if env.EventType != events.LivestreamStarted {
		t.Fatalf("expected livestream_started, got %s", env.EventType)
	}
	var started events.LivestreamStartedData
	if err := env.DecodeData(&started); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if started.PrincipalID != "dj1" || started.SessionID != res.SessionID {
		t.Errorf("unexpected started payload: %+v", started)
	}
	if started.MinRecordingDuration != 10 {
		t.Errorf("expected min_recording_duration 10, got %d", started.MinRecordingDuration)
	}

	if err := arb.Disconnect(ctx, res.SessionID, ReasonClient); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	env = waitEvent(t, ch)
	if env.EventType != events.LivestreamEnded {
		t.Fatalf("expected livestream_ended, got %s", env.EventType)
	}
	var ended events.LivestreamEndedData
	_ = env.DecodeData(&ended)
	if ended.Reason != "client" || ended.SessionID != res.SessionID {
		t.Errorf("unexpected ended payload: %+v", ended)
	}

	if occupied, _ := arb.Occupied(ctx); occupied {
		t.Error("expected slot released after disconnect")
	}

	// Ledger retained with the session's elapsed time.
	if _, ok, _ := store.Get(ctx, ledgerKey("dj1")); !ok {
		t.Error("expected ledger entry after disconnect")
	}
}

func TestDisconnect_LedgerAccumulatesAcrossSessions(t *testing.T) {
	arb, _, _, _ := setupArbiter(t)
	ctx := context.Background()
	token := liveToken(t, "dj1", 3600)

	res, err := arb.Auth(ctx, token, "10.0.0.1")
	if err != nil || !res.Accept {
		t.Fatalf("auth: %+v %v", res, err)
	}

	// Backdate the connection to get a deterministic elapsed time.
	sess, _ := arb.Occupant(ctx)
	sess.ConnectedAt = time.Now().Add(-5 * time.Second)
	if err := arb.Finish(ctx, sess, ReasonClient); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	used, err := arb.accumulated(ctx, "dj1")
	if err != nil {
		t.Fatalf("accumulated: %v", err)
	}
	if used < 4 || used > 6 {
		t.Fatalf("expected ~5s accumulated, got %d", used)
	}

	// Second session adds on top.
	res2, err := arb.Auth(ctx, token, "10.0.0.1")
	if err != nil || !res2.Accept {
		t.Fatalf("second auth: %+v %v", res2, err)
	}
	sess2, _ := arb.Occupant(ctx)
	sess2.ConnectedAt = time.Now().Add(-7 * time.Second)
	if err := arb.Finish(ctx, sess2, ReasonClient); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	total, _ := arb.accumulated(ctx, "dj1")
	if total < 11 || total > 13 {
		t.Fatalf("expected ~12s accumulated, got %d", total)
	}
}

func TestFinish_ExactlyOncePerSession(t *testing.T) {
	arb, _, _, bus := setupArbiter(t)
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, events.LivestreamEnded)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	res, err := arb.Auth(ctx, liveToken(t, "dj1", 3600), "10.0.0.1")
	if err != nil || !res.Accept {
		t.Fatalf("auth: %+v %v", res, err)
	}

	sess, _ := arb.Occupant(ctx)

	// Watchdog and disconnect callback race; only one settles.
	if err := arb.Finish(ctx, sess, ReasonLimit); err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	if err := arb.Disconnect(ctx, sess.SessionID, ReasonClient); err != nil {
		t.Fatalf("second settle: %v", err)
	}

	waitEvent(t, ch)
	select {
	case env := <-ch:
		t.Fatalf("expected a single livestream_ended, got extra %s", env.EventType)
	case <-time.After(50 * time.Millisecond):
	}

	used, _ := arb.accumulated(ctx, "dj1")
	if used > 1 {
		t.Fatalf("double accounting detected: %d", used)
	}
}

func TestConnect_UnknownSessionIgnored(t *testing.T) {
	arb, _, _, bus := setupArbiter(t)
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, events.LivestreamStarted)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := arb.Connect(ctx, "no-such-session"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case env := <-ch:
		t.Fatalf("unexpected event %s for unknown session", env.EventType)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDisconnect_WithoutConnectStillEmitsEnded(t *testing.T) {
	arb, _, _, bus := setupArbiter(t)
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, events.LivestreamEnded)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := arb.Disconnect(ctx, "ghost-session", ReasonClient); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	env := waitEvent(t, ch)
	var ended events.LivestreamEndedData
	_ = env.DecodeData(&ended)
	if ended.SessionID != "ghost-session" || ended.DurationSeconds != 0 {
		t.Errorf("unexpected orphan settle payload: %+v", ended)
	}
}

func TestWatchdog_DisconnectsOverLimit(t *testing.T) {
	arb, store, telnet, bus := setupArbiter(t)
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, events.LivestreamEnded)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	res, err := arb.Auth(ctx, liveToken(t, "dj1", 5), "10.0.0.1")
	if err != nil || !res.Accept {
		t.Fatalf("auth: %+v %v", res, err)
	}

	// Backdate past the limit.
	sess, _ := arb.Occupant(ctx)
	sess.ConnectedAt = time.Now().Add(-6 * time.Second)
	raw, _ := json.Marshal(sess)
	_ = store.Set(ctx, slotKey, string(raw), time.Hour)

	lease := state.NewLease(store, "lease:watchdog", zerolog.Nop())
	wd := NewWatchdog(arb, lease, 10*time.Second, zerolog.Nop())

	// check ignores the lease; Run gates on it.
	wd.check(ctx)

	if telnet.count() != 1 {
		t.Fatalf("expected one mixer disconnect command, got %d", telnet.count())
	}

	env := waitEvent(t, ch)
	var ended events.LivestreamEndedData
	_ = env.DecodeData(&ended)
	if ended.Reason != "limit" {
		t.Errorf("expected reason limit, got %q", ended.Reason)
	}
	if ended.DurationSeconds < 5 || ended.DurationSeconds > 7 {
		t.Errorf("expected duration in [5,7], got %d", ended.DurationSeconds)
	}

	// Late client disconnect callback is absorbed silently.
	if err := arb.Disconnect(ctx, sess.SessionID, ReasonClient); err != nil {
		t.Fatalf("late disconnect: %v", err)
	}
	select {
	case env := <-ch:
		t.Fatalf("expected no second ended event, got %s", env.EventType)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchdog_UnderLimitLeavesSessionAlone(t *testing.T) {
	arb, store, telnet, _ := setupArbiter(t)
	ctx := context.Background()

	res, err := arb.Auth(ctx, liveToken(t, "dj1", 3600), "10.0.0.1")
	if err != nil || !res.Accept {
		t.Fatalf("auth: %+v %v", res, err)
	}

	lease := state.NewLease(store, "lease:watchdog", zerolog.Nop())
	wd := NewWatchdog(arb, lease, 10*time.Second, zerolog.Nop())

	// check ignores the lease; Run gates on it.
	wd.check(ctx)

	if telnet.count() != 0 {
		t.Fatalf("expected no disconnect command, got %d", telnet.count())
	}
	if occupied, _ := arb.Occupied(ctx); !occupied {
		t.Fatal("expected session to keep the slot")
	}
}

func waitEvent(t *testing.T, ch <-chan events.Envelope) events.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return events.Envelope{}
	}
}
