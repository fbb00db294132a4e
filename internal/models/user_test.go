package models

import "testing"

func TestUserPassword(t *testing.T) {
	var u User
	if err := u.SetPassword("correct horse battery staple"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if u.Password == "correct horse battery staple" {
		t.Fatal("password stored in plaintext")
	}
	if !u.CheckPassword("correct horse battery staple") {
		t.Error("expected matching password to verify")
	}
	if u.CheckPassword("wrong") {
		t.Error("expected mismatched password to fail")
	}
}

func TestNormalizeEvents(t *testing.T) {
	got := NormalizeEvents([]string{"song_changed", "livestream_started", "song_changed", " ", ""})
	if got != "livestream_started,song_changed" {
		t.Errorf("NormalizeEvents = %q", got)
	}

	sub := WebhookSubscription{Events: got}
	if !sub.HandlesEvent("song_changed") || sub.HandlesEvent("queue_switched") {
		t.Errorf("HandlesEvent misbehaved for %q", got)
	}
}
