/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package livestream arbitrates the single live-broadcast slot:
// first-come-first-served admission, cumulative time accounting across
// reconnects, and forced disconnect when the limit is reached.
package livestream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tidecast/tidecast/internal/auth"
	"github.com/tidecast/tidecast/internal/events"
	"github.com/tidecast/tidecast/internal/state"
)

const (
	slotKey       = "slot"
	slotHolderKey = "slot:holder"

	// The slot reservation expires quickly unless the mixer confirms the
	// connection; a confirmed session gets the long TTL.
	reserveTTL   = 120 * time.Second
	connectedTTL = 1 * time.Hour

	// Time ledgers are retained for 30 days after last update.
	ledgerTTL = 30 * 24 * time.Hour
)

// DisconnectReason tags why a session ended.
type DisconnectReason string

const (
	ReasonClient DisconnectReason = "client"
	ReasonLimit  DisconnectReason = "limit"
	ReasonAdmin  DisconnectReason = "admin"
)

// Session is the slot payload while occupied.
type Session struct {
	PrincipalID          string    `json:"user_id"`
	SessionID            string    `json:"session_id"`
	ConnectedAt          time.Time `json:"connected_at"`
	MaxStreamingSeconds  int       `json:"max_streaming_seconds"`
	ShowName             string    `json:"show_name,omitempty"`
	MinRecordingDuration int       `json:"min_recording_duration"`
	Address              string    `json:"address,omitempty"`
}

// AuthResult is the binary accept/reject answer for the mixer.
type AuthResult struct {
	Accept               bool   `json:"accept"`
	Reason               string `json:"reason,omitempty"`
	SessionID            string `json:"session_id,omitempty"`
	ShowName             string `json:"show_name,omitempty"`
	MinRecordingDuration int    `json:"min_recording_duration,omitempty"`
}

// Disconnector issues the forced-disconnect command on the mixer's
// control channel.
type Disconnector interface {
	Disconnect(harborID string) error
}

// Arbiter owns the livestream slot and the time ledgers.
type Arbiter struct {
	store     state.Store
	bus       events.Bus
	jwtSecret []byte
	control   Disconnector
	harborID  string
	logger    zerolog.Logger
}

// NewArbiter creates the arbiter.
func NewArbiter(store state.Store, bus events.Bus, jwtSecret []byte, control Disconnector, harborID string, logger zerolog.Logger) *Arbiter {
	return &Arbiter{
		store:     store,
		bus:       bus,
		jwtSecret: jwtSecret,
		control:   control,
		harborID:  harborID,
		logger:    logger.With().Str("component", "livestream").Logger(),
	}
}

func ledgerKey(principalID string) string { return "ledger:" + principalID }
func doneKey(sessionID string) string     { return "session:" + sessionID + ":done" }

// Auth validates a livestream credential and atomically reserves the
// slot. Two concurrent calls never both succeed.
func (a *Arbiter) Auth(ctx context.Context, token, address string) (AuthResult, error) {
	claims, err := auth.Parse(a.jwtSecret, token)
	if err != nil {
		return AuthResult{Reason: "invalid or expired token"}, nil
	}
	if claims.Type != auth.TokenLivestream {
		return AuthResult{Reason: "not a livestream token"}, nil
	}

	used, err := a.accumulated(ctx, claims.UserID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("read time ledger: %w", err)
	}
	if used >= int64(claims.MaxStreamingSeconds) {
		return AuthResult{Reason: fmt.Sprintf("streaming time limit exceeded (%d/%ds)",
			used, claims.MaxStreamingSeconds)}, nil
	}

	sess := Session{
		PrincipalID:          claims.UserID,
		SessionID:            uuid.NewString(),
		ConnectedAt:          time.Now().UTC(),
		MaxStreamingSeconds:  claims.MaxStreamingSeconds,
		ShowName:             claims.ShowName,
		MinRecordingDuration: claims.MinRecordingDuration,
		Address:              address,
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return AuthResult{}, err
	}

	reserved, err := a.store.SetNX(ctx, slotKey, string(payload), reserveTTL)
	if err != nil {
		return AuthResult{}, fmt.Errorf("reserve slot: %w", err)
	}

	if !reserved {
		existing, err := a.Occupant(ctx)
		if err != nil {
			return AuthResult{}, err
		}
		if existing != nil && existing.PrincipalID == claims.UserID {
			// Reconnect from the slot holder confirms the existing session.
			return AuthResult{
				Accept:               true,
				SessionID:            existing.SessionID,
				ShowName:             existing.ShowName,
				MinRecordingDuration: existing.MinRecordingDuration,
			}, nil
		}
		return AuthResult{Reason: "streaming slot is already occupied"}, nil
	}

	_ = a.store.Set(ctx, slotHolderKey, claims.UserID, reserveTTL)

	a.logger.Info().
		Str("principal", claims.UserID).
		Str("session_id", sess.SessionID).
		Str("show", claims.ShowName).
		Str("address", address).
		Msg("livestream slot reserved")

	return AuthResult{
		Accept:               true,
		SessionID:            sess.SessionID,
		ShowName:             sess.ShowName,
		MinRecordingDuration: sess.MinRecordingDuration,
	}, nil
}

// Connect confirms the session is live. A connect for a session the
// slot does not hold is ignored; repeated connects are idempotent.
func (a *Arbiter) Connect(ctx context.Context, sessionID string) error {
	sess, err := a.Occupant(ctx)
	if err != nil {
		return err
	}
	if sess == nil || sess.SessionID != sessionID {
		a.logger.Warn().Str("session_id", sessionID).Msg("connect for unknown session ignored")
		return nil
	}

	_ = a.store.Expire(ctx, slotKey, connectedTTL)
	_ = a.store.Expire(ctx, slotHolderKey, connectedTTL)

	description := "A livestream was started"
	if err := a.bus.Publish(ctx, events.LivestreamStarted, description, events.LivestreamStartedData{
		PrincipalID:          sess.PrincipalID,
		SessionID:            sess.SessionID,
		ShowName:             sess.ShowName,
		MinRecordingDuration: sess.MinRecordingDuration,
	}); err != nil {
		a.logger.Error().Err(err).Msg("failed to publish livestream_started")
	}

	a.logger.Info().
		Str("principal", sess.PrincipalID).
		Str("session_id", sess.SessionID).
		Msg("livestream connected")
	return nil
}

// Disconnect settles the session: slot release, ledger accounting, and
// the livestream_ended event, each exactly once per session_id.
func (a *Arbiter) Disconnect(ctx context.Context, sessionID string, reason DisconnectReason) error {
	sess, err := a.Occupant(ctx)
	if err != nil {
		return err
	}

	if sess == nil || sess.SessionID != sessionID {
		// Slot already released (watchdog beat the callback, or a process
		// restart straddled the session). Emit the terminal event only if
		// this session was never settled; the ledger is not touched.
		return a.finishOrphan(ctx, sessionID, reason)
	}

	return a.Finish(ctx, sess, reason)
}

// Finish performs the once-per-session settlement for a known session.
// Safe to call from both the disconnect callback and the watchdog in
// either order.
func (a *Arbiter) Finish(ctx context.Context, sess *Session, reason DisconnectReason) error {
	created, err := a.store.SetNX(ctx, doneKey(sess.SessionID), string(reason), ledgerTTL)
	if err != nil {
		return fmt.Errorf("mark session done: %w", err)
	}

	a.releaseSlot(ctx, sess)

	if !created {
		// Another path already settled this session.
		return nil
	}

	elapsed := int64(time.Since(sess.ConnectedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}

	total, err := a.store.IncrBy(ctx, ledgerKey(sess.PrincipalID), elapsed)
	if err != nil {
		a.logger.Error().Err(err).Str("principal", sess.PrincipalID).Msg("ledger update failed")
	} else {
		_ = a.store.Expire(ctx, ledgerKey(sess.PrincipalID), ledgerTTL)
	}

	description := fmt.Sprintf("Livestream ended after %d seconds", elapsed)
	if err := a.bus.Publish(ctx, events.LivestreamEnded, description, events.LivestreamEndedData{
		PrincipalID:     sess.PrincipalID,
		SessionID:       sess.SessionID,
		DurationSeconds: elapsed,
		Reason:          string(reason),
	}); err != nil {
		a.logger.Error().Err(err).Msg("failed to publish livestream_ended")
	}

	a.logger.Info().
		Str("principal", sess.PrincipalID).
		Str("session_id", sess.SessionID).
		Int64("elapsed_seconds", elapsed).
		Int64("total_seconds", total).
		Str("reason", string(reason)).
		Msg("livestream session settled")
	return nil
}

// finishOrphan emits the terminal event for a disconnect whose session
// is no longer (or was never) in the slot.
func (a *Arbiter) finishOrphan(ctx context.Context, sessionID string, reason DisconnectReason) error {
	created, err := a.store.SetNX(ctx, doneKey(sessionID), string(reason), ledgerTTL)
	if err != nil {
		return fmt.Errorf("mark session done: %w", err)
	}
	if !created {
		return nil
	}

	description := "Livestream ended"
	if err := a.bus.Publish(ctx, events.LivestreamEnded, description, events.LivestreamEndedData{
		SessionID:       sessionID,
		DurationSeconds: 0,
		Reason:          string(reason),
	}); err != nil {
		a.logger.Error().Err(err).Msg("failed to publish livestream_ended")
	}

	a.logger.Warn().Str("session_id", sessionID).Msg("disconnect for unheld session settled")
	return nil
}

func (a *Arbiter) releaseSlot(ctx context.Context, sess *Session) {
	_ = a.store.Del(ctx, slotKey)
	if _, err := a.store.CompareAndDel(ctx, slotHolderKey, sess.PrincipalID); err != nil {
		a.logger.Error().Err(err).Msg("failed to release slot holder")
	}
}

// Occupant returns the current slot session, or nil when free.
func (a *Arbiter) Occupant(ctx context.Context) (*Session, error) {
	raw, ok, err := a.store.Get(ctx, slotKey)
	if err != nil {
		return nil, fmt.Errorf("read slot: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode slot: %w", err)
	}
	return &sess, nil
}

// Occupied reports whether a live session currently holds the slot.
func (a *Arbiter) Occupied(ctx context.Context) (bool, error) {
	sess, err := a.Occupant(ctx)
	if err != nil {
		return false, err
	}
	return sess != nil, nil
}

// SetLiveMetadata stores the last-seen embedded metadata for the live
// source. Last write wins.
func (a *Arbiter) SetLiveMetadata(ctx context.Context, metadata map[string]any) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	return a.store.Set(ctx, "metadata:livestream", string(payload), 0)
}

// ClearLiveMetadata drops stale tags so the next stream starts clean.
func (a *Arbiter) ClearLiveMetadata(ctx context.Context) {
	_ = a.store.Del(ctx, "metadata:livestream")
}

// LiveMetadata returns the last-seen live tags, or nil.
func (a *Arbiter) LiveMetadata(ctx context.Context) (map[string]any, error) {
	raw, ok, err := a.store.Get(ctx, "metadata:livestream")
	if err != nil || !ok {
		return nil, err
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

// accumulated reads a principal's ledger total in seconds.
func (a *Arbiter) accumulated(ctx context.Context, principalID string) (int64, error) {
	raw, ok, err := a.store.Get(ctx, ledgerKey(principalID))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
