/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package livestream

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidecast/tidecast/internal/state"
)

// Watchdog enforces the cumulative streaming time limit. It runs on
// every replica but only acts while holding the state store lease, so a
// session is never force-disconnected twice.
type Watchdog struct {
	arbiter  *Arbiter
	lease    *state.Lease
	interval time.Duration
	logger   zerolog.Logger
}

// NewWatchdog creates the time-limit watchdog.
func NewWatchdog(arbiter *Arbiter, lease *state.Lease, interval time.Duration, logger zerolog.Logger) *Watchdog {
	return &Watchdog{
		arbiter:  arbiter,
		lease:    lease,
		interval: interval,
		logger:   logger.With().Str("component", "watchdog").Logger(),
	}
}

// Run ticks until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.interval).Msg("watchdog started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !w.lease.Held() {
				continue
			}
			w.check(ctx)
		}
	}
}

func (w *Watchdog) check(ctx context.Context) {
	sess, err := w.arbiter.Occupant(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("watchdog slot read failed")
		return
	}
	if sess == nil {
		return
	}

	used, err := w.arbiter.accumulated(ctx, sess.PrincipalID)
	if err != nil {
		w.logger.Error().Err(err).Msg("watchdog ledger read failed")
		return
	}

	elapsed := int64(time.Since(sess.ConnectedAt).Seconds())
	total := used + elapsed

	w.logger.Debug().
		Str("principal", sess.PrincipalID).
		Int64("elapsed", elapsed).
		Int64("total", total).
		Int("limit", sess.MaxStreamingSeconds).
		Msg("watchdog time check")

	if total < int64(sess.MaxStreamingSeconds) {
		return
	}

	w.logger.Warn().
		Str("principal", sess.PrincipalID).
		Str("session_id", sess.SessionID).
		Int64("total", total).
		Int("limit", sess.MaxStreamingSeconds).
		Msg("streaming limit exceeded, disconnecting")

	// Fire the stop command without waiting for confirmation; the
	// settlement below is idempotent with the disconnect callback.
	if err := w.arbiter.control.Disconnect(w.arbiter.harborID); err != nil {
		w.logger.Error().Err(err).Msg("mixer disconnect command failed")
	}

	if err := w.arbiter.Finish(ctx, sess, ReasonLimit); err != nil {
		w.logger.Error().Err(err).Msg("watchdog settlement failed")
	}
}
