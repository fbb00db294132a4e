/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package state

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultLeaseDuration   = 15 * time.Second
	defaultRenewalInterval = 5 * time.Second
)

// Lease gates singleton background tasks (watchdog, source observer)
// across replicas. Loss of the lease is an expected event: the guarded
// task suspends until the lease is re-acquired.
type Lease struct {
	store      Store
	key        string
	instanceID string
	duration   time.Duration
	renewal    time.Duration
	logger     zerolog.Logger

	held   atomic.Bool
	cancel context.CancelFunc
}

// NewLease creates a lease on key. The instance identity is random per
// process.
func NewLease(store Store, key string, logger zerolog.Logger) *Lease {
	return &Lease{
		store:      store,
		key:        key,
		instanceID: uuid.NewString(),
		duration:   defaultLeaseDuration,
		renewal:    defaultRenewalInterval,
		logger:     logger.With().Str("component", "lease").Str("key", key).Logger(),
	}
}

// Start begins campaigning in the background until ctx is done.
func (l *Lease) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	go l.campaign(ctx)
}

// Stop releases the lease if held and halts campaigning.
func (l *Lease) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.held.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := l.store.CompareAndDel(ctx, l.key, l.instanceID); err != nil {
			l.logger.Error().Err(err).Msg("failed to release lease")
		}
		l.held.Store(false)
	}
}

// Held reports whether this instance currently owns the lease.
func (l *Lease) Held() bool {
	return l.held.Load()
}

func (l *Lease) campaign(ctx context.Context) {
	ticker := time.NewTicker(l.renewal)
	defer ticker.Stop()

	l.attempt(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.attempt(ctx)
		}
	}
}

func (l *Lease) attempt(ctx context.Context) {
	acquired, err := l.store.SetNX(ctx, l.key, l.instanceID, l.duration)
	if err != nil {
		l.logger.Error().Err(err).Msg("lease attempt failed")
		l.markHeld(false)
		return
	}

	if acquired {
		l.markHeld(true)
		return
	}

	owner, ok, err := l.store.Get(ctx, l.key)
	if err != nil {
		l.logger.Error().Err(err).Msg("lease owner check failed")
		l.markHeld(false)
		return
	}
	if !ok {
		// Lease expired between SetNX and Get; the next tick retries.
		l.markHeld(false)
		return
	}

	if owner == l.instanceID {
		if err := l.store.Expire(ctx, l.key, l.duration); err != nil {
			l.logger.Error().Err(err).Msg("lease renewal failed")
			l.markHeld(false)
			return
		}
		l.markHeld(true)
		return
	}

	l.markHeld(false)
}

func (l *Lease) markHeld(held bool) {
	was := l.held.Swap(held)
	if was == held {
		return
	}
	if held {
		l.logger.Info().Str("instance", l.instanceID).Msg("lease acquired")
	} else {
		l.logger.Warn().Str("instance", l.instanceID).Msg("lease lost")
	}
}
