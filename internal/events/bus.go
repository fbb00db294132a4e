/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/tidecast/tidecast/internal/state"
)

// Bus publishes and subscribes typed envelopes. Publishing is
// fire-and-forget: slow subscribers never block a publisher, and
// publishes without subscribers are lost.
type Bus interface {
	// Publish stamps and emits an event. Errors are backend failures,
	// never subscriber failures.
	Publish(ctx context.Context, eventType Type, description string, data any) error

	// Subscribe delivers envelopes for the given types until the
	// returned cancel function runs.
	Subscribe(ctx context.Context, types ...Type) (<-chan Envelope, func(), error)
}

// StateBus rides the state store pub/sub channels.
type StateBus struct {
	store  state.Store
	logger zerolog.Logger
}

// NewStateBus creates a bus over the state store.
func NewStateBus(store state.Store, logger zerolog.Logger) *StateBus {
	return &StateBus{
		store:  store,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

func (b *StateBus) Publish(ctx context.Context, eventType Type, description string, data any) error {
	env, err := NewEnvelope(eventType, description, data)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := b.store.Publish(ctx, Channel(eventType), string(payload)); err != nil {
		b.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("publish failed")
		return err
	}

	b.logger.Debug().Str("event_type", string(eventType)).Msg("event published")
	return nil
}

func (b *StateBus) Subscribe(ctx context.Context, types ...Type) (<-chan Envelope, func(), error) {
	channels := make([]string, len(types))
	for i, t := range types {
		channels[i] = Channel(t)
	}

	sub, err := b.store.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan Envelope, 64)
	go func() {
		defer close(out)
		for msg := range sub.Messages() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Error().Err(err).Str("channel", msg.Channel).Msg("bad event payload")
				continue
			}
			out <- env
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}
