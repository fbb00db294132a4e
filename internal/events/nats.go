/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSBus is an alternative bus transport for deployments that already
// run NATS. Subject layout mirrors the state store channels:
// tidecast.events.<event_type>.
type NATSBus struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATSBus connects to the NATS server.
func NewNATSBus(url string, logger zerolog.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info().Str("url", url).Msg("nats event bus connected")

	return &NATSBus{
		conn:   conn,
		logger: logger.With().Str("component", "events").Logger(),
	}, nil
}

func subject(t Type) string {
	return "tidecast.events." + string(t)
}

func (b *NATSBus) Publish(ctx context.Context, eventType Type, description string, data any) error {
	env, err := NewEnvelope(eventType, description, data)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := b.conn.Publish(subject(eventType), payload); err != nil {
		b.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("publish failed")
		return err
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, types ...Type) (<-chan Envelope, func(), error) {
	out := make(chan Envelope, 64)
	subs := make([]*nats.Subscription, 0, len(types))

	for _, t := range types {
		sub, err := b.conn.Subscribe(subject(t), func(msg *nats.Msg) {
			var env Envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				b.logger.Error().Err(err).Str("subject", msg.Subject).Msg("bad event payload")
				return
			}
			// Fire-and-forget: drop rather than block the NATS callback.
			select {
			case out <- env:
			default:
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, nil, fmt.Errorf("nats subscribe %s: %w", t, err)
		}
		subs = append(subs, sub)
	}

	cancel := func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		close(out)
	}
	return out, cancel, nil
}

// Close closes the connection without draining pending messages.
func (b *NATSBus) Close() {
	b.conn.Close()
}
