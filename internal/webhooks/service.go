/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks delivers signed HTTP notifications for bus events
// and keeps a bounded per-subscription delivery history.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidecast/tidecast/internal/events"
	"github.com/tidecast/tidecast/internal/models"
	"github.com/tidecast/tidecast/internal/state"
)

const (
	// Hard delivery timeout. No retries: consumers are expected to be
	// idempotent.
	deliveryTimeout = 5 * time.Second

	// Delivery history retention: 7 days or last 100 entries, whichever
	// is tighter.
	deliveryLogMax = 100
	deliveryLogTTL = 7 * 24 * time.Hour
)

// Delivery is one logged delivery attempt.
type Delivery struct {
	Timestamp  string `json:"timestamp"`
	EventType  string `json:"event_type"`
	URL        string `json:"url"`
	Status     string `json:"status"`
	StatusCode *int   `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
}

// Stats aggregates a subscription's delivery history.
type Stats struct {
	WebhookID       string  `json:"webhook_id"`
	TotalDeliveries int     `json:"total_deliveries"`
	SuccessCount    int     `json:"success_count"`
	FailureCount    int     `json:"failure_count"`
	SuccessRate     float64 `json:"success_rate"`
	LastDelivery    string  `json:"last_delivery,omitempty"`
}

// Partition scopes a dispatcher replica to a slice of subscriptions.
// With Count=1 a single dispatcher owns everything.
type Partition struct {
	Count int
	Index int
}

// Owns reports whether this replica delivers for webhookID.
func (p Partition) Owns(webhookID string) bool {
	if p.Count <= 1 {
		return true
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(webhookID))
	return int(h.Sum32())%p.Count == p.Index
}

// Service consumes bus events and dispatches deliveries.
type Service struct {
	registry  *Registry
	store     state.Store
	bus       events.Bus
	client    *http.Client
	partition Partition
	logger    zerolog.Logger
}

// NewService creates the dispatcher.
func NewService(registry *Registry, store state.Store, bus events.Bus, partition Partition, logger zerolog.Logger) *Service {
	return &Service{
		registry:  registry,
		store:     store,
		bus:       bus,
		client:    &http.Client{Timeout: deliveryTimeout},
		partition: partition,
		logger:    logger.With().Str("component", "webhooks").Logger(),
	}
}

func deliveriesKey(webhookID string) string { return "webhook:deliveries:" + webhookID }

// Run subscribes to every event channel and dispatches until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ch, cancel, err := s.bus.Subscribe(ctx, events.AllTypes...)
	if err != nil {
		return err
	}
	defer cancel()

	s.logger.Info().
		Int("partition_count", s.partition.Count).
		Int("partition_index", s.partition.Index).
		Msg("webhook dispatcher started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			s.dispatch(ctx, env)
		}
	}
}

// dispatch fans one event out to every matching subscription.
// Deliveries for distinct subscriptions proceed in parallel.
func (s *Service) dispatch(ctx context.Context, env events.Envelope) {
	subs, err := s.registry.Matching(ctx, env.EventType)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(env.EventType)).Msg("subscription lookup failed")
		return
	}

	for _, sub := range subs {
		if !s.partition.Owns(sub.ID) {
			continue
		}
		go func(sub models.WebhookSubscription) {
			_, _, _ = s.Deliver(ctx, &sub, env)
		}(sub)
	}
}

// Deliver signs and posts one envelope to one subscription, recording
// the outcome. Returns the HTTP status code (0 on transport failure)
// and the observed latency.
func (s *Service) Deliver(ctx context.Context, sub *models.WebhookSubscription, env events.Envelope) (int, time.Duration, error) {
	body, err := events.MarshalCanonical(env)
	if err != nil {
		return 0, 0, fmt.Errorf("canonical encode: %w", err)
	}

	signature := Sign(sub.SigningKey, body)

	reqCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		s.record(ctx, sub, env, 0, 0, err)
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Tidecast-Webhooks/1.0")
	req.Header.Set("X-Webhook-Signature", "sha256="+signature)
	req.Header.Set("X-Webhook-Timestamp", env.Timestamp)

	started := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(started)

	if err != nil {
		s.record(ctx, sub, env, 0, latency, err)
		s.logger.Warn().Err(err).Str("webhook", sub.ID).Str("url", sub.URL).Msg("webhook delivery failed")
		return 0, latency, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook returned status %d", resp.StatusCode)
		s.record(ctx, sub, env, resp.StatusCode, latency, err)
		s.logger.Warn().Str("webhook", sub.ID).Int("status", resp.StatusCode).Msg("webhook returned error status")
		return resp.StatusCode, latency, err
	}

	s.record(ctx, sub, env, resp.StatusCode, latency, nil)
	s.logger.Debug().
		Str("webhook", sub.ID).
		Str("event", string(env.EventType)).
		Int("status", resp.StatusCode).
		Dur("latency", latency).
		Msg("webhook delivered")
	return resp.StatusCode, latency, nil
}

// Test synchronously delivers a webhook_test envelope.
func (s *Service) Test(ctx context.Context, webhookID string) (int, time.Duration, error) {
	sub, err := s.registry.Get(ctx, webhookID)
	if err != nil {
		return 0, 0, err
	}

	env, err := events.NewEnvelope(events.WebhookTest, "Test webhook delivery", map[string]any{
		"test":       true,
		"webhook_id": webhookID,
	})
	if err != nil {
		return 0, 0, err
	}

	return s.Deliver(ctx, sub, env)
}

// record appends a delivery log entry and prunes to the retention
// policy. Logging failures never feed back into delivery.
func (s *Service) record(ctx context.Context, sub *models.WebhookSubscription, env events.Envelope,
	statusCode int, latency time.Duration, deliveryErr error) {
	entry := Delivery{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: string(env.EventType),
		URL:       sub.URL,
		Status:    "success",
		LatencyMS: latency.Milliseconds(),
	}
	if statusCode > 0 {
		entry.StatusCode = &statusCode
	}
	if deliveryErr != nil {
		entry.Status = "failed"
		entry.Error = deliveryErr.Error()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.store.ListPrepend(ctx, deliveriesKey(sub.ID), string(payload), deliveryLogMax, deliveryLogTTL); err != nil {
		s.logger.Error().Err(err).Str("webhook", sub.ID).Msg("failed to log delivery")
	}
}

// Deliveries returns the retained delivery history, newest first.
func (s *Service) Deliveries(ctx context.Context, webhookID string, limit int) ([]Delivery, error) {
	if _, err := s.registry.Get(ctx, webhookID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > deliveryLogMax {
		limit = deliveryLogMax
	}
	raw, err := s.store.ListRange(ctx, deliveriesKey(webhookID), 0, int64(limit-1))
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-deliveryLogTTL)
	out := make([]Delivery, 0, len(raw))
	for _, item := range raw {
		var d Delivery
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, d.Timestamp); err == nil && ts.Before(cutoff) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Stats aggregates the retained history for one subscription.
func (s *Service) Stats(ctx context.Context, webhookID string) (*Stats, error) {
	deliveries, err := s.Deliveries(ctx, webhookID, deliveryLogMax)
	if err != nil {
		return nil, err
	}

	stats := &Stats{WebhookID: webhookID, TotalDeliveries: len(deliveries)}
	for _, d := range deliveries {
		if d.Status == "success" {
			stats.SuccessCount++
		} else {
			stats.FailureCount++
		}
	}
	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalDeliveries)
		stats.LastDelivery = deliveries[0].Timestamp
	}
	return stats, nil
}

// Sign computes the hex HMAC-SHA256 of body under key.
func Sign(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
