/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tidecast/tidecast/internal/events"
	"github.com/tidecast/tidecast/internal/faults"
	"github.com/tidecast/tidecast/internal/models"
)

// MinSigningKeyLength is the floor for subscription signing keys.
const MinSigningKeyLength = 16

// Registry manages webhook subscriptions in the catalog store.
type Registry struct {
	db *gorm.DB
}

// NewRegistry creates the subscription registry.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Subscribe registers url for the given events. Registration is
// idempotent on (url, events): repeats update the signing key and
// description while preserving webhook_id and created_at.
func (r *Registry) Subscribe(ctx context.Context, url string, eventTypes []string, signingKey, description string) (*models.WebhookSubscription, error) {
	if url == "" {
		return nil, faults.New(faults.BadInput, "url is required")
	}
	if len(signingKey) < MinSigningKeyLength {
		return nil, faults.Newf(faults.BadInput, "signing_key must be at least %d characters", MinSigningKeyLength)
	}
	if len(eventTypes) == 0 {
		return nil, faults.New(faults.BadInput, "at least one event is required")
	}
	for _, e := range eventTypes {
		if !validEventType(e) {
			return nil, faults.Newf(faults.BadInput, "unknown event type %q", e)
		}
	}

	normalized := models.NormalizeEvents(eventTypes)

	var existing models.WebhookSubscription
	err := r.db.WithContext(ctx).
		Where("url = ? AND events = ?", url, normalized).
		First(&existing).Error

	switch {
	case err == nil:
		existing.SigningKey = signingKey
		existing.Description = description
		if err := r.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return nil, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", err)
		}
		return &existing, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		sub := &models.WebhookSubscription{
			ID:          uuid.NewString(),
			URL:         url,
			Events:      normalized,
			SigningKey:  signingKey,
			Description: description,
		}
		if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
			return nil, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", err)
		}
		return sub, nil

	default:
		return nil, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", err)
	}
}

// Get fetches one subscription.
func (r *Registry) Get(ctx context.Context, webhookID string) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	if err := r.db.WithContext(ctx).First(&sub, "id = ?", webhookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.New(faults.NotFound, "webhook not found")
		}
		return nil, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", err)
	}
	return &sub, nil
}

// List returns every subscription.
func (r *Registry) List(ctx context.Context) ([]models.WebhookSubscription, error) {
	var subs []models.WebhookSubscription
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&subs).Error; err != nil {
		return nil, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", err)
	}
	return subs, nil
}

// Delete removes a subscription.
func (r *Registry) Delete(ctx context.Context, webhookID string) error {
	res := r.db.WithContext(ctx).Delete(&models.WebhookSubscription{}, "id = ?", webhookID)
	if res.Error != nil {
		return faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", res.Error)
	}
	if res.RowsAffected == 0 {
		return faults.New(faults.NotFound, "webhook not found")
	}
	return nil
}

// Matching returns subscriptions covering eventType.
func (r *Registry) Matching(ctx context.Context, eventType events.Type) ([]models.WebhookSubscription, error) {
	subs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	matched := subs[:0]
	for _, sub := range subs {
		if sub.HandlesEvent(string(eventType)) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

func validEventType(e string) bool {
	for _, t := range events.AllTypes {
		if string(t) == e {
			return true
		}
	}
	return false
}
