/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"sort"
	"strings"
	"time"
)

// WebhookSubscription stores a webhook registration.
// Events is comma-separated and normalized to sorted order so that the
// (url, events) identity used for idempotent registration is stable.
type WebhookSubscription struct {
	ID          string `gorm:"type:uuid;primaryKey" json:"webhook_id"`
	URL         string `gorm:"type:varchar(512);not null;index" json:"url"`
	Events      string `gorm:"type:varchar(255);not null" json:"-"`
	SigningKey  string `gorm:"type:varchar(255);not null" json:"-"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// TableName returns the table name for GORM.
func (WebhookSubscription) TableName() string {
	return "webhooks"
}

// EventList splits the stored event set.
func (w WebhookSubscription) EventList() []string {
	if w.Events == "" {
		return nil
	}
	return strings.Split(w.Events, ",")
}

// HandlesEvent reports whether the subscription covers eventType.
func (w WebhookSubscription) HandlesEvent(eventType string) bool {
	for _, e := range w.EventList() {
		if e == eventType {
			return true
		}
	}
	return false
}

// NormalizeEvents joins events sorted and deduplicated.
func NormalizeEvents(events []string) string {
	seen := make(map[string]struct{}, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
