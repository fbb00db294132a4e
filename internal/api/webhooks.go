/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tidecast/tidecast/internal/faults"
)

type webhookSubscribeRequest struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	SigningKey  string   `json:"signing_key"`
	Description string   `json:"description,omitempty"`
}

// webhookView is the read shape; the signing key is never returned.
type webhookView struct {
	WebhookID   string   `json:"webhook_id"`
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Description string   `json:"description,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

func (a *API) handleWebhookSubscribe(w http.ResponseWriter, r *http.Request) {
	var req webhookSubscribeRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	sub, err := a.webhookReg.Subscribe(r.Context(), req.URL, req.Events, req.SigningKey, req.Description)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, webhookView{
		WebhookID:   sub.ID,
		URL:         sub.URL,
		Events:      sub.EventList(),
		Description: sub.Description,
		CreatedAt:   sub.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (a *API) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	subs, err := a.webhookReg.List(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}

	views := make([]webhookView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, webhookView{
			WebhookID:   sub.ID,
			URL:         sub.URL,
			Events:      sub.EventList(),
			Description: sub.Description,
			CreatedAt:   sub.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	a.writeJSON(w, http.StatusOK, views)
}

func (a *API) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.webhookReg.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	deliveries, err := a.webhookSvc.Deliveries(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, deliveries)
}

func (a *API) handleWebhookStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.webhookSvc.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

// handleWebhookTest delivers a webhook_test envelope synchronously and
// reports the outcome to the caller.
func (a *API) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	status, latency, err := a.webhookSvc.Test(r.Context(), chi.URLParam(r, "id"))
	if err != nil && faults.KindOf(err) == faults.NotFound {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"status_code": status,
		"latency_ms":  latency.Milliseconds(),
		"success":     err == nil,
	})
}
