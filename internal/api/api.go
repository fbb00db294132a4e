/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api is the stateless HTTP surface. It parses requests,
// resolves principals, delegates to the services, and maps error kinds
// to HTTP statuses.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tidecast/tidecast/internal/auth"
	"github.com/tidecast/tidecast/internal/faults"
	"github.com/tidecast/tidecast/internal/livestream"
	"github.com/tidecast/tidecast/internal/queue"
	"github.com/tidecast/tidecast/internal/state"
	"github.com/tidecast/tidecast/internal/telemetry"
	"github.com/tidecast/tidecast/internal/webhooks"
)

// API exposes the HTTP handlers.
type API struct {
	db         *gorm.DB
	resolver   *auth.Resolver
	jwtSecret  []byte
	queueSvc   *queue.Service
	arbiter    *livestream.Arbiter
	webhookSvc *webhooks.Service
	webhookReg *webhooks.Registry
	store      state.Store
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
}

// New creates the API wrapper.
func New(db *gorm.DB, resolver *auth.Resolver, jwtSecret []byte, queueSvc *queue.Service,
	arbiter *livestream.Arbiter, webhookSvc *webhooks.Service, webhookReg *webhooks.Registry,
	store state.Store, metrics *telemetry.Metrics, logger zerolog.Logger) *API {
	return &API{
		db:         db,
		resolver:   resolver,
		jwtSecret:  jwtSecret,
		queueSvc:   queueSvc,
		arbiter:    arbiter,
		webhookSvc: webhookSvc,
		webhookReg: webhookReg,
		store:      store,
		metrics:    metrics,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(a.resolver.Middleware())
		if a.metrics != nil {
			r.Use(a.metrics.RequestMiddleware())
		}

		r.Get("/health", a.handleHealth)

		// Public endpoints (no auth required)
		r.Get("/queue/list", a.handleQueueList)
		r.Get("/recordings/list", a.handleRecordingsList)
		r.Get("/recordings/stream/{id}", a.handleRecordingStream)
		r.Get("/metadata/now", a.handleNowPlaying)

		// User endpoints (user JWT)
		r.Group(func(r chi.Router) {
			r.Use(a.requireKind(auth.KindUser))
			r.Post("/queue/add", a.handleQueueAdd)
			r.Delete("/queue/{songID}", a.handleQueueDelete)
		})

		// Admin endpoints (admin bearer token)
		r.Route("/admin", func(r chi.Router) {
			r.Use(a.requireKind(auth.KindAdmin))

			r.Post("/token", a.handleIssueUserToken)
			r.Post("/livestream/token", a.handleIssueLivestreamToken)

			r.Post("/queue/add", a.handleAdminQueueAdd)
			r.Get("/queue/list", a.handleAdminQueueList)
			r.Delete("/queue/{songID}", a.handleAdminQueueDelete)
			r.Post("/queue/clear", a.handleAdminQueueClear)
			r.Post("/playback/{action}", a.handleAdminPlayback)

			r.Delete("/recordings/{id}", a.handleAdminRecordingDelete)

			r.Post("/shows", a.handleAdminShowCreate)
			r.Get("/shows", a.handleAdminShowList)
			r.Delete("/shows/{id}", a.handleAdminShowDelete)

			r.Post("/webhooks/subscribe", a.handleWebhookSubscribe)
			r.Get("/webhooks/list", a.handleWebhookList)
			r.Delete("/webhooks/{id}", a.handleWebhookDelete)
			r.Get("/webhooks/{id}/deliveries", a.handleWebhookDeliveries)
			r.Get("/webhooks/{id}/stats", a.handleWebhookStats)
			r.Post("/webhooks/{id}/test", a.handleWebhookTest)
		})

		// Internal endpoints (mixer callbacks). The reverse proxy blocks
		// this prefix from the outside; requiring the internal principal
		// here is defense in depth.
		r.Route("/internal", func(r chi.Router) {
			r.Use(a.requireKind(auth.KindInternal))

			r.Post("/livestream/auth", a.handleLivestreamAuth)
			r.Post("/livestream/connect", a.handleLivestreamConnect)
			r.Post("/livestream/disconnect", a.handleLivestreamDisconnect)
			r.Post("/livestream/metadata", a.handleLivestreamMetadata)
		})
	})
}

// requireKind rejects requests whose principal is not one of kinds.
func (a *API) requireKind(kinds ...auth.Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				a.writeError(w, faults.New(faults.Unauthenticated, "missing or invalid token"))
				return
			}
			for _, kind := range kinds {
				if principal.Kind == kind {
					next.ServeHTTP(w, r)
					return
				}
			}
			a.writeError(w, faults.New(faults.Forbidden, "endpoint not allowed for this principal"))
		})
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	kind := faults.KindOf(err)
	status := faults.HTTPStatus(kind)
	if status >= 500 {
		a.logger.Error().Err(err).Msg("request failed")
	}
	a.writeJSON(w, status, map[string]string{
		"error":  string(kind),
		"detail": faults.MessageOf(err),
	})
}

func (a *API) decode(r *http.Request, dest any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return faults.Wrap(faults.BadInput, "invalid request body", err)
	}
	return nil
}
