/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tidecast/tidecast/internal/auth"
	"github.com/tidecast/tidecast/internal/db"
	"github.com/tidecast/tidecast/internal/faults"
	"github.com/tidecast/tidecast/internal/models"
	"github.com/tidecast/tidecast/internal/queue"
)

const maxTokenDuration = 86400

type userTokenRequest struct {
	DurationSeconds int `json:"duration_seconds"`
	MaxQueueSongs   int `json:"max_queue_songs"`
	MaxAddRequests  int `json:"max_add_requests"`
}

// handleIssueUserToken mints a user JWT carrying the quota claims.
func (a *API) handleIssueUserToken(w http.ResponseWriter, r *http.Request) {
	var req userTokenRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	if req.DurationSeconds <= 0 || req.DurationSeconds > maxTokenDuration {
		a.writeError(w, faults.Newf(faults.BadInput, "duration_seconds must be in (0, %d]", maxTokenDuration))
		return
	}
	if req.MaxQueueSongs <= 0 || req.MaxAddRequests <= 0 {
		a.writeError(w, faults.New(faults.BadInput, "max_queue_songs and max_add_requests must be positive"))
		return
	}

	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		Type:           auth.TokenUser,
		UserID:         uuid.NewString(),
		MaxQueueSongs:  req.MaxQueueSongs,
		MaxAddRequests: req.MaxAddRequests,
	}, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		a.writeError(w, faults.Wrap(faults.Internal, "token issue failed", err))
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type livestreamTokenRequest struct {
	MaxStreamingSeconds  int    `json:"max_streaming_seconds"`
	ShowName             string `json:"show_name,omitempty"`
	MinRecordingDuration int    `json:"min_recording_duration"`
}

// handleIssueLivestreamToken mints a livestream JWT. Expiration is at
// least twice the streaming limit so the token outlives the session it
// bounds.
func (a *API) handleIssueLivestreamToken(w http.ResponseWriter, r *http.Request) {
	var req livestreamTokenRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	if req.MaxStreamingSeconds < 60 || req.MaxStreamingSeconds > 28800 {
		a.writeError(w, faults.New(faults.BadInput, "max_streaming_seconds must be in [60, 28800]"))
		return
	}
	if req.MinRecordingDuration < 0 || req.MinRecordingDuration > 3600 {
		a.writeError(w, faults.New(faults.BadInput, "min_recording_duration must be in [0, 3600]"))
		return
	}

	// Expiration stays at least twice the streaming limit it bounds.
	ttl := 2 * time.Duration(req.MaxStreamingSeconds) * time.Second
	if ttl < time.Hour {
		ttl = time.Hour
	}

	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		Type:                 auth.TokenLivestream,
		UserID:               uuid.NewString(),
		MaxStreamingSeconds:  req.MaxStreamingSeconds,
		ShowName:             req.ShowName,
		MinRecordingDuration: req.MinRecordingDuration,
	}, ttl)
	if err != nil {
		a.writeError(w, faults.Wrap(faults.Internal, "token issue failed", err))
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *API) handleAdminQueueAdd(w http.ResponseWriter, r *http.Request) {
	kind, err := playlistParam(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	principal, _ := auth.PrincipalFrom(r.Context())

	req, err := a.parseAddRequest(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	songID, err := a.queueSvc.AddAdminSong(r.Context(), principal, kind, req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"song_id": songID})
}

func (a *API) handleAdminQueueList(w http.ResponseWriter, r *http.Request) {
	kind, err := playlistParam(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	items, err := a.queueSvc.ListQueue(r.Context(), kind)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, items)
}

func (a *API) handleAdminQueueDelete(w http.ResponseWriter, r *http.Request) {
	songID := chi.URLParam(r, "songID")
	if err := a.queueSvc.DeleteAdminSong(r.Context(), songID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleAdminQueueClear(w http.ResponseWriter, r *http.Request) {
	kind, err := playlistParam(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	if err := a.queueSvc.Clear(r.Context(), kind); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleAdminPlayback(w http.ResponseWriter, r *http.Request) {
	kind, err := playlistParam(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	action := queue.PlaybackAction(chi.URLParam(r, "action"))
	if err := a.queueSvc.Control(r.Context(), action, kind); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleAdminRecordingDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := db.GetRecording(a.db, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			a.writeError(w, faults.New(faults.NotFound, "recording not found"))
			return
		}
		a.writeError(w, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", err))
		return
	}

	if err := db.DeleteRecording(a.db, rec); err != nil {
		a.writeError(w, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", err))
		return
	}
	if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
		a.logger.Warn().Err(err).Str("path", rec.FilePath).Msg("failed to remove recording file")
	}

	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type showCreateRequest struct {
	ShowName    string `json:"show_name"`
	Description string `json:"description,omitempty"`
}

func (a *API) handleAdminShowCreate(w http.ResponseWriter, r *http.Request) {
	var req showCreateRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.ShowName == "" {
		a.writeError(w, faults.New(faults.BadInput, "show_name is required"))
		return
	}

	var existing models.Show
	err := a.db.WithContext(r.Context()).First(&existing, "show_name = ?", req.ShowName).Error
	if err == nil {
		a.writeError(w, faults.New(faults.Conflict, "show name already exists"))
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		a.writeError(w, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", err))
		return
	}

	show := models.Show{
		ID:          uuid.NewString(),
		ShowName:    req.ShowName,
		Description: req.Description,
	}
	if err := a.db.WithContext(r.Context()).Create(&show).Error; err != nil {
		a.writeError(w, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", err))
		return
	}
	a.writeJSON(w, http.StatusCreated, show)
}

func (a *API) handleAdminShowList(w http.ResponseWriter, r *http.Request) {
	var shows []models.Show
	if err := a.db.WithContext(r.Context()).Order("show_name ASC").Find(&shows).Error; err != nil {
		a.writeError(w, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", err))
		return
	}
	a.writeJSON(w, http.StatusOK, shows)
}

func (a *API) handleAdminShowDelete(w http.ResponseWriter, r *http.Request) {
	res := a.db.WithContext(r.Context()).Delete(&models.Show{}, "id = ?", chi.URLParam(r, "id"))
	if res.Error != nil {
		a.writeError(w, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", res.Error))
		return
	}
	if res.RowsAffected == 0 {
		a.writeError(w, faults.New(faults.NotFound, "show not found"))
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
