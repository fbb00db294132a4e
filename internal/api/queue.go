/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tidecast/tidecast/internal/auth"
	"github.com/tidecast/tidecast/internal/faults"
	"github.com/tidecast/tidecast/internal/mixer"
	"github.com/tidecast/tidecast/internal/queue"
)

const maxUploadMemory = 8 << 20

// handleQueueList serves the public merged listing, user queue first.
func (a *API) handleQueueList(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 20 {
			a.writeError(w, faults.New(faults.BadInput, "limit must be between 1 and 20"))
			return
		}
		limit = parsed
	}

	items, err := a.queueSvc.ListNext(r.Context(), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, items)
}

// parseAddRequest reads the multipart admission form.
func (a *API) parseAddRequest(r *http.Request) (queue.AddRequest, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return queue.AddRequest{}, faults.Wrap(faults.BadInput, "invalid multipart form", err)
	}

	req := queue.AddRequest{
		URL:      r.FormValue("url"),
		SongName: r.FormValue("song_name"),
		Artist:   r.FormValue("artist"),
	}

	if file, header, err := r.FormFile("file"); err == nil {
		req.File = file
		req.FileName = header.Filename
	}

	return req, nil
}

func (a *API) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	req, err := a.parseAddRequest(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	songID, err := a.queueSvc.AddUserSong(r.Context(), principal, req)
	if err != nil {
		a.countAdmission("rejected")
		a.writeError(w, err)
		return
	}

	a.countAdmission("admitted")
	a.writeJSON(w, http.StatusOK, map[string]string{"song_id": songID})
}

func (a *API) handleQueueDelete(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())
	songID := chi.URLParam(r, "songID")

	if err := a.queueSvc.DeleteUserSong(r.Context(), principal, songID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) countAdmission(result string) {
	if a.metrics != nil {
		a.metrics.QueueAdmissionsTotal.WithLabelValues(result).Inc()
	}
}

// playlistParam maps the playlist query parameter to a queue kind.
func playlistParam(r *http.Request) (mixer.SourceKind, error) {
	switch r.URL.Query().Get("playlist") {
	case "user":
		return mixer.SourceUser, nil
	case "fallback":
		return mixer.SourceFallback, nil
	default:
		return "", faults.New(faults.BadInput, "playlist must be user or fallback")
	}
}
