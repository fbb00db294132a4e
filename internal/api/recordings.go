/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/tidecast/tidecast/internal/db"
	"github.com/tidecast/tidecast/internal/faults"
	"github.com/tidecast/tidecast/internal/models"
)

type recordingMetadata struct {
	ID              string  `json:"id"`
	CreatedAt       string  `json:"created_at"`
	Title           string  `json:"title,omitempty"`
	Artist          string  `json:"artist,omitempty"`
	Genre           string  `json:"genre,omitempty"`
	Description     string  `json:"description,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	StreamURL       string  `json:"stream_url"`
}

type showRecordings struct {
	ShowName   string              `json:"show_name"`
	Recordings []recordingMetadata `json:"recordings"`
}

type recordingsListResponse struct {
	Shows           []showRecordings `json:"shows"`
	TotalShows      int              `json:"total_shows"`
	TotalRecordings int64            `json:"total_recordings"`
	Page            int              `json:"page"`
	PageSize        int              `json:"page_size"`
}

// handleRecordingsList serves the paginated, show-grouped catalog.
func (a *API) handleRecordingsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 1
	if raw := q.Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			a.writeError(w, faults.New(faults.BadInput, "page must be at least 1"))
			return
		}
		page = parsed
	}

	pageSize := 20
	if raw := q.Get("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			a.writeError(w, faults.New(faults.BadInput, "page_size must be between 1 and 100"))
			return
		}
		pageSize = parsed
	}

	filter := db.RecordingFilter{
		ShowName: q.Get("show_name"),
		Search:   q.Get("search"),
		Genre:    q.Get("genre"),
		Offset:   (page - 1) * pageSize,
		Limit:    pageSize,
	}

	if raw := q.Get("date_from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.writeError(w, faults.New(faults.BadInput, "invalid date_from, use RFC 3339"))
			return
		}
		filter.DateFrom = &t
	}
	if raw := q.Get("date_to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.writeError(w, faults.New(faults.BadInput, "invalid date_to, use RFC 3339"))
			return
		}
		filter.DateTo = &t
	}

	recordings, total, err := db.ListRecordings(a.db.WithContext(r.Context()), filter)
	if err != nil {
		a.writeError(w, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", err))
		return
	}

	grouped := make(map[string][]recordingMetadata)
	order := make([]string, 0)
	for _, rec := range recordings {
		showName := "unknown"
		if rec.Show != nil {
			showName = rec.Show.ShowName
		}
		if _, seen := grouped[showName]; !seen {
			order = append(order, showName)
		}
		grouped[showName] = append(grouped[showName], recordingMetadata{
			ID:              rec.ID,
			CreatedAt:       rec.CreatedAt.UTC().Format(time.RFC3339),
			Title:           rec.Title,
			Artist:          rec.Artist,
			Genre:           rec.Genre,
			Description:     rec.Description,
			DurationSeconds: rec.DurationSeconds,
			StreamURL:       fmt.Sprintf("/api/recordings/stream/%s", rec.ID),
		})
	}

	shows := make([]showRecordings, 0, len(order))
	for _, name := range order {
		shows = append(shows, showRecordings{ShowName: name, Recordings: grouped[name]})
	}

	a.writeJSON(w, http.StatusOK, recordingsListResponse{
		Shows:           shows,
		TotalShows:      len(shows),
		TotalRecordings: total,
		Page:            page,
		PageSize:        pageSize,
	})
}

// handleRecordingStream serves the audio file with Range support.
func (a *API) handleRecordingStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var rec models.Recording
	if err := a.db.WithContext(r.Context()).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			a.writeError(w, faults.New(faults.NotFound, "recording not found"))
			return
		}
		a.writeError(w, faults.Wrap(faults.TemporarilyUnavailable, "catalog store unavailable", err))
		return
	}

	file, err := os.Open(rec.FilePath)
	if err != nil {
		a.writeError(w, faults.New(faults.NotFound, "recording file not found"))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		a.writeError(w, faults.Wrap(faults.Internal, "stat recording file", err))
		return
	}

	w.Header().Set("Content-Type", "audio/ogg")
	http.ServeContent(w, r, rec.ID+".ogg", info.ModTime(), file)
}
