/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package recording captures every accepted live session, conditionally
// persists it, and indexes the result in the catalog.
package recording

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tidecast/tidecast/internal/events"
	"github.com/tidecast/tidecast/internal/models"
	"github.com/tidecast/tidecast/internal/state"
)

// ProbeFunc reports file duration in seconds.
type ProbeFunc func(ctx context.Context, path string) (float64, error)

// TrimFunc trims silence and embeds tags in place.
type TrimFunc func(ctx context.Context, path string, tags map[string]string) error

// session is one in-flight capture keyed by session_id.
type session struct {
	sessionID   string
	principalID string
	showName    string
	minDuration int
	tmpPath     string
	capture     Capture
	startedAt   time.Time
}

// Worker drives the capture lifecycle. Capture failures never affect
// the broadcast.
type Worker struct {
	db      *gorm.DB
	store   state.Store
	bus     events.Bus
	factory CaptureFactory
	probe   ProbeFunc
	trim    TrimFunc
	archive Archive // optional
	dir     string
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewWorker creates the recording worker. dir is RECORDINGS_DIR;
// captures stage under dir/tmp.
func NewWorker(db *gorm.DB, store state.Store, bus events.Bus, factory CaptureFactory,
	probe ProbeFunc, trim TrimFunc, archive Archive, dir string, logger zerolog.Logger) *Worker {
	return &Worker{
		db:       db,
		store:    store,
		bus:      bus,
		factory:  factory,
		probe:    probe,
		trim:     trim,
		archive:  archive,
		dir:      dir,
		logger:   logger.With().Str("component", "recording").Logger(),
		sessions: make(map[string]*session),
	}
}

func (w *Worker) tmpDir() string { return filepath.Join(w.dir, "tmp") }

// Run consumes livestream lifecycle events until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.tmpDir(), 0o755); err != nil {
		return fmt.Errorf("create recordings tmp dir: %w", err)
	}
	w.reapOrphans()

	ch, cancel, err := w.bus.Subscribe(ctx, events.LivestreamStarted, events.LivestreamEnded)
	if err != nil {
		return err
	}
	defer cancel()

	w.logger.Info().Str("dir", w.dir).Msg("recording worker started")

	for {
		select {
		case <-ctx.Done():
			w.stopAll()
			return ctx.Err()
		case env, ok := <-ch:
			if !ok {
				w.stopAll()
				return nil
			}
			w.handle(ctx, env)
		}
	}
}

// reapOrphans removes temporary captures left behind by a crash.
// Nothing under tmp/ ever has a catalog row.
func (w *Worker) reapOrphans() {
	entries, err := os.ReadDir(w.tmpDir())
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.tmpDir(), entry.Name())
		if err := os.Remove(path); err == nil {
			w.logger.Info().Str("path", path).Msg("reaped orphaned capture")
		}
	}
}

func (w *Worker) handle(ctx context.Context, env events.Envelope) {
	switch env.EventType {
	case events.LivestreamStarted:
		var data events.LivestreamStartedData
		if err := env.DecodeData(&data); err != nil {
			w.logger.Error().Err(err).Msg("bad livestream_started payload")
			return
		}
		w.startCapture(ctx, data)

	case events.LivestreamEnded:
		var data events.LivestreamEndedData
		if err := env.DecodeData(&data); err != nil {
			w.logger.Error().Err(err).Msg("bad livestream_ended payload")
			return
		}
		w.stopCapture(ctx, data.SessionID)
	}
}

func (w *Worker) startCapture(ctx context.Context, data events.LivestreamStartedData) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, active := w.sessions[data.SessionID]; active {
		w.logger.Warn().Str("session_id", data.SessionID).Msg("capture already active")
		return
	}

	tmpPath := filepath.Join(w.tmpDir(), data.SessionID+".ogg")
	capture, err := w.factory(ctx, tmpPath)
	if err != nil {
		// Capture I/O errors abort the capture, not the broadcast.
		w.logger.Error().Err(err).Str("session_id", data.SessionID).Msg("failed to start capture")
		return
	}

	w.sessions[data.SessionID] = &session{
		sessionID:   data.SessionID,
		principalID: data.PrincipalID,
		showName:    data.ShowName,
		minDuration: data.MinRecordingDuration,
		tmpPath:     tmpPath,
		capture:     capture,
		startedAt:   time.Now(),
	}

	w.logger.Info().
		Str("session_id", data.SessionID).
		Str("show", data.ShowName).
		Msg("capture started")
}

func (w *Worker) stopCapture(ctx context.Context, sessionID string) {
	w.mu.Lock()
	sess, active := w.sessions[sessionID]
	delete(w.sessions, sessionID)
	w.mu.Unlock()

	if !active {
		w.logger.Warn().Str("session_id", sessionID).Msg("no active capture for session")
		return
	}

	if err := sess.capture.Stop(); err != nil {
		w.logger.Error().Err(err).Str("session_id", sessionID).Msg("capture stop failed")
	}

	if err := w.process(ctx, sess); err != nil {
		w.logger.Error().Err(err).Str("session_id", sessionID).Msg("recording processing failed")
	}
}

func (w *Worker) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, sess := range w.sessions {
		_ = sess.capture.Stop()
		delete(w.sessions, id)
	}
}

// process measures, thresholds, trims, persists, and archives one
// finished capture.
func (w *Worker) process(ctx context.Context, sess *session) error {
	if _, err := os.Stat(sess.tmpPath); err != nil {
		return fmt.Errorf("capture file missing: %w", err)
	}

	duration, err := w.probe(ctx, sess.tmpPath)
	if err != nil {
		_ = os.Remove(sess.tmpPath)
		return fmt.Errorf("probe capture: %w", err)
	}

	if duration < float64(sess.minDuration) {
		_ = os.Remove(sess.tmpPath)
		w.logger.Info().
			Str("session_id", sess.sessionID).
			Float64("duration", duration).
			Int("min_duration", sess.minDuration).
			Msg("recording discarded: too short")
		return nil
	}

	tags := w.liveTags(ctx)

	if err := w.trim(ctx, sess.tmpPath, tags); err != nil {
		// Keep the untrimmed capture rather than lose the session.
		w.logger.Warn().Err(err).Str("session_id", sess.sessionID).Msg("silence trim skipped")
	} else if trimmed, err := w.probe(ctx, sess.tmpPath); err == nil {
		duration = trimmed
	}

	id := uuid.NewString()
	finalPath := filepath.Join(w.dir, id+".ogg")
	if err := os.Rename(sess.tmpPath, finalPath); err != nil {
		return fmt.Errorf("move recording: %w", err)
	}

	rec := &models.Recording{
		ID:              id,
		SessionID:       sess.sessionID,
		Title:           tags["title"],
		Artist:          tags["artist"],
		Genre:           tags["genre"],
		Description:     tags["description"],
		DurationSeconds: duration,
		FilePath:        finalPath,
	}

	if showID, err := w.resolveShow(ctx, sess.showName); err == nil && showID != "" {
		rec.ShowID = &showID
	}

	if err := w.db.WithContext(ctx).Create(rec).Error; err != nil {
		// No phantom rows: the file goes too when the row cannot land.
		_ = os.Remove(finalPath)
		return fmt.Errorf("persist recording: %w", err)
	}

	if w.archive != nil {
		if err := w.archive.Upload(ctx, id+".ogg", finalPath); err != nil {
			w.logger.Warn().Err(err).Str("recording", id).Msg("archive upload failed")
		}
	}

	w.logger.Info().
		Str("recording", id).
		Str("session_id", sess.sessionID).
		Float64("duration", duration).
		Str("title", rec.Title).
		Msg("recording persisted")
	return nil
}

// liveTags snapshots the last-seen livestream metadata. Last-seen
// values win.
func (w *Worker) liveTags(ctx context.Context) map[string]string {
	tags := map[string]string{"title": "", "artist": "", "genre": "", "description": ""}

	raw, ok, err := w.store.Get(ctx, "metadata:livestream")
	if err != nil || !ok {
		return tags
	}

	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return tags
	}
	for key := range tags {
		if v, ok := metadata[key].(string); ok {
			tags[key] = v
		}
	}
	return tags
}

// resolveShow finds or creates the show row for a named session.
func (w *Worker) resolveShow(ctx context.Context, showName string) (string, error) {
	if showName == "" {
		return "", nil
	}

	var show models.Show
	err := w.db.WithContext(ctx).First(&show, "show_name = ?", showName).Error
	if err == nil {
		return show.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	show = models.Show{ID: uuid.NewString(), ShowName: showName}
	if err := w.db.WithContext(ctx).Create(&show).Error; err != nil {
		return "", err
	}
	return show.ID, nil
}
