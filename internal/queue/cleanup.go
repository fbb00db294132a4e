/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/tidecast/tidecast/internal/events"
	"github.com/tidecast/tidecast/internal/mixer"
)

// Janitor deletes user-queue song files once the mixer reports the song
// ended: either a song_changed transition away from it within the user
// queue, or a queue_switched transition that leaves the user source
// entirely (the queue drained). The fallback queue loops and never
// cleans up.
type Janitor struct {
	svc    *Service
	bus    events.Bus
	logger zerolog.Logger

	lastUserSongID string
}

// NewJanitor creates the cleanup worker.
func NewJanitor(svc *Service, bus events.Bus, logger zerolog.Logger) *Janitor {
	return &Janitor{
		svc:    svc,
		bus:    bus,
		logger: logger.With().Str("component", "queue_janitor").Logger(),
	}
}

// Run consumes playback transitions until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	ch, cancel, err := j.bus.Subscribe(ctx, events.SongChanged, events.QueueSwitched)
	if err != nil {
		return err
	}
	defer cancel()

	j.logger.Info().Msg("queue janitor started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			j.handle(ctx, env)
		}
	}
}

func (j *Janitor) handle(ctx context.Context, env events.Envelope) {
	switch env.EventType {
	case events.SongChanged:
		var data events.SongChangedData
		if err := env.DecodeData(&data); err != nil {
			j.logger.Error().Err(err).Msg("bad song_changed payload")
			return
		}
		j.handleSongChanged(ctx, data)

	case events.QueueSwitched:
		var data events.QueueSwitchedData
		if err := env.DecodeData(&data); err != nil {
			j.logger.Error().Err(err).Msg("bad queue_switched payload")
			return
		}
		j.handleQueueSwitched(ctx, data)
	}
}

func (j *Janitor) handleSongChanged(ctx context.Context, data events.SongChangedData) {
	if data.Playlist != string(mixer.SourceUser) {
		return
	}

	previous := j.lastUserSongID
	j.lastUserSongID = data.SongID
	if previous == "" || previous == data.SongID {
		return
	}

	j.reap(ctx, previous)
}

// handleQueueSwitched reaps the final user song when playback leaves
// the user source: the drained queue produces no further song_changed
// on the user playlist.
func (j *Janitor) handleQueueSwitched(ctx context.Context, data events.QueueSwitchedData) {
	if data.From != string(mixer.SourceUser) {
		return
	}

	previous := j.lastUserSongID
	j.lastUserSongID = ""
	if previous == "" {
		return
	}

	j.reap(ctx, previous)
}

// reap removes a played song's file and tracking state, but only once
// the mixer no longer holds it: a song still present in the user queue
// has not finished playing. A file that is already gone is a benign
// race with the observer poll and is ignored.
func (j *Janitor) reap(ctx context.Context, songID string) {
	if j.stillQueued(ctx, songID) {
		j.logger.Debug().Str("song_id", songID).Msg("cleanup skipped: song still queued")
		return
	}

	path, ok, err := j.svc.store.Get(ctx, songFileKey(songID))
	if err != nil {
		j.logger.Error().Err(err).Str("song_id", songID).Msg("cleanup lookup failed")
		return
	}
	if ok && path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(j.svc.musicDir, path)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			j.logger.Warn().Err(err).Str("path", path).Msg("failed to remove played song file")
		}
	}

	owner, _, _ := j.svc.store.Get(ctx, songOwnerKey(songID))
	j.svc.forgetSong(ctx, songID, owner, true)

	j.logger.Debug().Str("song_id", songID).Msg("played song cleaned up")
}

// stillQueued reports whether the user queue still holds songID. An
// unreachable socket counts as still queued: reaping needs positive
// confirmation the mixer is done with the file.
func (j *Janitor) stillQueued(ctx context.Context, songID string) bool {
	id, kind, err := mixer.ParseSongID(songID)
	if err != nil || kind != mixer.SourceUser {
		return false
	}

	songs, err := j.svc.user.Queue(ctx)
	if err != nil {
		j.logger.Warn().Err(err).Str("song_id", songID).Msg("cleanup deferred: user queue unavailable")
		return true
	}
	for _, song := range songs {
		if song.ID == id {
			return true
		}
	}
	return false
}
