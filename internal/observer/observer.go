/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package observer polls the mixer's two queue sockets and the
// livestream slot, derives the now-playing projection, and emits
// queue_switched and song_changed transitions.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidecast/tidecast/internal/events"
	"github.com/tidecast/tidecast/internal/livestream"
	"github.com/tidecast/tidecast/internal/mixer"
	"github.com/tidecast/tidecast/internal/state"
)

// NowPlaying is the derived projection: recomputed, never persisted
// beyond the metadata keys the API reads.
type NowPlaying struct {
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata"`
}

// Observer runs the poll loop. Only the lease holder publishes
// transitions, so replicas never double-emit.
type Observer struct {
	user     mixer.QueueControl
	fallback mixer.QueueControl
	arbiter  *livestream.Arbiter
	store    state.Store
	bus      events.Bus
	lease    *state.Lease
	interval time.Duration
	logger   zerolog.Logger

	prevSource   string
	prevIdentity string
}

// New creates the source observer.
func New(user, fallback mixer.QueueControl, arbiter *livestream.Arbiter, store state.Store,
	bus events.Bus, lease *state.Lease, interval time.Duration, logger zerolog.Logger) *Observer {
	return &Observer{
		user:     user,
		fallback: fallback,
		arbiter:  arbiter,
		store:    store,
		bus:      bus,
		lease:    lease,
		interval: interval,
		logger:   logger.With().Str("component", "observer").Logger(),
	}
}

// Run polls until ctx is done. Socket failures mark the source silent
// for the tick; the loop itself never stops on them.
func (o *Observer) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.logger.Info().Dur("interval", o.interval).Msg("source observer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !o.lease.Held() {
				continue
			}
			o.Tick(ctx)
		}
	}
}

// observation is one derived poll result.
type observation struct {
	source   string
	identity string
	songID   string
	title    string
	artist   string
	file     string
	metadata map[string]any
	// stale marks an observation whose identity could not be derived
	// (socket error, file already reaped); transitions are suppressed.
	stale bool
}

// Tick performs one poll and emits transitions. Exported for tests.
func (o *Observer) Tick(ctx context.Context) {
	obs := o.observe(ctx)
	if obs.stale {
		return
	}

	o.persist(ctx, obs)

	if o.prevSource != "" && obs.source != o.prevSource {
		from, to := o.prevSource, obs.source
		if err := o.bus.Publish(ctx, events.QueueSwitched,
			fmt.Sprintf("Audio source switched from %s to %s", from, to),
			events.QueueSwitchedData{From: from, To: to}); err != nil {
			o.logger.Error().Err(err).Msg("failed to publish queue_switched")
		}
	}

	// The first observation after startup establishes the baseline
	// without emitting.
	if obs.identity != "" && o.prevIdentity != "" &&
		(obs.source != o.prevSource || obs.identity != o.prevIdentity) {
		o.publishSongChanged(ctx, obs)
	}

	o.prevSource = obs.source
	if obs.identity != "" {
		o.prevIdentity = obs.identity
	}
}

func (o *Observer) publishSongChanged(ctx context.Context, obs observation) {
	data := events.SongChangedData{
		SongID:   obs.songID,
		Playlist: obs.source,
		Title:    obs.title,
		Artist:   obs.artist,
		File:     obs.file,
		Source:   obs.source,
	}
	description := fmt.Sprintf("Song changed on %s", obs.source)
	if obs.title != "" {
		description = fmt.Sprintf("Now playing: %s", obs.title)
	}
	if err := o.bus.Publish(ctx, events.SongChanged, description, data); err != nil {
		o.logger.Error().Err(err).Msg("failed to publish song_changed")
	}
}

func (o *Observer) observe(ctx context.Context) observation {
	occupied, err := o.arbiter.Occupied(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("slot probe failed")
		return observation{stale: true}
	}

	if occupied {
		metadata, _ := o.arbiter.LiveMetadata(ctx)
		if metadata == nil {
			metadata = emptyMetadata()
		}
		identity, _ := json.Marshal(metadata)
		return observation{
			source:   string(mixer.SourceLivestream),
			identity: "live:" + string(identity),
			title:    stringField(metadata, "title"),
			artist:   stringField(metadata, "artist"),
			metadata: metadata,
		}
	}

	if obs, ok := o.observeQueue(ctx, o.user, mixer.SourceUser); ok {
		return obs
	}
	if obs, ok := o.observeQueue(ctx, o.fallback, mixer.SourceFallback); ok {
		return obs
	}

	// Both queues silent: fallback remains the nominal source.
	return observation{
		source:   string(mixer.SourceFallback),
		metadata: emptyMetadata(),
	}
}

// observeQueue reports (observation, true) when the queue is playing.
func (o *Observer) observeQueue(ctx context.Context, client mixer.QueueControl, kind mixer.SourceKind) (observation, bool) {
	st, err := client.Status(ctx)
	if err != nil {
		// Unreachable socket: treat the queue as silent.
		o.logger.Debug().Err(err).Str("queue", string(kind)).Msg("queue socket unavailable")
		return observation{}, false
	}
	if !st.Playing() {
		return observation{}, false
	}

	cur, err := client.CurrentSong(ctx)
	if err != nil || cur == nil {
		// Playing but the song cannot be resolved: likely the transient
		// window between cleanup and the queue advancing. Do not emit.
		return observation{stale: true}, true
	}

	songID := mixer.FormatSongID(cur.ID, kind)
	return observation{
		source:   string(kind),
		identity: fmt.Sprintf("%s:%s:%d", kind, cur.File, cur.Pos),
		songID:   songID,
		title:    cur.Title,
		artist:   cur.Artist,
		file:     cur.File,
		metadata: map[string]any{
			"title":       nilIfEmpty(cur.Title),
			"artist":      nilIfEmpty(cur.Artist),
			"genre":       nil,
			"description": nil,
		},
	}, true
}

func (o *Observer) persist(ctx context.Context, obs observation) {
	_ = o.store.Set(ctx, "metadata:active_source", obs.source, 0)
	if obs.metadata != nil {
		if payload, err := json.Marshal(obs.metadata); err == nil {
			_ = o.store.Set(ctx, "metadata:"+obs.source, string(payload), 0)
		}
	}
}

// Snapshot derives the now-playing projection for the API.
func Snapshot(ctx context.Context, store state.Store, arbiter *livestream.Arbiter) (NowPlaying, error) {
	occupied, err := arbiter.Occupied(ctx)
	if err != nil {
		return NowPlaying{}, err
	}

	if occupied {
		metadata, _ := arbiter.LiveMetadata(ctx)
		if metadata == nil {
			metadata = emptyMetadata()
		}
		return NowPlaying{Source: string(mixer.SourceLivestream), Metadata: metadata}, nil
	}

	source, ok, err := store.Get(ctx, "metadata:active_source")
	if err != nil {
		return NowPlaying{}, err
	}
	if !ok || source == "" || source == string(mixer.SourceLivestream) {
		source = string(mixer.SourceFallback)
	}

	metadata := emptyMetadata()
	if raw, ok, err := store.Get(ctx, "metadata:"+source); err == nil && ok {
		_ = json.Unmarshal([]byte(raw), &metadata)
	}
	return NowPlaying{Source: source, Metadata: metadata}, nil
}

func emptyMetadata() map[string]any {
	return map[string]any{
		"title":       nil,
		"artist":      nil,
		"genre":       nil,
		"description": nil,
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
