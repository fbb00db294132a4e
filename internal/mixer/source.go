/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SourceKind names one of the three audio sources feeding the mixer.
type SourceKind string

const (
	SourceUser       SourceKind = "user"
	SourceFallback   SourceKind = "fallback"
	SourceLivestream SourceKind = "livestream"
)

// ErrLiveControl indicates a playback command was addressed at the
// livestream source, which has no queue transport to command.
var ErrLiveControl = errors.New("livestream source has no playback control")

// LiveProbe reports livestream slot occupancy and last-seen metadata.
type LiveProbe func(ctx context.Context) (occupied bool, metadata map[string]any, err error)

// Source is the tagged variant over the three transports. The observer
// and queue controller address all sources through the same surface.
type Source struct {
	Kind  SourceKind
	queue QueueControl
	live  LiveProbe
}

// NewQueueSource wraps a queue socket as a source.
func NewQueueSource(kind SourceKind, queue QueueControl) *Source {
	return &Source{Kind: kind, queue: queue}
}

// NewLiveSource wraps the livestream slot as a source.
func NewLiveSource(probe LiveProbe) *Source {
	return &Source{Kind: SourceLivestream, live: probe}
}

// Play starts playback on queue-backed sources.
func (s *Source) Play(ctx context.Context) error {
	if s.queue == nil {
		return ErrLiveControl
	}
	return s.queue.Play(ctx)
}

// Pause pauses queue-backed sources.
func (s *Source) Pause(ctx context.Context) error {
	if s.queue == nil {
		return ErrLiveControl
	}
	return s.queue.Pause(ctx)
}

// Resume resumes queue-backed sources.
func (s *Source) Resume(ctx context.Context) error {
	if s.queue == nil {
		return ErrLiveControl
	}
	return s.queue.Resume(ctx)
}

// Current returns whether the source is audible-capable right now plus
// its current song or embedded metadata.
func (s *Source) Current(ctx context.Context) (active bool, song *Song, metadata map[string]any, err error) {
	if s.live != nil {
		occupied, meta, err := s.live(ctx)
		return occupied, nil, meta, err
	}

	st, err := s.queue.Status(ctx)
	if err != nil {
		return false, nil, nil, err
	}
	cur, err := s.queue.CurrentSong(ctx)
	if err != nil {
		return false, nil, nil, err
	}
	return st.Playing(), cur, nil, nil
}

// FormatSongID prefixes a queue-local id with its queue tag.
func FormatSongID(id int, kind SourceKind) string {
	prefix := "u"
	if kind == SourceFallback {
		prefix = "f"
	}
	return fmt.Sprintf("%s-%d", prefix, id)
}

// ParseSongID splits a prefixed song id into queue-local id and kind.
func ParseSongID(songID string) (int, SourceKind, error) {
	prefix, rest, found := strings.Cut(songID, "-")
	if !found {
		return 0, "", fmt.Errorf("invalid song id format: %s", songID)
	}

	var kind SourceKind
	switch prefix {
	case "u":
		kind = SourceUser
	case "f":
		kind = SourceFallback
	default:
		return 0, "", fmt.Errorf("invalid song id prefix: %s", prefix)
	}

	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, "", fmt.Errorf("invalid song id %q: %w", songID, err)
	}
	return id, kind, nil
}
