/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue is the queue controller: it admits media into the user
// or fallback queue, owns quota enforcement and duplicate prevention,
// and cleans up user-queue files once the mixer has played them.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tidecast/tidecast/internal/auth"
	"github.com/tidecast/tidecast/internal/faults"
	"github.com/tidecast/tidecast/internal/mixer"
	"github.com/tidecast/tidecast/internal/models"
	"github.com/tidecast/tidecast/internal/state"
)

// Song tracking keys live at most twice the longest token lifetime, so
// a principal's state outlives every token that can reference it.
const trackingTTL = 48 * time.Hour

// Limits bundles the admission tuning constants.
type Limits struct {
	MaxSongDuration time.Duration
	MaxFileSize     int64
	DupWindow       int
	DownloadTimeout time.Duration
}

// ProbeFileFunc reports the duration of a local audio file.
type ProbeFileFunc func(ctx context.Context, path string) (float64, error)

// Service admits, lists, deletes, and controls queued songs.
type Service struct {
	user     mixer.QueueControl
	fallback mixer.QueueControl
	store    state.Store
	dl       Downloader
	probe    ProbeFileFunc
	db       *gorm.DB
	limits   Limits
	musicDir string
	logger   zerolog.Logger
}

// NewService creates the queue controller. Staged files of both queues
// are written directly into musicDir.
func NewService(user, fallback mixer.QueueControl, store state.Store,
	dl Downloader, probe ProbeFileFunc, db *gorm.DB, limits Limits, musicDir string,
	logger zerolog.Logger) *Service {
	return &Service{
		user:     user,
		fallback: fallback,
		store:    store,
		dl:       dl,
		probe:    probe,
		db:       db,
		limits:   limits,
		musicDir: musicDir,
		logger:   logger.With().Str("component", "queue").Logger(),
	}
}

// AddRequest is one admission: exactly one of URL or File is set.
type AddRequest struct {
	URL      string
	File     io.Reader
	FileName string
	SongName string
	Artist   string
}

// SongItem is a queue listing entry.
type SongItem struct {
	SongID string `json:"song_id"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Queue  string `json:"queue"`
}

func (s *Service) client(kind mixer.SourceKind) mixer.QueueControl {
	if kind == mixer.SourceFallback {
		return s.fallback
	}
	return s.user
}

func quotaQueuedKey(principalID string) string   { return "quota:" + principalID + ":queued" }
func quotaLifetimeKey(principalID string) string { return "quota:" + principalID + ":lifetime" }
func songOwnerKey(songID string) string          { return "song:" + songID + ":user" }
func songFingerprintKey(songID string) string    { return "song:" + songID + ":fingerprint" }
func songFileKey(songID string) string           { return "song:" + songID + ":file" }
func userSongsKey(principalID string) string     { return "user:" + principalID + ":songs" }

// AddUserSong runs the full admission pipeline for a user principal.
// Preconditions are checked in order; any failure aborts without
// durable traces.
func (s *Service) AddUserSong(ctx context.Context, principal *auth.Principal, req AddRequest) (string, error) {
	if principal == nil || principal.Kind != auth.KindUser {
		return "", faults.New(faults.Forbidden, "user token required")
	}

	lifetime, err := s.counter(ctx, quotaLifetimeKey(principal.ID))
	if err != nil {
		return "", faults.Wrap(faults.TemporarilyUnavailable, "state store unavailable", err)
	}
	if lifetime >= int64(principal.MaxAddRequests) {
		return "", faults.New(faults.Forbidden, "quota_exhausted")
	}

	queued, err := s.counter(ctx, quotaQueuedKey(principal.ID))
	if err != nil {
		return "", faults.Wrap(faults.TemporarilyUnavailable, "state store unavailable", err)
	}
	if queued >= int64(principal.MaxQueueSongs) {
		return "", faults.New(faults.Forbidden, "queue_full")
	}

	admitted, err := s.prepare(ctx, req, false)
	if err != nil {
		return "", err
	}

	// Quota reservation is the write barrier: concurrent admissions can
	// never push either counter past its bound.
	result, err := s.store.IncrBoundedPair(ctx,
		quotaQueuedKey(principal.ID), quotaLifetimeKey(principal.ID),
		int64(principal.MaxQueueSongs), int64(principal.MaxAddRequests), trackingTTL)
	if err != nil {
		admitted.discard()
		return "", faults.Wrap(faults.TemporarilyUnavailable, "state store unavailable", err)
	}
	switch result {
	case state.BoundedLimitA:
		admitted.discard()
		return "", faults.New(faults.Forbidden, "queue_full")
	case state.BoundedLimitB:
		admitted.discard()
		return "", faults.New(faults.Forbidden, "quota_exhausted")
	}

	songID, err := s.insert(ctx, mixer.SourceUser, admitted)
	if err != nil {
		admitted.discard()
		_, _ = s.store.IncrBy(ctx, quotaQueuedKey(principal.ID), -1)
		_, _ = s.store.IncrBy(ctx, quotaLifetimeKey(principal.ID), -1)
		return "", err
	}

	_ = s.store.SetAdd(ctx, userSongsKey(principal.ID), songID)
	_ = s.store.Set(ctx, songOwnerKey(songID), principal.ID, trackingTTL)
	_ = s.store.Set(ctx, songFingerprintKey(songID), admitted.fingerprint, trackingTTL)
	_ = s.store.Set(ctx, songFileKey(songID), admitted.path, trackingTTL)

	s.logger.Info().
		Str("song_id", songID).
		Str("principal", principal.ID).
		Str("title", admitted.title).
		Msg("song admitted to user queue")

	return songID, nil
}

// AddAdminSong admits into either queue without quotas or validation.
func (s *Service) AddAdminSong(ctx context.Context, principal *auth.Principal, kind mixer.SourceKind, req AddRequest) (string, error) {
	admitted, err := s.prepare(ctx, req, true)
	if err != nil {
		return "", err
	}

	songID, err := s.insert(ctx, kind, admitted)
	if err != nil {
		admitted.discard()
		return "", err
	}

	meta := &models.SongAdminMetadata{
		ID:      uuid.NewString(),
		SongID:  songID,
		Queue:   string(kind),
		Title:   admitted.title,
		Artist:  admitted.artist,
		AddedBy: principal.ID,
	}
	if err := s.db.WithContext(ctx).Create(meta).Error; err != nil {
		s.logger.Error().Err(err).Str("song_id", songID).Msg("failed to record admin song metadata")
	}

	return songID, nil
}

// admittedMedia is a validated file staged on disk, not yet queued.
type admittedMedia struct {
	path        string
	fileName    string
	title       string
	artist      string
	fingerprint string
}

func (a *admittedMedia) discard() {
	if a.path != "" {
		_ = os.Remove(a.path)
	}
}

// prepare validates the input and stages the media file under the
// queue music directory.
func (s *Service) prepare(ctx context.Context, req AddRequest, skipValidation bool) (*admittedMedia, error) {
	hasURL := req.URL != ""
	hasFile := req.File != nil
	if hasURL == hasFile {
		return nil, faults.New(faults.BadInput, "exactly one of url or file is required")
	}

	if hasURL {
		return s.prepareURL(ctx, req, skipValidation)
	}
	return s.prepareFile(ctx, req, skipValidation)
}

func (s *Service) prepareURL(ctx context.Context, req AddRequest, skipValidation bool) (*admittedMedia, error) {
	fingerprint, err := FingerprintURL(req.URL)
	if err != nil {
		return nil, faults.Wrap(faults.BadInput, "malformed url", err)
	}

	dlCtx, cancel := context.WithTimeout(ctx, s.limits.DownloadTimeout)
	defer cancel()

	info, err := s.dl.Probe(dlCtx, req.URL)
	if err != nil {
		if errors.Is(err, ErrPlaylistNotAllowed) {
			return nil, faults.Wrap(faults.BadInput, "playlist urls are not allowed", err)
		}
		return nil, faults.Wrap(faults.TemporarilyUnavailable, "media probe failed", err)
	}

	if !skipValidation && time.Duration(info.DurationSeconds)*time.Second > s.limits.MaxSongDuration {
		return nil, faults.Newf(faults.BadInput, "too_long: %ds exceeds %s",
			info.DurationSeconds, s.limits.MaxSongDuration)
	}

	if !skipValidation {
		if err := s.checkDuplicate(ctx, fingerprint); err != nil {
			return nil, err
		}
	}

	fileName := uuid.NewString() + ".mp3"
	path := filepath.Join(s.musicDir, fileName)
	if err := s.dl.Download(dlCtx, req.URL, path); err != nil {
		return nil, faults.Wrap(faults.TemporarilyUnavailable, "media download failed", err)
	}

	title := req.SongName
	if title == "" {
		title = info.Title
	}
	artist := req.Artist
	if artist == "" {
		artist = info.Artist
	}

	return &admittedMedia{
		path:        path,
		fileName:    fileName,
		title:       title,
		artist:      artist,
		fingerprint: fingerprint,
	}, nil
}

func (s *Service) prepareFile(ctx context.Context, req AddRequest, skipValidation bool) (*admittedMedia, error) {
	limit := s.limits.MaxFileSize
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(req.File, limit+1))
	if err != nil {
		return nil, faults.Wrap(faults.BadInput, "read uploaded file", err)
	}
	if !skipValidation && n > limit {
		return nil, faults.Newf(faults.BadInput, "file exceeds maximum size of %d bytes", limit)
	}

	fingerprint, err := FingerprintReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, faults.Wrap(faults.Internal, "fingerprint upload", err)
	}

	fileName := uuid.NewString() + ".mp3"
	path := filepath.Join(s.musicDir, fileName)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, faults.Wrap(faults.Internal, "stage uploaded file", err)
	}

	media := &admittedMedia{
		path:        path,
		fileName:    fileName,
		title:       req.SongName,
		artist:      req.Artist,
		fingerprint: fingerprint,
	}
	if media.title == "" {
		media.title = req.FileName
	}

	if !skipValidation {
		duration, err := s.probe(ctx, path)
		if err != nil {
			media.discard()
			return nil, faults.Wrap(faults.BadInput, "unsupported file", err)
		}
		if time.Duration(duration)*time.Second > s.limits.MaxSongDuration {
			media.discard()
			return nil, faults.Newf(faults.BadInput, "too_long: %.0fs exceeds %s",
				duration, s.limits.MaxSongDuration)
		}

		if err := s.checkDuplicate(ctx, fingerprint); err != nil {
			media.discard()
			return nil, err
		}
	}

	return media, nil
}

// checkDuplicate rejects a fingerprint already present within the next
// DupWindow positions of the user queue.
func (s *Service) checkDuplicate(ctx context.Context, fingerprint string) error {
	songs, err := s.user.Queue(ctx)
	if err != nil {
		// An unreachable queue socket cannot prove a duplicate.
		s.logger.Warn().Err(err).Msg("duplicate check skipped: user queue unavailable")
		return nil
	}

	window := s.limits.DupWindow
	if window > len(songs) {
		window = len(songs)
	}
	for _, song := range songs[:window] {
		songID := mixer.FormatSongID(song.ID, mixer.SourceUser)
		fp, ok, err := s.store.Get(ctx, songFingerprintKey(songID))
		if err != nil {
			return faults.Wrap(faults.TemporarilyUnavailable, "state store unavailable", err)
		}
		if ok && fp == fingerprint {
			return faults.New(faults.Forbidden, "duplicate")
		}
	}
	return nil
}

// insert adds the staged file to the target queue and starts playback.
func (s *Service) insert(ctx context.Context, kind mixer.SourceKind, media *admittedMedia) (string, error) {
	client := s.client(kind)

	if err := client.Update(ctx); err != nil {
		return "", faults.Wrap(faults.TemporarilyUnavailable, "queue socket unavailable", err)
	}

	id, err := client.Add(ctx, media.fileName)
	if err != nil {
		if errors.Is(err, mixer.ErrFileNotFound) {
			return "", faults.Wrap(faults.NotFound, "file not found in queue database", err)
		}
		return "", faults.Wrap(faults.TemporarilyUnavailable, "queue socket unavailable", err)
	}

	if kind == mixer.SourceUser {
		_ = client.SetConsume(ctx, true)
	} else {
		_ = client.SetRepeat(ctx, true)
		_ = client.SetRandom(ctx, true)
	}
	_ = client.Play(ctx)

	songID := mixer.FormatSongID(id, kind)

	metadata := map[string]any{
		"title":       nilIfEmpty(media.title),
		"artist":      nilIfEmpty(media.artist),
		"genre":       nil,
		"description": nil,
	}
	s.setMetadata(ctx, string(kind), metadata)

	// song_changed is the observer's to emit: it derives transitions
	// from the queue sockets, not from admissions.
	s.logger.Debug().
		Str("song_id", songID).
		Str("queue", string(kind)).
		Str("title", orFile(media.title, media.fileName)).
		Msg("song inserted into queue")

	return songID, nil
}

// DeleteUserSong removes a song the principal owns from the user queue.
func (s *Service) DeleteUserSong(ctx context.Context, principal *auth.Principal, songID string) error {
	id, kind, err := mixer.ParseSongID(songID)
	if err != nil || kind != mixer.SourceUser {
		return faults.New(faults.BadInput, "invalid song id")
	}

	owner, ok, err := s.store.Get(ctx, songOwnerKey(songID))
	if err != nil {
		return faults.Wrap(faults.TemporarilyUnavailable, "state store unavailable", err)
	}
	if !ok {
		return faults.New(faults.NotFound, "song not found")
	}
	if principal.Kind != auth.KindAdmin && owner != principal.ID {
		return faults.New(faults.Forbidden, "song belongs to another user")
	}

	if err := s.user.DeleteID(ctx, id); err != nil {
		if errors.Is(err, mixer.ErrSongNotFound) {
			return faults.Wrap(faults.NotFound, "song not found", err)
		}
		return faults.Wrap(faults.TemporarilyUnavailable, "queue socket unavailable", err)
	}

	s.forgetSong(ctx, songID, owner, true)
	return nil
}

// DeleteAdminSong removes a song from either queue without ownership
// checks.
func (s *Service) DeleteAdminSong(ctx context.Context, songID string) error {
	id, kind, err := mixer.ParseSongID(songID)
	if err != nil {
		return faults.New(faults.BadInput, "invalid song id")
	}

	if err := s.client(kind).DeleteID(ctx, id); err != nil {
		if errors.Is(err, mixer.ErrSongNotFound) {
			return faults.Wrap(faults.NotFound, "song not found", err)
		}
		return faults.Wrap(faults.TemporarilyUnavailable, "queue socket unavailable", err)
	}

	if kind == mixer.SourceUser {
		owner, ok, _ := s.store.Get(ctx, songOwnerKey(songID))
		if ok {
			s.forgetSong(ctx, songID, owner, true)
		}
	}
	return nil
}

// forgetSong drops tracking state for a song. Deletion decrements the
// queued count; the lifetime counter is monotonic and never touched.
func (s *Service) forgetSong(ctx context.Context, songID, owner string, decrement bool) {
	if owner != "" {
		_ = s.store.SetRemove(ctx, userSongsKey(owner), songID)
		if decrement {
			if n, err := s.store.IncrBy(ctx, quotaQueuedKey(owner), -1); err == nil && n < 0 {
				_, _ = s.store.IncrBy(ctx, quotaQueuedKey(owner), -n)
			}
		}
	}
	_ = s.store.Del(ctx, songOwnerKey(songID), songFingerprintKey(songID), songFileKey(songID))
}

// ListNext returns up to limit songs, user queue first, topping up from
// the fallback queue.
func (s *Service) ListNext(ctx context.Context, limit int) ([]SongItem, error) {
	userSongs, err := s.user.Queue(ctx)
	if err != nil {
		return nil, faults.Wrap(faults.TemporarilyUnavailable, "queue socket unavailable", err)
	}

	items := make([]SongItem, 0, limit)
	for _, song := range userSongs {
		if len(items) == limit {
			return items, nil
		}
		items = append(items, songToItem(song, mixer.SourceUser))
	}

	fallbackSongs, err := s.fallback.Queue(ctx)
	if err != nil {
		return nil, faults.Wrap(faults.TemporarilyUnavailable, "queue socket unavailable", err)
	}
	for _, song := range fallbackSongs {
		if len(items) == limit {
			break
		}
		items = append(items, songToItem(song, mixer.SourceFallback))
	}
	return items, nil
}

// ListQueue returns the whole content of one queue (admin surface).
func (s *Service) ListQueue(ctx context.Context, kind mixer.SourceKind) ([]SongItem, error) {
	songs, err := s.client(kind).Queue(ctx)
	if err != nil {
		return nil, faults.Wrap(faults.TemporarilyUnavailable, "queue socket unavailable", err)
	}
	items := make([]SongItem, 0, len(songs))
	for _, song := range songs {
		items = append(items, songToItem(song, kind))
	}
	return items, nil
}

func songToItem(song mixer.Song, kind mixer.SourceKind) SongItem {
	title := song.Title
	if title == "" {
		title = song.File
	}
	return SongItem{
		SongID: mixer.FormatSongID(song.ID, kind),
		Title:  title,
		Artist: song.Artist,
		Queue:  string(kind),
	}
}

// Clear empties one queue.
func (s *Service) Clear(ctx context.Context, kind mixer.SourceKind) error {
	if err := s.client(kind).Clear(ctx); err != nil {
		return faults.Wrap(faults.TemporarilyUnavailable, "queue socket unavailable", err)
	}
	s.logger.Info().Str("queue", string(kind)).Msg("queue cleared")
	return nil
}

// PlaybackAction names a control operation.
type PlaybackAction string

const (
	ActionPlay   PlaybackAction = "play"
	ActionPause  PlaybackAction = "pause"
	ActionResume PlaybackAction = "resume"
)

// Control maps a playback action onto the queue's control socket.
func (s *Service) Control(ctx context.Context, action PlaybackAction, kind mixer.SourceKind) error {
	client := s.client(kind)

	var err error
	switch action {
	case ActionPlay:
		if kind == mixer.SourceFallback {
			_ = client.SetRepeat(ctx, true)
			_ = client.SetRandom(ctx, true)
		}
		err = client.Play(ctx)
	case ActionPause:
		err = client.Pause(ctx)
	case ActionResume:
		err = client.Resume(ctx)
	default:
		return faults.Newf(faults.BadInput, "unknown playback action %q", action)
	}

	if err != nil {
		return faults.Wrap(faults.TemporarilyUnavailable, "queue socket unavailable", err)
	}
	return nil
}

// ResumePlayback nudges both queues back into their playing modes.
// Called when the server starts.
func (s *Service) ResumePlayback(ctx context.Context) {
	if st, err := s.user.Status(ctx); err == nil && st.QueueLength > 0 {
		_ = s.user.SetConsume(ctx, true)
		_ = s.user.Play(ctx)
	}
	if st, err := s.fallback.Status(ctx); err == nil && st.QueueLength > 0 {
		_ = s.fallback.SetRepeat(ctx, true)
		_ = s.fallback.SetRandom(ctx, true)
		_ = s.fallback.Play(ctx)
	}
}

// QuotaState reports a principal's current counters.
func (s *Service) QuotaState(ctx context.Context, principalID string) (queued, lifetime int64, err error) {
	queued, err = s.counter(ctx, quotaQueuedKey(principalID))
	if err != nil {
		return 0, 0, err
	}
	lifetime, err = s.counter(ctx, quotaLifetimeKey(principalID))
	if err != nil {
		return 0, 0, err
	}
	return queued, lifetime, nil
}

func (s *Service) counter(ctx context.Context, key string) (int64, error) {
	val, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var n int64
	_, err = fmt.Sscanf(val, "%d", &n)
	return n, err
}

func (s *Service) setMetadata(ctx context.Context, source string, metadata map[string]any) {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return
	}
	_ = s.store.Set(ctx, "metadata:"+source, string(payload), 0)
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orFile(title, file string) string {
	if title != "" {
		return title
	}
	return file
}
