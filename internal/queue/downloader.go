/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// ErrPlaylistNotAllowed rejects playlist URLs; only single tracks are
// admitted.
var ErrPlaylistNotAllowed = errors.New("playlist urls are not allowed")

// MediaInfo is the tag metadata reported for a remote media URL.
type MediaInfo struct {
	Title           string
	Artist          string
	DurationSeconds int
}

// Downloader is the media download utility: URL in, audio file plus tag
// metadata out. Consumed as a blocking call under the caller's deadline.
type Downloader interface {
	// Probe fetches metadata without downloading.
	Probe(ctx context.Context, url string) (*MediaInfo, error)

	// Download fetches the URL as an mp3 written to targetPath.
	Download(ctx context.Context, url, targetPath string) error
}

// ExecDownloader shells out to yt-dlp.
type ExecDownloader struct {
	bin    string
	logger zerolog.Logger
}

// NewExecDownloader creates a downloader using the given yt-dlp binary.
func NewExecDownloader(bin string, logger zerolog.Logger) *ExecDownloader {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &ExecDownloader{
		bin:    bin,
		logger: logger.With().Str("component", "downloader").Logger(),
	}
}

type probeOutput struct {
	Type     string          `json:"_type"`
	Title    string          `json:"title"`
	Artist   string          `json:"artist"`
	Uploader string          `json:"uploader"`
	Channel  string          `json:"channel"`
	Duration float64         `json:"duration"`
	Entries  json.RawMessage `json:"entries"`
}

func (d *ExecDownloader) Probe(ctx context.Context, url string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, d.bin, "-J", "--no-warnings", "--no-playlist", url)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("probe media url: %w: %s", err, firstLine(stderr.String()))
	}

	var info probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("parse media info: %w", err)
	}

	if info.Type == "playlist" || len(info.Entries) > 0 {
		return nil, ErrPlaylistNotAllowed
	}

	artist := info.Artist
	if artist == "" {
		artist = info.Uploader
	}
	if artist == "" {
		artist = info.Channel
	}

	return &MediaInfo{
		Title:           info.Title,
		Artist:          artist,
		DurationSeconds: int(info.Duration),
	}, nil
}

func (d *ExecDownloader) Download(ctx context.Context, url, targetPath string) error {
	cmd := exec.CommandContext(ctx, d.bin,
		"-x", "--audio-format", "mp3", "--audio-quality", "0",
		"--no-playlist", "--no-warnings",
		"--embed-metadata",
		"-o", targetPath,
		url,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Never leave a partial download behind.
		_ = os.Remove(targetPath)
		return fmt.Errorf("download media url: %w: %s", err, firstLine(stderr.String()))
	}

	if _, err := os.Stat(targetPath); err != nil {
		return fmt.Errorf("download produced no file: %w", err)
	}

	d.logger.Debug().Str("url", url).Str("path", targetPath).Msg("media downloaded")
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
