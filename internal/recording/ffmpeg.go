/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package recording

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Silence trim parameters. Trimming removes at most the leading and
// trailing silence, never audible content.
const (
	silenceThresholdDB   = -50
	silenceLeadDuration  = 0.1
	silenceTrailDuration = 0.5
)

// ProbeDuration reports the duration of an audio file in seconds.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}

// TrimSilence removes leading and trailing silence, re-encoding to
// Ogg/Vorbis and embedding tags as Vorbis comments. The original file
// is replaced on success and preserved on failure.
func TrimSilence(ctx context.Context, path string, tags map[string]string) error {
	tmpPath := path + ".trimmed.ogg"

	args := []string{
		"-i", path,
		"-af", fmt.Sprintf(
			"silenceremove=start_periods=1:start_duration=%g:start_threshold=%ddB,areverse,silenceremove=start_periods=1:start_duration=%g:start_threshold=%ddB,areverse",
			silenceLeadDuration, silenceThresholdDB, silenceTrailDuration, silenceThresholdDB),
		"-c:a", "libvorbis",
		"-q:a", "5",
	}
	for key, value := range tags {
		if value != "" {
			args = append(args, "-metadata", fmt.Sprintf("%s=%s", key, value))
		}
	}
	args = append(args, "-f", "ogg", tmpPath, "-y")

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ffmpeg trim: %w: %s", err, lastLine(stderr.String()))
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace trimmed file: %w", err)
	}
	return nil
}

// Capture is a running stream capture.
type Capture interface {
	// Stop terminates the capture and waits for the file to be flushed.
	Stop() error
}

// CaptureFactory starts a capture of the mixer output into outputPath.
type CaptureFactory func(ctx context.Context, outputPath string) (Capture, error)

// ffmpegCapture records the mixer output URL to an Ogg/Vorbis file.
type ffmpegCapture struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// NewFFmpegCapture returns a CaptureFactory reading from captureURL.
func NewFFmpegCapture(captureURL string) CaptureFactory {
	return func(ctx context.Context, outputPath string) (Capture, error) {
		ctx, cancel := context.WithCancel(ctx)
		cmd := exec.CommandContext(ctx, "ffmpeg",
			"-i", captureURL,
			"-c:a", "libvorbis",
			"-q:a", "5",
			"-f", "ogg",
			outputPath,
			"-y",
		)
		if err := cmd.Start(); err != nil {
			cancel()
			return nil, fmt.Errorf("start capture: %w", err)
		}
		return &ffmpegCapture{cmd: cmd, cancel: cancel}, nil
	}
}

func (c *ffmpegCapture) Stop() error {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Signal(os.Interrupt)
	}

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.cancel()
		<-done
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
