/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mixer speaks to the external audio mixer: the two MPD-style
// queue-playback control sockets, and the telnet-style command channel
// used to force a live-session disconnect.
package mixer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSongNotFound indicates the queue has no song with the given id.
var ErrSongNotFound = errors.New("song not found in queue")

// ErrFileNotFound indicates the queue database has no such file.
var ErrFileNotFound = errors.New("file not found in queue database")

// Song is one queue entry.
type Song struct {
	ID              int
	Pos             int
	File            string
	Title           string
	Artist          string
	DurationSeconds float64
}

// Status is the player state of one queue socket.
type Status struct {
	State       string // play, pause, stop
	QueueLength int
	SongID      int // -1 when nothing is loaded
}

// Playing reports whether the queue is actively playing.
func (s Status) Playing() bool { return s.State == "play" }

// QueueControl is the command surface the controller and observer need
// from one queue socket.
type QueueControl interface {
	Status(ctx context.Context) (Status, error)
	CurrentSong(ctx context.Context) (*Song, error)
	Queue(ctx context.Context) ([]Song, error)
	Add(ctx context.Context, uri string) (int, error)
	DeleteID(ctx context.Context, id int) error
	Clear(ctx context.Context) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetConsume(ctx context.Context, on bool) error
	SetRepeat(ctx context.Context, on bool) error
	SetRandom(ctx context.Context, on bool) error
	Update(ctx context.Context) error
}

// QueueClient implements QueueControl over the MPD line protocol.
// A single connection is shared and guarded; commands reconnect once
// after a broken pipe.
type QueueClient struct {
	addr    string
	timeout time.Duration
	logger  zerolog.Logger

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// NewQueueClient creates a client for one queue control socket.
func NewQueueClient(addr string, logger zerolog.Logger) *QueueClient {
	return &QueueClient{
		addr:    addr,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "mixer").Str("addr", addr).Logger(),
	}
}

func (c *QueueClient) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial queue socket: %w", err)
	}

	r := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(c.timeout))
	banner, err := r.ReadString('\n')
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("read banner: %w", err)
	}
	if !strings.HasPrefix(banner, "OK") {
		_ = conn.Close()
		return fmt.Errorf("unexpected banner %q", strings.TrimSpace(banner))
	}

	c.conn = conn
	c.r = r
	return nil
}

func (c *QueueClient) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.r = nil
	}
}

// Close shuts the connection down.
func (c *QueueClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}

// command runs one protocol command and returns the key/value response
// lines, retrying once on a stale connection.
func (c *QueueClient) command(ctx context.Context, cmd string) ([][2]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pairs, err := c.commandLocked(ctx, cmd)
	if err != nil && !isProtocolError(err) {
		c.dropLocked()
		pairs, err = c.commandLocked(ctx, cmd)
	}
	return pairs, err
}

func (c *QueueClient) commandLocked(ctx context.Context, cmd string) ([][2]string, error) {
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := fmt.Fprintf(c.conn, "%s\n", cmd); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}

	var pairs [][2]string
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		line, err := c.r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "OK" {
			return pairs, nil
		}
		if strings.HasPrefix(line, "ACK") {
			return nil, classifyAck(line)
		}
		if key, value, found := strings.Cut(line, ": "); found {
			pairs = append(pairs, [2]string{key, value})
		}
	}
}

// protocolError is a command rejection from a healthy connection; there
// is no point reconnecting for it.
type protocolError struct{ line string }

func (e *protocolError) Error() string { return e.line }

func classifyAck(line string) error {
	switch {
	case strings.Contains(line, "No such song"):
		return fmt.Errorf("%w: %s", ErrSongNotFound, line)
	case strings.Contains(line, "No such directory"), strings.Contains(line, "No such file"):
		return fmt.Errorf("%w: %s", ErrFileNotFound, line)
	default:
		return &protocolError{line: line}
	}
}

func isProtocolError(err error) bool {
	var pe *protocolError
	return errors.As(err, &pe) ||
		errors.Is(err, ErrSongNotFound) ||
		errors.Is(err, ErrFileNotFound)
}

func (c *QueueClient) Status(ctx context.Context) (Status, error) {
	pairs, err := c.command(ctx, "status")
	if err != nil {
		return Status{}, err
	}

	st := Status{SongID: -1}
	for _, kv := range pairs {
		switch kv[0] {
		case "state":
			st.State = kv[1]
		case "playlistlength":
			st.QueueLength, _ = strconv.Atoi(kv[1])
		case "songid":
			st.SongID, _ = strconv.Atoi(kv[1])
		}
	}
	return st, nil
}

func (c *QueueClient) CurrentSong(ctx context.Context) (*Song, error) {
	pairs, err := c.command(ctx, "currentsong")
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	song := parseSong(pairs)
	return &song, nil
}

func (c *QueueClient) Queue(ctx context.Context) ([]Song, error) {
	pairs, err := c.command(ctx, "playlistinfo")
	if err != nil {
		return nil, err
	}

	var songs []Song
	var current [][2]string
	for _, kv := range pairs {
		if kv[0] == "file" && len(current) > 0 {
			songs = append(songs, parseSong(current))
			current = current[:0]
		}
		current = append(current, kv)
	}
	if len(current) > 0 {
		songs = append(songs, parseSong(current))
	}
	return songs, nil
}

func parseSong(pairs [][2]string) Song {
	song := Song{ID: -1, Pos: -1}
	for _, kv := range pairs {
		switch kv[0] {
		case "file":
			song.File = kv[1]
		case "Title":
			song.Title = kv[1]
		case "Artist":
			song.Artist = kv[1]
		case "Id":
			song.ID, _ = strconv.Atoi(kv[1])
		case "Pos":
			song.Pos, _ = strconv.Atoi(kv[1])
		case "duration":
			song.DurationSeconds, _ = strconv.ParseFloat(kv[1], 64)
		}
	}
	return song
}

func (c *QueueClient) Add(ctx context.Context, uri string) (int, error) {
	pairs, err := c.command(ctx, fmt.Sprintf("addid %s", quoteArg(uri)))
	if err != nil {
		return 0, err
	}
	for _, kv := range pairs {
		if kv[0] == "Id" {
			id, err := strconv.Atoi(kv[1])
			if err != nil {
				return 0, fmt.Errorf("bad song id %q", kv[1])
			}
			return id, nil
		}
	}
	return 0, fmt.Errorf("addid returned no id")
}

func (c *QueueClient) DeleteID(ctx context.Context, id int) error {
	_, err := c.command(ctx, fmt.Sprintf("deleteid %d", id))
	return err
}

func (c *QueueClient) Clear(ctx context.Context) error {
	_, err := c.command(ctx, "clear")
	return err
}

func (c *QueueClient) Play(ctx context.Context) error {
	_, err := c.command(ctx, "play")
	return err
}

func (c *QueueClient) Pause(ctx context.Context) error {
	_, err := c.command(ctx, "pause 1")
	return err
}

func (c *QueueClient) Resume(ctx context.Context) error {
	_, err := c.command(ctx, "pause 0")
	return err
}

func (c *QueueClient) SetConsume(ctx context.Context, on bool) error {
	_, err := c.command(ctx, fmt.Sprintf("consume %d", boolArg(on)))
	return err
}

func (c *QueueClient) SetRepeat(ctx context.Context, on bool) error {
	_, err := c.command(ctx, fmt.Sprintf("repeat %d", boolArg(on)))
	return err
}

func (c *QueueClient) SetRandom(ctx context.Context, on bool) error {
	_, err := c.command(ctx, fmt.Sprintf("random %d", boolArg(on)))
	return err
}

func (c *QueueClient) Update(ctx context.Context) error {
	_, err := c.command(ctx, "update")
	return err
}

func boolArg(on bool) int {
	if on {
		return 1
	}
	return 0
}

func quoteArg(arg string) string {
	if !strings.ContainsAny(arg, " \"\\") {
		return arg
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(arg)
	return `"` + escaped + `"`
}
