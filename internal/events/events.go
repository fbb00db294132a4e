/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package events defines the typed event envelope and the bus that
// carries it between the arbiter, observer, webhook dispatcher, and
// recording worker.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type enumerates event categories.
type Type string

const (
	SongChanged        Type = "song_changed"
	LivestreamStarted  Type = "livestream_started"
	LivestreamEnded    Type = "livestream_ended"
	QueueSwitched      Type = "queue_switched"
	WebhookTest        Type = "webhook_test"
)

// AllTypes lists the subscribable event types, in channel order.
var AllTypes = []Type{SongChanged, LivestreamStarted, LivestreamEnded, QueueSwitched}

// Channel returns the pub/sub channel name for an event type.
func Channel(t Type) string {
	return "events:" + string(t)
}

// Envelope is the wire format for every event.
// Data is event-specific; see the payload structs below.
type Envelope struct {
	EventType   Type            `json:"event_type"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data"`
	Timestamp   string          `json:"timestamp"`
}

// SongChangedData accompanies SongChanged.
type SongChangedData struct {
	SongID   string `json:"song_id"`
	Playlist string `json:"playlist"`
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	File     string `json:"file,omitempty"`
	Source   string `json:"source"`
}

// LivestreamStartedData accompanies LivestreamStarted.
type LivestreamStartedData struct {
	PrincipalID          string `json:"user_id"`
	SessionID            string `json:"session_id"`
	ShowName             string `json:"show_name,omitempty"`
	MinRecordingDuration int    `json:"min_recording_duration"`
}

// LivestreamEndedData accompanies LivestreamEnded.
type LivestreamEndedData struct {
	PrincipalID     string `json:"user_id"`
	SessionID       string `json:"session_id"`
	DurationSeconds int64  `json:"duration_seconds"`
	Reason          string `json:"reason"`
}

// QueueSwitchedData accompanies QueueSwitched.
type QueueSwitchedData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewEnvelope stamps an envelope with the current UTC time.
func NewEnvelope(eventType Type, description string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal event data: %w", err)
	}
	return Envelope{
		EventType:   eventType,
		Description: description,
		Data:        raw,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// DecodeData parses the event-specific payload into dest.
func (e Envelope) DecodeData(dest any) error {
	return json.Unmarshal(e.Data, dest)
}
