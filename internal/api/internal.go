/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net"
	"net/http"

	"github.com/tidecast/tidecast/internal/livestream"
)

// livestreamAuthRequest is the mixer's source-auth callback. The mixer
// passes the broadcaster's credential as the source password.
type livestreamAuthRequest struct {
	User     string `json:"user,omitempty"`
	Password string `json:"password"`
	Address  string `json:"address,omitempty"`
}

func (a *API) handleLivestreamAuth(w http.ResponseWriter, r *http.Request) {
	var req livestreamAuthRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	address := req.Address
	if address == "" {
		address, _, _ = net.SplitHostPort(r.RemoteAddr)
	}

	result, err := a.arbiter.Auth(r.Context(), req.Password, address)
	if err != nil {
		a.writeError(w, err)
		return
	}

	if result.Accept && a.metrics != nil {
		a.metrics.LivestreamSessions.Inc()
	}
	a.writeJSON(w, http.StatusOK, result)
}

type livestreamConnectRequest struct {
	SessionID string `json:"session_id"`
}

func (a *API) handleLivestreamConnect(w http.ResponseWriter, r *http.Request) {
	var req livestreamConnectRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	if err := a.arbiter.Connect(r.Context(), req.SessionID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type livestreamDisconnectRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

func (a *API) handleLivestreamDisconnect(w http.ResponseWriter, r *http.Request) {
	var req livestreamDisconnectRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	reason := livestream.DisconnectReason(req.Reason)
	switch reason {
	case livestream.ReasonClient, livestream.ReasonLimit, livestream.ReasonAdmin:
	default:
		reason = livestream.ReasonClient
	}

	if err := a.arbiter.Disconnect(r.Context(), req.SessionID, reason); err != nil {
		a.writeError(w, err)
		return
	}

	a.arbiter.ClearLiveMetadata(r.Context())
	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type livestreamMetadataRequest struct {
	Title       *string `json:"title,omitempty"`
	Artist      *string `json:"artist,omitempty"`
	Genre       *string `json:"genre,omitempty"`
	Description *string `json:"description,omitempty"`
}

// handleLivestreamMetadata stores embedded tags from the live source.
// Last-seen values win.
func (a *API) handleLivestreamMetadata(w http.ResponseWriter, r *http.Request) {
	var req livestreamMetadataRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	metadata := map[string]any{
		"title":       stringOrNil(req.Title),
		"artist":      stringOrNil(req.Artist),
		"genre":       stringOrNil(req.Genre),
		"description": stringOrNil(req.Description),
	}

	if err := a.arbiter.SetLiveMetadata(r.Context(), metadata); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func stringOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
