/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/tidecast/tidecast/internal/faults"
	"github.com/tidecast/tidecast/internal/observer"
)

// handleNowPlaying serves the derived {source, metadata} projection.
func (a *API) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	now, err := observer.Snapshot(r.Context(), a.store, a.arbiter)
	if err != nil {
		a.writeError(w, faults.Wrap(faults.TemporarilyUnavailable, "state store unavailable", err))
		return
	}
	a.writeJSON(w, http.StatusOK, now)
}
