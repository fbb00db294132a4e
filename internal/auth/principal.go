/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import "context"

// Kind enumerates principal kinds.
type Kind string

const (
	KindAdmin      Kind = "admin"
	KindUser       Kind = "user"
	KindLivestream Kind = "livestream"
	KindInternal   Kind = "internal"
)

// Principal is an authenticated caller with its quota bundle.
type Principal struct {
	ID   string
	Kind Kind

	// User quotas
	MaxQueueSongs  int
	MaxAddRequests int

	// Livestream quotas
	MaxStreamingSeconds  int
	ShowName             string
	MinRecordingDuration int
}

type contextKey struct{}

// WithPrincipal injects the principal into ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom extracts the principal, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok
}
