/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Resolver maps bearer credentials to principals. Admin and internal
// tokens are opaque strings from configuration; everything else is a
// signed JWT.
type Resolver struct {
	adminTokens   []string
	internalToken string
	jwtSecret     []byte
}

// NewResolver creates a principal resolver.
func NewResolver(adminTokens []string, internalToken string, jwtSecret []byte) *Resolver {
	return &Resolver{
		adminTokens:   adminTokens,
		internalToken: internalToken,
		jwtSecret:     jwtSecret,
	}
}

// Resolve returns the principal for a bearer token, or nil when the
// token matches nothing.
func (r *Resolver) Resolve(token string) *Principal {
	if token == "" {
		return nil
	}

	for _, admin := range r.adminTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(admin)) == 1 {
			return &Principal{ID: "admin", Kind: KindAdmin}
		}
	}

	if r.internalToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(r.internalToken)) == 1 {
		return &Principal{ID: "internal", Kind: KindInternal}
	}

	claims, err := Parse(r.jwtSecret, token)
	if err != nil {
		return nil
	}

	switch claims.Type {
	case TokenUser:
		return &Principal{
			ID:             claims.UserID,
			Kind:           KindUser,
			MaxQueueSongs:  claims.MaxQueueSongs,
			MaxAddRequests: claims.MaxAddRequests,
		}
	case TokenLivestream:
		return &Principal{
			ID:                   claims.UserID,
			Kind:                 KindLivestream,
			MaxStreamingSeconds:  claims.MaxStreamingSeconds,
			ShowName:             claims.ShowName,
			MinRecordingDuration: claims.MinRecordingDuration,
		}
	}
	return nil
}

// Middleware resolves the bearer token and injects the principal into
// the request context. Requests without a valid token pass through
// without a principal; per-route guards decide what is required.
func (r *Resolver) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if p := r.Resolve(ExtractToken(req)); p != nil {
				req = req.WithContext(WithPrincipal(req.Context(), p))
			}
			next.ServeHTTP(w, req)
		})
	}
}

// ExtractToken pulls the bearer credential from the Authorization header.
func ExtractToken(req *http.Request) string {
	header := req.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
