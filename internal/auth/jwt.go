/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType discriminates the JWT variants the control plane issues.
type TokenType string

const (
	TokenUser       TokenType = "user"
	TokenLivestream TokenType = "livestream"
)

// Claims carries quota and identity claims for user and livestream tokens.
type Claims struct {
	Type   TokenType `json:"type"`
	UserID string    `json:"user_id"`

	// User token quotas
	MaxQueueSongs  int `json:"max_queue_songs,omitempty"`
	MaxAddRequests int `json:"max_add_requests,omitempty"`

	// Livestream token quotas
	MaxStreamingSeconds  int    `json:"max_streaming_seconds,omitempty"`
	ShowName             string `json:"show_name,omitempty"`
	MinRecordingDuration int    `json:"min_recording_duration,omitempty"`

	jwt.RegisteredClaims
}

// Issue creates a signed HS256 token string.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		Subject:   claims.UserID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Parse validates a token string, rejecting non-HS256 algorithms.
func Parse(secret []byte, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
