/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package faults carries the internal error taxonomy and its HTTP mapping.
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	Unauthenticated        Kind = "unauthenticated"
	Forbidden              Kind = "forbidden"
	BadInput               Kind = "bad_input"
	NotFound               Kind = "not_found"
	Conflict               Kind = "conflict"
	TemporarilyUnavailable Kind = "temporarily_unavailable"
	Internal               Kind = "internal"
)

// Fault is an error with a taxonomy kind and a caller-facing message.
type Fault struct {
	Kind    Kind
	Message string
	err     error
}

func (f *Fault) Error() string {
	if f.err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.err }

// New creates a fault with a caller-facing message.
func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

// Newf creates a fault with a formatted caller-facing message.
func Newf(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Fault {
	return &Fault{Kind: kind, Message: message, err: err}
}

// KindOf extracts the taxonomy kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Internal
}

// MessageOf extracts the caller-facing message, or a generic one.
func MessageOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case BadInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case TemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
