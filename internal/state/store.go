/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package state is the coordination substrate shared by every replica:
// the livestream slot, time ledgers, quota counters, leases, webhook
// delivery logs, and the pub/sub channels the event bus rides on.
package state

import (
	"context"
	"time"
)

// Store is the cross-process key/value contract. The redis implementation
// is authoritative in deployments; the memory implementation backs
// single-process setups and tests.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value only when the key is absent. Returns true when
	// this call created the key.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Del removes keys.
	Del(ctx context.Context, keys ...string) error

	// Expire resets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// IncrBy adjusts an integer counter and returns the new value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// CompareAndDel deletes key only if it currently holds expect.
	// Returns true when the key was deleted.
	CompareAndDel(ctx context.Context, key, expect string) (bool, error)

	// IncrBoundedPair atomically increments both counters by one when
	// counter a < boundA and counter b < boundB. Returns which bound
	// blocked the increment, if any. Used for the quota transaction:
	// races can never admit two songs past either limit.
	IncrBoundedPair(ctx context.Context, keyA, keyB string, boundA, boundB int64, ttl time.Duration) (BoundedResult, error)

	// ListPrepend pushes value at the head of a bounded list, trimming it
	// to maxLen entries and refreshing the list TTL.
	ListPrepend(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error

	// ListRange returns list entries from start to stop (inclusive,
	// redis semantics: 0 is the head, -1 the tail).
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// SetAdd, SetRemove, SetMembers, SetCard manage unordered string sets.
	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetCard(ctx context.Context, key string) (int64, error)

	// Publish delivers payload to current subscribers of channel.
	// Missed publishes are lost; there is no persistence.
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe returns a subscription receiving publishes that arrive
	// after this call and before Close.
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// Close releases backend resources.
	Close() error
}

// BoundedResult reports the outcome of IncrBoundedPair.
type BoundedResult int

const (
	BoundedOK BoundedResult = iota
	BoundedLimitA
	BoundedLimitB
)

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live pub/sub registration.
type Subscription interface {
	// Messages yields deliveries until Close.
	Messages() <-chan Message
	// Close cancels the subscription.
	Close() error
}
