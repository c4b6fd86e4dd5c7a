// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// KEY/VALUE STORE
// =============================================================================

// Store is a string key/value store with optional per-entry expiry.
//
// An entry whose expiry is in the past reads as absent. A zero expiry never
// expires.
type Store interface {
	// Get returns the value for key and whether it was present and unexpired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string, expires time.Time) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the unexpired keys starting with prefix, in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: store is closed")

// ErrEmptyKey is returned when an operation is given an empty key.
var ErrEmptyKey = errors.New("storage: empty key")

// NowFunc supplies the current time for expiry checks.
type NowFunc func() time.Time

func (f NowFunc) now() time.Time {
	if f == nil {
		return time.Now()
	}
	return f()
}

// expired reports whether an entry with the given expiry is dead at now.
func expired(expires, now time.Time) bool {
	return !expires.IsZero() && !now.Before(expires)
}
