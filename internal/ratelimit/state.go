// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import "fmt"

// State classifies anonymous usage against the daily quota.
type State string

const (
	// StateNone means requests remain (or the session is authenticated).
	StateNone State = "none"
	// StateWarn means exactly one request remains today.
	StateWarn State = "warn"
	// StateFinalRequest means the submission just recorded used the last request.
	StateFinalRequest State = "finalRequest"
	// StateBlocked means the quota is used up until local midnight.
	StateBlocked State = "blocked"
)

// String returns the state name.
func (s State) String() string {
	if s == "" {
		return string(StateNone)
	}
	return string(s)
}

// Allows reports whether another submission may be sent in this state.
func (s State) Allows() bool {
	return s != StateBlocked && s != StateFinalRequest
}

// ParseState converts a persisted state name back to a State.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateNone, StateWarn, StateFinalRequest, StateBlocked:
		return State(s), nil
	case "":
		return StateNone, nil
	default:
		return StateNone, fmt.Errorf("unknown rate limit state %q", s)
	}
}
