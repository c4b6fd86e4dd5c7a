// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import "time"

// Clock supplies the current time. Day boundaries follow the clock's location.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in the local time zone.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// DayKey formats the calendar date of t in its own location.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// NextMidnight returns the start of the day after t, in t's location.
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
