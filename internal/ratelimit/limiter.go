// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ratelimit enforces the daily quota for anonymous visitors.
//
// Usage is a per-day counter kept in a storage.Store under a key that embeds
// the local calendar date, so a new day starts from zero without any timer.
// Authenticated sessions, recognised by a stored session token, bypass the
// quota entirely.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/storage"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultDailyQuota is the number of turns an anonymous visitor gets per day.
	DefaultDailyQuota = 5

	// CounterKeyPrefix prefixes the per-day request counter key.
	CounterKeyPrefix = "husky:requests:"

	// StateKey holds the last recorded classification for read-only surfaces.
	StateKey = "husky:rate-limit-state"

	// GuestIDKey holds the anonymous visitor identifier.
	GuestIDKey = "husky:guest-id"

	// SessionTokenKey holds the long-lived session credential.
	SessionTokenKey = "husky:refresh-token"
)

// ErrQuotaExceeded is returned by RecordUsage once today's quota is used up.
var ErrQuotaExceeded = errors.New("daily request quota exceeded")

// =============================================================================
// LIMITER
// =============================================================================

// Limiter tracks anonymous usage. It is safe for concurrent use; reads never
// advance the counter.
type Limiter struct {
	store  storage.Store
	clock  Clock
	quota  int
	logger *zap.Logger

	// mu serializes the counter's read-modify-write.
	mu sync.Mutex
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the clock used for day boundaries.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithQuota sets the daily quota. Values below 1 are ignored.
func WithQuota(n int) Option {
	return func(l *Limiter) {
		if n >= 1 {
			l.quota = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a limiter over store.
func New(store storage.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		clock:  SystemClock{},
		quota:  DefaultDailyQuota,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Quota returns the configured daily quota.
func (l *Limiter) Quota() int {
	return l.quota
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classify returns the state for the next submission without recording usage.
func (l *Limiter) Classify(ctx context.Context) (State, error) {
	authed, err := l.Authenticated(ctx)
	if err != nil {
		return StateNone, err
	}
	if authed {
		return StateNone, nil
	}

	count, err := l.count(ctx, l.clock.Now())
	if err != nil {
		return StateNone, err
	}
	return l.classify(count), nil
}

func (l *Limiter) classify(count int) State {
	switch {
	case count >= l.quota:
		return StateBlocked
	case count == l.quota-1:
		return StateWarn
	default:
		return StateNone
	}
}

// RecordUsage counts one anonymous submission and returns the resulting state:
// StateWarn when one request remains, StateFinalRequest when this submission
// used the last one, StateNone otherwise. Past the quota it records nothing and
// returns StateBlocked with ErrQuotaExceeded. Authenticated sessions are not
// counted.
func (l *Limiter) RecordUsage(ctx context.Context) (State, error) {
	authed, err := l.Authenticated(ctx)
	if err != nil {
		return StateNone, err
	}
	if authed {
		return StateNone, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	count, err := l.count(ctx, now)
	if err != nil {
		return StateNone, err
	}
	if count >= l.quota {
		return StateBlocked, ErrQuotaExceeded
	}

	count++
	expires := NextMidnight(now)
	if err := l.store.Set(ctx, counterKey(now), strconv.Itoa(count), expires); err != nil {
		return StateNone, fmt.Errorf("failed to record usage: %w", err)
	}

	state := StateNone
	switch {
	case count == l.quota:
		state = StateFinalRequest
	case count == l.quota-1:
		state = StateWarn
	}

	if err := l.store.Set(ctx, StateKey, string(state), expires); err != nil {
		l.logger.Warn("failed to persist rate limit state", zap.Error(err))
	}
	l.pruneStaleDays(ctx, now)

	l.logger.Debug("recorded anonymous usage",
		zap.Int("count", count),
		zap.Int("quota", l.quota),
		zap.String("state", state.String()))
	return state, nil
}

// LastState returns the classification persisted by the most recent
// RecordUsage today, falling back to Classify when none was recorded.
func (l *Limiter) LastState(ctx context.Context) (State, error) {
	v, ok, err := l.store.Get(ctx, StateKey)
	if err != nil {
		return StateNone, err
	}
	if !ok {
		return l.Classify(ctx)
	}
	return ParseState(v)
}

// Usage returns today's used and remaining request counts.
func (l *Limiter) Usage(ctx context.Context) (used, remaining int, err error) {
	used, err = l.count(ctx, l.clock.Now())
	if err != nil {
		return 0, 0, err
	}
	remaining = l.quota - used
	if remaining < 0 {
		remaining = 0
	}
	return used, remaining, nil
}

func (l *Limiter) count(ctx context.Context, now time.Time) (int, error) {
	v, ok, err := l.store.Get(ctx, counterKey(now))
	if err != nil {
		return 0, fmt.Errorf("failed to read usage counter: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		// Treat a mangled counter as unused.
		l.logger.Warn("discarding corrupt usage counter", zap.String("value", v))
		return 0, nil
	}
	return n, nil
}

// pruneStaleDays removes counters from earlier days.
func (l *Limiter) pruneStaleDays(ctx context.Context, now time.Time) {
	keys, err := l.store.Keys(ctx, CounterKeyPrefix)
	if err != nil {
		l.logger.Warn("failed to list usage counters", zap.Error(err))
		return
	}
	today := counterKey(now)
	for _, k := range keys {
		if k == today {
			continue
		}
		if err := l.store.Delete(ctx, k); err != nil {
			l.logger.Warn("failed to prune usage counter", zap.String("key", k), zap.Error(err))
		}
	}
}

func counterKey(t time.Time) string {
	return CounterKeyPrefix + DayKey(t)
}

// =============================================================================
// IDENTITY
// =============================================================================

// Authenticated reports whether a session token is stored.
func (l *Limiter) Authenticated(ctx context.Context) (bool, error) {
	token, ok, err := l.SessionToken(ctx)
	if err != nil {
		return false, err
	}
	return ok && token != "", nil
}

// SessionToken returns the stored session token, if any.
func (l *Limiter) SessionToken(ctx context.Context) (string, bool, error) {
	v, ok, err := l.store.Get(ctx, SessionTokenKey)
	if err != nil {
		return "", false, fmt.Errorf("failed to read session token: %w", err)
	}
	return v, ok, nil
}

// SetSessionToken stores a session token, exempting the session from the quota.
func (l *Limiter) SetSessionToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty session token")
	}
	return l.store.Set(ctx, SessionTokenKey, token, time.Time{})
}

// ClearSessionToken removes the session token.
func (l *Limiter) ClearSessionToken(ctx context.Context) error {
	return l.store.Delete(ctx, SessionTokenKey)
}

// GuestID returns the anonymous visitor identifier, minting one that lasts
// until the next local midnight when none is stored.
func (l *Limiter) GuestID(ctx context.Context) (string, error) {
	v, ok, err := l.store.Get(ctx, GuestIDKey)
	if err != nil {
		return "", fmt.Errorf("failed to read guest id: %w", err)
	}
	if ok && v != "" {
		return v, nil
	}

	id := uuid.NewString()
	if err := l.store.Set(ctx, GuestIDKey, id, NextMidnight(l.clock.Now())); err != nil {
		return "", fmt.Errorf("failed to store guest id: %w", err)
	}
	return id, nil
}
