// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package thread allocates thread and chat identifiers and persists threads
// on the backend.
package thread

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/events"
)

// ErrDuplicateFailed is returned when the backend refused to clone a thread.
var ErrDuplicateFailed = errors.New("failed to duplicate thread")

// Backend is the subset of the backend client that manages threads.
type Backend interface {
	CreateThread(ctx context.Context, token, threadID string) (bool, error)
	CreateTitle(ctx context.Context, token, threadID, question string) (bool, error)
	DuplicateThread(ctx context.Context, token, threadID, guestID string) (string, error)
}

// Manager owns thread identity and server-side thread records.
type Manager struct {
	backend Backend
	bus     *events.Bus
	logger  *zap.Logger
	newID   func() string
}

// NewManager creates a manager. bus may be nil, in which case no refresh
// signal is published. A nil logger discards output.
func NewManager(backend Backend, bus *events.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		backend: backend,
		bus:     bus,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ResolveThreadID returns current when it is set and the conversation already
// has messages; otherwise it mints a new ID. minted reports which happened.
// Requiring content avoids claiming IDs for empty threads.
func (m *Manager) ResolveThreadID(current string, messageCount int) (id string, minted bool) {
	if current != "" && messageCount > 0 {
		return current, false
	}
	return m.newID(), true
}

// NewChatID returns a fresh ID for one submission.
func (m *Manager) NewChatID() string {
	return m.newID()
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Persist creates the thread record and its title. It reports whether the
// title was stored; on success the history list is asked to refresh.
// Failures are logged and otherwise ignored: the conversation continues
// without a history refresh.
func (m *Manager) Persist(ctx context.Context, token, threadID, question string) bool {
	created, err := m.backend.CreateThread(ctx, token, threadID)
	if err != nil || !created {
		m.logger.Warn("thread creation failed",
			zap.String("thread_id", threadID),
			zap.Bool("created", created),
			zap.Error(err))
		return false
	}

	titled, err := m.backend.CreateTitle(ctx, token, threadID, question)
	if err != nil || !titled {
		m.logger.Warn("thread title creation failed",
			zap.String("thread_id", threadID),
			zap.Error(err))
		return false
	}

	m.logger.Debug("thread persisted", zap.String("thread_id", threadID))
	m.publishRefresh(threadID)
	return true
}

// Duplicate clones a thread owned by someone else into a new thread owned by
// the caller, and returns the new ID.
func (m *Manager) Duplicate(ctx context.Context, token, threadID, guestID string) (string, error) {
	newID, err := m.backend.DuplicateThread(ctx, token, threadID, guestID)
	if err != nil {
		m.logger.Warn("thread duplication failed",
			zap.String("thread_id", threadID),
			zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrDuplicateFailed, err)
	}
	if newID == "" {
		return "", ErrDuplicateFailed
	}

	m.logger.Info("thread duplicated",
		zap.String("thread_id", threadID),
		zap.String("new_thread_id", newID))
	m.publishRefresh(newID)
	return newID, nil
}

func (m *Manager) publishRefresh(threadID string) {
	if m.bus != nil {
		m.bus.Emit(events.TopicRefreshHistory, threadID)
	}
}
