// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// MaxMessages is the maximum number of turns kept in a thread.
// When exceeded, the oldest turns are pruned to prevent unbounded memory growth.
const MaxMessages = 1000

// TitleMaxRunes bounds thread titles derived from the first question.
const TitleMaxRunes = 80

// =============================================================================
// THREAD TYPE
// =============================================================================

// Thread is a persisted conversation identified by a stable thread ID.
type Thread struct {
	// Identity
	ThreadID  string    `json:"threadId"`
	ChatID    string    `json:"chatId,omitempty"` // last submission's chat ID
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Turns
	Messages []Message `json:"messages"`
}

// NewThread creates an empty thread with the given ID.
func NewThread(threadID string) *Thread {
	now := time.Now()
	return &Thread{
		ThreadID:  threadID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a turn and returns a pointer to the stored copy.
// The title is set once, from the first question.
func (t *Thread) AddMessage(msg *Message) *Message {
	t.Messages = append(t.Messages, *msg)
	t.UpdatedAt = time.Now()
	if t.Title == "" {
		t.Title = TitleFromQuestion(msg.Question)
	}
	t.pruneOldMessages()
	return &t.Messages[len(t.Messages)-1]
}

// LastMessage returns the most recent turn, or nil if empty.
func (t *Thread) LastMessage() *Message {
	if len(t.Messages) == 0 {
		return nil
	}
	return &t.Messages[len(t.Messages)-1]
}

// MessageCount returns the number of turns in the thread.
func (t *Thread) MessageCount() int {
	return len(t.Messages)
}

// IsEmpty returns true if the thread has no turns.
func (t *Thread) IsEmpty() bool {
	return len(t.Messages) == 0
}

// GetTitle returns the thread title or a default.
func (t *Thread) GetTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return "New chat"
}

// Clone creates a deep copy of the thread.
func (t *Thread) Clone() *Thread {
	clone := *t
	clone.Messages = make([]Message, len(t.Messages))
	for i, msg := range t.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return &clone
}

// TitleFromQuestion derives a single-line thread title from a question.
func TitleFromQuestion(question string) string {
	title := strings.Join(strings.Fields(question), " ")
	runes := []rune(title)
	if len(runes) > TitleMaxRunes {
		title = string(runes[:TitleMaxRunes-3]) + "..."
	}
	return title
}

// pruneOldMessages keeps the most recent MaxMessages turns.
func (t *Thread) pruneOldMessages() {
	if len(t.Messages) <= MaxMessages {
		return
	}
	t.Messages = append([]Message(nil), t.Messages[len(t.Messages)-MaxMessages:]...)
}
