// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat threads and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENTRY CONTEXT
// =============================================================================

// From identifies where a chat session was entered from.
type From string

const (
	// FromChat is a regular chat session.
	FromChat From = ""
	// FromBlog is a session seeded with a single turn from a blog page.
	FromBlog From = "blog"
	// FromDetail is a session viewing a thread through its detail/share link.
	FromDetail From = "detail"
)

// String returns the string representation of the entry context.
func (f From) String() string {
	if f == FromChat {
		return "chat"
	}
	return string(f)
}

// ParseFrom converts a string to an entry context. Unknown values map to FromChat.
func ParseFrom(s string) From {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blog":
		return FromBlog
	case "detail":
		return FromDetail
	default:
		return FromChat
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Action is a directory link the assistant suggests alongside an answer.
type Action struct {
	Name          string `json:"name"`
	DirectoryLink string `json:"directoryLink"`
	Type          string `json:"type"`
}

// DirectoryResult is one row of a structured directory query.
// These rows are not part of the streamed answer and are attached separately.
type DirectoryResult struct {
	Name   string            `json:"name"`
	Type   string            `json:"type,omitempty"`
	Link   string            `json:"link,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Message is one conversational turn: a question and the answer streamed back.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Question          string            `json:"question"`
	Answer            string            `json:"answer"`
	FollowUpQuestions []string          `json:"followUpQuestions,omitempty"`
	Sources           []string          `json:"sources,omitempty"`
	Actions           []Action          `json:"actions,omitempty"`
	SQL               []DirectoryResult `json:"sql,omitempty"`

	// IsError marks a turn whose answer failed; the answer is cleared.
	IsError bool `json:"isError,omitempty"`
}

// NewMessage creates an empty turn for the given question.
func NewMessage(question string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Question:  question,
		Timestamp: time.Now(),
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	if m.FollowUpQuestions != nil {
		c.FollowUpQuestions = append([]string(nil), m.FollowUpQuestions...)
	}
	if m.Sources != nil {
		c.Sources = append([]string(nil), m.Sources...)
	}
	if m.Actions != nil {
		c.Actions = append([]Action(nil), m.Actions...)
	}
	if m.SQL != nil {
		c.SQL = make([]DirectoryResult, len(m.SQL))
		for i, r := range m.SQL {
			c.SQL[i] = r
			if r.Fields != nil {
				c.SQL[i].Fields = make(map[string]string, len(r.Fields))
				for k, v := range r.Fields {
					c.SQL[i].Fields[k] = v
				}
			}
		}
	}
	return c
}

// MarkError flags the turn as failed and drops the broken answer.
// The question stays so the turn remains visible.
func (m *Message) MarkError() {
	m.IsError = true
	m.Answer = ""
}

// HasAnswer reports whether any answer text has arrived.
func (m *Message) HasAnswer() bool {
	return m.Answer != ""
}

// Summary renders the turn as a compact question/answer pair, used to fold a
// seeded turn into the next request's context.
func (m *Message) Summary() string {
	var sb strings.Builder
	sb.WriteString("Q: ")
	sb.WriteString(strings.TrimSpace(m.Question))
	if m.Answer != "" {
		sb.WriteString("\nA: ")
		sb.WriteString(strings.TrimSpace(m.Answer))
	}
	return sb.String()
}
