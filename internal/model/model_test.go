// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_CloneIsDeep(t *testing.T) {
	msg := NewMessage("Who maintains libp2p?")
	msg.FollowUpQuestions = []string{"a", "b"}
	msg.Sources = []string{"https://example.com"}
	msg.Actions = []Action{{Name: "Protocol Labs", DirectoryLink: "/teams/pl", Type: "team"}}
	msg.SQL = []DirectoryResult{{Name: "row", Fields: map[string]string{"k": "v"}}}

	clone := msg.Clone()
	clone.FollowUpQuestions[0] = "changed"
	clone.Sources[0] = "changed"
	clone.Actions[0].Name = "changed"
	clone.SQL[0].Fields["k"] = "changed"

	if msg.FollowUpQuestions[0] != "a" {
		t.Errorf("FollowUpQuestions shared with clone")
	}
	if msg.Sources[0] != "https://example.com" {
		t.Errorf("Sources shared with clone")
	}
	if msg.Actions[0].Name != "Protocol Labs" {
		t.Errorf("Actions shared with clone")
	}
	if msg.SQL[0].Fields["k"] != "v" {
		t.Errorf("SQL fields shared with clone")
	}
}

func TestMessage_MarkError(t *testing.T) {
	msg := NewMessage("What is X?")
	msg.Answer = "partial answ"

	msg.MarkError()

	if !msg.IsError {
		t.Error("IsError should be true")
	}
	if msg.Answer != "" {
		t.Errorf("Answer = %q, want empty", msg.Answer)
	}
	if msg.Question != "What is X?" {
		t.Errorf("Question = %q, want preserved", msg.Question)
	}
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	a, b := NewMessage("q"), NewMessage("q")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids = %q, %q, want distinct non-empty", a.ID, b.ID)
	}
	if a.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestMessage_Summary(t *testing.T) {
	msg := Message{Question: " Q1 ", Answer: "A1\n"}
	if got := msg.Summary(); got != "Q: Q1\nA: A1" {
		t.Errorf("Summary() = %q", got)
	}
	if got := (&Message{Question: "only"}).Summary(); got != "Q: only" {
		t.Errorf("Summary() without answer = %q", got)
	}
}

func TestParseFrom(t *testing.T) {
	tests := map[string]From{
		"blog":   FromBlog,
		"DETAIL": FromDetail,
		"":       FromChat,
		"other":  FromChat,
	}
	for in, want := range tests {
		if got := ParseFrom(in); got != want {
			t.Errorf("ParseFrom(%q) = %q, want %q", in, got, want)
		}
	}
	if FromChat.String() != "chat" {
		t.Errorf("FromChat.String() = %q", FromChat.String())
	}
}

// =============================================================================
// THREAD TESTS
// =============================================================================

func TestThread_TitleSetOnce(t *testing.T) {
	thread := NewThread("t1")
	thread.AddMessage(NewMessage("first   question\nwith newline"))
	thread.AddMessage(NewMessage("second question"))

	if thread.Title != "first question with newline" {
		t.Errorf("Title = %q", thread.Title)
	}
	if thread.MessageCount() != 2 {
		t.Errorf("MessageCount() = %d, want 2", thread.MessageCount())
	}
	if thread.LastMessage().Question != "second question" {
		t.Errorf("LastMessage() = %q", thread.LastMessage().Question)
	}
}

func TestThread_AppendOnlyOrder(t *testing.T) {
	thread := NewThread("t1")
	for _, q := range []string{"a", "b", "c"} {
		thread.AddMessage(NewMessage(q))
	}
	for i, q := range []string{"a", "b", "c"} {
		if thread.Messages[i].Question != q {
			t.Errorf("Messages[%d] = %q, want %q", i, thread.Messages[i].Question, q)
		}
	}
}

func TestThread_Prune(t *testing.T) {
	thread := NewThread("t1")
	for i := 0; i < MaxMessages+5; i++ {
		thread.AddMessage(NewMessage("q"))
	}
	if thread.MessageCount() != MaxMessages {
		t.Errorf("MessageCount() = %d, want %d", thread.MessageCount(), MaxMessages)
	}
}

func TestTitleFromQuestion_Truncates(t *testing.T) {
	title := TitleFromQuestion(strings.Repeat("x", 200))
	if len([]rune(title)) != TitleMaxRunes {
		t.Errorf("title length = %d, want %d", len([]rune(title)), TitleMaxRunes)
	}
	if (&Thread{}).GetTitle() != "New chat" {
		t.Error("empty thread should have default title")
	}
}
