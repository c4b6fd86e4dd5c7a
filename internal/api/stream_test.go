// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func collect(t *testing.T, client *Client, req ChatRequest) ([]string, error) {
	t.Helper()
	var got []string
	err := client.StreamChat(context.Background(), req, func(obj json.RawMessage) error {
		got = append(got, string(obj))
		return nil
	})
	return got, err
}

// =============================================================================
// STREAM FORMAT TESTS
// =============================================================================

func TestStreamChat_SSE(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ThreadID != "t1" || req.ChatID != "c1" || req.Question != "hi" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"content\":\"He\"}\n\n")
		io.WriteString(w, ": keepalive\n\n")
		io.WriteString(w, "data: {\"content\":\"Hello\"}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
		io.WriteString(w, "data: {\"content\":\"ignored\"}\n\n")
	}))

	got, err := collect(t, client, ChatRequest{ThreadID: "t1", ChatID: "c1", Question: "hi"})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	want := []string{`{"content":"He"}`, `{"content":"Hello"}`}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("objects = %v, want %v", got, want)
	}
}

func TestStreamChat_NDJSON(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, "{\"content\":\"a\"}\n\n{\"content\":\"ab\",\"sources\":[\"s\"]}\n")
	}))

	got, err := collect(t, client, ChatRequest{ThreadID: "t1", ChatID: "c1", Question: "q"})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	if len(got) != 2 || got[1] != `{"content":"ab","sources":["s"]}` {
		t.Errorf("objects = %v", got)
	}
}

func TestStreamChat_SSELongProgressiveAnswer(t *testing.T) {
	// Each event repeats the answer so far; the whole body is well past
	// MaxResponseSize while every single event stays small.
	final := strings.Repeat("0123456789abcdef", 750)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 6; i <= len(final); i += 6 {
			b, _ := json.Marshal(map[string]string{"content": final[:i]})
			io.WriteString(w, "data: ")
			w.Write(b)
			io.WriteString(w, "\n\n")
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))

	var last struct {
		Content string `json:"content"`
	}
	objects := 0
	err := client.StreamChat(context.Background(), ChatRequest{ThreadID: "t1", ChatID: "c1", Question: "q"}, func(obj json.RawMessage) error {
		objects++
		return json.Unmarshal(obj, &last)
	})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	if objects != len(final)/6 {
		t.Errorf("objects = %d, want %d", objects, len(final)/6)
	}
	if len(last.Content) != len(final) {
		t.Errorf("last answer length = %d, want %d", len(last.Content), len(final))
	}
}

func TestStreamChat_SSEDirectoryRows(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"content\":\"Teams\"}\n\n")
		io.WriteString(w, "event: sql\ndata: [{\"name\":\"libp2p\",\"type\":\"project\"}]\n\n")
		io.WriteString(w, "event: sql\ndata: [{\"name\":\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))

	got, err := collect(t, client, ChatRequest{ThreadID: "t1", ChatID: "c1", Question: "q"})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	want := []string{`{"content":"Teams"}`, `{"sql":[{"name":"libp2p","type":"project"}]}`}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("objects = %v, want %v", got, want)
	}
}

func TestStreamChat_RawPartialJSON(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		flusher := w.(http.Flusher)
		for _, part := range []string{`{"content":"Hel`, `lo","followUpQuestions":["Why`, `?"]}`} {
			io.WriteString(w, part)
			flusher.Flush()
			time.Sleep(10 * time.Millisecond)
		}
	}))

	got, err := collect(t, client, ChatRequest{ThreadID: "t1", ChatID: "c1", Question: "q"})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	if len(got) == 0 {
		t.Fatal("no objects received")
	}
	last := got[len(got)-1]
	if last != `{"content":"Hello","followUpQuestions":["Why?"]}` {
		t.Errorf("last object = %s", last)
	}
	for _, obj := range got {
		if !json.Valid([]byte(obj)) {
			t.Errorf("emitted invalid JSON %s", obj)
		}
	}
}

func TestStreamChat_ErrorStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"message":"boom"}`)
	}))

	_, err := collect(t, client, ChatRequest{ThreadID: "t1", ChatID: "c1", Question: "q"})
	if !errors.Is(err, ErrServer) {
		t.Errorf("error = %v, want ErrServer", err)
	}
}

func TestStreamChat_CallbackErrorStops(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, "{\"content\":\"a\"}\n{\"content\":\"b\"}\n")
	}))

	stop := errors.New("stop")
	calls := 0
	err := client.StreamChat(context.Background(), ChatRequest{}, func(json.RawMessage) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("error = %v, want stop", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestStreamChat_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"content\":\"a\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	err := client.StreamChat(ctx, ChatRequest{}, func(json.RawMessage) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// SSE READER TESTS
// =============================================================================

func TestSSEReader_MultiLineData(t *testing.T) {
	r := NewSSEReader(strings.NewReader("event: update\ndata: {\"a\":\ndata: 1}\n\ndata: last"))

	ev, data, err := r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent() error = %v", err)
	}
	if ev != "update" || string(data) != "{\"a\":\n1}" {
		t.Errorf("event = %q, data = %q", ev, data)
	}

	_, data, err = r.ReadEvent()
	if err != nil || string(data) != "last" {
		t.Errorf("trailing event = %q, %v", data, err)
	}

	if _, _, err := r.ReadEvent(); err != io.EOF {
		t.Errorf("error = %v, want io.EOF", err)
	}
}
