// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default().Backend
	cfg.BaseURL = server.URL
	cfg.RequestsPerSecond = 0
	cfg.MaxRetries = 2
	return NewClient(cfg, nil)
}

// =============================================================================
// THREAD ENDPOINT TESTS
// =============================================================================

func TestCreateThread_SendsBearerAndBody(t *testing.T) {
	var gotAuth string
	var gotBody threadBody
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != config.Default().Backend.ThreadPath {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"success":true}`))
	}))

	ok, err := client.CreateThread(context.Background(), "tok-123", "thread-1")
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if !ok {
		t.Error("CreateThread() = false, want true")
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.ThreadID != "thread-1" {
		t.Errorf("threadId = %q", gotBody.ThreadID)
	}
}

func TestCreateTitle_FalseSuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	}))

	ok, err := client.CreateTitle(context.Background(), "tok", "thread-1", "What is IPFS?")
	if err != nil {
		t.Fatalf("CreateTitle() error = %v", err)
	}
	if ok {
		t.Error("CreateTitle() = true, want false")
	}
}

func TestDuplicateThread(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body threadBody
		json.NewDecoder(r.Body).Decode(&body)
		if body.GuestID != "guest-1" {
			t.Errorf("guestId = %q", body.GuestID)
		}
		w.Write([]byte(`{"threadId":"copy-of-` + body.ThreadID + `"}`))
	}))

	id, err := client.DuplicateThread(context.Background(), "tok", "shared", "guest-1")
	if err != nil {
		t.Fatalf("DuplicateThread() error = %v", err)
	}
	if id != "copy-of-shared" {
		t.Errorf("DuplicateThread() = %q", id)
	}
}

func TestDuplicateThread_MissingID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	_, err := client.DuplicateThread(context.Background(), "tok", "shared", "")
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("error = %v, want ErrInvalidResponse", err)
	}
}

func TestSendFeedback_NoTokenNoHeader(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("Authorization header should be absent without a token")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.SendFeedback(context.Background(), "", Feedback{Question: "q", Answer: "a", Rating: 5}); err != nil {
		t.Errorf("SendFeedback() error = %v", err)
	}
}

// =============================================================================
// ERROR HANDLING TESTS
// =============================================================================

func TestHandleErrorResponse(t *testing.T) {
	tests := []struct {
		status  int
		body    string
		want    error
		message string
	}{
		{401, `{"error":{"code":"expired","message":"token expired"}}`, ErrUnauthorized, "token expired"},
		{403, `forbidden`, ErrUnauthorized, "forbidden"},
		{404, `{"message":"no thread"}`, ErrNotFound, "no thread"},
		{429, `{"error":"slow down"}`, ErrRateLimited, "slow down"},
		{502, ``, ErrServer, "Bad Gateway"},
	}

	for _, tt := range tests {
		err := handleErrorResponse(tt.status, []byte(tt.body))
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.want)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Errorf("status %d: error should wrap *APIError", tt.status)
			continue
		}
		if apiErr.Message != tt.message {
			t.Errorf("status %d: message = %q, want %q", tt.status, apiErr.Message, tt.message)
		}
	}
}

func TestPostJSON_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))

	ok, err := client.CreateThread(context.Background(), "tok", "t1")
	if err != nil || !ok {
		t.Fatalf("CreateThread() = %v, %v", ok, err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestPostJSON_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.CreateThread(context.Background(), "bad", "t1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestCalculateBackoff(t *testing.T) {
	c := &Client{}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{10, retryMaxDelay},
	}
	for _, tt := range tests {
		if got := c.calculateBackoff(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestReadResponse_SizeCap(t *testing.T) {
	big := io.LimitReader(zeroReader{}, MaxResponseSize+10)
	if _, err := readResponse(big); err == nil {
		t.Error("readResponse() should reject oversized bodies")
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = '0'
	}
	return len(p), nil
}
