// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestController_SingleActive(t *testing.T) {
	c := NewController()

	h, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := c.Start(context.Background()); !errors.Is(err, ErrStreamActive) {
		t.Errorf("second Start() error = %v, want ErrStreamActive", err)
	}
	if !c.Busy() {
		t.Error("Busy() = false with an active handle")
	}

	c.Finish(h)
	if c.Busy() {
		t.Error("Busy() = true after Finish")
	}
	if _, err := c.Start(context.Background()); err != nil {
		t.Errorf("Start() after Finish error = %v", err)
	}
}

func TestController_CancelIdempotent(t *testing.T) {
	c := NewController()
	h, _ := c.Start(context.Background())

	if !c.Cancel(h) {
		t.Error("first Cancel() = false, want true")
	}
	if c.Cancel(h) {
		t.Error("second Cancel() = true, want false")
	}
	if h.State() != HandleCancelled {
		t.Errorf("State() = %v, want cancelled", h.State())
	}
	if h.Context().Err() == nil {
		t.Error("context should be cancelled")
	}
	if c.Finish(h) {
		t.Error("Finish() after Cancel should be a no-op")
	}
	if h.State() != HandleCancelled {
		t.Errorf("State() = %v after Finish, want cancelled", h.State())
	}
}

func TestController_CancelAfterFinishNoop(t *testing.T) {
	c := NewController()
	h, _ := c.Start(context.Background())
	c.Finish(h)

	if c.Cancel(h) {
		t.Error("Cancel() after Finish = true, want false")
	}
	if h.State() != HandleFinished {
		t.Errorf("State() = %v, want finished", h.State())
	}
	if c.CancelActive() {
		t.Error("CancelActive() with nothing active = true")
	}
}

func TestHandle_ApplyAfterCancel(t *testing.T) {
	c := NewController()
	h, _ := c.Start(context.Background())

	applied := 0
	if !h.Apply(func() { applied++ }) {
		t.Error("Apply() on active handle = false")
	}
	c.Cancel(h)
	if h.Apply(func() { applied++ }) {
		t.Error("Apply() after Cancel = true")
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
}

func TestController_ConcurrentCancel(t *testing.T) {
	c := NewController()
	h, _ := c.Start(context.Background())

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Cancel(h) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("successful cancels = %d, want 1", wins)
	}
}

func TestHandleState_String(t *testing.T) {
	if HandleActive.String() != "active" || HandleCancelled.String() != "cancelled" {
		t.Error("unexpected state names")
	}
	if HandleState(99).String() != "unknown" {
		t.Error("out of range state should be unknown")
	}
}
