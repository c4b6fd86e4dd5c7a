// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamActive is returned by Start while another handle is active.
var ErrStreamActive = errors.New("a stream is already active for this session")

// =============================================================================
// HANDLE
// =============================================================================

// HandleState is the lifecycle state of a Handle.
type HandleState int

const (
	// HandleActive accepts fragments.
	HandleActive HandleState = iota
	// HandleFinished completed normally or with an error.
	HandleFinished
	// HandleCancelled was stopped by the user.
	HandleCancelled
)

// String returns the state name.
func (s HandleState) String() string {
	switch s {
	case HandleActive:
		return "active"
	case HandleFinished:
		return "finished"
	case HandleCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Handle is one cancellable streaming operation.
type Handle struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state HandleState
}

// ID returns the handle's sequence number within its controller.
func (h *Handle) ID() uint64 { return h.id }

// Context is cancelled when the handle is cancelled or finished.
func (h *Handle) Context() context.Context { return h.ctx }

// State returns the current state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Apply runs fn while holding the handle lock, but only if the handle is
// still active. It reports whether fn ran. Once Cancel returns, no later
// Apply runs fn.
func (h *Handle) Apply(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != HandleActive {
		return false
	}
	fn()
	return true
}

// transition moves an active handle to next. It reports whether it did.
func (h *Handle) transition(next HandleState) bool {
	h.mu.Lock()
	if h.state != HandleActive {
		h.mu.Unlock()
		return false
	}
	h.state = next
	h.mu.Unlock()

	h.cancel()
	return true
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller allows at most one active Handle at a time. It is safe for
// concurrent use.
type Controller struct {
	mu     sync.Mutex
	active *Handle
	seq    uint64
}

// NewController creates an idle controller.
func NewController() *Controller {
	return &Controller{}
}

// Start begins a new operation derived from parent.
func (c *Controller) Start(parent context.Context) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.State() == HandleActive {
		return nil, ErrStreamActive
	}

	ctx, cancel := context.WithCancel(parent)
	c.seq++
	h := &Handle{id: c.seq, ctx: ctx, cancel: cancel}
	c.active = h
	return h, nil
}

// Cancel stops h. It reports whether this call did the cancelling; calls on
// finished or already-cancelled handles are no-ops.
func (c *Controller) Cancel(h *Handle) bool {
	if h == nil {
		return false
	}
	ok := h.transition(HandleCancelled)
	c.release(h)
	return ok
}

// Finish marks h complete. It is a no-op if h is no longer active.
func (c *Controller) Finish(h *Handle) bool {
	if h == nil {
		return false
	}
	ok := h.transition(HandleFinished)
	c.release(h)
	return ok
}

// CancelActive cancels whichever handle is active, if any.
func (c *Controller) CancelActive() bool {
	return c.Cancel(c.Active())
}

// Active returns the active handle, or nil.
func (c *Controller) Active() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.active.State() == HandleActive {
		return c.active
	}
	return nil
}

// Busy reports whether a handle is active.
func (c *Controller) Busy() bool {
	return c.Active() != nil
}

func (c *Controller) release(h *Handle) {
	c.mu.Lock()
	if c.active == h {
		c.active = nil
	}
	c.mu.Unlock()
}
