// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/api"
)

// ErrCancelled is returned by Run when the handle was cancelled. Whatever was
// applied before cancellation stays applied.
var ErrCancelled = errors.New("stream cancelled")

// StreamError is a transport or backend failure during a stream. Fragments is
// the number of fragments applied before the failure.
type StreamError struct {
	Fragments int
	Err       error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Fragments > 0 {
		return fmt.Sprintf("stream error (after %d fragments): %v", e.Fragments, e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// Source opens a backend answer stream and calls onObject for every raw JSON
// object in receipt order. Returning an error from onObject stops the stream
// and StreamChat returns that error.
type Source interface {
	StreamChat(ctx context.Context, req api.ChatRequest, onObject func(json.RawMessage) error) error
}

// Stats describes one finished Run.
type Stats struct {
	Applied       int
	Skipped       int
	FirstFragment time.Duration
	Total         time.Duration
}

// Assembler applies a backend stream to session state.
type Assembler struct {
	source    Source
	validator *Validator
	logger    *zap.Logger
}

// NewAssembler creates an assembler. A nil logger discards output.
func NewAssembler(source Source, validator *Validator, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{source: source, validator: validator, logger: logger}
}

// Run streams req and hands each valid fragment to apply, through h.Apply, in
// receipt order. It returns nil on completion, ErrCancelled if h was cancelled
// (or its parent context ended), and a *StreamError otherwise. Fragments that
// fail validation are skipped. Run does not finish h; the caller does.
func (a *Assembler) Run(h *Handle, req api.ChatRequest, apply func(Fragment)) error {
	_, err := a.RunWithStats(h, req, apply)
	return err
}

// RunWithStats is Run that also reports fragment counts and timings.
func (a *Assembler) RunWithStats(h *Handle, req api.ChatRequest, apply func(Fragment)) (Stats, error) {
	var stats Stats
	start := time.Now()

	err := a.source.StreamChat(h.Context(), req, func(raw json.RawMessage) error {
		frag, err := a.validator.Decode(raw)
		if err != nil {
			stats.Skipped++
			a.logger.Debug("skipping invalid fragment",
				zap.String("chat_id", req.ChatID),
				zap.Error(err))
			return nil
		}
		if frag.IsEmpty() {
			return nil
		}
		if !h.Apply(func() { apply(frag) }) {
			return ErrCancelled
		}
		if stats.Applied == 0 {
			stats.FirstFragment = time.Since(start)
		}
		stats.Applied++
		return nil
	})
	stats.Total = time.Since(start)

	logFields := []zap.Field{
		zap.String("thread_id", req.ThreadID),
		zap.String("chat_id", req.ChatID),
		zap.Int("applied", stats.Applied),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("first_fragment", stats.FirstFragment),
		zap.Duration("total", stats.Total),
	}

	switch {
	case h.State() == HandleCancelled,
		errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled):
		a.logger.Debug("stream cancelled", logFields...)
		return stats, ErrCancelled
	case err != nil:
		a.logger.Warn("stream failed", append(logFields, zap.Error(err))...)
		return stats, &StreamError{Fragments: stats.Applied, Err: err}
	default:
		a.logger.Debug("stream completed", logFields...)
		return stats, nil
	}
}
