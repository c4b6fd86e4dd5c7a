// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// Phase is the state of the most recent turn.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseStreaming
	PhaseCompleted
	PhaseErrored
	PhaseCancelled
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitting:
		return "submitting"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	case PhaseErrored:
		return "errored"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is what a public operation did. Operations never return errors.
type Outcome int

const (
	// OutcomeCompleted means the turn or request finished normally.
	OutcomeCompleted Outcome = iota
	// OutcomeCancelled means the user stopped the stream.
	OutcomeCancelled
	// OutcomeErrored means the turn failed; a toast was shown.
	OutcomeErrored
	// OutcomeBlocked means the quota rejected the submission before any
	// network call.
	OutcomeBlocked
	// OutcomeBusy means another turn is in flight.
	OutcomeBusy
	// OutcomeReadOnly means the thread belongs to someone else.
	OutcomeReadOnly
	// OutcomeIgnored means there was nothing to do.
	OutcomeIgnored
	// OutcomeOpened means an edit or feedback view was opened.
	OutcomeOpened
	// OutcomeContinued means a shared thread was duplicated and adopted.
	OutcomeContinued
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeErrored:
		return "errored"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeBusy:
		return "busy"
	case OutcomeReadOnly:
		return "read-only"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeOpened:
		return "opened"
	case OutcomeContinued:
		return "continued"
	default:
		return "unknown"
	}
}
