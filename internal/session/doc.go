// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the state of one chat conversation.
//
// A Controller holds the message list, thread ID and entry context behind a
// single mutex. Every public operation reads the latest values from it, so a
// stream that finishes long after it started still sees current state.
//
// # Turn lifecycle
//
//	idle -> submitting -> streaming -> completed | errored | cancelled
//
// Submission is guarded three ways: the anonymous quota (a blocked visitor
// never reaches the backend), the busy flag (one turn at a time) and the
// read-only guard (a shared thread opened from its detail link cannot be
// extended; ContinueConversation duplicates it instead).
//
// # Errors
//
// Public operations never return errors. They report an Outcome and surface
// problems through the Notifier: a failed stream marks its turn with
// IsError and raises a toast, a cancelled one keeps its partial answer.
//
// # Usage
//
//	ctrl := session.New(limiter, threads, assembler,
//		session.WithBus(bus),
//		session.WithNotifier(ui),
//		session.WithHistory(store))
//	defer ctrl.Close()
//
//	switch ctrl.OnUserInput(ctx, "Who works on libp2p?") {
//	case session.OutcomeBlocked:
//		// show login prompt
//	}
package session
