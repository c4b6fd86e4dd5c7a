// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns a backend answer stream into updates of the in-progress
// message.
//
// # Key Types
//
//   - Controller / Handle: the single cancellable stream slot of a session
//   - Fragment: one progressively more complete answer object
//   - Merge: the pure replace-or-preserve rule applied per fragment
//   - Validator: JSON schema check for raw fragments
//   - Assembler: drives a Source and applies fragments through a Handle
//
// # Cancellation
//
// Cancellation is cooperative. Controller.Cancel marks the handle and cancels
// its context; bytes already applied stay in the message, and Handle.Apply
// refuses every fragment after that point even if the transport keeps
// delivering.
package stream
