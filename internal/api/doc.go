// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the husky backend.
//
// The backend exposes a streaming chat endpoint that answers with a sequence
// of progressively more complete JSON objects, plus small JSON endpoints for
// thread creation, titles, duplication and feedback.
//
// # Streams
//
// StreamChat reads the response according to its content type:
//
//   - text/event-stream: each data event is one object; [DONE] ends the stream
//   - application/x-ndjson: one object per line
//   - anything else: raw JSON text that grows until complete. Every chunk is
//     closed with CompletePartialJSON so the caller sees the most complete
//     object parsed so far.
//
// Streams have no client timeout. Cancel the context to stop one.
//
// # Errors
//
// Non-2xx responses map to ErrUnauthorized, ErrNotFound, ErrRateLimited and
// ErrServer (check with errors.Is), or to a plain *APIError.
package api
