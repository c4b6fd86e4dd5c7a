// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides husky's local persistence.
//
// Two independent stores live here:
//
//   - Store: a small key/value store with per-entry expiry, playing the role a
//     browser's cookies and local storage play for the web client. The rate
//     limiter keeps its daily counter, guest identifier and session token in it.
//     MemoryStore backs tests and --ephemeral runs; SQLiteStore persists to disk.
//   - ThreadStore: local thread history as one JSON file per thread, with
//     listing, search and pruning.
//
// ThreadWatcher reports external changes to the thread directory so the
// history list can be refreshed.
//
// # Usage
//
//	kv, err := storage.OpenSQLite(ctx, statePath, nil)
//	token, ok, err := kv.Get(ctx, "husky:refresh-token")
//
//	threads, err := storage.NewThreadStore(threadsDir)
//	metas, err := threads.List()
//	t, err := threads.Load(metas[0].ThreadID)
package storage
