// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat threads and messages.
//
// This package defines the domain types shared by the session engine, the
// backend client and local storage.
//
// # Key Types
//
//   - Message: One question/answer turn with follow-ups, sources and actions
//   - Thread: A conversation identified by a stable thread ID
//   - Action: A directory link suggested by the assistant
//   - DirectoryResult: A structured directory query row attached to a turn
//   - From: The entry context a session was opened from (chat, blog, detail)
//
// # Usage
//
//	thread := model.NewThread(threadID)
//	msg := thread.AddMessage(model.NewMessage("Who works on IPFS?"))
//	msg.Answer = "..."
package model
