// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across husky packages.
//
//   - AtomicWriteFile: crash-safe file replacement for config and history
//   - NormalizeQuestion: input normalization before a turn is submitted
//   - TruncateRunes, TruncateWidth, PadWidth: display helpers that respect
//     multi-byte and double-width characters
package util
