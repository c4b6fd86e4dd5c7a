// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes saved threads to shareable files.
//
// # Supported Formats
//
//   - Markdown: human-readable, one section per turn
//   - JSON: the stored thread, suitable for re-import
//   - HTML: a standalone page with light and dark themes
//
// # Usage
//
//	exporter, err := export.ForFormat("html", nil)
//	if err != nil {
//	    return err
//	}
//	path, err := export.ExportToFile(thread, exporter, &export.Options{OutputDir: "."})
package export
