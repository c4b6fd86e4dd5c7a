// husky - a terminal client for the directory's AI assistant.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/cli"
)

func main() {
	// A .env file in the working directory may supply HUSKY_* settings.
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
