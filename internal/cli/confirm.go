// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// requireConfirmation asks before a destructive action. The --confirm flag
// skips the prompt; without it a terminal is required.
func requireConfirmation(in io.Reader, out io.Writer, confirmFlag, tty bool, action string) (bool, error) {
	if confirmFlag {
		return true, nil
	}
	if !tty {
		return false, usageErrorf("confirmation required but stdin is not a terminal; use --confirm")
	}

	fmt.Fprintf(out, "Are you sure you want to %s? [y/N]: ", action)
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes", nil
}
