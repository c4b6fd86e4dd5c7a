// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/api"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/config"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates authentication or authorization failure
	ExitAuthError = 4
	// ExitNetworkError indicates network or connectivity error
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitQuotaError indicates the daily quota is used up
	ExitQuotaError = 9
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrQuotaReached is returned by ask when the anonymous quota is used up.
var ErrQuotaReached = errors.New("daily question limit reached; run 'husky login' to continue")

// ErrAnswerFailed is returned by ask when the answer stream failed.
var ErrAnswerFailed = errors.New("failed to get an answer")

// UsageError is invalid command usage.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string {
	return e.Reason
}

// usageErrorf creates a UsageError.
func usageErrorf(format string, args ...any) error {
	return &UsageError{Reason: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	var usageErr *UsageError
	var validateErrs config.ValidateErrors

	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usageErr):
		return ExitUsageError
	case errors.As(err, &validateErrs):
		return ExitConfigError
	case errors.Is(err, api.ErrUnauthorized):
		return ExitAuthError
	case errors.Is(err, ErrQuotaReached):
		return ExitQuotaError
	case errors.Is(err, storage.ErrThreadNotFound), errors.Is(err, api.ErrNotFound):
		return ExitNotFoundError
	case errors.Is(err, api.ErrServer), errors.Is(err, api.ErrRateLimited),
		errors.Is(err, ErrAnswerFailed), errors.Is(err, context.DeadlineExceeded):
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}
