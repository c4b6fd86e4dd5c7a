// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/ratelimit"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/session"
)

// tokenEnvVar can supply the session token to login.
const tokenEnvVar = "HUSKY_TOKEN"

// =============================================================================
// QUOTA
// =============================================================================

// quotaStatus is today's usage as reported by the quota command.
type quotaStatus struct {
	Authenticated bool   `json:"authenticated"`
	Limit         int    `json:"limit"`
	Used          int    `json:"used"`
	Remaining     int    `json:"remaining"`
	State         string `json:"state"`
	// LastRequest is the classification recorded by the latest question.
	LastRequest string `json:"lastRequest"`
}

// loadQuotaStatus reads today's usage from the limiter.
func loadQuotaStatus(ctx context.Context, l *ratelimit.Limiter) (*quotaStatus, error) {
	authed, err := l.Authenticated(ctx)
	if err != nil {
		return nil, err
	}
	used, remaining, err := l.Usage(ctx)
	if err != nil {
		return nil, err
	}
	state, err := l.Classify(ctx)
	if err != nil {
		return nil, err
	}
	last, err := l.LastState(ctx)
	if err != nil {
		return nil, err
	}
	return &quotaStatus{
		Authenticated: authed,
		Limit:         l.Quota(),
		Used:          used,
		Remaining:     remaining,
		State:         state.String(),
		LastRequest:   last.String(),
	}, nil
}

// printQuota prints today's usage.
func printQuota(ctx context.Context, out io.Writer, app *App, jsonOut bool) error {
	if jsonOut {
		return outputJSON(out, "quota", func() (any, error) {
			return loadQuotaStatus(ctx, app.Limiter)
		})
	}
	status, err := loadQuotaStatus(ctx, app.Limiter)
	if err != nil {
		return err
	}
	if status.Authenticated {
		fmt.Fprintf(out, "%s %s\n", RenderLabel("Account"), SuccessStyle.Render("logged in (no daily limit)"))
		return nil
	}
	fmt.Fprintf(out, "%s %s\n", RenderLabel("Account"), ValueStyle.Render("guest"))
	fmt.Fprintf(out, "%s %d of %d\n", RenderLabel("Questions today"), status.Used, status.Limit)
	remaining := fmt.Sprintf("%d", status.Remaining)
	switch ratelimit.State(status.State) {
	case ratelimit.StateWarn, ratelimit.StateFinalRequest:
		remaining = WarningStyle.Render(remaining)
	case ratelimit.StateBlocked:
		remaining = ErrorStyle.Render(remaining + " (resets at midnight)")
	}
	fmt.Fprintf(out, "%s %s\n", RenderLabel("Remaining"), remaining)
	if ratelimit.State(status.LastRequest) == ratelimit.StateFinalRequest {
		fmt.Fprintf(out, "%s %s\n", RenderLabel("Last question"), DimStyle.Render("used the final question for today"))
	}
	return nil
}

func (env *commandEnv) quotaCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show today's question usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printQuota(cmd.Context(), env.out, env.app, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print usage as JSON")
	return cmd
}

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

func (env *commandEnv) loginCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a session token",
		Long: `Store the session token issued by the directory web application.

While a token is stored, questions are not counted against the daily limit
and new threads are saved to your account. The token may also be given in
the ` + tokenEnvVar + ` environment variable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv(tokenEnvVar)
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return usageErrorf("a token is required: husky login --token TOKEN")
			}
			if err := env.app.Limiter.SetSessionToken(cmd.Context(), token); err != nil {
				return fmt.Errorf("failed to store token: %w", err)
			}
			fmt.Fprintln(env.out, SuccessStyle.Render("Logged in."))
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "session token")
	return cmd
}

func (env *commandEnv) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.app.Limiter.ClearSessionToken(cmd.Context()); err != nil {
				return fmt.Errorf("failed to remove token: %w", err)
			}
			fmt.Fprintln(env.out, SuccessStyle.Render("Logged out."))
			return nil
		},
	}
}

// =============================================================================
// CONTINUE
// =============================================================================

func (env *commandEnv) continueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "continue N|ID",
		Short: "Continue a shared thread as your own",
		Long: `Duplicate a shared thread you do not own and continue chatting in the copy.
The original thread is left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			th, err := env.resolveThread(args[0])
			if err != nil {
				return err
			}

			s := env.newChatSession()
			defer s.close()
			s.seedThread(th, false)
			if outcome := s.ctrl.ContinueConversation(ctx); outcome != session.OutcomeContinued {
				return fmt.Errorf("could not continue thread %s (%s)", th.ThreadID, outcome)
			}
			s.showTranscript()
			return env.repl(ctx, s, NewChatCLI())
		},
	}
}
