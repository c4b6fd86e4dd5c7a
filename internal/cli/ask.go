// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/events"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/session"
)

// askResult is the --json payload of ask.
type askResult struct {
	ThreadID string        `json:"threadId"`
	Outcome  string        `json:"outcome"`
	Message  model.Message `json:"message"`
}

func (env *commandEnv) askCmd() *cobra.Command {
	var threadID string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Ask one question and print the answer",
		Long: `Ask one question and print the answer.

The answer streams to stdout as it is generated. On a terminal with
ui.markdown enabled it is rendered as markdown once complete.

Examples:
  husky ask "Which teams work on libp2p?"
  husky ask --thread 3f2c... "And who leads them?"
  husky ask --json "What is IPFS?" | jq .data.message.answer`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if jsonOut {
				return outputJSON(env.out, "ask", func() (any, error) {
					return env.runAsk(cmd.Context(), threadID, question, true)
				})
			}
			_, err := env.runAsk(cmd.Context(), threadID, question, false)
			return err
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "ask within a saved thread")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	return cmd
}

// runAsk submits one question. Ctrl+C stops the stream and keeps the partial
// answer.
func (env *commandEnv) runAsk(ctx context.Context, threadID, question string, quiet bool) (*askResult, error) {
	s := env.newChatSession()
	defer s.close()
	if quiet {
		s.notifier.live = false
		s.renderer.out = io.Discard
	}

	if err := s.open(chatOptions{ThreadID: threadID}); err != nil {
		return nil, err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigChan:
			env.app.Bus.Emit(events.TopicStopStream, s.ctrl.ThreadID())
		case <-done:
		}
	}()

	var outcome session.Outcome
	if quiet {
		outcome = s.ctrl.OnUserInput(ctx, question)
	} else {
		outcome = s.ask(ctx, s.ctrl.OnUserInput, question)
	}

	result := &askResult{ThreadID: s.ctrl.ThreadID(), Outcome: outcome.String()}
	if last, ok := s.lastMessage(); ok {
		result.Message = last
	}

	switch outcome {
	case session.OutcomeCompleted, session.OutcomeCancelled:
		return result, nil
	case session.OutcomeBlocked:
		return nil, ErrQuotaReached
	case session.OutcomeErrored:
		return nil, ErrAnswerFailed
	case session.OutcomeReadOnly:
		return nil, usageErrorf("thread %s is read-only; run 'husky continue %s' first", threadID, threadID)
	default:
		return nil, usageErrorf("nothing to ask")
	}
}
