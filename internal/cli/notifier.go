// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/ratelimit"
)

// feedbackTarget is the answer the user asked to rate.
type feedbackTarget struct {
	Question string
	Answer   string
}

// terminalNotifier renders controller notifications on a terminal.
// When live, answer text is printed as it streams in.
type terminalNotifier struct {
	out  io.Writer
	errw io.Writer
	live bool

	mu       sync.Mutex
	printed  map[int]string // answer text already written, per turn index
	prefill  string
	feedback *feedbackTarget
	navigate string
}

func newTerminalNotifier(out, errw io.Writer, live bool) *terminalNotifier {
	return &terminalNotifier{
		out:     out,
		errw:    errw,
		live:    live,
		printed: make(map[int]string),
	}
}

// MessageUpdated prints the newly streamed part of the answer.
func (n *terminalNotifier) MessageUpdated(index int, msg model.Message) {
	if !n.live || msg.IsError {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	done := n.printed[index]
	if len(msg.Answer) <= len(done) || !strings.HasPrefix(msg.Answer, done) {
		return
	}
	fmt.Fprint(n.out, msg.Answer[len(done):])
	n.printed[index] = msg.Answer
}

func (n *terminalNotifier) RateLimitChanged(state ratelimit.State) {
	switch state {
	case ratelimit.StateWarn:
		fmt.Fprintln(n.errw, WarningStyle.Render("You are close to today's question limit. Run 'husky login' for unlimited questions."))
	case ratelimit.StateFinalRequest:
		fmt.Fprintln(n.errw, WarningStyle.Render("This is your last question for today."))
	}
}

func (n *terminalNotifier) LimitReached(ratelimit.State) {
	fmt.Fprintln(n.errw, ErrorStyle.Render("You have reached today's question limit. Run 'husky login' to keep chatting."))
}

func (n *terminalNotifier) Toast(message string) {
	fmt.Fprintln(n.errw, DimStyle.Render("["+message+"]"))
}

func (n *terminalNotifier) EditQuestion(question string) {
	n.mu.Lock()
	n.prefill = question
	n.mu.Unlock()
}

func (n *terminalNotifier) OpenFeedback(question, answer string) {
	n.mu.Lock()
	n.feedback = &feedbackTarget{Question: question, Answer: answer}
	n.mu.Unlock()
}

func (n *terminalNotifier) Navigate(threadID string) {
	n.mu.Lock()
	n.navigate = threadID
	n.mu.Unlock()
	fmt.Fprintln(n.errw, SuccessStyle.Render("Continuing in your own copy: ")+threadID)
}

// takePrefill returns and clears the pending edit text.
func (n *terminalNotifier) takePrefill() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := n.prefill
	n.prefill = ""
	return p
}

// takeFeedback returns and clears the pending feedback target.
func (n *terminalNotifier) takeFeedback() *feedbackTarget {
	n.mu.Lock()
	defer n.mu.Unlock()
	f := n.feedback
	n.feedback = nil
	return f
}

// streamed reports whether any answer text was printed for index.
func (n *terminalNotifier) streamed(index int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.printed[index] != ""
}

// resetTurns forgets streamed progress, after the conversation is replaced.
func (n *terminalNotifier) resetTurns() {
	n.mu.Lock()
	n.printed = make(map[int]string)
	n.mu.Unlock()
}
