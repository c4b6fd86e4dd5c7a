// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/api"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/config"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/events"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/session"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/storage"
)

// historyWatchDebounce coalesces bursts of thread file writes.
const historyWatchDebounce = 250 * time.Millisecond

// =============================================================================
// CHAT CLI
// =============================================================================

// lineReader reads one line of user input. prefill is placed in the input
// field for editing.
type lineReader interface {
	ReadInput(prompt, prefill string) (string, error)
	Close()
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input, optionally pre-filled for editing.
func (c *ChatCLI) ReadInput(prompt, prefill string) (string, error) {
	var input string
	var err error
	if prefill != "" {
		input, err = c.line.PromptWithSuggestion(prompt, prefill, -1)
	} else {
		input, err = c.line.Prompt(prompt)
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// chatOptions select what the chat opens with.
type chatOptions struct {
	// ThreadID resumes a saved thread.
	ThreadID string
	// BlogQuestion and BlogAnswer seed the chat with one turn from a blog post.
	BlogQuestion string
	BlogAnswer   string
}

// chatSession is one interactive conversation.
type chatSession struct {
	app      *App
	ctrl     *session.Controller
	notifier *terminalNotifier
	renderer *Renderer
	env      *commandEnv

	mu      sync.Mutex
	threads []storage.ThreadMeta // last /history listing; nil when stale
}

func (env *commandEnv) newChatSession() *chatSession {
	tty := IsStdoutTTY()
	ui := env.app.Config.UI
	live := !(ui.Markdown && tty)

	notifier := newTerminalNotifier(env.out, env.errw, live)
	s := &chatSession{
		app:      env.app,
		notifier: notifier,
		renderer: NewRenderer(env.out, ui, tty),
		env:      env,
	}
	s.ctrl = env.app.NewController(notifier)
	return s
}

// close releases the controller.
func (s *chatSession) close() {
	s.ctrl.Close()
}

// invalidateHistory drops the cached thread listing.
func (s *chatSession) invalidateHistory() {
	s.mu.Lock()
	s.threads = nil
	s.mu.Unlock()
}

// open seeds the session from opts.
func (s *chatSession) open(opts chatOptions) error {
	switch {
	case opts.ThreadID != "":
		history, err := s.app.requireHistory()
		if err != nil {
			return err
		}
		th, err := history.Load(opts.ThreadID)
		if err != nil {
			return err
		}
		s.seedThread(th, true)
	case opts.BlogQuestion != "":
		seed := model.NewMessage(opts.BlogQuestion)
		seed.Answer = opts.BlogAnswer
		s.ctrl.Seed(session.SeedOptions{
			Messages: []model.Message{*seed},
			From:     model.FromBlog,
			Owned:    true,
		})
	}
	return nil
}

// seedThread opens a saved thread from its detail view.
func (s *chatSession) seedThread(th *model.Thread, owned bool) {
	s.ctrl.Seed(session.SeedOptions{
		ThreadID: th.ThreadID,
		Messages: th.Messages,
		From:     model.FromDetail,
		Owned:    owned,
	})
	s.notifier.resetTurns()
}

// showTranscript prints the conversation so far.
func (s *chatSession) showTranscript() {
	msgs := s.ctrl.Messages()
	if len(msgs) == 0 {
		return
	}
	fmt.Fprintln(s.renderer.out, TitleStyle.Render(model.TitleFromQuestion(msgs[0].Question)))
	s.renderer.Transcript(msgs)
	fmt.Fprintln(s.renderer.out, RenderSeparator(s.renderer.width))
}

// ask submits a question and prints the result.
func (s *chatSession) ask(ctx context.Context, submit func(context.Context, string) session.Outcome, question string) session.Outcome {
	if !s.notifier.live {
		fmt.Fprintln(s.env.errw, DimStyle.Render("Thinking... (Ctrl+C to stop)"))
	}
	outcome := submit(ctx, question)
	s.report(outcome)
	return outcome
}

// report prints the end of a submission.
func (s *chatSession) report(outcome session.Outcome) {
	msgs := s.ctrl.Messages()
	if len(msgs) == 0 {
		return
	}
	idx := len(msgs) - 1
	last := msgs[idx]

	switch outcome {
	case session.OutcomeCompleted:
		if s.notifier.streamed(idx) {
			fmt.Fprintln(s.env.out)
			s.renderer.Extras(last)
		} else {
			s.renderer.Answer(last)
		}
	case session.OutcomeCancelled:
		if s.notifier.streamed(idx) {
			fmt.Fprintln(s.env.out)
		} else if last.Answer != "" {
			s.renderer.Answer(last)
		}
		fmt.Fprintln(s.env.errw, WarningStyle.Render("[Stopped]"))
	case session.OutcomeReadOnly:
		fmt.Fprintln(s.env.errw, WarningStyle.Render("This is a shared thread. Use /continue to make it yours."))
	case session.OutcomeBusy:
		fmt.Fprintln(s.env.errw, DimStyle.Render("Still answering. Press Ctrl+C to stop."))
	}
}

// lastMessage returns the most recent turn, or false if there is none.
func (s *chatSession) lastMessage() (model.Message, bool) {
	msgs := s.ctrl.Messages()
	if len(msgs) == 0 {
		return model.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// handleLine processes one line of input. It returns false when the user
// asked to quit.
func (s *chatSession) handleLine(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return true, nil
	}
	if strings.HasPrefix(input, "/") {
		return s.handleSlashCommand(ctx, input)
	}
	if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
		return false, nil
	}
	s.ask(ctx, s.ctrl.OnUserInput, input)
	return true, nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (s *chatSession) handleSlashCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "/quit", "/exit", "/q":
		return false, nil

	case "/help", "/h", "/?":
		printChatHelp(s.env.out)

	case "/new", "/n":
		s.app.Bus.Emit(events.TopicNewChat, "")
		s.notifier.resetTurns()
		fmt.Fprintln(s.env.out, SuccessStyle.Render("Started a new chat."))

	case "/follow", "/f":
		last, ok := s.lastMessage()
		if !ok {
			return true, fmt.Errorf("no answer to follow up on")
		}
		n, err := parseIndex(args, len(last.FollowUpQuestions))
		if err != nil {
			return true, err
		}
		question := last.FollowUpQuestions[n-1]
		fmt.Fprintln(s.env.out, PromptStyle.Render("> ")+question)
		s.ask(ctx, s.ctrl.OnFollowupClicked, question)

	case "/regen", "/r":
		last, ok := s.lastMessage()
		if !ok {
			return true, fmt.Errorf("nothing to regenerate")
		}
		s.ask(ctx, s.ctrl.OnRegenerate, last.Question)

	case "/edit", "/e":
		last, ok := s.lastMessage()
		if !ok {
			return true, fmt.Errorf("no question to edit")
		}
		s.report(s.ctrl.OnQuestionEdit(last.Question))

	case "/feedback":
		return true, s.feedback(ctx, args)

	case "/history":
		return true, s.printHistory()

	case "/open", "/o":
		return true, s.openThread(args)

	case "/continue":
		if s.ctrl.ContinueConversation(ctx) == session.OutcomeIgnored {
			fmt.Fprintln(s.env.errw, DimStyle.Render("This thread is already yours."))
		}

	case "/quota":
		return true, printQuota(ctx, s.env.out, s.app, false)

	default:
		return true, usageErrorf("unknown command: %s (type /help)", cmd)
	}
	return true, nil
}

// feedback rates the last answer: /feedback RATING [COMMENT...]
func (s *chatSession) feedback(ctx context.Context, args []string) error {
	last, ok := s.lastMessage()
	if !ok || last.Answer == "" {
		return fmt.Errorf("no answer to rate")
	}
	if len(args) == 0 {
		return usageErrorf("usage: /feedback RATING [COMMENT] (rating 1-5)")
	}
	rating, err := strconv.Atoi(args[0])
	if err != nil || rating < 1 || rating > 5 {
		return usageErrorf("rating must be a number from 1 to 5")
	}

	if outcome := s.ctrl.OnFeedback(last.Question, last.Answer); outcome != session.OutcomeOpened {
		s.report(outcome)
		return nil
	}
	target := s.notifier.takeFeedback()
	if target == nil {
		return nil
	}
	s.ctrl.SubmitFeedback(ctx, api.Feedback{
		Question: target.Question,
		Answer:   target.Answer,
		Rating:   rating,
		Comment:  strings.Join(args[1:], " "),
	})
	return nil
}

// printHistory lists saved threads and caches the listing for /open.
func (s *chatSession) printHistory() error {
	history, err := s.app.requireHistory()
	if err != nil {
		return err
	}
	threads, err := history.List()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.threads = threads
	s.mu.Unlock()
	fmt.Fprintln(s.env.out, strings.TrimRight(storage.FormatThreadList(threads), "\n"))
	return nil
}

// openThread resumes thread N from the last listing, or by ID.
func (s *chatSession) openThread(args []string) error {
	history, err := s.app.requireHistory()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return usageErrorf("usage: /open N (see /history)")
	}

	var th *model.Thread
	if n, convErr := strconv.Atoi(args[0]); convErr == nil {
		s.mu.Lock()
		cached := s.threads
		s.mu.Unlock()
		if cached != nil {
			if n < 1 || n > len(cached) {
				return usageErrorf("no thread %d (see /history)", n)
			}
			th, err = history.Load(cached[n-1].ThreadID)
		} else {
			th, err = history.LoadByIndex(n - 1)
		}
	} else {
		th, err = history.Load(args[0])
	}
	if err != nil {
		return err
	}
	s.seedThread(th, true)
	s.showTranscript()
	return nil
}

// parseIndex parses a 1-based index argument bounded by n.
func parseIndex(args []string, n int) (int, error) {
	if n == 0 {
		return 0, fmt.Errorf("there are no suggestions for the last answer")
	}
	if len(args) == 0 {
		return 0, usageErrorf("usage: /follow N (1-%d)", n)
	}
	i, err := strconv.Atoi(args[0])
	if err != nil || i < 1 || i > n {
		return 0, usageErrorf("choose a number from 1 to %d", n)
	}
	return i, nil
}

// printChatHelp prints the interactive commands.
func printChatHelp(w io.Writer) {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/new", "Start a new chat"},
		{"/follow N", "Ask suggested follow-up N"},
		{"/regen", "Ask the last question again"},
		{"/edit", "Edit the last question"},
		{"/feedback R [C]", "Rate the last answer 1-5, with an optional comment"},
		{"/history", "List saved threads"},
		{"/open N", "Open saved thread N"},
		{"/continue", "Continue a shared thread as your own"},
		{"/quota", "Show today's usage"},
		{"/quit", "Exit"},
		{"Ctrl+C", "Stop the answer being streamed"},
	}
	fmt.Fprintln(w, TitleStyle.Render("Commands"))
	for _, c := range commands {
		fmt.Fprintf(w, "  %s %s\n", RenderLabel(c.cmd), c.desc)
	}
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func (env *commandEnv) chatCmd() *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Start an interactive chat with the directory assistant.

Use --thread to resume a saved thread (see 'husky history'). Press Ctrl+C
while an answer streams to stop it; the partial answer is kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.runChat(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.ThreadID, "thread", "", "resume a saved thread by ID")
	cmd.Flags().StringVar(&opts.BlogQuestion, "blog-question", "", "seed the chat with a question from a blog post")
	cmd.Flags().StringVar(&opts.BlogAnswer, "blog-answer", "", "the blog post's answer to --blog-question")
	return cmd
}

// runChat runs the interactive REPL until the user quits.
func (env *commandEnv) runChat(ctx context.Context, opts chatOptions) error {
	s := env.newChatSession()
	defer s.close()

	if err := s.open(opts); err != nil {
		return err
	}
	s.showTranscript()
	return env.repl(ctx, s, NewChatCLI())
}

// repl reads lines until EOF or /quit. Ctrl+C while streaming publishes a
// stop signal; Ctrl+C at the prompt exits.
func (env *commandEnv) repl(ctx context.Context, s *chatSession, in lineReader) error {
	defer in.Close()

	unsub := env.app.Bus.Subscribe(events.TopicRefreshHistory, func(events.Event) {
		s.invalidateHistory()
	})
	defer unsub()

	if watcher := env.watchHistory(); watcher != nil {
		defer watcher.Close()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	stopSignals := make(chan struct{})
	defer close(stopSignals)
	go func() {
		for {
			select {
			case <-sigChan:
				env.app.Bus.Emit(events.TopicStopStream, s.ctrl.ThreadID())
			case <-stopSignals:
				return
			}
		}
	}()

	printWelcome(env.out)
	for {
		input, err := in.ReadInput(PromptStyle.Render("husky> "), s.notifier.takePrefill())
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) {
				env.app.Logger.Debug("input closed", zap.Error(err))
			}
			fmt.Fprintln(env.out)
			return nil
		}

		cont, err := s.handleLine(ctx, input)
		if err != nil {
			fmt.Fprintf(env.errw, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
		if !cont {
			return nil
		}
	}
}

// watchHistory publishes a refresh signal when thread files change on disk,
// for example when another husky process saves a turn.
func (env *commandEnv) watchHistory() *storage.ThreadWatcher {
	if env.app.History == nil {
		return nil
	}
	dir, err := env.app.Config.ThreadsDir()
	if err != nil {
		return nil
	}
	watcher, err := storage.NewThreadWatcher(dir, historyWatchDebounce, func() {
		env.app.Bus.Emit(events.TopicRefreshHistory, "")
	}, env.app.Logger.Named("watch"))
	if err != nil {
		env.app.Logger.Debug("history watch unavailable", zap.Error(err))
		return nil
	}
	watcher.Start()
	return watcher
}

func printWelcome(w io.Writer) {
	fmt.Fprintln(w, TitleStyle.Render("husky - ask the directory"))
	fmt.Fprintln(w, DimStyle.Render("Type a question, /help for commands, /quit to exit."))
}
