// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/api"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/config"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/events"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/ratelimit"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/stream"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/util"
)

// Toast messages.
const (
	ToastStreamFailed   = "Something went wrong. Please try again."
	ToastContinueFailed = "Failed to continue the conversation. Please try again."
	ToastFeedbackFailed = "Failed to send feedback."
	ToastFeedbackSent   = "Thanks for your feedback!"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// QuotaTracker is the anonymous usage quota. *ratelimit.Limiter implements it.
type QuotaTracker interface {
	Classify(ctx context.Context) (ratelimit.State, error)
	RecordUsage(ctx context.Context) (ratelimit.State, error)
	SessionToken(ctx context.Context) (string, bool, error)
	GuestID(ctx context.Context) (string, error)
}

// ThreadLifecycle allocates IDs and persists threads. *thread.Manager
// implements it.
type ThreadLifecycle interface {
	ResolveThreadID(current string, messageCount int) (string, bool)
	NewChatID() string
	Persist(ctx context.Context, token, threadID, question string) bool
	Duplicate(ctx context.Context, token, threadID, guestID string) (string, error)
}

// Streamer runs one answer stream. *stream.Assembler implements it.
type Streamer interface {
	Run(h *stream.Handle, req api.ChatRequest, apply func(stream.Fragment)) error
}

// History mirrors finished turns locally. *storage.ThreadStore implements it.
type History interface {
	Save(thread *model.Thread) error
}

// FeedbackSender submits answer feedback. *api.Client implements it.
type FeedbackSender interface {
	SendFeedback(ctx context.Context, token string, fb api.Feedback) error
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller owns one conversation. It is safe for concurrent use: the stop
// signal typically arrives on a different goroutine than the submission.
type Controller struct {
	mu sync.Mutex

	// Conversation
	messages  []model.Message
	threadID  string
	chatID    string
	from      model.From
	owned     bool
	persisted bool
	seeded    int
	summarize bool // attach the blog seed to the next submission

	// Turn state
	gen     uint64 // bumped when the conversation is replaced
	loading bool
	phase   Phase
	active  *stream.Handle
	created model.Thread // identity carried into History

	// Collaborators
	cancels  *stream.Controller
	quota    QuotaTracker
	threads  ThreadLifecycle
	streamer Streamer
	notifier Notifier
	history  History
	feedback FeedbackSender
	user     config.UserConfig
	logger   *zap.Logger
	unsubs   []func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets the presentation callbacks.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithHistory mirrors completed and errored turns into h.
func WithHistory(h History) Option {
	return func(c *Controller) { c.history = h }
}

// WithFeedbackSender enables SubmitFeedback.
func WithFeedbackSender(f FeedbackSender) Option {
	return func(c *Controller) { c.feedback = f }
}

// WithUser sets the identity fields sent with every submission.
func WithUser(u config.UserConfig) Option {
	return func(c *Controller) { c.user = u }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBus subscribes the controller to new-chat and stop-stream signals.
func WithBus(bus *events.Bus) Option {
	return func(c *Controller) {
		if bus == nil {
			return
		}
		c.unsubs = append(c.unsubs,
			bus.Subscribe(events.TopicNewChat, func(events.Event) { c.Reset() }),
			bus.Subscribe(events.TopicStopStream, func(events.Event) { c.OnStopStreaming() }),
		)
	}
}

// New creates an idle controller for a fresh conversation.
func New(quota QuotaTracker, threads ThreadLifecycle, streamer Streamer, opts ...Option) *Controller {
	c := &Controller{
		from:     model.FromChat,
		owned:    true,
		phase:    PhaseIdle,
		cancels:  stream.NewController(),
		quota:    quota,
		threads:  threads,
		streamer: streamer,
		notifier: NopNotifier{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close cancels any active stream and drops bus subscriptions.
func (c *Controller) Close() {
	c.cancels.CancelActive()
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// =============================================================================
// SEEDING AND RESET
// =============================================================================

// SeedOptions describes a conversation opened with existing content.
type SeedOptions struct {
	ThreadID string
	Messages []model.Message
	From     model.From
	// Owned is false when viewing someone else's shared thread.
	Owned bool
}

// Seed replaces the conversation with pre-existing turns. Any active stream
// is cancelled first.
func (c *Controller) Seed(opts SeedOptions) {
	c.cancels.CancelActive()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = make([]model.Message, len(opts.Messages))
	for i, m := range opts.Messages {
		c.messages[i] = m.Clone()
	}
	c.threadID = opts.ThreadID
	c.chatID = ""
	c.from = opts.From
	c.owned = opts.Owned
	c.gen++
	c.seeded = len(opts.Messages)
	c.summarize = opts.From == model.FromBlog && len(opts.Messages) == 1
	// A thread opened from its own link already exists server-side; one
	// arriving from any other entry context is persisted on its first turn.
	c.persisted = opts.ThreadID != "" && opts.From == model.FromDetail
	c.loading = false
	c.phase = PhaseIdle
	c.active = nil
	c.created = model.Thread{}

	c.logger.Debug("session seeded",
		zap.String("thread_id", opts.ThreadID),
		zap.String("from", opts.From.String()),
		zap.Int("messages", len(opts.Messages)),
		zap.Bool("owned", opts.Owned))
}

// Reset starts a new empty conversation.
func (c *Controller) Reset() {
	c.Seed(SeedOptions{From: model.FromChat, Owned: true})
}

// =============================================================================
// SUBMISSION
// =============================================================================

type submitKind int

const (
	kindInput submitKind = iota
	kindFollowup
	kindRegenerate
)

func (k submitKind) String() string {
	switch k {
	case kindFollowup:
		return "followup"
	case kindRegenerate:
		return "regenerate"
	default:
		return "input"
	}
}

// OnUserInput submits a typed question.
func (c *Controller) OnUserInput(ctx context.Context, question string) Outcome {
	return c.submit(ctx, question, kindInput)
}

// OnFollowupClicked submits a suggested follow-up question.
func (c *Controller) OnFollowupClicked(ctx context.Context, question string) Outcome {
	return c.submit(ctx, question, kindFollowup)
}

// OnRegenerate re-submits question as a new turn.
func (c *Controller) OnRegenerate(ctx context.Context, question string) Outcome {
	return c.submit(ctx, question, kindRegenerate)
}

// turn is the state captured for one submission.
type turn struct {
	gen      uint64
	question string
	token    string
	authed   bool
	threadID string
	chatID   string
	summary  string
	persist  bool
}

// submit runs one turn to completion. It blocks until the stream ends.
func (c *Controller) submit(ctx context.Context, question string, kind submitKind) Outcome {
	question = util.NormalizeQuestion(question)
	if question == "" {
		return OutcomeIgnored
	}

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return OutcomeBusy
	}
	if c.readOnlyLocked() {
		threadID := c.threadID
		c.mu.Unlock()
		c.logger.Debug("submission rejected on read-only thread",
			zap.String("kind", kind.String()),
			zap.String("thread_id", threadID))
		return OutcomeReadOnly
	}
	c.loading = true
	c.phase = PhaseSubmitting
	t := turn{gen: c.gen, question: question}
	c.mu.Unlock()

	// Quota
	token, ok, err := c.quota.SessionToken(ctx)
	if err != nil {
		c.logger.Warn("failed to read session token", zap.Error(err))
	}
	t.token = token
	t.authed = ok && token != ""

	if !t.authed {
		if outcome, rejected := c.checkQuota(ctx, t.gen); rejected {
			return outcome
		}
	}

	// Thread identity
	c.mu.Lock()
	if c.gen != t.gen {
		c.mu.Unlock()
		return OutcomeCancelled
	}
	threadID, minted := c.threads.ResolveThreadID(c.threadID, len(c.messages))
	if minted {
		c.persisted = false
	}
	c.threadID = threadID
	c.chatID = c.threads.NewChatID()
	t.threadID = threadID
	t.chatID = c.chatID
	if c.summarize && len(c.messages) == c.seeded {
		t.summary = c.messages[0].Summary()
		c.summarize = false
	}
	t.persist = t.authed && !c.persisted
	if t.persist {
		// Claimed before the call so a failure is not retried on later turns.
		c.persisted = true
	}
	c.mu.Unlock()

	if t.persist {
		c.threads.Persist(ctx, t.token, t.threadID, t.question)
	}

	return c.stream(ctx, t)
}

// checkQuota classifies and records anonymous usage. It reports whether the
// submission was rejected, in which case the controller is idle again.
func (c *Controller) checkQuota(ctx context.Context, gen uint64) (Outcome, bool) {
	state, err := c.quota.Classify(ctx)
	if err != nil {
		c.logger.Warn("failed to classify usage", zap.Error(err))
	}
	if err == nil && !state.Allows() {
		return c.rejectQuota(state, gen), true
	}

	recorded, err := c.quota.RecordUsage(ctx)
	switch {
	case errors.Is(err, ratelimit.ErrQuotaExceeded):
		return c.rejectQuota(recorded, gen), true
	case err != nil:
		c.logger.Warn("failed to record usage", zap.Error(err))
	case recorded != ratelimit.StateNone:
		c.notifier.RateLimitChanged(recorded)
	}
	return 0, false
}

func (c *Controller) rejectQuota(state ratelimit.State, gen uint64) Outcome {
	c.mu.Lock()
	if c.gen == gen {
		c.loading = false
		c.phase = PhaseIdle
	}
	c.mu.Unlock()

	c.logger.Info("submission rejected by quota", zap.String("state", state.String()))
	c.notifier.LimitReached(state)
	return OutcomeBlocked
}

// stream appends the turn's message and applies the answer stream to it.
func (c *Controller) stream(ctx context.Context, t turn) Outcome {
	h, err := c.cancels.Start(ctx)
	if err != nil {
		c.mu.Lock()
		if c.gen == t.gen {
			c.loading = false
			c.phase = PhaseIdle
		}
		c.mu.Unlock()
		c.logger.Error("failed to start stream", zap.Error(err))
		return OutcomeBusy
	}

	c.mu.Lock()
	if c.gen != t.gen {
		c.mu.Unlock()
		c.cancels.Cancel(h)
		return OutcomeCancelled
	}
	c.messages = append(c.messages, *model.NewMessage(t.question))
	idx := len(c.messages) - 1
	c.active = h
	c.phase = PhaseStreaming
	c.mu.Unlock()

	req := api.ChatRequest{
		ThreadID:    t.threadID,
		ChatID:      t.chatID,
		Question:    t.question,
		Name:        c.user.Name,
		Email:       c.user.Email,
		DirectoryID: c.user.DirectoryID,
		ChatSummary: t.summary,
		AuthToken:   t.token,
	}

	runErr := c.streamer.Run(h, req, func(f stream.Fragment) {
		c.mu.Lock()
		if c.active != h || idx >= len(c.messages) {
			c.mu.Unlock()
			return
		}
		c.messages[idx] = stream.Merge(c.messages[idx], f)
		snapshot := c.messages[idx].Clone()
		c.mu.Unlock()

		c.notifier.MessageUpdated(idx, snapshot)
	})
	c.cancels.Finish(h)

	return c.finish(h, idx, t, runErr)
}

// finish records the end of a stream. If the conversation was reset or
// replaced meanwhile, only the outcome is reported.
func (c *Controller) finish(h *stream.Handle, idx int, t turn, runErr error) Outcome {
	c.mu.Lock()
	current := c.active == h
	var outcome Outcome
	switch {
	case runErr == nil:
		outcome = OutcomeCompleted
	case errors.Is(runErr, stream.ErrCancelled):
		outcome = OutcomeCancelled
	default:
		outcome = OutcomeErrored
	}

	var snapshot *model.Thread
	if current {
		switch outcome {
		case OutcomeCompleted:
			c.phase = PhaseCompleted
		case OutcomeCancelled:
			c.phase = PhaseCancelled
		case OutcomeErrored:
			c.messages[idx].MarkError()
			c.phase = PhaseErrored
		}
		c.loading = false
		c.active = nil
		if outcome != OutcomeCancelled {
			snapshot = c.threadSnapshotLocked()
		}
	}
	c.mu.Unlock()

	fields := []zap.Field{
		zap.String("thread_id", t.threadID),
		zap.String("chat_id", t.chatID),
		zap.String("outcome", outcome.String()),
	}
	if outcome == OutcomeErrored {
		c.logger.Warn("turn failed", append(fields, zap.Error(runErr))...)
		if current {
			c.notifier.MessageUpdated(idx, c.messageAt(idx))
		}
		c.notifier.Toast(ToastStreamFailed)
	} else {
		c.logger.Debug("turn finished", fields...)
	}

	if snapshot != nil && c.history != nil {
		if err := c.history.Save(snapshot); err != nil {
			c.logger.Warn("failed to save thread history",
				zap.String("thread_id", snapshot.ThreadID),
				zap.Error(err))
		}
	}
	return outcome
}

// threadSnapshotLocked builds the thread mirrored into History.
func (c *Controller) threadSnapshotLocked() *model.Thread {
	if c.created.ThreadID != c.threadID {
		c.created = *model.NewThread(c.threadID)
	}
	th := c.created
	th.ChatID = c.chatID
	th.Messages = nil
	th.Title = ""
	for i := range c.messages {
		th.AddMessage(&c.messages[i])
	}
	return th.Clone()
}

// =============================================================================
// STOP, EDIT, FEEDBACK
// =============================================================================

// OnStopStreaming cancels the active stream. The partial answer is kept and
// the loading flag drops immediately. Calling it with nothing active is a
// no-op.
func (c *Controller) OnStopStreaming() Outcome {
	c.mu.Lock()
	h := c.active
	c.mu.Unlock()
	if h == nil {
		return OutcomeIgnored
	}

	// Cancel must run without c.mu: it waits for an in-flight fragment,
	// which takes c.mu to merge.
	if !c.cancels.Cancel(h) {
		return OutcomeIgnored
	}

	c.mu.Lock()
	if c.active == h {
		c.loading = false
		c.phase = PhaseCancelled
	}
	c.mu.Unlock()

	c.logger.Debug("stream stopped by user", zap.Uint64("handle", h.ID()))
	return OutcomeCancelled
}

// OnQuestionEdit seeds the input with question without submitting it.
func (c *Controller) OnQuestionEdit(question string) Outcome {
	if c.IsLoading() {
		return OutcomeBusy
	}
	c.notifier.EditQuestion(question)
	return OutcomeOpened
}

// OnFeedback opens feedback capture for an answer.
func (c *Controller) OnFeedback(question, answer string) Outcome {
	if c.IsLoading() {
		return OutcomeBusy
	}
	c.notifier.OpenFeedback(question, answer)
	return OutcomeOpened
}

// SubmitFeedback sends captured feedback for the current thread.
func (c *Controller) SubmitFeedback(ctx context.Context, fb api.Feedback) Outcome {
	if c.feedback == nil {
		return OutcomeIgnored
	}

	c.mu.Lock()
	if fb.ThreadID == "" {
		fb.ThreadID = c.threadID
	}
	if fb.Email == "" {
		fb.Email = c.user.Email
	}
	c.mu.Unlock()

	token, _, err := c.quota.SessionToken(ctx)
	if err != nil {
		c.logger.Warn("failed to read session token", zap.Error(err))
	}
	if err := c.feedback.SendFeedback(ctx, token, fb); err != nil {
		c.logger.Warn("failed to send feedback",
			zap.String("thread_id", fb.ThreadID),
			zap.Error(err))
		c.notifier.Toast(ToastFeedbackFailed)
		return OutcomeErrored
	}
	c.notifier.Toast(ToastFeedbackSent)
	return OutcomeCompleted
}

// =============================================================================
// SHARED THREADS
// =============================================================================

// ContinueConversation duplicates a shared thread the viewer does not own
// and adopts the copy, so the conversation can go on without touching the
// original. It only applies to read-only threads.
func (c *Controller) ContinueConversation(ctx context.Context) Outcome {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return OutcomeBusy
	}
	if !c.readOnlyLocked() {
		c.mu.Unlock()
		return OutcomeIgnored
	}
	sharedID := c.threadID
	c.loading = true
	c.mu.Unlock()

	token, _, err := c.quota.SessionToken(ctx)
	if err != nil {
		c.logger.Warn("failed to read session token", zap.Error(err))
	}
	guestID, err := c.quota.GuestID(ctx)
	if err != nil {
		c.logger.Warn("failed to read guest id", zap.Error(err))
	}

	newID, err := c.threads.Duplicate(ctx, token, sharedID, guestID)

	c.mu.Lock()
	c.loading = false
	if err == nil && c.threadID == sharedID {
		c.threadID = newID
		c.owned = true
		c.from = model.FromChat
		c.persisted = true
		c.created = model.Thread{}
	}
	c.mu.Unlock()

	if err != nil {
		c.notifier.Toast(ToastContinueFailed)
		return OutcomeErrored
	}
	c.notifier.Navigate(newID)
	return OutcomeContinued
}

// readOnlyLocked reports whether the conversation is someone else's shared
// thread opened from its detail link.
func (c *Controller) readOnlyLocked() bool {
	return !c.owned && c.from == model.FromDetail
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// Messages returns a deep copy of the conversation.
func (c *Controller) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

func (c *Controller) messageAt(idx int) model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.messages) {
		return model.Message{}
	}
	return c.messages[idx].Clone()
}

// IsLoading reports whether a turn is in flight.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// ThreadID returns the current thread ID, empty before the first turn.
func (c *Controller) ThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

// Phase returns the state of the latest turn.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// From returns the entry context.
func (c *Controller) From() model.From {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.from
}

// IsReadOnly reports whether submissions are rejected in favour of
// ContinueConversation.
func (c *Controller) IsReadOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnlyLocked()
}

// RateLimitState classifies the next submission without recording it.
func (c *Controller) RateLimitState(ctx context.Context) ratelimit.State {
	state, err := c.quota.Classify(ctx)
	if err != nil {
		c.logger.Warn("failed to classify usage", zap.Error(err))
		return ratelimit.StateNone
	}
	return state
}
