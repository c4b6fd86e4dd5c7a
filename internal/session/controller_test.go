// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/api"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/events"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/ratelimit"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/storage"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/stream"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/thread"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// scriptSource replays objects for every StreamChat call. With a gate set, it
// pauses after the first object until the gate closes or the stream is
// cancelled.
type scriptSource struct {
	mu      sync.Mutex
	calls   []api.ChatRequest
	objects []string
	err     error
	gate    chan struct{}
	started chan struct{}
}

func (s *scriptSource) StreamChat(ctx context.Context, req api.ChatRequest, onObject func(json.RawMessage) error) error {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	objects, err, gate, started := s.objects, s.err, s.gate, s.started
	s.mu.Unlock()

	for i, obj := range objects {
		if err := onObject(json.RawMessage(obj)); err != nil {
			return err
		}
		if i == 0 && started != nil {
			started <- struct{}{}
		}
		if i == 0 && gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

func (s *scriptSource) requests() []api.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.ChatRequest(nil), s.calls...)
}

type fakeBackend struct {
	mu      sync.Mutex
	creates int
	titles  int
	dupID   string
	dupErr  error
}

func (f *fakeBackend) CreateThread(ctx context.Context, token, threadID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	return true, nil
}

func (f *fakeBackend) CreateTitle(ctx context.Context, token, threadID, question string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles++
	return true, nil
}

func (f *fakeBackend) DuplicateThread(ctx context.Context, token, threadID, guestID string) (string, error) {
	return f.dupID, f.dupErr
}

type recorder struct {
	NopNotifier
	mu        sync.Mutex
	toasts    []string
	limits    []ratelimit.State
	changes   []ratelimit.State
	navigated []string
	edits     []string
	feedback  int
	updates   int
}

func (r *recorder) Toast(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, msg)
}

func (r *recorder) LimitReached(s ratelimit.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits = append(r.limits, s)
}

func (r *recorder) RateLimitChanged(s ratelimit.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, s)
}

func (r *recorder) Navigate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navigated = append(r.navigated, id)
}

func (r *recorder) EditQuestion(q string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, q)
}

func (r *recorder) OpenFeedback(q, a string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedback++
}

func (r *recorder) MessageUpdated(int, model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
}

type harness struct {
	ctrl     *Controller
	source   *scriptSource
	backend  *fakeBackend
	limiter  *ratelimit.Limiter
	notifier *recorder
	bus      *events.Bus
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	clock := fixedClock{t: time.Date(2025, 6, 10, 12, 0, 0, 0, time.Local)}
	store := storage.NewMemoryStore(clock.Now)
	limiter := ratelimit.New(store, ratelimit.WithClock(clock), ratelimit.WithQuota(5))

	source := &scriptSource{objects: []string{
		`{"content":"Partial"}`,
		`{"content":"Partial answer","sources":["https://docs.libp2p.io"]}`,
		`{"content":"Partial answer done","followUpQuestions":["More?"]}`,
	}}
	validator, err := stream.NewValidator()
	require.NoError(t, err)

	backend := &fakeBackend{dupID: "duplicated-thread"}
	bus := events.NewBus(nil)
	threads := thread.NewManager(backend, bus, nil)
	notifier := &recorder{}

	all := append([]Option{WithNotifier(notifier), WithBus(bus)}, opts...)
	ctrl := New(limiter, threads, stream.NewAssembler(source, validator, nil), all...)
	t.Cleanup(ctrl.Close)

	return &harness{
		ctrl:     ctrl,
		source:   source,
		backend:  backend,
		limiter:  limiter,
		notifier: notifier,
		bus:      bus,
	}
}

// startGated begins a submission that pauses after its first fragment.
func (h *harness) startGated(t *testing.T, question string) (chan struct{}, <-chan Outcome) {
	t.Helper()
	gate := make(chan struct{})
	h.source.mu.Lock()
	h.source.gate = gate
	h.source.started = make(chan struct{}, 1)
	started := h.source.started
	h.source.mu.Unlock()

	done := make(chan Outcome, 1)
	go func() {
		done <- h.ctrl.OnUserInput(context.Background(), question)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not start")
	}
	return gate, done
}

func waitOutcome(t *testing.T, done <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-done:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not finish")
		return OutcomeIgnored
	}
}

// =============================================================================
// SUBMISSION TESTS
// =============================================================================

func TestOnUserInput_Completes(t *testing.T) {
	h := newHarness(t)

	outcome := h.ctrl.OnUserInput(context.Background(), "  Who maintains libp2p?  ")

	assert.Equal(t, OutcomeCompleted, outcome)
	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Who maintains libp2p?", msgs[0].Question)
	assert.Equal(t, "Partial answer done", msgs[0].Answer)
	assert.Equal(t, []string{"https://docs.libp2p.io"}, msgs[0].Sources, "sources must not regress")
	assert.Equal(t, []string{"More?"}, msgs[0].FollowUpQuestions)
	assert.False(t, h.ctrl.IsLoading())
	assert.Equal(t, PhaseCompleted, h.ctrl.Phase())
	assert.NotEmpty(t, h.ctrl.ThreadID())
	assert.Equal(t, 3, h.notifier.updates)
}

func TestOnUserInput_EmptyIgnored(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, OutcomeIgnored, h.ctrl.OnUserInput(context.Background(), "   "))
	assert.Empty(t, h.source.requests())
}

func TestMessages_AppendOnly(t *testing.T) {
	h := newHarness(t)
	questions := []string{"one", "two", "three"}
	for _, q := range questions {
		require.Equal(t, OutcomeCompleted, h.ctrl.OnUserInput(context.Background(), q))
	}

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, len(questions))
	for i, q := range questions {
		assert.Equal(t, q, msgs[i].Question)
	}

	reqs := h.source.requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, reqs[0].ThreadID, reqs[2].ThreadID, "thread id is stable across turns")
	assert.NotEqual(t, reqs[0].ChatID, reqs[1].ChatID, "chat id is fresh per turn")
}

func TestMessages_ReturnsCopies(t *testing.T) {
	h := newHarness(t)
	h.ctrl.OnUserInput(context.Background(), "q")

	msgs := h.ctrl.Messages()
	msgs[0].Sources[0] = "mutated"
	assert.Equal(t, "https://docs.libp2p.io", h.ctrl.Messages()[0].Sources[0])
}

func TestOnUserInput_StreamErrorMarksTurn(t *testing.T) {
	h := newHarness(t)
	h.source.err = errors.New("connection reset")

	outcome := h.ctrl.OnUserInput(context.Background(), "What is X?")

	assert.Equal(t, OutcomeErrored, outcome)
	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsError)
	assert.Empty(t, msgs[0].Answer)
	assert.Equal(t, "What is X?", msgs[0].Question)
	assert.Equal(t, PhaseErrored, h.ctrl.Phase())
	assert.False(t, h.ctrl.IsLoading())
	assert.Equal(t, []string{ToastStreamFailed}, h.notifier.toasts)

	// Regenerating the same question recovers with a new turn.
	h.source.err = nil
	assert.Equal(t, OutcomeCompleted, h.ctrl.OnRegenerate(context.Background(), "What is X?"))
	msgs = h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsError)
	assert.False(t, msgs[1].IsError)
}

// =============================================================================
// QUOTA TESTS
// =============================================================================

func TestQuota_AnonymousScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.Equal(t, OutcomeCompleted, h.ctrl.OnUserInput(ctx, "q"))
	}
	assert.Equal(t, ratelimit.StateWarn, h.ctrl.RateLimitState(ctx))

	require.Equal(t, OutcomeCompleted, h.ctrl.OnUserInput(ctx, "fifth"))
	assert.Equal(t, ratelimit.StateBlocked, h.ctrl.RateLimitState(ctx))
	assert.Equal(t, []ratelimit.State{ratelimit.StateWarn, ratelimit.StateFinalRequest}, h.notifier.changes)

	assert.Equal(t, OutcomeBlocked, h.ctrl.OnUserInput(ctx, "sixth"))
	assert.Len(t, h.source.requests(), 5, "blocked submission must not reach the backend")
	assert.Len(t, h.ctrl.Messages(), 5)
	assert.Equal(t, []ratelimit.State{ratelimit.StateBlocked}, h.notifier.limits)
	assert.False(t, h.ctrl.IsLoading())
}

func TestQuota_AuthenticatedBypassAndPersistOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.limiter.SetSessionToken(ctx, "refresh-token"))

	for i := 0; i < 8; i++ {
		require.Equal(t, OutcomeCompleted, h.ctrl.OnUserInput(ctx, "q"))
	}

	assert.Equal(t, ratelimit.StateNone, h.ctrl.RateLimitState(ctx))
	used, _, err := h.limiter.Usage(ctx)
	require.NoError(t, err)
	assert.Zero(t, used)

	assert.Equal(t, 1, h.backend.creates, "thread created exactly once")
	assert.Equal(t, 1, h.backend.titles)
	for _, req := range h.source.requests() {
		assert.Equal(t, "refresh-token", req.AuthToken)
	}
}

func TestQuota_AnonymousDoesNotPersist(t *testing.T) {
	h := newHarness(t)
	h.ctrl.OnUserInput(context.Background(), "q")
	assert.Zero(t, h.backend.creates)
}

// =============================================================================
// GUARD AND CANCELLATION TESTS
// =============================================================================

func TestGuards_WhileStreaming(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	gate, done := h.startGated(t, "first")

	assert.True(t, h.ctrl.IsLoading())
	assert.Equal(t, PhaseStreaming, h.ctrl.Phase())
	assert.Equal(t, OutcomeBusy, h.ctrl.OnFollowupClicked(ctx, "follow"))
	assert.Equal(t, OutcomeBusy, h.ctrl.OnRegenerate(ctx, "first"))
	assert.Equal(t, OutcomeBusy, h.ctrl.OnUserInput(ctx, "other"))
	assert.Equal(t, OutcomeBusy, h.ctrl.OnQuestionEdit("first"))
	assert.Equal(t, OutcomeBusy, h.ctrl.OnFeedback("first", "answer"))

	close(gate)
	assert.Equal(t, OutcomeCompleted, waitOutcome(t, done))
	assert.Len(t, h.source.requests(), 1)
	assert.Len(t, h.ctrl.Messages(), 1)
	assert.Empty(t, h.notifier.edits)
	assert.Zero(t, h.notifier.feedback)
}

func TestOnStopStreaming_KeepsPartial(t *testing.T) {
	h := newHarness(t)
	gate, done := h.startGated(t, "long question")
	defer close(gate)

	assert.Equal(t, OutcomeCancelled, h.ctrl.OnStopStreaming())
	assert.False(t, h.ctrl.IsLoading(), "loading drops immediately")
	assert.Equal(t, OutcomeIgnored, h.ctrl.OnStopStreaming(), "second stop is a no-op")

	assert.Equal(t, OutcomeCancelled, waitOutcome(t, done))
	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Partial", msgs[0].Answer)
	assert.False(t, msgs[0].IsError)
	assert.Equal(t, PhaseCancelled, h.ctrl.Phase())
	assert.Empty(t, h.notifier.toasts)
}

func TestDirectoryRows_SurviveLaterFragments(t *testing.T) {
	h := newHarness(t)
	h.source.objects = []string{
		`{"content":"Teams"}`,
		`{"sql":[{"name":"libp2p","type":"project","fields":{"lead":"PL"}}]}`,
		`{"content":"Teams working on libp2p","followUpQuestions":["Who leads it?"]}`,
	}

	require.Equal(t, OutcomeCompleted, h.ctrl.OnUserInput(context.Background(), "who builds libp2p?"))

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Teams working on libp2p", msgs[0].Answer)
	require.Len(t, msgs[0].SQL, 1)
	assert.Equal(t, "libp2p", msgs[0].SQL[0].Name)
	assert.Equal(t, "PL", msgs[0].SQL[0].Fields["lead"])
}

func TestDirectoryRows_SurviveCancellation(t *testing.T) {
	h := newHarness(t)
	h.source.objects = []string{
		`{"content":"Partial","sql":[{"name":"Protocol Labs","type":"team"}]}`,
		`{"content":"Partial answer","sql":[{"name":"ignored"}]}`,
	}
	gate, done := h.startGated(t, "which teams?")
	defer close(gate)

	assert.Equal(t, OutcomeCancelled, h.ctrl.OnStopStreaming())
	assert.Equal(t, OutcomeCancelled, waitOutcome(t, done))

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Partial", msgs[0].Answer)
	require.Len(t, msgs[0].SQL, 1)
	assert.Equal(t, "Protocol Labs", msgs[0].SQL[0].Name)
}

func TestStopSignal_CancelsStream(t *testing.T) {
	h := newHarness(t)
	gate, done := h.startGated(t, "q")
	defer close(gate)

	h.bus.Emit(events.TopicStopStream, "")

	assert.Equal(t, OutcomeCancelled, waitOutcome(t, done))
	assert.Equal(t, "Partial", h.ctrl.Messages()[0].Answer)
}

func TestNewChatSignal_Resets(t *testing.T) {
	h := newHarness(t)
	h.ctrl.OnUserInput(context.Background(), "q")
	require.NotEmpty(t, h.ctrl.ThreadID())

	h.bus.Emit(events.TopicNewChat, "")

	assert.Empty(t, h.ctrl.Messages())
	assert.Empty(t, h.ctrl.ThreadID())
	assert.Equal(t, PhaseIdle, h.ctrl.Phase())
}

func TestReset_DuringStream(t *testing.T) {
	h := newHarness(t)
	gate, done := h.startGated(t, "q")
	defer close(gate)

	h.ctrl.Reset()

	assert.Equal(t, OutcomeCancelled, waitOutcome(t, done))
	assert.Empty(t, h.ctrl.Messages())
	assert.False(t, h.ctrl.IsLoading())
}

func TestOnQuestionEditAndFeedback(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, OutcomeOpened, h.ctrl.OnQuestionEdit("edit me"))
	assert.Equal(t, OutcomeOpened, h.ctrl.OnFeedback("q", "a"))
	assert.Equal(t, []string{"edit me"}, h.notifier.edits)
	assert.Equal(t, 1, h.notifier.feedback)
	assert.Empty(t, h.source.requests())
}

// =============================================================================
// SEEDED CONVERSATION TESTS
// =============================================================================

func TestBlogSeed_AttachesSummaryOnce(t *testing.T) {
	h := newHarness(t)
	seed := model.Message{Question: "What is FIL?", Answer: "Filecoin."}
	h.ctrl.Seed(SeedOptions{Messages: []model.Message{seed}, From: model.FromBlog, Owned: true})

	h.ctrl.OnUserInput(context.Background(), "Tell me more")
	h.ctrl.OnUserInput(context.Background(), "And more")

	reqs := h.source.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, seed.Summary(), reqs[0].ChatSummary)
	assert.Empty(t, reqs[1].ChatSummary)
	assert.Len(t, h.ctrl.Messages(), 3)
}

func TestBlogSeed_AuthenticatedPersistsFirstTurn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.limiter.SetSessionToken(ctx, "tok"))
	h.ctrl.Seed(SeedOptions{
		Messages: []model.Message{{Question: "q", Answer: "a"}},
		From:     model.FromBlog,
		Owned:    true,
	})

	h.ctrl.OnUserInput(ctx, "next")
	h.ctrl.OnUserInput(ctx, "again")

	assert.Equal(t, 1, h.backend.creates)
}

func TestSharedThread_ReadOnlyAndContinue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ctrl.Seed(SeedOptions{
		ThreadID: "shared-thread",
		Messages: []model.Message{{Question: "q", Answer: "a"}},
		From:     model.FromDetail,
		Owned:    false,
	})

	var refreshed []string
	h.bus.Subscribe(events.TopicRefreshHistory, func(ev events.Event) {
		refreshed = append(refreshed, ev.ThreadID)
	})

	assert.True(t, h.ctrl.IsReadOnly())
	assert.Equal(t, OutcomeReadOnly, h.ctrl.OnFollowupClicked(ctx, "f"))
	assert.Equal(t, OutcomeReadOnly, h.ctrl.OnRegenerate(ctx, "q"))
	assert.Empty(t, h.source.requests())

	assert.Equal(t, OutcomeContinued, h.ctrl.ContinueConversation(ctx))
	assert.Equal(t, "duplicated-thread", h.ctrl.ThreadID())
	assert.Equal(t, []string{"duplicated-thread"}, h.notifier.navigated)
	assert.Equal(t, []string{"duplicated-thread"}, refreshed)
	assert.False(t, h.ctrl.IsReadOnly())

	require.Equal(t, OutcomeCompleted, h.ctrl.OnUserInput(ctx, "continue"))
	assert.Equal(t, "duplicated-thread", h.source.requests()[0].ThreadID)
}

func TestContinueConversation_Failure(t *testing.T) {
	h := newHarness(t)
	h.backend.dupErr = errors.New("forbidden")
	h.ctrl.Seed(SeedOptions{ThreadID: "shared", From: model.FromDetail, Owned: false,
		Messages: []model.Message{{Question: "q"}}})

	assert.Equal(t, OutcomeErrored, h.ctrl.ContinueConversation(context.Background()))
	assert.Equal(t, "shared", h.ctrl.ThreadID())
	assert.Equal(t, []string{ToastContinueFailed}, h.notifier.toasts)
	assert.True(t, h.ctrl.IsReadOnly())
}

func TestContinueConversation_OwnedIgnored(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, OutcomeIgnored, h.ctrl.ContinueConversation(context.Background()))
}

// =============================================================================
// HISTORY AND FEEDBACK TESTS
// =============================================================================

func TestHistory_MirrorsTurns(t *testing.T) {
	store, err := storage.NewThreadStore(t.TempDir())
	require.NoError(t, err)
	h := newHarness(t, WithHistory(store))

	h.ctrl.OnUserInput(context.Background(), "first")
	h.ctrl.OnUserInput(context.Background(), "second")

	saved, err := store.Load(h.ctrl.ThreadID())
	require.NoError(t, err)
	require.Len(t, saved.Messages, 2)
	assert.Equal(t, "first", saved.Title)
	assert.Equal(t, "Partial answer done", saved.Messages[1].Answer)
}

type feedbackSink struct {
	got []api.Feedback
	err error
}

func (f *feedbackSink) SendFeedback(ctx context.Context, token string, fb api.Feedback) error {
	f.got = append(f.got, fb)
	return f.err
}

func TestSubmitFeedback(t *testing.T) {
	sink := &feedbackSink{}
	h := newHarness(t, WithFeedbackSender(sink))
	h.ctrl.OnUserInput(context.Background(), "q")

	outcome := h.ctrl.SubmitFeedback(context.Background(), api.Feedback{Question: "q", Answer: "a", Rating: 4})

	assert.Equal(t, OutcomeCompleted, outcome)
	require.Len(t, sink.got, 1)
	assert.Equal(t, h.ctrl.ThreadID(), sink.got[0].ThreadID)

	sink.err = errors.New("down")
	assert.Equal(t, OutcomeErrored, h.ctrl.SubmitFeedback(context.Background(), api.Feedback{}))
	assert.Contains(t, h.notifier.toasts, ToastFeedbackFailed)
}
