package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/timemachine/backend/internal/analysis/emotion"
	model "github.com/zhouzirui/timemachine/backend/internal/model/chat"
	"github.com/zhouzirui/timemachine/backend/internal/model/persona"
	"github.com/zhouzirui/timemachine/backend/internal/service/ai"
	chat "github.com/zhouzirui/timemachine/backend/internal/service/chat"
	"github.com/zhouzirui/timemachine/backend/internal/service/usage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const client = "test-client"

type fakeResponder struct {
	mu      sync.Mutex
	calls   int
	reqs    []ai.Request
	respond func(ai.Request) (*schema.StreamReader[*schema.Message], error)
}

func (f *fakeResponder) StreamReply(_ context.Context, req ai.Request) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.calls++
	f.reqs = append(f.reqs, req)
	respond := f.respond
	f.mu.Unlock()
	return respond(req)
}

func (f *fakeResponder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func replyWith(parts ...string) func(ai.Request) (*schema.StreamReader[*schema.Message], error) {
	return func(ai.Request) (*schema.StreamReader[*schema.Message], error) {
		msgs := make([]*schema.Message, 0, len(parts))
		for _, p := range parts {
			msgs = append(msgs, schema.AssistantMessage(p, nil))
		}
		return schema.StreamReaderFromArray(msgs), nil
	}
}

func failWith(err error) func(ai.Request) (*schema.StreamReader[*schema.Message], error) {
	return func(ai.Request) (*schema.StreamReader[*schema.Message], error) {
		return nil, err
	}
}

type recorder struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *recorder) observe(ev chat.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []chat.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) last() chat.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	svc       *chat.Service
	ledger    *usage.Ledger
	responder *fakeResponder
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	personas := persona.NewMemoryStore(persona.Seed())
	ledger := usage.NewLedger(usage.NewMemoryStore(), personas)
	responder := &fakeResponder{respond: replyWith("Hello")}
	svc := chat.NewService(personas, ledger, responder, chat.Options{Online: online})
	return &fixture{svc: svc, ledger: ledger, responder: responder}
}

func (f *fixture) session(t *testing.T, personaID string) *chat.Session {
	t.Helper()
	s, err := f.svc.CreateSession(context.Background(), client, personaID)
	require.NoError(t, err)
	return s
}

func (f *fixture) remaining(t *testing.T, personaID string) int {
	t.Helper()
	n, err := f.ledger.Remaining(context.Background(), client, personaID)
	require.NoError(t, err)
	return n
}

func TestServiceGetSession(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session := f.session(t, persona.Default)

	got, err := f.svc.GetSession(ctx, session.ID())
	require.NoError(t, err)
	assert.Same(t, session, got)

	_, err = f.svc.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	require.NoError(t, f.svc.DeleteSession(ctx, session.ID()))
	assert.ErrorIs(t, f.svc.DeleteSession(ctx, session.ID()), chat.ErrSessionNotFound)
}

func TestCreateSessionSeedsCleanGreeting(t *testing.T) {
	f := newFixture(t, true)
	st := f.session(t, persona.Girlie).Snapshot()

	require.Len(t, st.Messages, 1)
	assert.True(t, st.Messages[0].IsAI)
	assert.Equal(t, "Hiee✨ I'm TimeMachine Girlie, from future~", st.Messages[0].Content)
	assert.Equal(t, emotion.Joy, st.Emotion)
	assert.Equal(t, model.PhaseIdle, st.Phase)
	assert.Zero(t, st.StreamingID)

	_, err := f.svc.CreateSession(context.Background(), client, "")
	assert.ErrorIs(t, err, chat.ErrPersonaRequired)
	_, err = f.svc.CreateSession(context.Background(), client, "ghost")
	assert.ErrorIs(t, err, chat.ErrUnknownPersona)
}

func TestSendSuccess(t *testing.T) {
	f := newFixture(t, true)
	f.responder.respond = replyWith("Hi ", "there! ", "<emotion>love</emotion>")
	session := f.session(t, persona.Default)
	rec := &recorder{}

	msg, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "hello"}, rec.observe)
	require.NoError(t, err)

	assert.Equal(t, "Hi there!", msg.Content)
	assert.Equal(t, []chat.EventType{chat.EventStart, chat.EventDelta, chat.EventDelta, chat.EventDone}, rec.types())
	done := rec.last()
	assert.Equal(t, emotion.Love, done.Emotion)
	assert.True(t, done.EmotionChanged)

	st := session.Snapshot()
	require.Len(t, st.Messages, 3)
	assert.Equal(t, "hello", st.Messages[1].Content)
	assert.False(t, st.Messages[1].IsAI)
	assert.Equal(t, msg, st.Messages[2])
	assert.Less(t, st.Messages[1].ID, st.Messages[2].ID)
	assert.Equal(t, emotion.Love, st.Emotion)
	assert.Zero(t, st.StreamingID)
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)
	assert.Equal(t, 9, f.remaining(t, persona.Default))

	require.Len(t, f.responder.reqs, 1)
	history := f.responder.reqs[0].History
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[1].Content)
}

func TestSendReasoningPersona(t *testing.T) {
	f := newFixture(t, true)
	f.responder.respond = replyWith("<think>", "consider", "</think>", "Answer.")
	session := f.session(t, persona.X)

	msg, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "why?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Answer.", msg.Content)
	assert.Equal(t, "consider", msg.Reasoning)
}

func TestSendInvalidEmotionKeepsPrevious(t *testing.T) {
	f := newFixture(t, true)
	f.responder.respond = replyWith("ok <emotion>boredom</emotion>")
	session := f.session(t, persona.Default)

	_, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, emotion.Joy, session.Snapshot().Emotion)
}

func TestSendQuotaExhausted(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, f.ledger.Increment(ctx, client, persona.X))
	}
	session := f.session(t, persona.X)
	rec := &recorder{}

	_, err := session.Send(ctx, chat.SendRequest{Client: client, Content: "more"}, rec.observe)
	var qe *chat.QuotaError
	require.ErrorAs(t, err, &qe)
	want := "You've reached the daily limit for TimeMachine X. Remaining messages: 0. Try again tomorrow or switch to a different persona."
	assert.Equal(t, want, qe.Error())

	st := session.Snapshot()
	assert.Equal(t, want, st.Error)
	assert.Len(t, st.Messages, 1)
	assert.Zero(t, f.responder.Calls())
	assert.Equal(t, []chat.EventType{chat.EventError}, rec.types())
	assert.Equal(t, want, rec.last().Error)
}

func TestSendDefaultPersonaLastMessageThenRefused(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		require.NoError(t, f.ledger.Increment(ctx, client, persona.Default))
	}
	session := f.session(t, persona.Default)
	require.Equal(t, 1, f.remaining(t, persona.Default))

	msg, err := session.Send(ctx, chat.SendRequest{Client: client, Content: "last one"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, 0, f.remaining(t, persona.Default))

	_, err = session.Send(ctx, chat.SendRequest{Client: client, Content: "one more"}, nil)
	var qe *chat.QuotaError
	require.ErrorAs(t, err, &qe)
	want := "You've reached the daily limit for TimeMachine. Remaining messages: 0. Try again tomorrow or switch to a different persona."
	assert.Equal(t, want, qe.Error())
	assert.Equal(t, want, session.Snapshot().Error)
	assert.Len(t, session.Snapshot().Messages, 3)
	assert.Equal(t, 1, f.responder.Calls())
}

func TestSendProviderFailureRemovesPlaceholder(t *testing.T) {
	f := newFixture(t, true)
	f.responder.respond = failWith(errors.New("upstream 503"))
	session := f.session(t, persona.Default)
	rec := &recorder{}

	_, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "hello"}, rec.observe)
	require.Error(t, err)

	st := session.Snapshot()
	require.Len(t, st.Messages, 2)
	assert.False(t, st.Messages[1].IsAI)
	assert.Equal(t, "Failed to generate response. Please try again.", st.Error)
	assert.Zero(t, st.StreamingID)
	assert.Equal(t, 10, f.remaining(t, persona.Default))
	assert.Equal(t, []chat.EventType{chat.EventStart, chat.EventError}, rec.types())
}

func TestSendStreamErrorMidway(t *testing.T) {
	f := newFixture(t, true)
	f.responder.respond = func(ai.Request) (*schema.StreamReader[*schema.Message], error) {
		sr, sw := schema.Pipe[*schema.Message](4)
		sw.Send(schema.AssistantMessage("partial", nil), nil)
		sw.Send(nil, errors.New("connection reset"))
		sw.Close()
		return sr, nil
	}
	session := f.session(t, persona.Default)

	_, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "hello"}, nil)
	require.Error(t, err)
	st := session.Snapshot()
	assert.Len(t, st.Messages, 2)
	assert.Equal(t, 10, f.remaining(t, persona.Default))
}

func TestSendEmptyResponse(t *testing.T) {
	f := newFixture(t, true)
	f.responder.respond = replyWith()
	session := f.session(t, persona.Default)

	_, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "hello"}, nil)
	assert.ErrorIs(t, err, ai.ErrEmptyResponse)
	assert.Equal(t, "Failed to generate response. Please try again.", session.Snapshot().Error)
	assert.Equal(t, 10, f.remaining(t, persona.Default))
}

func TestSendNotConfiguredShowsApology(t *testing.T) {
	f := newFixture(t, true)
	f.responder.respond = failWith(ai.ErrNotConfigured)
	session := f.session(t, persona.Default)

	_, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "hello"}, nil)
	assert.ErrorIs(t, err, ai.ErrNotConfigured)
	st := session.Snapshot()
	assert.Equal(t, "Looks like we are missing something in the future. Please contact to TimeMachine Geniuses", st.Error)
	assert.Len(t, st.Messages, 2)
}

func TestSendOffline(t *testing.T) {
	f := newFixture(t, false)
	session := f.session(t, persona.Default)

	_, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "hello"}, nil)
	assert.ErrorIs(t, err, chat.ErrOffline)
	st := session.Snapshot()
	assert.Equal(t, "TimeMachine is currently offline. Please try again later.", st.Error)
	assert.Len(t, st.Messages, 1)
	assert.Zero(t, f.responder.Calls())
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t, true)
	session := f.session(t, persona.Default)
	_, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "   "}, nil)
	assert.ErrorIs(t, err, chat.ErrEmptyMessage)
}

// blockingReply returns a responder whose stream stays open until the returned
// writer is closed, and a channel that is closed once the stream was requested.
func blockingReply() (func(ai.Request) (*schema.StreamReader[*schema.Message], error), chan *schema.StreamWriter[*schema.Message]) {
	writers := make(chan *schema.StreamWriter[*schema.Message], 1)
	return func(ai.Request) (*schema.StreamReader[*schema.Message], error) {
		sr, sw := schema.Pipe[*schema.Message](4)
		writers <- sw
		return sr, nil
	}, writers
}

func TestOverlappingSendIsRejected(t *testing.T) {
	f := newFixture(t, true)
	respond, writers := blockingReply()
	f.responder.respond = respond
	session := f.session(t, persona.Default)

	done := make(chan error, 1)
	go func() {
		_, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "first"}, nil)
		done <- err
	}()
	sw := <-writers

	st := session.Snapshot()
	assert.True(t, st.Loading)
	assert.NotZero(t, st.StreamingID)

	_, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "second"}, nil)
	assert.ErrorIs(t, err, chat.ErrSendInFlight)

	sw.Send(schema.AssistantMessage("reply", nil), nil)
	sw.Close()
	require.NoError(t, <-done)

	st = session.Snapshot()
	assert.Len(t, st.Messages, 3)
	assert.Equal(t, "reply", st.Messages[2].Content)
	assert.Equal(t, 9, f.remaining(t, persona.Default))
}

func TestSessionsSharingClientCannotOvershootCap(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, f.ledger.Increment(ctx, client, persona.X))
	}
	respond, writers := blockingReply()
	f.responder.respond = respond
	first := f.session(t, persona.X)
	second := f.session(t, persona.X)

	done := make(chan error, 1)
	go func() {
		_, err := first.Send(ctx, chat.SendRequest{Client: client, Content: "first"}, nil)
		done <- err
	}()
	sw := <-writers

	_, err := second.Send(ctx, chat.SendRequest{Client: client, Content: "second"}, nil)
	var qe *chat.QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 0, qe.Remaining)
	assert.Equal(t, 1, f.responder.Calls())

	sw.Send(schema.AssistantMessage("reply", nil), nil)
	sw.Close()
	require.NoError(t, <-done)

	assert.Equal(t, 0, f.remaining(t, persona.X))
	total, err := f.ledger.TotalCount(ctx, client, persona.X)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

// cancelAwareStore fails like a network store does once its context is done.
type cancelAwareStore struct{ usage.Store }

func (s cancelAwareStore) Get(ctx context.Context, key string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Store.Get(ctx, key)
}

func (s cancelAwareStore) Incr(ctx context.Context, key string, expiresAt time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Store.Incr(ctx, key, expiresAt)
}

func TestSendCountsReplyWhenClientLeavesAfterStream(t *testing.T) {
	personas := persona.NewMemoryStore(persona.Seed())
	ledger := usage.NewLedger(cancelAwareStore{usage.NewMemoryStore()}, personas)
	respond, writers := blockingReply()
	svc := chat.NewService(personas, ledger, &fakeResponder{respond: respond}, chat.Options{Online: true})
	session, err := svc.CreateSession(context.Background(), client, persona.Default)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := session.Send(ctx, chat.SendRequest{Client: client, Content: "bye"}, nil)
		done <- err
	}()
	sw := <-writers
	sw.Send(schema.AssistantMessage("see you", nil), nil)
	cancel()
	sw.Close()
	require.NoError(t, <-done)

	remaining, err := ledger.Remaining(context.Background(), client, persona.Default)
	require.NoError(t, err)
	assert.Equal(t, 9, remaining)
	total, err := ledger.TotalCount(context.Background(), client, persona.Default)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSwitchDuringSendDropsReply(t *testing.T) {
	f := newFixture(t, true)
	respond, writers := blockingReply()
	f.responder.respond = respond
	session := f.session(t, persona.Default)

	done := make(chan error, 1)
	go func() {
		_, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "first"}, nil)
		done <- err
	}()
	sw := <-writers
	sw.Send(schema.AssistantMessage("half", nil), nil)

	require.NoError(t, session.SwitchPersona(context.Background(), client, persona.Girlie))
	sw.Send(schema.AssistantMessage(" done", nil), nil)
	sw.Close()
	assert.ErrorIs(t, <-done, chat.ErrSuperseded)

	st := session.Snapshot()
	assert.Equal(t, persona.Girlie, st.PersonaID)
	require.Len(t, st.Messages, 1)
	assert.Zero(t, st.StreamingID)
	assert.False(t, st.Loading)
	assert.Equal(t, 10, f.remaining(t, persona.Default))
}

func TestSwitchPersona(t *testing.T) {
	f := newFixture(t, true)
	f.responder.respond = replyWith("yo <emotion>hope</emotion>")
	session := f.session(t, persona.Default)
	_, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "hi"}, nil)
	require.NoError(t, err)

	require.NoError(t, session.SwitchPersona(context.Background(), client, persona.X))
	st := session.Snapshot()
	assert.Equal(t, persona.X, st.PersonaID)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "It's TimeMachine X, from future. Let's cure cancer.", st.Messages[0].Content)
	assert.Equal(t, emotion.Hope, st.Emotion)

	assert.ErrorIs(t, session.SwitchPersona(context.Background(), client, "ghost"), chat.ErrUnknownPersona)
}

func TestSwitchPersonaRefusedWhenExhausted(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, f.ledger.Increment(ctx, client, persona.X))
	}
	session := f.session(t, persona.Default)
	before := session.Snapshot()

	err := session.SwitchPersona(ctx, client, persona.X)
	var qe *chat.QuotaError
	require.ErrorAs(t, err, &qe)
	want := "You've reached the daily limit for TimeMachine X. Try again tomorrow or choose a different persona."
	assert.Equal(t, want, err.Error())

	after := session.Snapshot()
	assert.Equal(t, persona.Default, after.PersonaID)
	assert.Equal(t, before.Messages, after.Messages)
	assert.Equal(t, want, after.Error)
}

func TestAboutPromptAfterThreeReplies(t *testing.T) {
	f := newFixture(t, true)
	session := f.session(t, persona.Default)

	for i := 0; i < 3; i++ {
		assert.False(t, session.Snapshot().ShowAbout)
		_, err := session.Send(context.Background(), chat.SendRequest{Client: client, Content: "hi"}, nil)
		require.NoError(t, err)
	}
	assert.True(t, session.Snapshot().ShowAbout)

	session.DismissAbout()
	assert.False(t, session.Snapshot().ShowAbout)

	again := f.session(t, persona.Default)
	assert.True(t, again.Snapshot().ShowAbout)
}

func TestMarkAnimated(t *testing.T) {
	f := newFixture(t, true)
	session := f.session(t, persona.Default)
	id := session.Snapshot().Messages[0].ID

	assert.True(t, session.MarkAnimated(id))
	assert.True(t, session.Snapshot().Messages[0].HasAnimated)
	assert.False(t, session.MarkAnimated(id+12345))
}

func TestPruneRemovesIdleSessions(t *testing.T) {
	personas := persona.NewMemoryStore(persona.Seed())
	ledger := usage.NewLedger(usage.NewMemoryStore(), personas)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := chat.NewService(personas, ledger, &fakeResponder{respond: replyWith("x")}, chat.Options{
		Online: true,
		Now:    func() time.Time { return now },
	})
	_, err := svc.CreateSession(context.Background(), client, persona.Default)
	require.NoError(t, err)

	assert.Zero(t, svc.Prune(time.Hour))
	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, svc.Prune(time.Hour))
	assert.Zero(t, svc.Len())
}
