package interview

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/interviewd/internal/anthropic"
	"github.com/MikeSquared-Agency/interviewd/internal/hermes"
	"github.com/MikeSquared-Agency/interviewd/internal/moderation"
	"github.com/MikeSquared-Agency/interviewd/internal/session"
)

type call struct {
	system   string
	messages []anthropic.Message
}

type fakeCompleter struct {
	mu      sync.Mutex
	calls   []call
	replies []string
	err     error
}

func (f *fakeCompleter) Complete(_ context.Context, system string, messages []anthropic.Message, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{system: system, messages: append([]anthropic.Message(nil), messages...)})
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return `{"text_response":"Tell me more.","voice_response":"Tell me more.","end":false}`, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeCompleter) last() anthropic.Message {
	c := f.calls[len(f.calls)-1]
	return c.messages[len(c.messages)-1]
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakePublisher) Publish(subject string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakePublisher) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(llm *fakeCompleter) (*Service, *session.MemoryStore, *fakePublisher) {
	store := session.NewMemoryStore(session.DefaultPolicy())
	pub := &fakePublisher{}
	svc := NewService(llm, store, moderation.Default(), pub, Options{
		HistoryTurns:   20,
		SmallTalkTurns: 2,
		StrikeLimit:    3,
		MaxTokens:      1024,
	}, discardLogger())
	return svc, store, pub
}

func startSession(t *testing.T, svc *Service) string {
	t.Helper()
	id, _, err := svc.StartSession(context.Background(), "alice", StartRequest{Domain: "backend", Role: "engineer"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return id
}

func TestStartSession(t *testing.T) {
	llm := &fakeCompleter{replies: []string{"```json\n{\"text_response\":\"Hi! How is your day?\",\"end\":false}\n```"}}
	svc, store, pub := newTestService(llm)

	id, first, err := svc.StartSession(context.Background(), "alice", StartRequest{Domain: "backend", Role: "engineer"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if first.End {
		t.Error("first question must not end the interview")
	}
	if first.TextResponse != "Hi! How is your day?" || first.VoiceResponse != "Hi! How is your day?" {
		t.Errorf("unexpected first question: %+v", first)
	}

	sess, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Counters != (session.Counters{}) {
		t.Errorf("counters = %+v, want zero", sess.Counters)
	}
	want := session.Config{Domain: "backend", Role: "engineer", InterviewType: "technical", Difficulty: "medium", DurationMinutes: 30}
	if sess.Config != want {
		t.Errorf("config = %+v, want %+v", sess.Config, want)
	}
	if len(sess.Transcript) != 2 || sess.Transcript[0].Role != session.RoleUser {
		t.Errorf("unexpected opening transcript: %+v", sess.Transcript)
	}

	kick := llm.last()
	if !strings.Contains(kick.Content, session.SentinelStart) || !strings.Contains(kick.Content, ContextOpen) {
		t.Errorf("kickoff not decorated: %q", kick.Content)
	}
	if !strings.Contains(llm.calls[0].system, "domain backend") {
		t.Errorf("system prompt missing config: %q", llm.calls[0].system)
	}
	if pub.count(hermes.SubjectSessionStarted) != 1 {
		t.Errorf("expected one started event, got %v", pub.subjects)
	}
}

func TestStartSession_Validation(t *testing.T) {
	llm := &fakeCompleter{}
	svc, _, _ := newTestService(llm)

	for _, req := range []StartRequest{{Role: "engineer"}, {Domain: "backend"}, {Domain: "  ", Role: "x"}} {
		_, _, err := svc.StartSession(context.Background(), "alice", req)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("StartSession(%+v) = %v, want ErrInvalidInput", req, err)
		}
	}
	if len(llm.calls) != 0 {
		t.Errorf("validation failures must not call the model, got %d calls", len(llm.calls))
	}
}

func TestStartSession_ModelFailure(t *testing.T) {
	llm := &fakeCompleter{err: &anthropic.StatusError{Status: 500, Message: "overloaded"}}
	svc, store, _ := newTestService(llm)

	_, _, err := svc.StartSession(context.Background(), "alice", StartRequest{Domain: "backend", Role: "engineer"})
	var se *anthropic.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("failed start must not create a session, count = %d", n)
	}
}

func TestStartRequest_Config(t *testing.T) {
	tests := []struct {
		duration int
		want     int
	}{
		{0, 30},
		{1, 5},
		{45, 45},
		{500, 120},
		{-3, 5},
	}
	for _, tt := range tests {
		cfg, err := StartRequest{Domain: "d", Role: "r", Duration: tt.duration, Difficulty: "hard"}.Config()
		if err != nil {
			t.Fatalf("Config: %v", err)
		}
		if cfg.DurationMinutes != tt.want {
			t.Errorf("duration %d -> %d, want %d", tt.duration, cfg.DurationMinutes, tt.want)
		}
		if cfg.Difficulty != "hard" {
			t.Errorf("difficulty overwritten: %q", cfg.Difficulty)
		}
	}
}

func TestChat_TranscriptPurity(t *testing.T) {
	llm := &fakeCompleter{}
	svc, store, _ := newTestService(llm)
	id := startSession(t, svc)

	for _, msg := range []string{"hello", "good thanks", "I built a scheduler", "[INACTIVITY_CHECK]"} {
		if _, err := svc.Chat(context.Background(), "alice", id, msg); err != nil {
			t.Fatalf("Chat(%q): %v", msg, err)
		}
		if !HasContextBlock(llm.last().Content) {
			t.Errorf("outgoing message not decorated: %q", llm.last().Content)
		}
	}

	sess, _ := store.Get(context.Background(), id)
	for i, turn := range sess.Transcript {
		if HasContextBlock(turn.Content) {
			t.Errorf("turn %d leaked context block: %q", i, turn.Content)
		}
	}
	if sess.Transcript[2].Content != "hello" {
		t.Errorf("user text not persisted verbatim: %q", sess.Transcript[2].Content)
	}
	if sess.Counters.Exchanges != 4 || sess.Counters.Questions != 1 {
		t.Errorf("counters = %+v", sess.Counters)
	}

	// History sent to the model is undecorated except for the latest turn.
	msgs := llm.calls[len(llm.calls)-1].messages
	for _, m := range msgs[:len(msgs)-1] {
		if HasContextBlock(m.Content) {
			t.Errorf("history leaked context block: %q", m.Content)
		}
	}
	if msgs[0].Role != session.RoleUser {
		t.Errorf("history must start with a user turn, got %q", msgs[0].Role)
	}
}

func TestChat_StrikeEscalation(t *testing.T) {
	llm := &fakeCompleter{}
	svc, store, pub := newTestService(llm)
	id := startSession(t, svc)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if _, err := svc.Chat(ctx, "alice", id, "you idiot"); err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if strings.Contains(llm.last().Content, session.SentinelMisconduct) {
			t.Fatalf("strike %d must not terminate yet", i)
		}
		if !strings.HasSuffix(llm.last().Content, "you idiot") {
			t.Errorf("strike %d: literal message not forwarded: %q", i, llm.last().Content)
		}
	}

	if _, err := svc.Chat(ctx, "alice", id, "you idiot"); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !strings.HasSuffix(llm.last().Content, session.SentinelMisconduct) {
		t.Errorf("third strike must send the termination sentinel, got %q", llm.last().Content)
	}

	if _, err := svc.Chat(ctx, "alice", id, "sorry, here is my real answer"); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	last := llm.last().Content
	if !strings.HasSuffix(last, session.SentinelMisconduct) || strings.Contains(last, "real answer") {
		t.Errorf("fourth call must send only the termination sentinel, got %q", last)
	}

	sess, _ := store.Get(ctx, id)
	if sess.Counters.Strikes != 3 {
		t.Errorf("strikes = %d, want 3", sess.Counters.Strikes)
	}
	if sess.Counters.Redirects != 2 {
		t.Errorf("redirects = %d, want 2", sess.Counters.Redirects)
	}
	if got := sess.Transcript[len(sess.Transcript)-2].Content; got != "sorry, here is my real answer" {
		t.Errorf("persisted user text = %q, want literal message", got)
	}
	if pub.count(hermes.SubjectSessionStrike) != 3 {
		t.Errorf("expected 3 strike events, got %v", pub.subjects)
	}
}

func TestChat_OwnerIsolation(t *testing.T) {
	llm := &fakeCompleter{}
	svc, store, _ := newTestService(llm)
	id := startSession(t, svc)
	before := len(llm.calls)

	_, err := svc.Chat(context.Background(), "mallory", id, "you idiot")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(llm.calls) != before {
		t.Error("owner mismatch must not call the model")
	}
	sess, _ := store.Get(context.Background(), id)
	if sess.Counters != (session.Counters{}) {
		t.Errorf("owner mismatch must not touch counters: %+v", sess.Counters)
	}
}

func TestChat_UnknownSession(t *testing.T) {
	llm := &fakeCompleter{}
	svc, _, _ := newTestService(llm)

	_, err := svc.Chat(context.Background(), "alice", "no-such-session", "hello")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(llm.calls) != 0 {
		t.Error("unknown session must not call the model")
	}
}

func TestChat_MissingFields(t *testing.T) {
	llm := &fakeCompleter{}
	svc, _, _ := newTestService(llm)

	if _, err := svc.Chat(context.Background(), "alice", "", "hello"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing session id: %v", err)
	}
	if _, err := svc.Chat(context.Background(), "alice", "abc", "   "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing message: %v", err)
	}
}

func TestChat_EndPublishedOnce(t *testing.T) {
	final := `{"text_response":"Thanks for your time.","end":true,"overall_score":8,"selected":true}`
	llm := &fakeCompleter{}
	svc, store, pub := newTestService(llm)
	id := startSession(t, svc)

	llm.replies = []string{final, final}
	rec, err := svc.Chat(context.Background(), "alice", id, session.SentinelEnd)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !rec.End || rec.OverallScore == nil || *rec.OverallScore != 8 {
		t.Errorf("unexpected terminal record: %+v", rec)
	}
	svc.Chat(context.Background(), "alice", id, session.SentinelEnd)

	if pub.count(hermes.SubjectSessionEnded) != 1 {
		t.Errorf("expected one ended event, got %v", pub.subjects)
	}
	sess, _ := store.Get(context.Background(), id)
	if !sess.Ended() || sess.Counters.Questions != 0 {
		t.Errorf("unexpected session state: ended=%v counters=%+v", sess.Ended(), sess.Counters)
	}
}

func TestChat_ModelFailureLeavesTranscript(t *testing.T) {
	llm := &fakeCompleter{}
	svc, store, _ := newTestService(llm)
	id := startSession(t, svc)

	llm.err = errors.New("connection reset")
	if _, err := svc.Chat(context.Background(), "alice", id, "hello"); err == nil {
		t.Fatal("expected model error")
	}
	sess, _ := store.Get(context.Background(), id)
	if len(sess.Transcript) != 2 || sess.Counters.Exchanges != 0 {
		t.Errorf("failed exchange must not be persisted: %+v", sess)
	}
}

func TestChat_ElapsedTimeInContext(t *testing.T) {
	llm := &fakeCompleter{}
	svc, _, _ := newTestService(llm)
	id := startSession(t, svc)

	svc.now = func() time.Time { return time.Now().Add(12 * time.Minute) }
	if _, err := svc.Chat(context.Background(), "alice", id, "hello"); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	content := llm.last().Content
	if !strings.Contains(content, "elapsed_minutes: 12") && !strings.Contains(content, "elapsed_minutes: 11") {
		t.Errorf("expected elapsed minutes in context: %q", content)
	}
	if !strings.Contains(content, "duration_minutes: 30") {
		t.Errorf("expected duration in context: %q", content)
	}
}

func TestListSessions(t *testing.T) {
	llm := &fakeCompleter{}
	svc, _, _ := newTestService(llm)

	empty, err := svc.ListSessions(context.Background(), "alice")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("ListSessions on empty store = %v, %v", empty, err)
	}

	startSession(t, svc)
	list, _ := svc.ListSessions(context.Background(), "alice")
	if len(list) != 1 || list[0].Config.Domain != "backend" {
		t.Errorf("unexpected listing: %+v", list)
	}
	if n, _ := svc.SessionCount(context.Background()); n != 1 {
		t.Errorf("SessionCount = %d, want 1", n)
	}
}

func TestChat_SentinelBypassesModeration(t *testing.T) {
	llm := &fakeCompleter{}
	svc, store, pub := newTestService(llm)
	id := startSession(t, svc)
	ctx := context.Background()

	// Past the small-talk window so a counted message would be a question.
	for _, msg := range []string{"hello", "good thanks"} {
		if _, err := svc.Chat(ctx, "alice", id, msg); err != nil {
			t.Fatalf("Chat(%q): %v", msg, err)
		}
	}

	msg := session.SentinelEnd + " you idiot"
	if _, err := svc.Chat(ctx, "alice", id, msg); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !strings.HasSuffix(llm.last().Content, msg) {
		t.Errorf("sentinel not forwarded verbatim: %q", llm.last().Content)
	}

	sess, _ := store.Get(ctx, id)
	if sess.Counters.Strikes != 0 || sess.Counters.Redirects != 0 {
		t.Errorf("sentinel must not be moderated: %+v", sess.Counters)
	}
	if sess.Counters.Questions != 0 {
		t.Errorf("sentinel must not count as a question, got %d", sess.Counters.Questions)
	}
	if sess.Counters.Exchanges != 3 {
		t.Errorf("exchanges = %d, want 3", sess.Counters.Exchanges)
	}
	if n := pub.count(hermes.SubjectSessionStrike); n != 0 {
		t.Errorf("expected no strike events, got %d", n)
	}
}
