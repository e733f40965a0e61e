// Package interview runs interview sessions: moderation, context
// decoration, the model call, extraction and persistence.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/interviewd/internal/anthropic"
	"github.com/MikeSquared-Agency/interviewd/internal/extractor"
	"github.com/MikeSquared-Agency/interviewd/internal/hermes"
	"github.com/MikeSquared-Agency/interviewd/internal/moderation"
	"github.com/MikeSquared-Agency/interviewd/internal/session"
)

var (
	ErrForbidden    = errors.New("session belongs to another user")
	ErrInvalidInput = errors.New("invalid input")
)

// Completer sends a conversation to the model and returns its raw text.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error)
}

// Classifier flags user messages for redirection.
type Classifier interface {
	Classify(text string) moderation.Flags
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(subject string, data any) error
}

// Options tune the service.
type Options struct {
	HistoryTurns   int
	SmallTalkTurns int
	StrikeLimit    int
	MaxTokens      int
}

// Interview configuration defaults and bounds.
const (
	DefaultInterviewType = "technical"
	DefaultDifficulty    = "medium"
	DefaultDuration      = 30
	MinDuration          = 5
	MaxDuration          = 120
)

type Service struct {
	llm    Completer
	store  session.Store
	mod    Classifier
	events Publisher
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewService(llm Completer, store session.Store, mod Classifier, events Publisher, opts Options, logger *slog.Logger) *Service {
	if events == nil {
		events = hermes.Nop{}
	}
	return &Service{
		llm:    llm,
		store:  store,
		mod:    mod,
		events: events,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// StartRequest is the caller-supplied interview configuration.
type StartRequest struct {
	Domain        string `json:"domain"`
	Role          string `json:"role"`
	InterviewType string `json:"interview_type"`
	Difficulty    string `json:"difficulty"`
	Duration      int    `json:"duration"`
}

// Config validates req and fills defaults.
func (req StartRequest) Config() (session.Config, error) {
	cfg := session.Config{
		Domain:          strings.TrimSpace(req.Domain),
		Role:            strings.TrimSpace(req.Role),
		InterviewType:   strings.TrimSpace(req.InterviewType),
		Difficulty:      strings.TrimSpace(req.Difficulty),
		DurationMinutes: req.Duration,
	}
	if cfg.Domain == "" {
		return cfg, fmt.Errorf("%w: missing domain", ErrInvalidInput)
	}
	if cfg.Role == "" {
		return cfg, fmt.Errorf("%w: missing role", ErrInvalidInput)
	}
	if cfg.InterviewType == "" {
		cfg.InterviewType = DefaultInterviewType
	}
	if cfg.Difficulty == "" {
		cfg.Difficulty = DefaultDifficulty
	}
	switch {
	case cfg.DurationMinutes == 0:
		cfg.DurationMinutes = DefaultDuration
	case cfg.DurationMinutes < MinDuration:
		cfg.DurationMinutes = MinDuration
	case cfg.DurationMinutes > MaxDuration:
		cfg.DurationMinutes = MaxDuration
	}
	return cfg, nil
}

// StartSession asks the model for its opening turn and creates the session
// with that exchange as its transcript. Counters start at zero.
func (s *Service) StartSession(ctx context.Context, owner string, req StartRequest) (string, extractor.TurnRecord, error) {
	cfg, err := req.Config()
	if err != nil {
		return "", extractor.TurnRecord{}, err
	}

	system := SystemPrompt(cfg, s.opts.SmallTalkTurns)
	decorated := Decorate(kickoff, Snapshot{DurationMinutes: cfg.DurationMinutes})

	raw, err := s.llm.Complete(ctx, system, BuildMessages(nil, 0, decorated), s.opts.MaxTokens)
	if err != nil {
		return "", extractor.TurnRecord{}, fmt.Errorf("model call: %w", err)
	}
	rec, method := extractor.ExtractWithMethod(raw)

	sess, err := s.store.Create(ctx, session.NewSession{
		Owner:        owner,
		Config:       cfg,
		SystemPrompt: system,
		Opening: []session.Turn{
			{Role: session.RoleUser, Content: kickoff},
			{Role: session.RoleAssistant, Content: rec.JSON()},
		},
	})
	if err != nil {
		return "", extractor.TurnRecord{}, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("session started",
		"session_id", sess.ID,
		"domain", cfg.Domain,
		"role", cfg.Role,
		"duration", cfg.DurationMinutes,
		"extraction", method,
	)
	s.publish(hermes.SubjectSessionStarted, sess, nil)

	return sess.ID, rec, nil
}

// Chat runs one exchange. Owner mismatch and unknown sessions are rejected
// before the model is called.
func (s *Service) Chat(ctx context.Context, owner, sessionID, message string) (extractor.TurnRecord, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(message) == "" {
		return extractor.TurnRecord{}, fmt.Errorf("%w: session_id and user_message are required", ErrInvalidInput)
	}

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return extractor.TurnRecord{}, err
	}
	if sess.Owner != owner {
		return extractor.TurnRecord{}, ErrForbidden
	}

	outgoing, counters, redirected, err := s.moderate(ctx, sess, message)
	if err != nil {
		return extractor.TurnRecord{}, err
	}

	decorated := Decorate(outgoing, Snapshot{
		Counters:        counters,
		DurationMinutes: sess.Config.DurationMinutes,
		Elapsed:         s.now().Sub(sess.CreatedAt),
	})
	msgs := BuildMessages(sess.Transcript, s.opts.HistoryTurns, decorated)

	raw, err := s.llm.Complete(ctx, sess.SystemPrompt, msgs, s.opts.MaxTokens)
	if err != nil {
		return extractor.TurnRecord{}, fmt.Errorf("model call: %w", err)
	}
	rec, method := extractor.ExtractWithMethod(raw)
	if method == extractor.MethodFallback {
		s.logger.Warn("model reply was not JSON, using plain text", "session_id", sessionID)
	}

	updated, err := s.store.AppendExchange(ctx, sessionID, session.Exchange{
		UserText:   message,
		Record:     rec,
		Sentinel:   session.IsSentinel(outgoing),
		Redirected: redirected,
	})
	if err != nil {
		return extractor.TurnRecord{}, fmt.Errorf("append exchange: %w", err)
	}

	if updated.Ended() && !sess.Ended() {
		s.logger.Info("session ended",
			"session_id", sessionID,
			"exchanges", updated.Counters.Exchanges,
			"questions", updated.Counters.Questions,
			"strikes", updated.Counters.Strikes,
		)
		s.publish(hermes.SubjectSessionEnded, updated, &rec)
	}

	return rec, nil
}

// moderate classifies message, records a strike when flagged and picks the
// text the model will see.
func (s *Service) moderate(ctx context.Context, sess *session.Session, message string) (string, session.Counters, bool, error) {
	counters := sess.Counters
	if session.IsSentinel(message) {
		return message, counters, false, nil
	}

	redirected := false
	if flags := s.mod.Classify(message); flags.NeedsRedirection {
		strikes, err := s.store.RecordStrike(ctx, sess.ID)
		if err != nil {
			return "", counters, false, fmt.Errorf("record strike: %w", err)
		}
		counters.Strikes = strikes
		redirected = strikes < s.opts.StrikeLimit

		s.logger.Info("message flagged",
			"session_id", sess.ID,
			"strikes", strikes,
			"inappropriate", flags.Inappropriate,
			"spam", flags.Spam,
			"gibberish", flags.Gibberish,
		)
		snapshot := sess.Clone()
		snapshot.Counters = counters
		s.publish(hermes.SubjectSessionStrike, snapshot, nil)
	}

	if s.opts.StrikeLimit > 0 && counters.Strikes >= s.opts.StrikeLimit {
		return session.SentinelMisconduct, counters, false, nil
	}
	return message, counters, redirected, nil
}

// ListSessions returns the caller's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, owner string) ([]session.Summary, error) {
	list, err := s.store.ListForOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if list == nil {
		list = []session.Summary{}
	}
	return list, nil
}

// SessionCount reports how many sessions are live.
func (s *Service) SessionCount(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

func (s *Service) publish(subject string, sess *session.Session, rec *extractor.TurnRecord) {
	evt := hermes.SessionEvent{
		SessionID:       sess.ID,
		Owner:           sess.Owner,
		Domain:          sess.Config.Domain,
		Role:            sess.Config.Role,
		InterviewType:   sess.Config.InterviewType,
		Difficulty:      sess.Config.Difficulty,
		DurationMinutes: sess.Config.DurationMinutes,
		ExchangeCount:   sess.Counters.Exchanges,
		QuestionCount:   sess.Counters.Questions,
		StrikeCount:     sess.Counters.Strikes,
		RedirectCount:   sess.Counters.Redirects,
		Timestamp:       s.now().UTC(),
	}
	if rec != nil {
		evt.OverallScore = rec.OverallScore
		evt.Selected = rec.Selected
	}
	if err := s.events.Publish(subject, evt); err != nil {
		s.logger.Warn("failed to publish event", "subject", subject, "session_id", sess.ID, "error", err)
	}
}
