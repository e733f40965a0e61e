// Package session holds interview session state and the store contract
// shared by the in-memory, Postgres and SQLite backends.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/interviewd/internal/extractor"
)

// ErrNotFound is returned when a session id is unknown or has been swept.
var ErrNotFound = errors.New("session not found")

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Reserved control tokens sent in place of literal user content.
const (
	SentinelStart      = "[START_INTERVIEW]"
	SentinelEnd        = "[END_INTERVIEW]"
	SentinelInactivity = "[INACTIVITY_CHECK]"
	SentinelTimeUp     = "[TIME_UP]"
	SentinelMisconduct = "[END_INTERVIEW_MISCONDUCT]"
)

var sentinels = []string{
	SentinelStart,
	SentinelEnd,
	SentinelInactivity,
	SentinelTimeUp,
	SentinelMisconduct,
}

// IsSentinel reports whether msg begins with a reserved control token.
func IsSentinel(msg string) bool {
	msg = strings.TrimSpace(msg)
	for _, s := range sentinels {
		if strings.HasPrefix(msg, s) {
			return true
		}
	}
	return false
}

// Turn is one transcript entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config is fixed at creation.
type Config struct {
	Domain          string `json:"domain"`
	Role            string `json:"role"`
	InterviewType   string `json:"interview_type"`
	Difficulty      string `json:"difficulty"`
	DurationMinutes int    `json:"duration"`
}

// Counters only ever increase.
type Counters struct {
	Exchanges int `json:"exchange_count"`
	Questions int `json:"question_count"`
	Strikes   int `json:"strike_count"`
	Redirects int `json:"redirect_count"`
}

// Session is one interview conversation.
type Session struct {
	ID           string     `json:"session_id"`
	Owner        string     `json:"owner"`
	Config       Config     `json:"config"`
	SystemPrompt string     `json:"-"`
	Transcript   []Turn     `json:"transcript"`
	Counters     Counters   `json:"counters"`
	CreatedAt    time.Time  `json:"created_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Ended reports whether a terminal turn has been recorded.
func (s *Session) Ended() bool { return s.EndedAt != nil }

// Clone returns a deep copy safe to hand out of a store.
func (s *Session) Clone() *Session {
	c := *s
	c.Transcript = append([]Turn(nil), s.Transcript...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Summary is the listing view of a session.
type Summary struct {
	ID        string     `json:"session_id"`
	Config    Config     `json:"config"`
	Counters  Counters   `json:"counters"`
	Ended     bool       `json:"ended"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Summary projects the session into its listing view.
func (s *Session) Summary() Summary {
	sum := Summary{
		ID:        s.ID,
		Config:    s.Config,
		Counters:  s.Counters,
		Ended:     s.Ended(),
		CreatedAt: s.CreatedAt,
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		sum.EndedAt = &t
	}
	return sum
}

// NewSession describes a session to create. Opening turns seed the
// transcript without touching counters.
type NewSession struct {
	Owner        string
	Config       Config
	SystemPrompt string
	Opening      []Turn
}

// Exchange is one completed user/assistant round trip.
type Exchange struct {
	UserText   string
	Record     extractor.TurnRecord
	Sentinel   bool
	Redirected bool
}

// Policy controls counting and expiry.
type Policy struct {
	SmallTalkTurns int
	Retention      time.Duration
	EndGrace       time.Duration
}

// DefaultPolicy returns the service defaults.
func DefaultPolicy() Policy {
	return Policy{
		SmallTalkTurns: 2,
		Retention:      24 * time.Hour,
		EndGrace:       time.Hour,
	}
}

// ApplyExchange mutates s with a completed exchange. Every backend runs this
// under its own per-session lock.
func (p Policy) ApplyExchange(s *Session, ex Exchange, now time.Time) {
	s.Transcript = append(s.Transcript,
		Turn{Role: RoleUser, Content: ex.UserText},
		Turn{Role: RoleAssistant, Content: ex.Record.JSON()},
	)
	if !ex.Sentinel && s.Counters.Exchanges >= p.SmallTalkTurns {
		s.Counters.Questions++
	}
	s.Counters.Exchanges++
	if ex.Redirected {
		s.Counters.Redirects++
	}
	if ex.Record.End && s.EndedAt == nil {
		t := now.UTC()
		s.EndedAt = &t
	}
}

// Expired reports whether the sweep should evict s.
func (p Policy) Expired(s *Session, now time.Time) bool {
	if p.Retention > 0 && now.Sub(s.CreatedAt) > p.Retention {
		return true
	}
	return s.EndedAt != nil && p.EndGrace > 0 && now.Sub(*s.EndedAt) > p.EndGrace
}

// Store is the session persistence contract.
type Store interface {
	Create(ctx context.Context, ns NewSession) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	AppendExchange(ctx context.Context, id string, ex Exchange) (*Session, error)
	RecordStrike(ctx context.Context, id string) (int, error)
	ListForOwner(ctx context.Context, owner string) ([]Summary, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}
