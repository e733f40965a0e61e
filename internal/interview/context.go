package interview

import (
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/interviewd/internal/anthropic"
	"github.com/MikeSquared-Agency/interviewd/internal/session"
)

// Markers delimiting the bookkeeping block. Neither marker may ever reach
// a persisted transcript.
const (
	ContextOpen  = "[INTERVIEW_CONTEXT]"
	ContextClose = "[/INTERVIEW_CONTEXT]"
)

// Snapshot is the bookkeeping the model sees ahead of the latest message.
type Snapshot struct {
	Counters        session.Counters
	DurationMinutes int
	Elapsed         time.Duration
}

func (s Snapshot) elapsedMinutes() int {
	if s.Elapsed < 0 {
		return 0
	}
	return int(s.Elapsed / time.Minute)
}

func (s Snapshot) remainingMinutes() int {
	r := s.DurationMinutes - s.elapsedMinutes()
	if r < 0 {
		return 0
	}
	return r
}

// Decorate prefixes msg with the bookkeeping block.
func Decorate(msg string, snap Snapshot) string {
	var b strings.Builder
	b.WriteString(ContextOpen)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "exchange_count: %d\n", snap.Counters.Exchanges)
	fmt.Fprintf(&b, "question_count: %d\n", snap.Counters.Questions)
	fmt.Fprintf(&b, "strike_count: %d\n", snap.Counters.Strikes)
	fmt.Fprintf(&b, "redirect_count: %d\n", snap.Counters.Redirects)
	fmt.Fprintf(&b, "duration_minutes: %d\n", snap.DurationMinutes)
	fmt.Fprintf(&b, "elapsed_minutes: %d\n", snap.elapsedMinutes())
	fmt.Fprintf(&b, "remaining_minutes: %d\n", snap.remainingMinutes())
	b.WriteString(ContextClose)
	b.WriteByte('\n')
	b.WriteString(msg)
	return b.String()
}

// HasContextBlock reports whether text carries either bookkeeping marker.
func HasContextBlock(text string) bool {
	return strings.Contains(text, ContextOpen) || strings.Contains(text, ContextClose)
}

// BuildMessages returns the last historyTurns transcript turns followed by
// the decorated latest user turn. The window is trimmed to start on a user
// turn. historyTurns <= 0 keeps the whole transcript.
func BuildMessages(transcript []session.Turn, historyTurns int, latest string) []anthropic.Message {
	window := transcript
	if historyTurns > 0 && len(window) > historyTurns {
		window = window[len(window)-historyTurns:]
	}
	for len(window) > 0 && window[0].Role != session.RoleUser {
		window = window[1:]
	}

	msgs := make([]anthropic.Message, 0, len(window)+1)
	for _, t := range window {
		msgs = append(msgs, anthropic.Message{Role: t.Role, Content: t.Content})
	}
	return append(msgs, anthropic.Message{Role: session.RoleUser, Content: latest})
}
