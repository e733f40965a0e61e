package hermes

import "time"

// Session lifecycle subjects.
const (
	SubjectSessionStarted = "interview.session.started"
	SubjectSessionEnded   = "interview.session.ended"
	SubjectSessionStrike  = "interview.session.strike"
)

// SessionEvent is the payload for every lifecycle subject. Transcript
// content is never included.
type SessionEvent struct {
	SessionID       string    `json:"session_id"`
	Owner           string    `json:"owner"`
	Domain          string    `json:"domain"`
	Role            string    `json:"role"`
	InterviewType   string    `json:"interview_type"`
	Difficulty      string    `json:"difficulty"`
	DurationMinutes int       `json:"duration"`
	ExchangeCount   int       `json:"exchange_count"`
	QuestionCount   int       `json:"question_count"`
	StrikeCount     int       `json:"strike_count"`
	RedirectCount   int       `json:"redirect_count"`
	OverallScore    *float64  `json:"overall_score,omitempty"`
	Selected        *bool     `json:"selected,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
