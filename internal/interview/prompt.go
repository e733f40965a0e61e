package interview

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/interviewd/internal/session"
)

const kickoff = session.SentinelStart + " Start with warm small talk."

// SystemPrompt renders the interviewer instructions for cfg.
func SystemPrompt(cfg session.Config, smallTalkTurns int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an interview AI for domain %s, role %s, type %s, difficulty %s. ",
		cfg.Domain, cfg.Role, cfg.InterviewType, cfg.Difficulty)
	fmt.Fprintf(&b, "The interview is planned to last %d minutes. ", cfg.DurationMinutes)
	b.WriteString("Ask one question at a time and return JSON responses.\n\n")

	fmt.Fprintf(&b, "Open with %d turns of warm small talk before the first interview question.\n", smallTalkTurns)
	b.WriteString("Each user message may begin with a block between " + ContextOpen + " and " + ContextClose +
		". It carries exchange, question, strike and redirect counts plus elapsed and remaining minutes. " +
		"Use it to pace the interview. Never quote or mention it.\n\n")

	b.WriteString("Control tokens:\n")
	b.WriteString("- " + session.SentinelStart + ": greet the candidate and begin small talk.\n")
	b.WriteString("- " + session.SentinelInactivity + ": the candidate has gone quiet. Check in briefly.\n")
	b.WriteString("- " + session.SentinelTimeUp + ": time is over. Close the interview and give the summary.\n")
	b.WriteString("- " + session.SentinelEnd + ": the candidate ended the interview. Close it and give the summary.\n")
	b.WriteString("- " + session.SentinelMisconduct + ": end the interview for repeated misconduct. Be brief and professional.\n\n")

	b.WriteString("If the candidate is off-topic, abusive or spamming, redirect them politely to the question.\n\n")

	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"text_response": "what to display", "voice_response": "plain text to speak, no markdown or emoji", "end": false}`)
	b.WriteString("\nWhen the interview ends set \"end\" to true and add: strengths, weaknesses and recommendations " +
		"(arrays of strings), communication_score, technical_score, confidence_score, behavior_score and " +
		"overall_score (numbers 0-10), overall_impression (string) and selected (boolean).\n")

	return b.String()
}
