package extractor

import "encoding/json"

// TurnRecord is the structured reply returned to callers for every model turn.
type TurnRecord struct {
	TextResponse  string `json:"text_response"`
	VoiceResponse string `json:"voice_response"`
	End           bool   `json:"end"`
	Summary
}

// Summary holds the scoring fields a terminal turn may carry.
type Summary struct {
	Strengths          []string `json:"strengths,omitempty"`
	Weaknesses         []string `json:"weaknesses,omitempty"`
	CommunicationScore *float64 `json:"communication_score,omitempty"`
	TechnicalScore     *float64 `json:"technical_score,omitempty"`
	ConfidenceScore    *float64 `json:"confidence_score,omitempty"`
	BehaviorScore      *float64 `json:"behavior_score,omitempty"`
	OverallScore       *float64 `json:"overall_score,omitempty"`
	OverallImpression  string   `json:"overall_impression,omitempty"`
	Recommendations    []string `json:"recommendations,omitempty"`
	Selected           *bool    `json:"selected,omitempty"`
}

// Method names the strategy that produced a record.
type Method string

const (
	MethodDirect   Method = "direct"
	MethodFenced   Method = "fenced"
	MethodSpan     Method = "span"
	MethodFallback Method = "fallback"
)

// JSON is the serialized form stored as the assistant turn in a transcript.
func (r TurnRecord) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return r.TextResponse
	}
	return string(b)
}
