// Package extractor turns free-form model output into a TurnRecord.
//
// Extraction is total: prose, fenced blocks, truncated JSON and empty input all
// yield a record with text_response, voice_response and end populated.
package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Extract parses raw model output into a TurnRecord.
func Extract(raw string) TurnRecord {
	rec, _ := ExtractWithMethod(raw)
	return rec
}

// ExtractWithMethod is Extract plus the strategy that succeeded.
func ExtractWithMethod(raw string) (TurnRecord, Method) {
	candidate, method := raw, MethodDirect
	if inner, ok := stripFence(raw); ok {
		candidate, method = inner, MethodFenced
	}

	if obj, ok := parseObject(candidate); ok {
		return fromObject(obj, raw), method
	}
	if span, ok := objectSpan(candidate); ok {
		if obj, ok := parseObject(span); ok {
			return fromObject(obj, raw), MethodSpan
		}
	}
	if span, ok := greedySpan(candidate); ok {
		if obj, ok := parseObject(span); ok {
			return fromObject(obj, raw), MethodSpan
		}
	}

	return TurnRecord{
		TextResponse:  raw,
		VoiceResponse: SanitizeVoice(raw),
		End:           false,
	}, MethodFallback
}

// stripFence returns the body of the first ``` block when it is unlabeled or
// labeled json.
func stripFence(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return s, false
	}
	rest := s[start+3:]
	end := strings.Index(rest, "```")
	if end < 0 {
		return s, false
	}
	inner := rest[:end]

	label := inner
	if i := strings.IndexAny(inner, " \t\r\n{["); i >= 0 {
		label = inner[:i]
	}
	if label != "" && !strings.EqualFold(label, "json") {
		return s, false
	}
	return strings.TrimSpace(inner[len(label):]), true
}

func parseObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// objectSpan finds the first brace-balanced {...} span, honoring JSON strings.
func objectSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// greedySpan takes everything from the first '{' to the last '}'.
func greedySpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func fromObject(obj map[string]any, raw string) TurnRecord {
	rec := TurnRecord{Summary: decodeSummary(obj)}

	if text, ok := obj["text_response"].(string); ok {
		rec.TextResponse = text
	} else {
		rec.TextResponse = raw
	}

	voice := rec.TextResponse
	if v, ok := obj["voice_response"].(string); ok {
		voice = v
	}
	rec.VoiceResponse = SanitizeVoice(voice)

	if end, ok := asBool(obj["end"]); ok {
		rec.End = end
	}
	return rec
}

func decodeSummary(obj map[string]any) Summary {
	var s Summary
	s.Strengths = asStrings(obj["strengths"])
	s.Weaknesses = asStrings(obj["weaknesses"])
	s.Recommendations = asStrings(obj["recommendations"])
	s.CommunicationScore = asNumber(obj["communication_score"])
	s.TechnicalScore = asNumber(obj["technical_score"])
	s.ConfidenceScore = asNumber(obj["confidence_score"])
	s.BehaviorScore = asNumber(obj["behavior_score"])
	s.OverallScore = asNumber(obj["overall_score"])
	if v, ok := obj["overall_impression"].(string); ok {
		s.OverallImpression = v
	}
	if v, ok := asBool(obj["selected"]); ok {
		s.Selected = &v
	}
	return s
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	return false, false
}

func asNumber(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case nil:
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}
