package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MikeSquared-Agency/interviewd/internal/auth"
	"github.com/MikeSquared-Agency/interviewd/internal/extractor"
	"github.com/MikeSquared-Agency/interviewd/internal/interview"
	"github.com/MikeSquared-Agency/interviewd/internal/session"
	"github.com/MikeSquared-Agency/interviewd/internal/speech"
)

type startResponse struct {
	SessionID     string               `json:"session_id"`
	FirstQuestion extractor.TurnRecord `json:"first_question"`
}

// chatRequest ignores voice_style; clients pick the voice when they call /tts.
type chatRequest struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
}

type ttsRequest struct {
	Text       string `json:"text"`
	VoiceStyle string `json:"voice_style,omitempty"`
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "interviewd",
		"status":  "running",
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	n, err := s.interviews.SessionCount(r.Context())
	if err != nil {
		s.logger.Error("session count failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": n})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req interview.StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID, first, err := s.interviews.StartSession(r.Context(), id.Subject, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{SessionID: sessionID, FirstQuestion: first})
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.interviews.Chat(r.Context(), id.Subject, req.SessionID, req.UserMessage)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	list, err := s.interviews.ListSessions(r.Context(), id.Subject)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) tts(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	audio, err := s.speech.Synthesize(r.Context(), req.Text, req.VoiceStyle)
	if err != nil {
		var se *speech.StatusError
		switch {
		case errors.Is(err, speech.ErrEmptyText):
			writeError(w, http.StatusBadRequest, "text is required")
		case errors.Is(err, speech.ErrNoKeys):
			writeError(w, http.StatusInternalServerError, "No TTS key")
		case errors.As(err, &se):
			s.logger.Warn("speech provider error", "status", se.Status)
			writeError(w, se.Status, se.Body)
		default:
			s.logger.Error("speech synthesis failed", "error", err)
			writeError(w, http.StatusInternalServerError, "speech synthesis failed")
		}
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

// writeServiceError maps interview errors to HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, interview.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session missing")
	case errors.Is(err, interview.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "upstream model error")
	}
}
