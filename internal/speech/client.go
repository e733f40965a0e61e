// Package speech synthesizes interviewer replies with ElevenLabs.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/interviewd/internal/extractor"
	"github.com/MikeSquared-Agency/interviewd/internal/keyring"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	DefaultModel   = "eleven_turbo_v2"

	DefaultMaleVoice   = "pNInz6obpgDQGcFmaJgB"
	DefaultFemaleVoice = "21m00Tcm4TlvDq8ikWAM"
)

var (
	ErrEmptyText = errors.New("text is empty")
	ErrNoKeys    = errors.New("no speech api key configured")
)

// StatusError is a non-success reply from the provider.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("elevenlabs error %d: %s", e.Status, e.Body)
}

// Voices maps a voice style to a provider voice id.
type Voices struct {
	Male   string
	Female string
}

// ID returns the voice id for style. Unknown styles use the male voice.
func (v Voices) ID(style string) string {
	if strings.EqualFold(strings.TrimSpace(style), "female") && v.Female != "" {
		return v.Female
	}
	if v.Male != "" {
		return v.Male
	}
	return DefaultMaleVoice
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type request struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type Client struct {
	keys    *keyring.Ring
	voices  Voices
	model   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(keys *keyring.Ring, voices Voices, model string, logger *slog.Logger) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		keys:    keys,
		voices:  voices,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 45 * time.Second},
		logger:  logger,
	}
}

// SetTestTransport points the client at a test server.
func (c *Client) SetTestTransport(baseURL string) {
	c.baseURL = baseURL
}

// Synthesize returns MPEG audio for text. The text is sanitized first and an
// empty result never reaches the provider. Keys rotate on 401, 429 and 5xx,
// at most once per configured key.
func (c *Client) Synthesize(ctx context.Context, text, style string) ([]byte, error) {
	clean := extractor.SanitizeVoice(text)
	if clean == "" {
		return nil, ErrEmptyText
	}
	if c.keys.Len() == 0 {
		return nil, ErrNoKeys
	}

	body, err := json.Marshal(request{
		Text:          clean,
		ModelID:       c.model,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	voiceID := c.voices.ID(style)
	var lastErr error
	for attempt := 1; attempt <= c.keys.Len(); attempt++ {
		audio, rotate, err := c.send(ctx, voiceID, c.keys.Next(), body)
		if err == nil {
			return audio, nil
		}
		lastErr = err
		if !rotate || ctx.Err() != nil {
			break
		}
		c.logger.Warn("elevenlabs call failed, rotating key", "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, voiceID, key string, body []byte) ([]byte, bool, error) {
	endpoint := c.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		rotate := resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode >= 500
		return nil, rotate, &StatusError{Status: resp.StatusCode, Body: string(data)}
	}
	return data, false, nil
}
