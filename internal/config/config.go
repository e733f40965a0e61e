package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var defaultOrigins = []string{
	"https://eightfoldai-chat.netlify.app",
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:5500",
	"http://127.0.0.1:5500",
}

type Config struct {
	Port     int
	LogLevel string

	AnthropicAPIKeys   []string
	AnthropicModel     string
	AnthropicVersion   string
	AnthropicMaxTokens int

	ElevenKeys        []string
	ElevenVoiceMale   string
	ElevenVoiceFemale string
	ElevenModel       string

	AllowedOrigins      []string
	FirebaseProjectID   string
	FirebaseCredentials string
	DevAuthToken        string

	StoreBackend string
	DatabaseURL  string
	SQLitePath   string

	NatsURL   string
	NatsToken string

	SessionRetention time.Duration
	SessionEndGrace  time.Duration
	SweepInterval    time.Duration

	HistoryTurns       int
	SmallTalkTurns     int
	StrikeLimit        int
	RateLimitPerMinute int
	ModerationRules    string
}

func Load() Config {
	return Config{
		Port:     envInt("PORT", 5000),
		LogLevel: envStr("LOG_LEVEL", "info"),

		AnthropicAPIKeys:   envList("ANTHROPIC_API_KEY", nil),
		AnthropicModel:     envStr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		AnthropicVersion:   envStr("ANTHROPIC_VERSION", "2023-06-01"),
		AnthropicMaxTokens: envInt("ANTHROPIC_MAX_TOKENS", 1024),

		ElevenKeys:        envList("ELEVEN_KEYS", nil),
		ElevenVoiceMale:   envStr("ELEVEN_VOICE_MALE", "pNInz6obpgDQGcFmaJgB"),
		ElevenVoiceFemale: envStr("ELEVEN_VOICE_FEMALE", "21m00Tcm4TlvDq8ikWAM"),
		ElevenModel:       envStr("ELEVEN_MODEL", "eleven_turbo_v2"),

		AllowedOrigins:      envList("ALLOWED_ORIGINS", defaultOrigins),
		FirebaseProjectID:   envStr("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentials: envStr("FIREBASE_CREDENTIALS", ""),
		DevAuthToken:        envStr("DEV_AUTH_TOKEN", ""),

		StoreBackend: strings.ToLower(envStr("STORE_BACKEND", "memory")),
		DatabaseURL:  envStr("DATABASE_URL", ""),
		SQLitePath:   envStr("SQLITE_PATH", "data/interviewd.db"),

		NatsURL:   envStr("NATS_URL", ""),
		NatsToken: envStr("NATS_TOKEN", ""),

		SessionRetention: envDuration("SESSION_RETENTION", 24*time.Hour),
		SessionEndGrace:  envDuration("SESSION_END_GRACE", time.Hour),
		SweepInterval:    envDuration("SWEEP_INTERVAL", 10*time.Minute),

		HistoryTurns:       envInt("HISTORY_TURNS", 20),
		SmallTalkTurns:     envInt("SMALL_TALK_TURNS", 2),
		StrikeLimit:        envInt("STRIKE_LIMIT", 3),
		RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 30),
		ModerationRules:    envStr("MODERATION_RULES", ""),
	}
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if len(c.AnthropicAPIKeys) == 0 {
		errs = append(errs, errors.New("ANTHROPIC_API_KEY is required"))
	}
	if c.FirebaseProjectID == "" && c.FirebaseCredentials == "" && c.DevAuthToken == "" {
		errs = append(errs, errors.New("one of FIREBASE_PROJECT_ID, FIREBASE_CREDENTIALS or DEV_AUTH_TOKEN is required"))
	}
	switch c.StoreBackend {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for STORE_BACKEND=postgres"))
		}
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for STORE_BACKEND=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.StrikeLimit < 1 {
		errs = append(errs, errors.New("STRIKE_LIMIT must be at least 1"))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated variable, dropping blank entries.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
