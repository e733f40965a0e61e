package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MikeSquared-Agency/interviewd/internal/anthropic"
	"github.com/MikeSquared-Agency/interviewd/internal/api"
	"github.com/MikeSquared-Agency/interviewd/internal/auth"
	"github.com/MikeSquared-Agency/interviewd/internal/config"
	"github.com/MikeSquared-Agency/interviewd/internal/hermes"
	"github.com/MikeSquared-Agency/interviewd/internal/interview"
	"github.com/MikeSquared-Agency/interviewd/internal/keyring"
	"github.com/MikeSquared-Agency/interviewd/internal/moderation"
	"github.com/MikeSquared-Agency/interviewd/internal/session"
	"github.com/MikeSquared-Agency/interviewd/internal/speech"
	"github.com/MikeSquared-Agency/interviewd/internal/store"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	if envErr != nil {
		slog.Info("no .env file found, using environment variables")
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("interviewd starting", "port", cfg.Port, "store", cfg.StoreBackend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy := session.Policy{
		SmallTalkTurns: cfg.SmallTalkTurns,
		Retention:      cfg.SessionRetention,
		EndGrace:       cfg.SessionEndGrace,
	}

	sessions, closeStore, err := openStore(ctx, cfg, policy)
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer closeStore()
	session.StartSweeper(ctx, sessions, cfg.SweepInterval, slog.Default())

	// Anthropic client
	llm := anthropic.NewClient(keyring.New(cfg.AnthropicAPIKeys...), cfg.AnthropicModel, cfg.AnthropicVersion, slog.Default())
	slog.Info("anthropic client ready", "model", llm.Model(), "keys", len(cfg.AnthropicAPIKeys))

	// Moderation rules
	classifier := moderation.Default()
	if cfg.ModerationRules != "" {
		classifier, err = moderation.Load(cfg.ModerationRules)
		if err != nil {
			slog.Error("failed to load moderation rules", "path", cfg.ModerationRules, "error", err)
			os.Exit(1)
		}
		slog.Info("moderation rules loaded", "path", cfg.ModerationRules)
	}

	// NATS/Hermes (optional, events are dropped without it)
	var events interview.Publisher = hermes.Nop{}
	if cfg.NatsURL != "" {
		hermesClient, err := hermes.NewClient(hermes.Config{URL: cfg.NatsURL, Token: cfg.NatsToken}, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		events = hermesClient
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured, lifecycle events disabled")
	}

	verifier, err := buildVerifier(cfg)
	if err != nil {
		slog.Error("failed to configure auth", "error", err)
		os.Exit(1)
	}

	tts := speech.NewClient(
		keyring.New(cfg.ElevenKeys...),
		speech.Voices{Male: cfg.ElevenVoiceMale, Female: cfg.ElevenVoiceFemale},
		cfg.ElevenModel,
		slog.Default(),
	)
	if len(cfg.ElevenKeys) == 0 {
		slog.Warn("no TTS keys configured, /tts will fail")
	}

	svc := interview.NewService(llm, sessions, classifier, events, interview.Options{
		HistoryTurns:   cfg.HistoryTurns,
		SmallTalkTurns: cfg.SmallTalkTurns,
		StrikeLimit:    cfg.StrikeLimit,
		MaxTokens:      cfg.AnthropicMaxTokens,
	}, slog.Default())

	// HTTP API
	srv := api.NewServer(api.Options{
		Port:               cfg.Port,
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, svc, tts, verifier, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	slog.Info("interviewd ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	cancel()
	slog.Info("interviewd stopped")
}

func openStore(ctx context.Context, cfg config.Config, policy session.Policy) (session.Store, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := store.New(ctx, cfg.DatabaseURL, policy)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("database connected")
		return db, db.Close, nil
	case "sqlite":
		db, err := store.OpenSQLite(cfg.SQLitePath, policy)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("sqlite database opened", "path", cfg.SQLitePath)
		return db, func() {
			if err := db.Close(); err != nil {
				slog.Error("failed to close sqlite database", "error", err)
			}
		}, nil
	default:
		return session.NewMemoryStore(policy), func() {}, nil
	}
}

func buildVerifier(cfg config.Config) (auth.Verifier, error) {
	var chain auth.Chain

	projectID := cfg.FirebaseProjectID
	if projectID == "" && cfg.FirebaseCredentials != "" {
		id, err := auth.ProjectIDFromCredentials(cfg.FirebaseCredentials)
		if err != nil {
			return nil, fmt.Errorf("firebase credentials: %w", err)
		}
		projectID = id
	}
	if projectID != "" {
		chain = append(chain, auth.NewFirebaseVerifier(projectID))
		slog.Info("firebase token verification enabled", "project", projectID)
	}
	if cfg.DevAuthToken != "" {
		chain = append(chain, auth.StaticVerifier{Token: cfg.DevAuthToken})
		slog.Warn("static dev auth token enabled")
	}
	return chain, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
