// Package main is the entrypoint for the StudyHall API server.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/google/uuid"
	"github.com/studyhall/studyhall/internal/api"
	"github.com/studyhall/studyhall/internal/api/handler"
	mw "github.com/studyhall/studyhall/internal/api/middleware"
	"github.com/studyhall/studyhall/internal/artifact"
	"github.com/studyhall/studyhall/internal/cache"
	"github.com/studyhall/studyhall/internal/chat"
	"github.com/studyhall/studyhall/internal/config"
	"github.com/studyhall/studyhall/internal/pipeline"
	"github.com/studyhall/studyhall/internal/remote"
	"github.com/studyhall/studyhall/internal/store"
	"github.com/studyhall/studyhall/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "workers", cfg.Pipeline.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store and bootstrap first credentials if none exist
	pgStore := store.NewPostgresStore(pool)
	if err := bootstrapCredentials(ctx, pgStore); err != nil {
		return fmt.Errorf("bootstrap credentials: %w", err)
	}

	// 6. Artifact storage
	artifacts, err := artifact.NewFSStore(cfg.Storage.ArtifactDir)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}

	// 7. Remote service clients
	extraction := remote.NewExtractionClient(cfg.Services.ExtractionURL, cfg.Services.StageTimeout)
	transcription := remote.NewTranscriptionClient(cfg.Services.TranscriptionURL, cfg.Services.StageTimeout)
	structuring := remote.NewStructuringClient(cfg.Services.StructuringURL, cfg.Services.StageTimeout)
	query := remote.NewQueryClient(cfg.Services.StructuringURL, cfg.Services.ChatTimeout)

	// 8. Pipeline coordinator and chat service
	coordinator, err := pipeline.New(pgStore, artifacts, redisCache,
		extraction, transcription, structuring,
		cfg.Pipeline.Workers, cfg.Services.StageTimeout)
	if err != nil {
		return fmt.Errorf("create pipeline coordinator: %w", err)
	}
	defer coordinator.Close()

	chatSvc := chat.NewService(pgStore, artifacts, query, cfg.Services.ChatTimeout)

	// 9. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)
	maxUploadBytes := int64(cfg.Storage.MaxUploadMB) << 20

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache, map[string]handler.Prober{
			"extraction":    extraction,
			"transcription": transcription,
			"structuring":   structuring,
		}),
		SubmitJobHandler:   handler.NewSubmitJobHandler(coordinator, maxUploadBytes),
		GetJobHandler:      handler.NewGetJobHandler(pgStore, redisCache),
		ListJobsHandler:    handler.NewListJobsHandler(pgStore),
		GetLectureHandler:  handler.NewGetLectureHandler(pgStore, artifacts),
		AskHandler:         handler.NewAskHandler(chatSvc, pgStore),
		ChatHistoryHandler: handler.NewChatHistoryHandler(chatSvc, pgStore),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

const bootstrapEmail = "admin@studyhall.local"

// bootstrapCredentials seeds a default user and the first API key on an empty
// database. The raw key is logged exactly once; only its hash is stored.
func bootstrapCredentials(ctx context.Context, s store.Store) error {
	n, err := s.CountAPIKeys(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	user, err := s.GetUserByEmail(ctx, bootstrapEmail)
	if errors.Is(err, store.ErrNotFound) {
		user = &models.User{
			ID:        uuid.New(),
			Name:      "admin",
			Email:     bootstrapEmail,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.CreateUser(ctx, user); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return err
	}
	rawKey := "sh_" + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	key := &models.APIKey{
		ID:        uuid.New(),
		UserID:    user.ID,
		Name:      "bootstrap",
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:8],
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return err
	}

	slog.Info("bootstrap API key created; store it now, it will not be shown again",
		"api_key", rawKey, "user", bootstrapEmail)
	return nil
}
