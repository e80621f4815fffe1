package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"portfolio-backend/internal/config"
	"portfolio-backend/internal/database"
	"portfolio-backend/internal/handlers"
	"portfolio-backend/internal/repository"
	"portfolio-backend/internal/router"
	"portfolio-backend/internal/services"
)

func main() {
	log.Println("🚀 Starting Portfolio Assistant Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Transcript Cache (optional) ────
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠ Redis unavailable, transcript cache disabled: %v", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			log.Println("✓ Redis connected")
		}
	}

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	conversationRepo := repository.NewConversationRepo(pool, redisClient)
	submissionRepo := repository.NewSubmissionRepo(pool)
	projectRepo := repository.NewProjectRepo(pool)
	faqRepo := repository.NewFAQRepo(pool)

	// ──── Step 5: Initialize Gemini Assistant ────
	assistant, err := services.NewAssistant(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs)
	if err != nil {
		log.Fatalf("✗ Gemini client initialization failed: %v", err)
	}
	defer assistant.Close()
	log.Println("✓ Gemini client initialized")

	// ──── Initialize Services ────
	aggregator := services.NewAggregator(submissionRepo, projectRepo, faqRepo, cfg.RecentSubmissionLimit)

	// ──── Initialize Handlers ────
	askHandler := handlers.NewAskHandler(conversationRepo, aggregator, assistant)
	conversationHandler := handlers.NewConversationHandler(conversationRepo)
	statsHandler := handlers.NewStatsHandler(aggregator)

	// ──── Step 6: Start HTTP Server ────
	r := router.New(askHandler, conversationHandler, statsHandler, cfg.FrontendURL)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: answer streams outlive any fixed write deadline.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Portfolio Assistant Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
