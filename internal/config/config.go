package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Gemini AI
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int

	// Context aggregation
	RecentSubmissionLimit int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                  getEnvOrDefault("PORT", "8080"),
		Env:                   getEnvOrDefault("ENV", "development"),
		DatabaseURL:           mustGetEnv("DATABASE_URL"),
		RedisURL:              getEnvOrDefault("REDIS_URL", ""),
		GeminiAPIKey:          mustGetEnv("GEMINI_API_KEY"),
		GeminiModel:           getEnvOrDefault("GEMINI_MODEL", "gemini-3-flash-preview"),
		GeminiConcurrentReqs:  getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		RecentSubmissionLimit: getEnvAsIntOrDefault("RECENT_SUBMISSION_LIMIT", 5),
		FrontendURL:           getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
