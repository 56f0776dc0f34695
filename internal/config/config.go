package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	DBUrl            string
	RedisURL         string
	FirestoreProject string
	AppEnv           string

	// SuppressWhenVisible gates the background worker's notification
	// display when some client is already visible. Off by default:
	// notifications show unconditionally.
	SuppressWhenVisible bool
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBUrl:               getEnv("DB_URL", ""),
		RedisURL:            getEnv("REDIS_URL", ""),
		FirestoreProject:    getEnv("FIRESTORE_PROJECT", ""),
		AppEnv:              normalizeEnv(getEnv("APP_ENV", "production")),
		SuppressWhenVisible: getEnvBool("NOTIFY_SUPPRESS_WHEN_VISIBLE", false),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}
