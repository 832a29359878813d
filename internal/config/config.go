package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreSQLite  = "sqlite"
	StoreSurreal = "surreal"
	StoreMemory  = "memory"
)

// Config holds all configuration values.
type Config struct {
	// Chat gateway
	SocketURL        string
	RESTURL          string
	HandshakeTimeout time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration

	// Generation target
	ModelID       string
	ModelCategory string

	// Credentials
	IDToken     string
	AccessToken string
	TokenFile   string

	// Local storage
	Store      string
	SQLitePath string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads an optional .env file, then configuration from environment variables.
// Variables already set in the environment win over .env entries.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		SocketURL:        getEnv("CHATSYNC_SOCKET_URL", "ws://localhost:8080/ws"),
		RESTURL:          getEnv("CHATSYNC_REST_URL", ""),
		HandshakeTimeout: parseDuration(getEnv("CHATSYNC_HANDSHAKE_TIMEOUT", "10s"), 10*time.Second),
		BackoffBase:      parseDuration(getEnv("CHATSYNC_BACKOFF_BASE", "1s"), time.Second),
		BackoffMax:       parseDuration(getEnv("CHATSYNC_BACKOFF_MAX", "30s"), 30*time.Second),

		ModelID:       getEnv("CHATSYNC_MODEL_ID", ""),
		ModelCategory: getEnv("CHATSYNC_MODEL_CATEGORY", "Bedrock Models"),

		IDToken:     getEnv("CHATSYNC_ID_TOKEN", ""),
		AccessToken: getEnv("CHATSYNC_ACCESS_TOKEN", ""),
		TokenFile:   getEnv("CHATSYNC_TOKEN_FILE", ""),

		Store:      strings.ToLower(getEnv("CHATSYNC_STORE", StoreSQLite)),
		SQLitePath: getEnv("CHATSYNC_SQLITE_PATH", defaultSQLitePath()),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "chatsync"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "client"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LogFile:  getEnv("CHATSYNC_LOG_FILE", filepath.Join(os.TempDir(), "chatsync.log")),
		LogLevel: parseLogLevel(getEnv("CHATSYNC_LOG_LEVEL", "INFO")),
	}
}

func defaultSQLitePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "chatsync.db"
	}
	return filepath.Join(dir, "chatsync", "chatsync.db")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
