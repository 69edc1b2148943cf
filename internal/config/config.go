package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	LogLevel    slog.Level
	LogFile     string
	DataDir     string
	DownloadDir string
	InboxDir    string

	MaxConcurrent    int
	MaxRetries       int
	AutoRetry        bool
	RetryDelay       time.Duration
	HistoryRetention time.Duration
	CancelTimeout    time.Duration
}

// LoadConfig reads the configuration from the environment, after loading a
// .env file from the working directory when one exists.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		Port:             getString("PORT", "8080"),
		LogLevel:         parseLevel(os.Getenv("LOG_LEVEL")),
		LogFile:          os.Getenv("LOG_FILE"),
		DataDir:          getString("DATA_DIR", "./data"),
		DownloadDir:      getString("DOWNLOAD_DIR", "./downloads"),
		InboxDir:         os.Getenv("INBOX_DIR"),
		MaxConcurrent:    getInt("MAX_CONCURRENT", 3, 1),
		MaxRetries:       getInt("MAX_RETRIES", 3, 0),
		AutoRetry:        getBool("AUTO_RETRY", true),
		RetryDelay:       getDuration("RETRY_DELAY", 2*time.Second),
		HistoryRetention: getDuration("HISTORY_RETENTION", time.Hour),
		CancelTimeout:    getDuration("CANCEL_TIMEOUT", 0),
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def, minValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < minValue {
		slog.Warn("Invalid config value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Invalid config value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		slog.Warn("Invalid config value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
