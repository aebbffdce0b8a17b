package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	PrinterAddr    string
	PrinterTimeout time.Duration

	TTSProvider string
	TTSEndpoint string
	TTSKey      string

	AdminTokenHash string
	SessionTTL     time.Duration

	RetentionDays     int
	RetentionInterval time.Duration
	RetentionBatch    int

	EventPollInterval time.Duration
	EventBatchSize    int

	RateLimitPerMinute         int
	RateLimitBurst             int
	OperatorRateLimitPerMinute int
	OperatorRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		PrinterAddr:    os.Getenv("PRINTER_ADDR"),
		PrinterTimeout: readDurationSeconds("PRINTER_TIMEOUT_SECONDS", 5),

		TTSProvider: os.Getenv("TTS_PROVIDER"),
		TTSEndpoint: os.Getenv("TTS_ENDPOINT"),
		TTSKey:      os.Getenv("TTS_KEY"),

		AdminTokenHash: os.Getenv("ADMIN_TOKEN_HASH"),
		SessionTTL:     readDurationSeconds("SESSION_TTL_SECONDS", 900),

		RetentionDays:     readInt("RETENTION_DAYS", 7),
		RetentionInterval: readDurationSeconds("RETENTION_SCAN_INTERVAL_SECONDS", 3600),
		RetentionBatch:    readInt("RETENTION_BATCH_SIZE", 500),

		EventPollInterval: readDurationSeconds("EVENT_POLL_INTERVAL_SECONDS", 1),
		EventBatchSize:    readInt("EVENT_BATCH_SIZE", 100),

		RateLimitPerMinute:         readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:             readInt("RATE_LIMIT_BURST", 30),
		OperatorRateLimitPerMinute: readInt("OPERATOR_RATE_LIMIT_PER_MIN", 600),
		OperatorRateLimitBurst:     readInt("OPERATOR_RATE_LIMIT_BURST", 120),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
