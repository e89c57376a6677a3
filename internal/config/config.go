// Package config loads the gateway's environment-driven configuration into
// one typed struct, replacing the teacher's scattered inline os.Getenv
// parsing (control_plane/main.go) with a single loader.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds every environment-tunable documented in spec.md §6.
type Config struct {
	WorkerCount            int
	SendTimeout            time.Duration
	SchedulerInterval       time.Duration
	MaintenanceInterval     time.Duration
	RetentionSent           time.Duration
	RetentionFailed         time.Duration
	MaxAttemptsDefault      int
	BaseDelay               time.Duration
	MaxDelay                time.Duration
	HighWatermarkQueue      int
	ListenAddress           string

	DatabaseURL           string
	RedisAddr             string
	LogLevel              string
	OTelExporterEndpoint  string
}

// Load reads the Config from the process environment, applying the
// defaults spec.md names wherever a variable is unset.
func Load() Config {
	return Config{
		WorkerCount:          envInt("WORKER_COUNT", defaultWorkerCount()),
		SendTimeout:          envDuration("SEND_TIMEOUT_MS", 30*time.Second),
		SchedulerInterval:    envDuration("SCHEDULER_INTERVAL_MS", 60*time.Second),
		MaintenanceInterval:  envDuration("MAINTENANCE_INTERVAL_MS", 24*time.Hour),
		RetentionSent:        envDurationDays("RETENTION_SENT_DAYS", 14*24*time.Hour),
		RetentionFailed:      envDurationDays("RETENTION_FAILED_DAYS", 7*24*time.Hour),
		MaxAttemptsDefault:   envInt("MAX_ATTEMPTS_DEFAULT", 3),
		BaseDelay:            envDuration("BASE_DELAY_MS", time.Second),
		MaxDelay:             envDuration("MAX_DELAY_MS", 60*time.Second),
		HighWatermarkQueue:   envInt("HIGH_WATERMARK_QUEUE", 10_000),
		ListenAddress:        envString("LISTEN_ADDRESS", ":8080"),
		DatabaseURL:          envString("DATABASE_URL", "postgres://localhost:5432/smsgateway?sslmode=disable"),
		RedisAddr:            envString("REDIS_ADDR", "localhost:6379"),
		LogLevel:             envString("LOG_LEVEL", "info"),
		OTelExporterEndpoint: envString("OTEL_EXPORTER_ENDPOINT", ""),
	}
}

func defaultWorkerCount() int {
	n := 2 * runtime.NumCPU()
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

func envString(key, fallback string) string {
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
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

func envDurationDays(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	return fallback
}
