package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BackendURL     string
	StartPath      string
	ResultsPath    string
	Addr           string
	DataDir        string
	PollInterval   time.Duration
	MaxAttempts    int
	PollTimeout    time.Duration
	RequestTimeout time.Duration
}

func Load() Config {
	return Config{
		BackendURL:     strings.TrimRight(getenv("RUL_BACKEND_URL", "http://localhost:8000"), "/"),
		StartPath:      getenv("RUL_START_PATH", "/start"),
		ResultsPath:    getenv("RUL_RESULTS_PATH", "/results"),
		Addr:           getenv("RUL_UI_ADDR", ":8080"),
		DataDir:        getenv("RUL_DATA_DIR", "local-data"),
		PollInterval:   getenvDuration("RUL_POLL_INTERVAL", 2*time.Second),
		MaxAttempts:    getenvInt("RUL_POLL_MAX_ATTEMPTS", 0),
		PollTimeout:    getenvDuration("RUL_POLL_TIMEOUT", 0),
		RequestTimeout: getenvDuration("RUL_REQUEST_TIMEOUT", 0),
	}
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// getenvDuration accepts Go durations ("2s") or bare milliseconds ("2000").
func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(raw); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d
	}
	return fallback
}
