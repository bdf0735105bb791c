package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	WorkDir            string
	DatabaseURL        string
	GeoIPDBPath        string
	EngineCommand      string
	EngineArgs         []string
	EngineTimeout      time.Duration
	EngineMaxParallel  int
	CleanupDelay       time.Duration
	StaleFileAge       time.Duration
	MaxUploadBytes     int64
	FetchTimeout       time.Duration
	FetchMaxBytes      int64
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "3001"),
		WorkDir:            getEnv("WORKDIR", "."),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		EngineCommand:      getEnv("ENGINE_COMMAND", "python3"),
		EngineArgs:         getEnvList("ENGINE_ARGS", []string{"model.py"}),
		EngineTimeout:      time.Second * time.Duration(getEnvInt("ENGINE_TIMEOUT_SECONDS", 120)),
		EngineMaxParallel:  getEnvInt("ENGINE_MAX_CONCURRENCY", 4),
		CleanupDelay:       time.Second * time.Duration(getEnvInt("CLEANUP_DELAY_SECONDS", 5)),
		StaleFileAge:       time.Minute * time.Duration(getEnvInt("STALE_FILE_AGE_MINUTES", 30)),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 10*1024*1024)),
		FetchTimeout:       time.Second * time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 30)),
		FetchMaxBytes:      int64(getEnvInt("FETCH_MAX_BYTES", 20*1024*1024)),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 180)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if strings.TrimSpace(cfg.EngineCommand) == "" {
		return nil, fmt.Errorf("ENGINE_COMMAND is required")
	}
	if cfg.EngineMaxParallel < 0 {
		return nil, fmt.Errorf("ENGINE_MAX_CONCURRENCY must not be negative")
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.CleanupDelay < 0 {
		cfg.CleanupDelay = 0
	}

	if !filepath.IsAbs(cfg.WorkDir) {
		if abs, err := filepath.Abs(cfg.WorkDir); err == nil {
			cfg.WorkDir = abs
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvList splits a comma or whitespace separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
