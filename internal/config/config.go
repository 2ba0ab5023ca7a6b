package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	RequestTimeout     time.Duration

	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	DriveBaseURL     string
	DriveID          string
	DriveAccessToken string
	DriveCallDelay   time.Duration
	DriveCallTimeout time.Duration
	DriveMaxRetries  int

	EnforceRediffRounds int
	ProtectedPrincipals []string

	JobWorkers      int
	JobPollInterval time.Duration

	JWTSecret    string
	CORSOrigins  []string
	RateLimitRPM int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		ServerReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:  getInt("DB_MAX_CONNS", 10),
		DBMinConns:  getInt("DB_MIN_CONNS", 2),

		DriveBaseURL:     getEnv("DRIVE_BASE_URL", ""),
		DriveID:          strings.TrimSpace(os.Getenv("DRIVE_ID")),
		DriveAccessToken: strings.TrimSpace(os.Getenv("DRIVE_ACCESS_TOKEN")),
		DriveCallDelay:   getDuration("DRIVE_CALL_DELAY", 300*time.Millisecond),
		DriveCallTimeout: getDuration("DRIVE_CALL_TIMEOUT", 30*time.Second),
		DriveMaxRetries:  getInt("DRIVE_MAX_RETRIES", 3),

		EnforceRediffRounds: getInt("ENFORCE_REDIFF_ROUNDS", 1),
		ProtectedPrincipals: splitCSV(strings.TrimSpace(os.Getenv("PROTECTED_PRINCIPALS"))),

		JobWorkers:      getInt("JOB_WORKERS", 4),
		JobPollInterval: getDuration("JOB_POLL_INTERVAL", 2*time.Second),

		JWTSecret:    strings.TrimSpace(os.Getenv("JWT_SECRET")),
		CORSOrigins:  splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM: getInt("RATE_LIMIT_RPM", 100),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.DriveID == "" {
		return fmt.Errorf("DRIVE_ID is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.DriveCallDelay <= 0 {
		return fmt.Errorf("DRIVE_CALL_DELAY must be positive")
	}

	if c.EnforceRediffRounds < 1 {
		return fmt.Errorf("ENFORCE_REDIFF_ROUNDS must be at least 1")
	}

	if c.JobWorkers < 1 {
		return fmt.Errorf("JOB_WORKERS must be at least 1")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
