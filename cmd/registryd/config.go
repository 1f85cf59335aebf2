package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort           = 3000
	defaultHost           = "0.0.0.0"
	defaultRequestTimeout = 10 * time.Second
	defaultReviewInterval = 24 * time.Hour
	defaultLeaseTTL       = 60 * time.Second
)

type Config struct {
	Production  bool
	JWTSecret   string
	DatabaseURL string
	Addr        string
	TrustProxy  bool
	SearchDebug bool

	RequestTimeout time.Duration
	ReviewInterval time.Duration

	RedisAddr string
	LeaseTTL  time.Duration

	ArchiveDir string
}

// LoadConfig reads the environment, then lets flags override the listen
// address and review interval. JWT_SECRET is mandatory and must be at
// least 16 characters.
func LoadConfig(args []string) (Config, error) {
	cfg := Config{
		Production:     os.Getenv("NODE_ENV") == "production",
		JWTSecret:      os.Getenv("JWT_SECRET"),
		TrustProxy:     true,
		SearchDebug:    boolEnv("SEARCH_DEBUG", false),
		RequestTimeout: defaultRequestTimeout,
		ReviewInterval: defaultReviewInterval,
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		LeaseTTL:       defaultLeaseTTL,
		ArchiveDir:     os.Getenv("ARCHIVE_DIR"),
	}

	if v := os.Getenv("TRUST_PROXY"); v != "" {
		cfg.TrustProxy = boolEnv("TRUST_PROXY", true)
	}

	host := envOrDefault("HOST", defaultHost)
	port := defaultPort
	if v := os.Getenv("PORT"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT: %w", err)
		}
		port = parsed
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = parsed
	}

	reviewInterval := cfg.ReviewInterval.String()

	flagSet := flag.NewFlagSet("registryd", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagReview := flagSet.String("review-interval", reviewInterval, "auto-review sweep interval")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	cfg.Addr = strings.TrimSpace(*flagAddr)
	if cfg.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}

	parsedReview, err := time.ParseDuration(*flagReview)
	if err != nil {
		return Config{}, fmt.Errorf("invalid review interval: %w", err)
	}
	cfg.ReviewInterval = parsedReview

	if len(cfg.JWTSecret) < 16 {
		return Config{}, errors.New("JWT_SECRET must be set and at least 16 characters")
	}

	cfg.DatabaseURL = databaseURL()
	return cfg, nil
}

// databaseURL assembles a pgx DSN from the DATABASE_* environment.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := envOrDefault("DATABASE_HOST", "127.0.0.1")
	port := envOrDefault("DATABASE_PORT", "5432")
	name := envOrDefault("DATABASE_NAME", "registry")
	user := envOrDefault("DATABASE_USER", "registry")
	password := os.Getenv("DATABASE_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, name)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
