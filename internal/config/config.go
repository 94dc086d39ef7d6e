package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures all runtime configuration sourced from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	MetricsNamespace string

	HTTPListenAddr string
	PublicBaseURL  string
	PublicBasePath string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	TelegramToken string

	RegistrarBaseURL  string
	RegistrarUsername string
	RegistrarPassword string

	DNSBaseURL        string
	DNSAPIToken       string
	DNSDefaultARecord string

	ChainBaseURL    string
	ChainAPIKey     string
	ChainSimulation bool

	FxBaseURL string
	FxAPIKey  string

	MailBaseURL   string
	MailAPIKey    string
	MailSender    string
	MailSenderID  string
	MailEnabled   bool
	CheckInterval time.Duration
	SweepInterval time.Duration
	WatchTTL      time.Duration
	StateTTL      time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "nomadly"),

		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBaseURL:  os.Getenv("PUBLIC_BASE_URL"),
		PublicBasePath: os.Getenv("PUBLIC_BASE_PATH"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		RegistrarBaseURL:  getEnv("OPENPROVIDER_BASE_URL", "https://api.openprovider.eu"),
		RegistrarUsername: os.Getenv("OPENPROVIDER_USERNAME"),
		RegistrarPassword: os.Getenv("OPENPROVIDER_PASSWORD"),

		DNSBaseURL:        getEnv("CLOUDFLARE_BASE_URL", "https://api.cloudflare.com/client/v4"),
		DNSAPIToken:       os.Getenv("CLOUDFLARE_API_TOKEN"),
		DNSDefaultARecord: os.Getenv("DNS_DEFAULT_A_RECORD"),

		ChainBaseURL: getEnv("BLOCKBEE_BASE_URL", "https://api.blockbee.io"),
		ChainAPIKey:  os.Getenv("BLOCKBEE_API_KEY"),

		FxBaseURL: getEnv("FASTFOREX_BASE_URL", "https://api.fastforex.io"),
		FxAPIKey:  os.Getenv("FASTFOREX_API_KEY"),

		MailBaseURL:  getEnv("BREVO_BASE_URL", "https://api.brevo.com/v3"),
		MailAPIKey:   os.Getenv("BREVO_API_KEY"),
		MailSender:   getEnv("BREVO_SENDER_EMAIL", "noreply@nomadly.example"),
		MailSenderID: getEnv("BREVO_SENDER_NAME", "Nomadly"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	cfg.RedisTLS = getEnvBool("REDIS_TLS", false)
	cfg.ChainSimulation = getEnvBool("BLOCKBEE_SIMULATION", false)
	cfg.MailEnabled = getEnvBool("BREVO_ENABLED", cfg.MailAPIKey != "")

	if cfg.CheckInterval, err = getEnvDuration("PAYMENT_CHECK_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("WATCH_SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.WatchTTL, err = getEnvDuration("PAYMENT_WATCH_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.StateTTL, err = getEnvDuration("USER_STATE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.ChainAPIKey == "" && !cfg.ChainSimulation {
		return nil, fmt.Errorf("BLOCKBEE_API_KEY is required unless BLOCKBEE_SIMULATION=true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, fallback bool) bool {
	val := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch val {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
