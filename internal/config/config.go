package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Kafka struct {
		Brokers   []string
		Topic     string
		GroupID   string
		Consumers int
		Disabled  bool
	}
	DB struct {
		DSN string
	}
	ConfigFile string
	Redis      struct {
		URL         string
		SLACacheTTL time.Duration
	}
	Email struct {
		SMTPServer string
		SMTPPort   int
		Username   string
		Password   string
		FromName   string
	}
	Telegram struct {
		BotToken  string
		RateLimit int
	}
	API struct {
		Port     string
		BasePath string
	}
	Notification struct {
		QueueSize  int
		MaxWorkers int
	}
	Engine struct {
		QueueSize          int
		RulesRefresh       time.Duration
		EscalationInterval time.Duration
	}
	SLA struct {
		WarningThreshold float64
		ErrorThreshold   float64
		NoDataPolicy     string
	}
	Logging struct {
		Dir   string
		Level string
	}
}

// Load reads the .env file at envFile if present, then environment variables,
// applies defaults, and returns a Config.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	var cfg Config

	// Kafka settings
	cfg.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")
	cfg.Kafka.Consumers = getInt("KAFKA_CONSUMERS")
	cfg.Kafka.Disabled, _ = strconv.ParseBool(os.Getenv("KAFKA_DISABLED"))

	// Stores
	cfg.DB.DSN = os.Getenv("DB_DSN")
	cfg.ConfigFile = os.Getenv("CONFIG_FILE")
	cfg.Redis.URL = os.Getenv("REDIS_URL")
	cfg.Redis.SLACacheTTL = time.Duration(getInt("SLA_CACHE_TTL_SECONDS")) * time.Second

	// Email settings
	cfg.Email.SMTPServer = os.Getenv("EMAIL_SMTP_SERVER")
	cfg.Email.SMTPPort = getInt("EMAIL_SMTP_PORT")
	cfg.Email.Username = os.Getenv("EMAIL_USERNAME")
	cfg.Email.Password = os.Getenv("EMAIL_PASSWORD")
	cfg.Email.FromName = os.Getenv("EMAIL_FROM_NAME")

	// Telegram settings
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.RateLimit = getInt("TELEGRAM_RATE_LIMIT")

	// API settings
	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	// Notification worker settings
	cfg.Notification.QueueSize = getInt("QUEUE_SIZE")
	cfg.Notification.MaxWorkers = getInt("MAX_WORKERS")

	// Engine settings
	cfg.Engine.QueueSize = getInt("ENGINE_QUEUE_SIZE")
	cfg.Engine.RulesRefresh = time.Duration(getInt("RULES_REFRESH_SECONDS")) * time.Second
	cfg.Engine.EscalationInterval = time.Duration(getInt("ESCALATION_INTERVAL_SECONDS")) * time.Second

	// SLA settings
	var err error
	if cfg.SLA.WarningThreshold, err = getFloat("SLA_WARNING_THRESHOLD"); err != nil {
		return Config{}, err
	}
	if cfg.SLA.ErrorThreshold, err = getFloat("SLA_ERROR_THRESHOLD"); err != nil {
		return Config{}, err
	}
	cfg.SLA.NoDataPolicy = strings.ToLower(os.Getenv("SLA_NO_DATA_POLICY"))

	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	// Validate required settings
	missing := []string{}
	if !cfg.Kafka.Disabled && len(cfg.Kafka.Brokers) == 0 {
		missing = append(missing, "KAFKA_BROKERS")
	}
	if cfg.DB.DSN == "" && cfg.ConfigFile == "" {
		missing = append(missing, "DB_DSN or CONFIG_FILE")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	// Counts and intervals feed worker pools and tickers
	negative := []string{}
	for _, key := range []string{
		"KAFKA_CONSUMERS", "SLA_CACHE_TTL_SECONDS", "TELEGRAM_RATE_LIMIT", "QUEUE_SIZE", "MAX_WORKERS",
		"ENGINE_QUEUE_SIZE", "RULES_REFRESH_SECONDS", "ESCALATION_INTERVAL_SECONDS",
	} {
		if getInt(key) < 0 {
			negative = append(negative, key)
		}
	}
	if len(negative) > 0 {
		return Config{}, fmt.Errorf("configurations must not be negative: %v", negative)
	}

	// Apply defaults
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "health_alerts"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "health-service"
	}
	if cfg.Kafka.Consumers == 0 {
		cfg.Kafka.Consumers = 1
	}
	if cfg.Redis.SLACacheTTL == 0 {
		cfg.Redis.SLACacheTTL = time.Hour
	}
	if cfg.Telegram.RateLimit == 0 {
		cfg.Telegram.RateLimit = 20
	}
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}
	if cfg.Notification.QueueSize == 0 {
		cfg.Notification.QueueSize = 500
	}
	if cfg.Notification.MaxWorkers == 0 {
		cfg.Notification.MaxWorkers = 10
	}
	if cfg.Engine.QueueSize == 0 {
		cfg.Engine.QueueSize = 1000
	}
	if cfg.Engine.RulesRefresh == 0 {
		cfg.Engine.RulesRefresh = time.Minute
	}
	if cfg.Engine.EscalationInterval == 0 {
		cfg.Engine.EscalationInterval = 30 * time.Second
	}
	if cfg.SLA.WarningThreshold == 0 {
		cfg.SLA.WarningThreshold = 0.99
	}
	if cfg.SLA.ErrorThreshold == 0 {
		cfg.SLA.ErrorThreshold = 0.95
	}
	if cfg.SLA.NoDataPolicy == "" {
		cfg.SLA.NoDataPolicy = "available"
	}
	if cfg.SLA.NoDataPolicy != "available" && cfg.SLA.NoDataPolicy != "unavailable" {
		return Config{}, fmt.Errorf("invalid SLA_NO_DATA_POLICY %q", cfg.SLA.NoDataPolicy)
	}
	for key, v := range map[string]float64{
		"SLA_WARNING_THRESHOLD": cfg.SLA.WarningThreshold,
		"SLA_ERROR_THRESHOLD":   cfg.SLA.ErrorThreshold,
	} {
		if v < 0 || v > 1 {
			return Config{}, fmt.Errorf("%s %.4f is outside [0, 1]", key, v)
		}
	}
	if cfg.SLA.ErrorThreshold > cfg.SLA.WarningThreshold {
		return Config{}, fmt.Errorf("SLA_ERROR_THRESHOLD %.4f is above SLA_WARNING_THRESHOLD %.4f",
			cfg.SLA.ErrorThreshold, cfg.SLA.WarningThreshold)
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return cfg, nil
}

func getInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func getFloat(key string) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
