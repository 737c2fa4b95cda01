package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_GROUP_ID", "KAFKA_CONSUMERS", "KAFKA_DISABLED",
	"DB_DSN", "CONFIG_FILE", "REDIS_URL", "SLA_CACHE_TTL_SECONDS",
	"QUEUE_SIZE", "MAX_WORKERS", "ENGINE_QUEUE_SIZE", "RULES_REFRESH_SECONDS", "ESCALATION_INTERVAL_SECONDS",
	"SLA_WARNING_THRESHOLD", "SLA_ERROR_THRESHOLD", "SLA_NO_DATA_POLICY", "API_PORT", "API_BASE_PATH",
	"LOG_DIR", "LOG_LEVEL", "TELEGRAM_RATE_LIMIT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("DB_DSN", "postgres://localhost/health")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "health_alerts", cfg.Kafka.Topic)
	assert.Equal(t, "health-service", cfg.Kafka.GroupID)
	assert.Equal(t, 1, cfg.Kafka.Consumers)
	assert.Equal(t, ":8080", cfg.API.Port)
	assert.Equal(t, "/api/v0", cfg.API.BasePath)
	assert.Equal(t, 500, cfg.Notification.QueueSize)
	assert.Equal(t, 10, cfg.Notification.MaxWorkers)
	assert.Equal(t, time.Minute, cfg.Engine.RulesRefresh)
	assert.Equal(t, 30*time.Second, cfg.Engine.EscalationInterval)
	assert.InDelta(t, 0.99, cfg.SLA.WarningThreshold, 1e-9)
	assert.InDelta(t, 0.95, cfg.SLA.ErrorThreshold, 1e-9)
	assert.Equal(t, "available", cfg.SLA.NoDataPolicy)
	assert.Equal(t, time.Hour, cfg.Redis.SLACacheTTL)
}

func TestLoadMissingRequired(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
	assert.Contains(t, err.Error(), "DB_DSN or CONFIG_FILE")
}

func TestLoadKafkaDisabledWithConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_DISABLED", "true")
	t.Setenv("CONFIG_FILE", "environments.yaml")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Kafka.Disabled)
	assert.Equal(t, "environments.yaml", cfg.ConfigFile)
}

func TestLoadRejectsInvalidSLASettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_DISABLED", "true")
	t.Setenv("DB_DSN", "postgres://localhost/health")

	t.Setenv("SLA_NO_DATA_POLICY", "maybe")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("SLA_NO_DATA_POLICY", "")
	t.Setenv("SLA_WARNING_THRESHOLD", "0.9")
	t.Setenv("SLA_ERROR_THRESHOLD", "0.95")
	_, err = Load("")
	require.Error(t, err)

	t.Setenv("SLA_ERROR_THRESHOLD", "abc")
	_, err = Load("")
	require.Error(t, err)
}

func TestLoadRejectsNegativeIntervals(t *testing.T) {
	for _, key := range []string{"RULES_REFRESH_SECONDS", "ESCALATION_INTERVAL_SECONDS", "MAX_WORKERS", "KAFKA_CONSUMERS"} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("KAFKA_DISABLED", "true")
			t.Setenv("DB_DSN", "postgres://localhost/health")
			t.Setenv(key, "-5")

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadRejectsThresholdOutOfRange(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_DISABLED", "true")
	t.Setenv("DB_DSN", "postgres://localhost/health")
	t.Setenv("SLA_WARNING_THRESHOLD", "1.5")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SLA_WARNING_THRESHOLD")

	t.Setenv("SLA_WARNING_THRESHOLD", "0.99")
	t.Setenv("SLA_ERROR_THRESHOLD", "0.999")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is above SLA_WARNING_THRESHOLD")
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set, even to "".
	for _, k := range []string{"KAFKA_DISABLED", "CONFIG_FILE", "MAX_WORKERS"} {
		require.NoError(t, os.Unsetenv(k))
	}
	t.Cleanup(func() {
		for _, k := range []string{"KAFKA_DISABLED", "CONFIG_FILE", "MAX_WORKERS"} {
			_ = os.Unsetenv(k)
		}
	})

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("KAFKA_DISABLED=true\nCONFIG_FILE=env.yaml\nMAX_WORKERS=3\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env.yaml", cfg.ConfigFile)
	assert.Equal(t, 3, cfg.Notification.MaxWorkers)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_DISABLED", "true")
	t.Setenv("DB_DSN", "postgres://localhost/health")

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}
