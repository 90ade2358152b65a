package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultServerMode, cfg.Server.Mode)
	assert.Equal(t, []string{DefaultKafkaBroker}, cfg.Kafka.Brokers)
	assert.Equal(t, DefaultNotificationSink, cfg.Notification.Sink)
	assert.Equal(t, 90, cfg.Trend.LookbackDays)
	assert.Equal(t, 30, cfg.Trend.Scanner.LookbackDays)
	assert.Equal(t, 8, cfg.Trend.Scanner.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Alerting.SummaryTTL)
	assert.Equal(t, "@every 6h", cfg.Worker.ScanSchedule)
}

func TestApplyDefaults_PreserveExistingValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 9999
	cfg.Trend.Scanner.Concurrency = 2
	cfg.Notification.Sink = "nats"
	ApplyDefaults(cfg)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Trend.Scanner.Concurrency)
	assert.Equal(t, "nats", cfg.Notification.Sink)
}

func TestApplyDefaults_RateLimit(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Zero(t, cfg.Server.RateLimit.Burst)
	assert.Equal(t, 10*time.Minute, cfg.Server.RateLimit.IdleTTL)

	cfg = &Config{}
	cfg.Server.RateLimit.RequestsPerSecond = 5
	ApplyDefaults(cfg)
	assert.Equal(t, 10, cfg.Server.RateLimit.Burst)

	cfg = &Config{}
	cfg.Server.RateLimit.RequestsPerSecond = 0.2
	ApplyDefaults(cfg)
	assert.Equal(t, 1, cfg.Server.RateLimit.Burst)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}
