package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlackOSSoftware/mspk-console/pkg/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "session_id", cfg.Console.SessionKey)
	assert.Equal(t, 30*time.Second, cfg.Console.PollInterval)
	assert.Equal(t, 4, cfg.Processor.NumWorkers)
	assert.NotEmpty(t, cfg.Kafka.Brokers)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CONSOLE_GATEWAY_URL", "ws://gateway.internal/ws")
	t.Setenv("CONSOLE_WATCHLIST", "nifty, EURUSD")
	t.Setenv("CONSOLE_POLL_INTERVAL", "5s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "ws://gateway.internal/ws", cfg.Console.GatewayURL)
	assert.Equal(t, []string{"NIFTY", "EURUSD"}, cfg.Console.Watchlist)
	assert.Equal(t, 5*time.Second, cfg.Console.PollInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := config.Config{
		Kafka:     config.KafkaConfig{Brokers: []string{"k:9092"}},
		Processor: config.ProcessorConfig{NumWorkers: 1},
		Console:   config.ConsoleConfig{PollInterval: time.Second, SessionKey: "session_id"},
	}
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Processor.NumWorkers = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Console.PollInterval = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Kafka.Brokers = nil
	assert.Error(t, bad.Validate())
}

func TestNewLogger(t *testing.T) {
	logger, err := config.NewLogger(config.LoggerConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = config.NewLogger(config.LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
