package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Console   ConsoleConfig   `mapstructure:"console"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"` // debug, info, warn, error
	Development bool   `mapstructure:"development"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	Partitions int      `mapstructure:"partitions"`
}

type GatewayConfig struct {
	ValidTickers []string `mapstructure:"valid_tickers"`
	MetricsPath  string   `mapstructure:"metrics_path"`
}

type ProcessorConfig struct {
	NumWorkers  int           `mapstructure:"num_workers"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

type GeneratorConfig struct {
	InstrumentsFile string        `mapstructure:"instruments_file"`
	Interval        time.Duration `mapstructure:"interval"`
}

// ConsoleConfig configures the console's realtime sync client.
type ConsoleConfig struct {
	GatewayURL   string        `mapstructure:"gateway_url"`
	APIBaseURL   string        `mapstructure:"api_base_url"`
	Token        string        `mapstructure:"token"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Watchlist    []string      `mapstructure:"watchlist"`
	SessionKey   string        `mapstructure:"session_key"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults
	setDefaults(v)

	// 3. Map dot-notation to underscores (e.g., "console.gateway_url" -> "CONSOLE_GATEWAY_URL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Explicitly Bind Env Vars so flat vars reach nested structs
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.development")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id", "kafka.partitions")
	bindEnv(v, "gateway.valid_tickers", "gateway.metrics_path")
	bindEnv(v, "processor.num_workers", "processor.snapshot_ttl")
	bindEnv(v, "generator.instruments_file", "generator.interval")
	bindEnv(v, "console.gateway_url", "console.api_base_url", "console.token",
		"console.poll_interval", "console.watchlist", "console.session_key")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	// Comma separated env values arrive as a single element
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Gateway.ValidTickers = splitList(cfg.Gateway.ValidTickers)
	cfg.Console.Watchlist = splitList(cfg.Console.Watchlist)
	for i, s := range cfg.Console.Watchlist {
		cfg.Console.Watchlist[i] = models.NormalizeChannel(s)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.development", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "console_events")
	v.SetDefault("kafka.group_id", "console-event-relay")
	v.SetDefault("kafka.partitions", 4)

	v.SetDefault("gateway.valid_tickers", []string{"NIFTY", "BANKNIFTY", "EURUSD", "BTCUSD"})
	v.SetDefault("gateway.metrics_path", "/metrics")

	v.SetDefault("processor.num_workers", 4)
	v.SetDefault("processor.snapshot_ttl", time.Hour)

	v.SetDefault("generator.instruments_file", "instruments.yaml")
	v.SetDefault("generator.interval", 100*time.Millisecond)

	v.SetDefault("console.gateway_url", "ws://localhost:8080/ws")
	v.SetDefault("console.api_base_url", "http://localhost:5000/api")
	v.SetDefault("console.token", "")
	v.SetDefault("console.poll_interval", 30*time.Second)
	v.SetDefault("console.watchlist", []string{"NIFTY", "BANKNIFTY", "EURUSD"})
	v.SetDefault("console.session_key", "session_id")
}

// Validate checks the invariants every binary relies on.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.Processor.NumWorkers <= 0 {
		return fmt.Errorf("processor.num_workers must be positive, got %d", c.Processor.NumWorkers)
	}
	if c.Console.PollInterval <= 0 {
		return fmt.Errorf("console.poll_interval must be positive, got %s", c.Console.PollInterval)
	}
	if c.Console.SessionKey == "" {
		return fmt.Errorf("console.session_key cannot be empty")
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
