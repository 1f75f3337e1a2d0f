// Package config loads runtime settings from the environment, an optional
// .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable of the realtime server.
type Config struct {
	Port   string `mapstructure:"port"`
	DBPath string `mapstructure:"db_path"`

	MongoURI string `mapstructure:"mongo_uri"`
	MongoDB  string `mapstructure:"mongo_db"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`

	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	JWTSecret string `mapstructure:"jwt_secret"`

	PresenceTimeout       time.Duration `mapstructure:"presence_timeout"`
	PresenceSweepInterval time.Duration `mapstructure:"presence_sweep_interval"`

	HistoryLimit  int `mapstructure:"history_limit"`
	HTTPRateLimit int `mapstructure:"http_rate_limit"`
}

// ClientHeartbeatInterval is how often clients send a presence heartbeat. The
// presence timeout must be longer, or users drop offline between beats.
const ClientHeartbeatInterval = 20 * time.Second

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var defaults = map[string]any{
	"port":                    "3000",
	"db_path":                 "flowpilot.db",
	"mongo_uri":               "",
	"mongo_db":                "flowpilot",
	"redis_addr":              "",
	"redis_password":          "",
	"kafka_brokers":           []string{},
	"kafka_topic":             "flowpilot.events",
	"jwt_secret":              "",
	"presence_timeout":        45 * time.Second,
	"presence_sweep_interval": 5 * time.Second,
	"history_limit":           50,
	"http_rate_limit":         120,
}

// Load reads .env (when present), then the environment and the file named by
// FLOWPILOT_CONFIG (when set). Environment variables win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return load(viper.New(), os.Getenv("FLOWPILOT_CONFIG"))
}

func load(v *viper.Viper, path string) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	c.KafkaBrokers = splitBrokers(c.KafkaBrokers)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the relations between settings.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("%w: port is empty", ErrInvalidConfig)
	}
	if c.PresenceTimeout <= ClientHeartbeatInterval {
		return fmt.Errorf("%w: presence timeout must exceed the %s client heartbeat", ErrInvalidConfig, ClientHeartbeatInterval)
	}
	if c.PresenceSweepInterval <= 0 || c.PresenceSweepInterval > c.PresenceTimeout {
		return fmt.Errorf("%w: sweep interval must be in (0, presence timeout]", ErrInvalidConfig)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("%w: history limit must be positive", ErrInvalidConfig)
	}
	if c.HTTPRateLimit < 0 {
		return fmt.Errorf("%w: http rate limit must not be negative", ErrInvalidConfig)
	}
	return nil
}

// splitBrokers accepts both a real list and a single comma separated entry.
func splitBrokers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, b := range strings.Split(entry, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}
