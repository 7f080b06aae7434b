package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath      = "configs/config.yaml"
	PathEnv          = "SCHEDULE_CONFIG_PATH"
	TransportRedis   = "redis"
	TransportKafka   = "kafka"
	TransportNone    = "none"
	defaultDBPath    = "data/bronivik_schedule.db"
	defaultSchedule  = "configs/schedule.yaml"
	defaultHTTPPort  = 8080
	defaultHealth    = 8081
	defaultPromPort  = 9090
	defaultWindowMon = 2
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address       string `yaml:"address"`
		Password      string `yaml:"password"`
		DB            int    `yaml:"db"`
		ChannelPrefix string `yaml:"channel_prefix"`
	} `yaml:"redis"`

	Events struct {
		Transport string `yaml:"transport"`
		Kafka     struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
			GroupID string   `yaml:"group_id"`
		} `yaml:"kafka"`
	} `yaml:"events"`

	HTTP struct {
		Port int `yaml:"port"`
	} `yaml:"http"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Engine struct {
		StepMinutes         int   `yaml:"step_minutes"`
		DebounceMS          int   `yaml:"debounce_ms"`
		PollIntervalSeconds int   `yaml:"poll_interval_seconds"`
		WindowMonths        int   `yaml:"window_months"`
		WatchDurations      []int `yaml:"watch_durations"`
		CacheTTLSeconds     int   `yaml:"cache_ttl_seconds"`
	} `yaml:"engine"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	SchedulePath string `yaml:"schedule_path"`
}

// PathFromEnv returns the config path from SCHEDULE_CONFIG_PATH or the default.
func PathFromEnv() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML config at path. A .env file in the working directory,
// when present, is loaded first so ${VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = defaultDBPath
	}
	if c.Events.Transport == "" {
		c.Events.Transport = TransportRedis
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = defaultHTTPPort
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = defaultHealth
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = defaultPromPort
	}
	if c.Engine.WindowMonths <= 0 {
		c.Engine.WindowMonths = defaultWindowMon
	}
	if len(c.Engine.WatchDurations) == 0 {
		c.Engine.WatchDurations = []int{30, 60}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.SchedulePath == "" {
		c.SchedulePath = defaultSchedule
	}
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Events.Transport {
	case TransportRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("events.transport redis requires redis.address")
		}
	case TransportKafka:
		if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
			return fmt.Errorf("events.transport kafka requires events.kafka.brokers and events.kafka.topic")
		}
	case TransportNone:
	default:
		return fmt.Errorf("events.transport: unknown value %q", c.Events.Transport)
	}

	for i, d := range c.Engine.WatchDurations {
		if d <= 0 {
			return fmt.Errorf("engine.watch_durations[%d]: must be positive, got %d", i, d)
		}
	}
	if c.Engine.StepMinutes < 0 {
		return fmt.Errorf("engine.step_minutes cannot be negative")
	}
	return nil
}

func (c *Config) Debounce() time.Duration {
	if c.Engine.DebounceMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.Engine.DebounceMS) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	if c.Engine.PollIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Engine.PollIntervalSeconds) * time.Second
}

// CacheTTL is zero when caching is disabled.
func (c *Config) CacheTTL() time.Duration {
	if c.Engine.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Engine.CacheTTLSeconds) * time.Second
}
