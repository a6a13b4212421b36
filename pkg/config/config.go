package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Address             string        `yaml:"address"`
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		MessagesPerSecond   float64       `yaml:"messages_per_second"`
		MessageBurst        int           `yaml:"message_burst"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
	} `yaml:"signal"`

	Media struct {
		Workers     int    `yaml:"workers"`
		ListenIP    string `yaml:"listen_ip"`
		AnnouncedIP string `yaml:"announced_ip"`
		PortRange   struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"media"`

	Recorder struct {
		Enabled        bool          `yaml:"enabled"`
		BaseURL        string        `yaml:"base_url"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		MaxRetries     int           `yaml:"max_retries"`
	} `yaml:"recorder"`

	Presence struct {
		Enabled  bool          `yaml:"enabled"`
		Address  string        `yaml:"address"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		KeyTTL   time.Duration `yaml:"key_ttl"`
	} `yaml:"presence"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		TracingEnabled    bool   `yaml:"tracing_enabled"`
		JaegerEndpoint    string `yaml:"jaeger_endpoint"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > ping_interval")
	}
	if c.Signal.MessagesPerSecond <= 0 {
		return fmt.Errorf("signal.messages_per_second must be > 0")
	}

	if c.Media.Workers <= 0 {
		return fmt.Errorf("media.workers must be > 0")
	}
	if c.Media.PortRange.Min > 0 || c.Media.PortRange.Max > 0 {
		if c.Media.PortRange.Min == 0 || c.Media.PortRange.Max == 0 {
			return fmt.Errorf("media.port_range.min and max must both be set when one is set")
		}
		if c.Media.PortRange.Min >= c.Media.PortRange.Max {
			return fmt.Errorf("media.port_range.min must be < max")
		}
	}

	if c.Recorder.Enabled {
		if c.Recorder.BaseURL == "" {
			return fmt.Errorf("recorder.base_url must not be empty when recorder.enabled=true")
		}
		if c.Recorder.RequestTimeout <= 0 {
			return fmt.Errorf("recorder.request_timeout must be > 0")
		}
	}

	if c.Presence.Enabled && c.Presence.Address == "" {
		return fmt.Errorf("presence.address must not be empty when presence.enabled=true")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Address = ":8081"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MessagesPerSecond = 50
	cfg.Signal.MessageBurst = 100
	cfg.Signal.MaxMessageSizeBytes = 64 * 1024

	cfg.Media.Workers = 4
	cfg.Media.ListenIP = "0.0.0.0"
	cfg.Media.AnnouncedIP = "127.0.0.1"

	cfg.Recorder.Enabled = false
	cfg.Recorder.BaseURL = "http://localhost:9200"
	cfg.Recorder.RequestTimeout = 5 * time.Second
	cfg.Recorder.MaxRetries = 2

	cfg.Presence.Enabled = false
	cfg.Presence.Address = "localhost:6379"
	cfg.Presence.KeyTTL = 2 * time.Minute

	cfg.Auth.JWTSecret = "change-me-in-production"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.TracingEnabled = false
	cfg.Monitoring.JaegerEndpoint = "http://localhost:14268/api/traces"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("LIVECLASS_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("LIVECLASS_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if ip := os.Getenv("LIVECLASS_ANNOUNCED_IP"); ip != "" {
		c.Media.AnnouncedIP = ip
	}
	if n := os.Getenv("LIVECLASS_MEDIA_WORKERS"); n != "" {
		if workers, err := strconv.Atoi(n); err == nil && workers > 0 {
			c.Media.Workers = workers
		}
	}
	if url := os.Getenv("LIVECLASS_RECORDER_URL"); url != "" {
		c.Recorder.BaseURL = url
		c.Recorder.Enabled = true
	}
	if level := os.Getenv("LIVECLASS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("LIVECLASS_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}
