// Configuration loading - YAML file with ${ENV_VAR} expansion.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trailguard/agent-gateway/internal/alerts"
	"github.com/trailguard/agent-gateway/internal/loopdetect"
	"github.com/trailguard/agent-gateway/internal/monitoring"
)

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// IngestConfig covers the outbound telemetry collaborator.
type IngestConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxBufferSize int           `yaml:"max_buffer_size"`
}

// RateLimitConfig is a fixed window per provider.
type RateLimitConfig struct {
	MaxRequests   int `yaml:"max_requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

// ProviderConfig is the per-provider static configuration.
type ProviderConfig struct {
	APIKey    string           `yaml:"api_key"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
}

// SecurityConfig covers the filter's ambient settings (policies themselves
// live in the store).
type SecurityConfig struct {
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	StorePath string        `yaml:"store_path"`
}

// LoopConfig covers loop detection defaults and the sweep timer.
type LoopConfig struct {
	Defaults      loopdetect.Config `yaml:"defaults"`
	SweepInterval time.Duration     `yaml:"sweep_interval"`
	IdleTTL       time.Duration     `yaml:"idle_ttl"`
}

// AlertsConfig covers the notifier and its breaker.
type AlertsConfig struct {
	Breaker alerts.BreakerConfig `yaml:"breaker"`
	Rules   []alerts.Rule        `yaml:"rules"`
}

// BedrockConfig enables SigV4-signed Bedrock forwarding.
type BedrockConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
}

// Config is the full gateway configuration.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	AgentID    string                    `yaml:"agent_id"`
	Ingest     IngestConfig              `yaml:"ingest"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Security   SecurityConfig            `yaml:"security"`
	Loop       LoopConfig                `yaml:"loop_detection"`
	Alerts     AlertsConfig              `yaml:"alerts"`
	Bedrock    BedrockConfig             `yaml:"bedrock"`
	Monitoring monitoring.TrackerConfig  `yaml:"monitoring"`
	LogLevel   string                    `yaml:"log_level"`
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         DefaultPort,
			ReadTimeout:  DefaultServerReadTimeout,
			WriteTimeout: DefaultServerWriteTimeout,
		},
		AgentID: "default",
		Ingest: IngestConfig{
			FlushInterval: DefaultFlushInterval,
			MaxBufferSize: DefaultMaxBufferSize,
		},
		Providers: make(map[string]ProviderConfig),
		Security: SecurityConfig{
			CacheTTL:  DefaultSecurityCacheTTL,
			StorePath: DefaultStorePath,
		},
		Loop: LoopConfig{
			Defaults: loopdetect.Config{
				WindowSize: loopdetect.DefaultWindowSize,
				Threshold:  loopdetect.DefaultThreshold,
			},
			SweepInterval: DefaultSweepInterval,
			IdleTTL:       DefaultLoopIdleTTL,
		},
		Alerts: AlertsConfig{
			Breaker: alerts.DefaultBreakerConfig(),
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path (optional) over the defaults, expanding
// ${ENV_VAR} references, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		expanded := os.Expand(string(raw), func(key string) string {
			return os.Getenv(key)
		})
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// applyEnv lets the common settings come straight from the environment,
// which is how agents usually run the gateway.
func (c *Config) applyEnv() {
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("GATEWAY_AGENT_ID"); v != "" {
		c.AgentID = v
	}
	if v := os.Getenv("GATEWAY_INGEST_ENDPOINT"); v != "" {
		c.Ingest.Endpoint = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	envKeys := map[string]string{
		"openai":     "OPENAI_API_KEY",
		"anthropic":  "ANTHROPIC_API_KEY",
		"google":     "GEMINI_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
	}
	for provider, envKey := range envKeys {
		v := os.Getenv(envKey)
		if v == "" {
			continue
		}
		pc := c.Providers[provider]
		if pc.APIKey == "" {
			pc.APIKey = v
			c.Providers[provider] = pc
		}
	}
}

// normalize backfills zero values that YAML may have cleared.
func (c *Config) normalize() {
	if c.Server.Port <= 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if c.Ingest.FlushInterval <= 0 {
		c.Ingest.FlushInterval = DefaultFlushInterval
	}
	if c.Ingest.MaxBufferSize <= 0 {
		c.Ingest.MaxBufferSize = DefaultMaxBufferSize
	}
	if c.Security.CacheTTL <= 0 {
		c.Security.CacheTTL = DefaultSecurityCacheTTL
	}
	if c.Loop.SweepInterval <= 0 {
		c.Loop.SweepInterval = DefaultSweepInterval
	}
	if c.Loop.IdleTTL <= 0 {
		c.Loop.IdleTTL = DefaultLoopIdleTTL
	}
	if c.AgentID == "" {
		c.AgentID = "default"
	}
	for name, pc := range c.Providers {
		if pc.RateLimit != nil && pc.RateLimit.WindowSeconds <= 0 {
			pc.RateLimit.WindowSeconds = DefaultRateWindowSeconds
			c.Providers[name] = pc
		}
	}
}
