// Package config loads the YAML application configuration, applies
// CONDUCTOR_* environment overrides, and decrypts "enc:"-prefixed secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine mode constants.
const (
	ModeComposite  = "composite"
	ModeSequential = "sequential"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Engine     EngineConfig     `yaml:"engine"`
	Store      StoreConfig      `yaml:"store"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ServerConfig holds the HTTP gateway settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"` // 0 disables
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProviderConfig describes one OpenAI-compatible endpoint.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// PoolConfig configures HTTP connection pooling for a provider.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// LLMConfig holds the default provider, an optional alternate provider, and
// TLS behavior for outbound model traffic.
type LLMConfig struct {
	Provider ProviderConfig `yaml:"provider"`

	// Alternate is an optional second OpenAI-compatible endpoint. When set,
	// its three fields (base_url, api_key, model) must all be present and
	// runs are routed to it instead of the default provider.
	Alternate *ProviderConfig `yaml:"alternate,omitempty"`

	// InsecureSkipVerify disables TLS certificate verification on provider
	// HTTP clients. Intended for self-signed internal endpoints only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the provider circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// EngineConfig controls how orchestrator runs execute.
type EngineConfig struct {
	// Mode is "composite" (member agents exposed as tools of a coordinator)
	// or "sequential" (ordered handoff chain).
	Mode          string `yaml:"mode"`
	MaxIterations int    `yaml:"max_iterations"`
	// MultiValueFields lists prompt-field names whose comma-separated string
	// values are split into lists before substitution.
	MultiValueFields []string `yaml:"multi_value_fields"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stdout", "stderr", or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// ClickHouseConfig holds connection settings for the ClickHouse HTTP
// interface used by the database tools. Empty host disables the tools.
type ClickHouseConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			Provider: ProviderConfig{
				Name:  "openai",
				Model: "gpt-4o-mini",
			},
		},
		Engine: EngineConfig{
			Mode:             ModeComposite,
			MaxIterations:    10,
			MultiValueFields: []string{"tables"},
		},
		Store: StoreConfig{
			DataDir: "./data",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		ClickHouse: ClickHouseConfig{
			Port:    8123,
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// secrets. A missing file is not an error; env overrides alone then apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("CONDUCTOR_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps CONDUCTOR_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONDUCTOR_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CONDUCTOR_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := os.Getenv("CONDUCTOR_API_KEY"); v != "" {
		cfg.LLM.Provider.APIKey = v
	}
	if v := os.Getenv("CONDUCTOR_BASE_URL"); v != "" {
		cfg.LLM.Provider.BaseURL = v
	}
	if v := os.Getenv("CONDUCTOR_MODEL"); v != "" {
		cfg.LLM.Provider.Model = v
	}

	// Alternate provider triple: all three must come from somewhere; env vars
	// fill in or create the alternate block.
	altBase := os.Getenv("CONDUCTOR_ALT_BASE_URL")
	altKey := os.Getenv("CONDUCTOR_ALT_API_KEY")
	altModel := os.Getenv("CONDUCTOR_ALT_MODEL")
	if altBase != "" || altKey != "" || altModel != "" {
		if cfg.LLM.Alternate == nil {
			cfg.LLM.Alternate = &ProviderConfig{Name: "alternate"}
		}
		if altBase != "" {
			cfg.LLM.Alternate.BaseURL = altBase
		}
		if altKey != "" {
			cfg.LLM.Alternate.APIKey = altKey
		}
		if altModel != "" {
			cfg.LLM.Alternate.Model = altModel
		}
	}

	if v := os.Getenv("CONDUCTOR_ENGINE_MODE"); v != "" {
		cfg.Engine.Mode = v
	}
	if v := os.Getenv("CONDUCTOR_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CONDUCTOR_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CONDUCTOR_TRACER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracer.Enabled = b
			if b && cfg.Tracer.Exporter == "noop" {
				cfg.Tracer.Exporter = "stdout"
			}
		}
	}

	if v := os.Getenv("CONDUCTOR_CLICKHOUSE_HOST"); v != "" {
		cfg.ClickHouse.Host = v
	}
	if v := os.Getenv("CONDUCTOR_CLICKHOUSE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.ClickHouse.Port = p
		}
	}
	if v := os.Getenv("CONDUCTOR_CLICKHOUSE_USER"); v != "" {
		cfg.ClickHouse.User = v
	}
	if v := os.Getenv("CONDUCTOR_CLICKHOUSE_PASSWORD"); v != "" {
		cfg.ClickHouse.Password = v
	}
	if v := os.Getenv("CONDUCTOR_CLICKHOUSE_DATABASE"); v != "" {
		cfg.ClickHouse.Database = v
	}
}

// Validate checks cross-field constraints that yaml parsing cannot express.
func Validate(cfg *Config) error {
	if cfg.LLM.Provider.APIKey == "" {
		return fmt.Errorf("llm.provider.api_key is required (set CONDUCTOR_API_KEY)")
	}

	switch cfg.Engine.Mode {
	case ModeComposite, ModeSequential:
	default:
		return fmt.Errorf("engine.mode must be %q or %q, got %q", ModeComposite, ModeSequential, cfg.Engine.Mode)
	}

	if alt := cfg.LLM.Alternate; alt != nil {
		if alt.BaseURL == "" || alt.APIKey == "" || alt.Model == "" {
			return fmt.Errorf("llm.alternate requires base_url, api_key, and model together")
		}
	}

	if cfg.Engine.MaxIterations <= 0 {
		return fmt.Errorf("engine.max_iterations must be positive")
	}

	return nil
}

// decryptSecrets finds "enc:..." values in secret fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []*string{
		&cfg.LLM.Provider.APIKey,
		&cfg.ClickHouse.Password,
	}
	if cfg.LLM.Alternate != nil {
		secrets = append(secrets, &cfg.LLM.Alternate.APIKey)
	}
	for _, fp := range secrets {
		if strings.HasPrefix(*fp, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
			if err != nil {
				return err
			}
			*fp = decrypted
		}
	}
	return nil
}
