package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the settings that drive the decision brain. Every field maps
// to one row of the environment table: env vars always win over whatever a
// config file sets, matching the override semantics the pump-bot's Manager
// already used for API keys.
type Config struct {
	PrimaryRPCURL           string `mapstructure:"primary_rpc_url"`
	FallbackRPCURL          string `mapstructure:"fallback_rpc_url"`
	StoreURL                string `mapstructure:"store_url"`
	BundleRelayURL          string `mapstructure:"bundle_relay_url"`
	LoopIntervalMs          int    `mapstructure:"loop_interval_ms"`
	MaxConcurrentPositions  int    `mapstructure:"max_concurrent_positions"`
	DefaultTimeoutSeconds   int    `mapstructure:"default_timeout_seconds"`
	EmergencyStopEnabled    bool   `mapstructure:"emergency_stop_enabled"`
	SigningKey              string `mapstructure:"signing_key"`
}

// LoopInterval returns the tick period as a Duration.
func (c *Config) LoopInterval() time.Duration {
	return time.Duration(c.LoopIntervalMs) * time.Millisecond
}

// DefaultTimeout returns the default position timeout as a Duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// Validate checks the fields a running brain cannot do without. Callers
// should map a non-nil error here to exit code 1 (config invalid).
func (c *Config) Validate() error {
	if c.PrimaryRPCURL == "" {
		return fmt.Errorf("PRIMARY_RPC_URL is required")
	}
	if c.BundleRelayURL == "" {
		return fmt.Errorf("BUNDLE_RELAY_URL is required")
	}
	if c.SigningKey == "" {
		return fmt.Errorf("SIGNING_KEY is required")
	}
	if c.LoopIntervalMs <= 0 {
		return fmt.Errorf("loop_interval_ms must be positive")
	}
	if c.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("max_concurrent_positions must be positive")
	}
	return nil
}

// Manager owns config loading, env overlay and hot-reload of the YAML file.
// SIGNING_KEY and the other env-only fields are re-read from the
// environment on every reload so a rotated secret never sticks.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

// NewManager loads configPath if it exists (a missing file is not an error,
// defaults + env vars are enough to run standalone), applies env overrides,
// and watches the file for changes.
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("store_url", "redis://127.0.0.1:6379")
	v.SetDefault("loop_interval_ms", 200)
	v.SetDefault("max_concurrent_positions", 50)
	v.SetDefault("default_timeout_seconds", 600)
	v.SetDefault("emergency_stop_enabled", true)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	m := &Manager{viper: v}
	cfg, err := m.buildConfig()
	if err != nil {
		return nil, err
	}
	m.config = cfg

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

func (m *Manager) buildConfig() (*Config, error) {
	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overlays the §6 environment table onto cfg. Env wins
// unconditionally, even over an explicit file value.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRIMARY_RPC_URL"); v != "" {
		cfg.PrimaryRPCURL = v
	}
	if v := os.Getenv("FALLBACK_RPC_URL"); v != "" {
		cfg.FallbackRPCURL = v
	}
	if v := os.Getenv("STORE_URL"); v != "" {
		cfg.StoreURL = v
	}
	if v := os.Getenv("BUNDLE_RELAY_URL"); v != "" {
		cfg.BundleRelayURL = v
	}
	if v := os.Getenv("LOOP_INTERVAL_MS"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			cfg.LoopIntervalMs = n
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_POSITIONS"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			cfg.MaxConcurrentPositions = n
		}
	}
	if v := os.Getenv("DEFAULT_TIMEOUT_SECONDS"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			cfg.DefaultTimeoutSeconds = n
		}
	}
	if v := os.Getenv("EMERGENCY_STOP_ENABLED"); v != "" {
		cfg.EmergencyStopEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SIGNING_KEY"); v != "" {
		cfg.SigningKey = v
	}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("non-positive value %q", s)
	}
	return n, nil
}

// Get returns the current config (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetOnChange registers a callback invoked after every successful reload.
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Manager) reload() {
	cfg, err := m.buildConfig()
	if err != nil {
		log.Error().Err(err).Msg("failed to rebuild config on reload")
		return
	}

	m.mu.Lock()
	m.config = cfg
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(cfg)
	}
}
