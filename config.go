package xdispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the read-once client configuration.
type Config struct {
	Codec    string         `yaml:"codec" toml:"codec"`
	Dedup    DedupConfig    `yaml:"dedup" toml:"dedup"`
	Consumer ConsumerConfig `yaml:"consumer" toml:"consumer"`
	Broker   BrokerConfig   `yaml:"broker" toml:"broker"`
}

// DedupConfig controls publish-side duplicate suppression.
type DedupConfig struct {
	Enabled         bool          `yaml:"enabled" toml:"enabled"`
	Window          time.Duration `yaml:"-" toml:"-"`
	Capacity        int           `yaml:"capacity" toml:"capacity"`
	CleanupInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	WindowRaw          string `yaml:"window" toml:"window"`
	CleanupIntervalRaw string `yaml:"cleanup_interval" toml:"cleanup_interval"`
}

// BrokerConfig names a registered broker factory and its options.
type BrokerConfig struct {
	Name    string         `yaml:"name" toml:"name"`
	Options map[string]any `yaml:"options" toml:"options"`
}

// DefaultConfig returns JSON encoding with deduplication on for five
// minutes and up to 10000 keys.
func DefaultConfig() Config {
	return Config{
		Codec: CodecJSON,
		Dedup: DedupConfig{
			Enabled:         true,
			Window:          DefaultDedupWindow,
			Capacity:        DefaultDedupCapacity,
			CleanupInterval: defaultCleanupInterval,
		},
		Consumer: DefaultConsumerConfig(),
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file over
// DefaultConfig. Environment variables in the form ${VAR_NAME} are expanded.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	if err := parseDurations(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the environment value ("" if unset).
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Dedup.WindowRaw != "" {
		cfg.Dedup.Window, err = time.ParseDuration(cfg.Dedup.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing dedup.window %q: %w", cfg.Dedup.WindowRaw, err)
		}
	}
	if cfg.Dedup.CleanupIntervalRaw != "" {
		cfg.Dedup.CleanupInterval, err = time.ParseDuration(cfg.Dedup.CleanupIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing dedup.cleanup_interval %q: %w", cfg.Dedup.CleanupIntervalRaw, err)
		}
	}
	if cfg.Consumer.PollTimeoutRaw != "" {
		cfg.Consumer.PollTimeout, err = time.ParseDuration(cfg.Consumer.PollTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing consumer.poll_timeout %q: %w", cfg.Consumer.PollTimeoutRaw, err)
		}
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Codec == "" {
		return fmt.Errorf("codec is required")
	}
	if c.Dedup.Enabled {
		if c.Dedup.Window <= 0 {
			return fmt.Errorf("dedup.window must be positive, got %s", c.Dedup.Window)
		}
		if c.Dedup.Capacity < 1 {
			return fmt.Errorf("dedup.capacity must be positive, got %d", c.Dedup.Capacity)
		}
	}
	return c.Consumer.Validate()
}
