// Package config loads the store's runtime configuration from a YAML
// file using viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of knobs the store reads at startup. Sections
// mirror the components they configure: Storage for on-disk layout,
// BufferPool for cache sizing, Lock for deadlock-resolution timing, and
// WAL for log placement.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	Storage struct {
		PageSize int `mapstructure:"page_size"`
	} `mapstructure:"storage"`

	BufferPool struct {
		CapacityPages int `mapstructure:"capacity_pages"`
	} `mapstructure:"buffer_pool"`

	Lock struct {
		AcquireTimeoutMillis int `mapstructure:"acquire_timeout_millis"`
	} `mapstructure:"lock"`

	WAL struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"wal"`
}

// AcquireTimeout converts the configured millisecond value to a
// time.Duration, defaulting to 1500ms when unset.
func (c Config) AcquireTimeout() time.Duration {
	if c.Lock.AcquireTimeoutMillis <= 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(c.Lock.AcquireTimeoutMillis) * time.Millisecond
}

// Load reads and unmarshals a YAML configuration file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("storage.page_size", 4096)
	v.SetDefault("buffer_pool.capacity_pages", 128)
	v.SetDefault("lock.acquire_timeout_millis", 1500)
	v.SetDefault("wal.dir", "wal")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &cfg, nil
}
