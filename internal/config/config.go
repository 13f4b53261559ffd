// Package config loads instance settings from defaults, an optional config
// file and SECURECRDT_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"securecrdt/internal/message"
	"securecrdt/internal/store"
)

const EnvPrefix = "SECURECRDT"

type Config struct {
	InstanceID   string        `mapstructure:"instance_id"`
	SharedSecret string        `mapstructure:"shared_secret"`
	DataDir      string        `mapstructure:"data_dir"`
	Storage      StorageConfig `mapstructure:"storage"`
	KDF          KDFConfig     `mapstructure:"kdf"`
	Message      MessageConfig `mapstructure:"message"`
	Sync         SyncConfig    `mapstructure:"sync"`
	MQTT         MQTTConfig    `mapstructure:"mqtt"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
	Cache        CacheConfig   `mapstructure:"cache"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

type KDFConfig struct {
	Iterations int `mapstructure:"iterations"`
}

type MessageConfig struct {
	MaxAge time.Duration `mapstructure:"max_age"`
}

type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Listen      string        `mapstructure:"listen"`
	Insecure    bool          `mapstructure:"insecure"`
	CAPath      string        `mapstructure:"ca_path"`
	Concurrency int           `mapstructure:"concurrency"`
}

type MQTTConfig struct {
	Broker string `mapstructure:"broker"`
	Topic  string `mapstructure:"topic"`
}

type MetricsConfig struct {
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	Size int `mapstructure:"size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instance_id", "")
	v.SetDefault("shared_secret", "")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("storage.backend", store.KindFile)
	v.SetDefault("kdf.iterations", 100_000)
	v.SetDefault("message.max_age", message.DefaultTTL)
	v.SetDefault("sync.interval", 10*time.Second)
	v.SetDefault("sync.listen", "")
	v.SetDefault("sync.insecure", false)
	v.SetDefault("sync.ca_path", "")
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "securecrdt")
	v.SetDefault("metrics.path", "")
	v.SetDefault("cache.size", 1024)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".securecrdt"
	}
	return filepath.Join(home, ".securecrdt")
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings that every command needs. The instance id and
// secret are checked by the commands that use them.
func (c *Config) Validate() error {
	if c.InstanceID == message.Broadcast {
		return fmt.Errorf("instance_id %q is reserved", c.InstanceID)
	}
	if c.DataDir == "" {
		return errors.New("data_dir is empty")
	}
	if !store.ValidKind(c.Storage.Backend) {
		return fmt.Errorf("%w: %q", store.ErrUnknownBackend, c.Storage.Backend)
	}
	if c.KDF.Iterations < 1 {
		return errors.New("kdf.iterations must be at least 1")
	}
	if c.Message.MaxAge <= 0 {
		return errors.New("message.max_age must be positive")
	}
	if c.Sync.Interval <= 0 {
		return errors.New("sync.interval must be positive")
	}
	if c.Sync.Concurrency < 1 {
		return errors.New("sync.concurrency must be at least 1")
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return errors.New("mqtt.topic is empty")
	}
	return nil
}

// StorePath is the location handed to store.Open for the configured backend.
func (c *Config) StorePath() string {
	switch c.Storage.Backend {
	case store.KindSQLite:
		return filepath.Join(c.DataDir, "securecrdt.db")
	case store.KindPebble:
		return filepath.Join(c.DataDir, "pebble")
	case store.KindLevelDB:
		return filepath.Join(c.DataDir, "leveldb")
	default:
		return c.DataDir
	}
}
