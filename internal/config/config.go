package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/viper"
)

const EnvPrefix = "HEAPSCAN"

const (
	ModeLocal  = "local"
	ModeMemory = "memory"
)

var ErrInvalid = errors.New("config: invalid value")

type StorageConfig struct {
	Mode    string `mapstructure:"mode"`
	Workdir string `mapstructure:"workdir"`
}

type BufferPoolConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type LockConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DebugConfig struct {
	LatchDeadlockDetection bool `mapstructure:"latch_deadlock_detection"`
}

type Config struct {
	AppName    string           `mapstructure:"app_name"`
	Storage    StorageConfig    `mapstructure:"storage"`
	BufferPool BufferPoolConfig `mapstructure:"bufferpool"`
	Lock       LockConfig       `mapstructure:"lock"`
	Log        LogConfig        `mapstructure:"log"`
	Debug      DebugConfig      `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("app_name", d.AppName)
	v.SetDefault("storage.mode", d.Storage.Mode)
	v.SetDefault("storage.workdir", d.Storage.Workdir)
	v.SetDefault("bufferpool.capacity", d.BufferPool.Capacity)
	v.SetDefault("lock.timeout", d.Lock.Timeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("debug.latch_deadlock_detection", d.Debug.LatchDeadlockDetection)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration. The environment is not
// consulted; HEAPSCAN_* overrides are applied by Load, which can report
// malformed values.
func Default() *Config {
	return &Config{
		AppName:    "heapscan",
		Storage:    StorageConfig{Mode: ModeLocal, Workdir: "./data"},
		BufferPool: BufferPoolConfig{Capacity: 128},
		Lock:       LockConfig{Timeout: 2 * time.Second},
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file on top of the defaults. An empty path means
// defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case ModeLocal:
		if c.Storage.Workdir == "" {
			return fmt.Errorf("%w: storage.workdir is empty", ErrInvalid)
		}
	case ModeMemory:
	default:
		return fmt.Errorf("%w: storage.mode %q", ErrInvalid, c.Storage.Mode)
	}
	if c.BufferPool.Capacity <= 0 {
		return fmt.Errorf("%w: bufferpool.capacity %d", ErrInvalid, c.BufferPool.Capacity)
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("%w: lock.timeout %s", ErrInvalid, c.Lock.Timeout)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// ApplyDebug switches go-deadlock's latch checking on or off process-wide.
func ApplyDebug(d DebugConfig) {
	deadlock.Opts.Disable = !d.LatchDeadlockDetection
}
