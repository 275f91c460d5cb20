// Package config loads postlink settings from postlink.toml, POSTLINK_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins over the file).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// FileName is the config file base name searched for on disk.
const FileName = "postlink"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POSTLINK"

// Config is the resolved configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" toml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" toml:"storage"`
	Broadcast BroadcastConfig `mapstructure:"broadcast" toml:"broadcast"`
	Cascade   CascadeConfig   `mapstructure:"cascade" toml:"cascade"`
	Client    ClientConfig    `mapstructure:"client" toml:"client"`
	Options   OptionsConfig   `mapstructure:"options" toml:"options"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" toml:"host"`
	Port int    `mapstructure:"port" toml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StorageConfig struct {
	Driver    string `mapstructure:"driver" toml:"driver"`
	Path      string `mapstructure:"path" toml:"path"`
	URL       string `mapstructure:"url" toml:"url"`
	AuthToken string `mapstructure:"auth_token" toml:"auth_token"`
}

type BroadcastConfig struct {
	Topic        string `mapstructure:"topic" toml:"topic"`
	Buffer       int    `mapstructure:"buffer" toml:"buffer"`
	DedupeWindow int    `mapstructure:"dedupe_window" toml:"dedupe_window"`
}

type CascadeConfig struct {
	Concurrency int `mapstructure:"concurrency" toml:"concurrency"`
}

type ClientConfig struct {
	PersistTimeout   time.Duration `mapstructure:"persist_timeout" toml:"persist_timeout"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff" toml:"reconnect_backoff"`
}

type OptionsConfig struct {
	File string `mapstructure:"file" toml:"file"`
}

// LogConfig controls the optional rotated log file.
type LogConfig struct {
	File       string `mapstructure:"file" toml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" toml:"compress"`
}

var defaults = map[string]any{
	"server.host":              "127.0.0.1",
	"server.port":              8080,
	"storage.driver":           "sqlite",
	"storage.path":             filepath.Join(".postlink", "postlink.db"),
	"storage.url":              "",
	"storage.auth_token":       "",
	"broadcast.topic":          "schedule-room",
	"broadcast.buffer":         256,
	"broadcast.dedupe_window":  1024,
	"cascade.concurrency":      8,
	"client.persist_timeout":   "10s",
	"client.reconnect_backoff": "1s",
	"options.file":             "",
	"log.file":                 "",
	"log.max_size_mb":          10,
	"log.max_backups":          3,
	"log.max_age_days":         28,
	"log.compress":             false,
}

// New returns a viper instance with defaults, search paths and environment
// binding applied. Callers may bind flags before calling Load.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigName(FileName)
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "postlink"))
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (an explicit path when file is non-empty,
// otherwise the search paths) and decodes the result. A missing file in the
// search paths is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "libsql":
		if c.Storage.URL == "" {
			return fmt.Errorf("storage.url is required for the libsql driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q (want sqlite or libsql)", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Broadcast.Topic == "" {
		return fmt.Errorf("broadcast.topic must not be empty")
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := decode(defaultsOnly())
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

func defaultsOnly() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// fileConfig mirrors Config with durations as strings, since BurntSushi/toml
// encodes time.Duration as integer nanoseconds.
type fileConfig struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Broadcast BroadcastConfig `toml:"broadcast"`
	Cascade   CascadeConfig   `toml:"cascade"`
	Client    struct {
		PersistTimeout   string `toml:"persist_timeout"`
		ReconnectBackoff string `toml:"reconnect_backoff"`
	} `toml:"client"`
	Options OptionsConfig `toml:"options"`
	Log     LogConfig     `toml:"log"`
}

// Write encodes cfg as TOML to path, creating parent directories. It refuses
// to overwrite an existing file.
func Write(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	out := fileConfig{
		Server:    cfg.Server,
		Storage:   cfg.Storage,
		Broadcast: cfg.Broadcast,
		Cascade:   cfg.Cascade,
		Options:   cfg.Options,
		Log:       cfg.Log,
	}
	out.Client.PersistTimeout = cfg.Client.PersistTimeout.String()
	out.Client.ReconnectBackoff = cfg.Client.ReconnectBackoff.String()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// WriteDefault writes the built-in defaults to path.
func WriteDefault(path string) error {
	return Write(path, Default())
}
