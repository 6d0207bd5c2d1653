// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the process-level nebot configuration.
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Ollama   OllamaConfig   `toml:"ollama"`
	Playback PlaybackConfig `toml:"playback"`
	Bus      BusConfig      `toml:"bus"`
	Storage  StorageConfig  `toml:"storage"`
	Server   ServerConfig   `toml:"server"`
	Title    TitleConfig    `toml:"title"`
}

// GeneralConfig holds paths and logging.
type GeneralConfig struct {
	// DataDir holds sessions and settings.json (empty = ~/.nebot)
	DataDir string `toml:"data_dir"`
	// LogLevel is one of trace, debug, info, warn, error
	LogLevel string `toml:"log_level"`
}

// OllamaConfig describes the backend.
type OllamaConfig struct {
	URL   string `toml:"url"`
	Model string `toml:"model"`
	// TimeoutSecs bounds non-streaming requests. Streaming chats have no
	// timeout and end only when their context does.
	TimeoutSecs int `toml:"timeout_secs"`
}

// PlaybackConfig tunes the reveal animation.
type PlaybackConfig struct {
	Animate         bool `toml:"animate"`
	// BaseDelayMs seeds the default typingSpeed of a new settings.json.
	BaseDelayMs     int  `toml:"base_delay_ms"`
	MinDelayMs      int  `toml:"min_delay_ms"`
	ShortThreshold  int  `toml:"short_threshold"`
	RecoveryWaitMs  int  `toml:"recovery_wait_ms"`
	RecoveryRetries int  `toml:"recovery_retries"`
}

// BusConfig selects the broadcast driver.
type BusConfig struct {
	// Driver is "memory" or "redis"
	Driver    string `toml:"driver"`
	RedisAddr string `toml:"redis_addr"`
}

// StorageConfig selects the session store.
type StorageConfig struct {
	// Driver is "file" or "sqlite"
	Driver string `toml:"driver"`
}

// ServerConfig configures `nebot serve`.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// TitleConfig configures background title generation.
type TitleConfig struct {
	Enabled     bool `toml:"enabled"`
	Concurrency int  `toml:"concurrency"`
	TimeoutSecs int  `toml:"timeout_secs"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default values.
const (
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultModel          = "gpt-oss:20b"
	DefaultLogLevel       = "info"
	DefaultServerAddr     = "127.0.0.1:8484"
	DefaultRedisAddr      = "localhost:6379"
	DefaultOllamaTimeout  = 30
	DefaultTitleTimeout   = 60
	DefaultBaseDelayMs    = 25
	DefaultMinDelayMs     = 5
	DefaultShortThreshold = 50
	DefaultRecoveryWaitMs = 2000
	DefaultRecoveryTries  = 3
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: DefaultLogLevel,
		},
		Ollama: OllamaConfig{
			URL:         DefaultOllamaURL,
			Model:       DefaultModel,
			TimeoutSecs: DefaultOllamaTimeout,
		},
		Playback: PlaybackConfig{
			Animate:         true,
			BaseDelayMs:     DefaultBaseDelayMs,
			MinDelayMs:      DefaultMinDelayMs,
			ShortThreshold:  DefaultShortThreshold,
			RecoveryWaitMs:  DefaultRecoveryWaitMs,
			RecoveryRetries: DefaultRecoveryTries,
		},
		Bus: BusConfig{
			Driver:    "memory",
			RedisAddr: DefaultRedisAddr,
		},
		Storage: StorageConfig{
			Driver: "file",
		},
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
		Title: TitleConfig{
			Enabled:     true,
			Concurrency: 1,
			TimeoutSecs: DefaultTitleTimeout,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the nebot configuration directory. NEBOT_HOME overrides
// the default ~/.nebot.
func ConfigDir() (string, error) {
	if dir := os.Getenv("NEBOT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine home directory")
	}
	return filepath.Join(home, ".nebot"), nil
}

// ConfigPath returns the path to config.toml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ResolvedDataDir returns General.DataDir, or the config directory when it
// is unset.
func (c *Config) ResolvedDataDir() (string, error) {
	if c.General.DataDir != "" {
		return c.General.DataDir, nil
	}
	return ConfigDir()
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads config.toml from the config directory. A missing file yields
// the defaults. Environment overrides are applied before validation.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, errors.Wrap(err, "invalid config")
		}
		return cfg, nil
	}
	return LoadFrom(path)
}

// LoadFrom reads a TOML file over the defaults and applies environment
// overrides.
func LoadFrom(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// ReadFile decodes a TOML file over the defaults without environment
// overrides or validation.
func ReadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return cfg, nil
}

// Save writes cfg to the default config path.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes cfg as TOML with owner-only permissions.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create config directory")
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "create config file")
	}
	defer file.Close()

	fmt.Fprintln(file, "# nebot configuration file")
	fmt.Fprintln(file, "# Per-user chat settings live in <data_dir>/settings.json")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return nil
}

// =============================================================================
// DURATIONS
// =============================================================================

// OllamaTimeout returns the non-streaming request timeout.
func (c *Config) OllamaTimeout() time.Duration {
	return time.Duration(c.Ollama.TimeoutSecs) * time.Second
}

// BaseDelay returns the playback base delay.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.Playback.BaseDelayMs) * time.Millisecond
}

// MinDelay returns the playback delay floor.
func (c *Config) MinDelay() time.Duration {
	return time.Duration(c.Playback.MinDelayMs) * time.Millisecond
}

// RecoveryWait returns how long playback waits before recovery.
func (c *Config) RecoveryWait() time.Duration {
	return time.Duration(c.Playback.RecoveryWaitMs) * time.Millisecond
}

// TitleTimeout returns the per-job title timeout.
func (c *Config) TitleTimeout() time.Duration {
	return time.Duration(c.Title.TimeoutSecs) * time.Second
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "disabled": true,
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if !validLogLevels[strings.ToLower(c.General.LogLevel)] {
		add("general.log_level", fmt.Sprintf("unknown level %q", c.General.LogLevel))
	}

	if u, err := url.Parse(c.Ollama.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("ollama.url", fmt.Sprintf("must be an http(s) URL, got %q", c.Ollama.URL))
	}
	if strings.TrimSpace(c.Ollama.Model) == "" {
		add("ollama.model", "must not be empty")
	}
	if c.Ollama.TimeoutSecs < 0 {
		add("ollama.timeout_secs", "must not be negative")
	}

	if c.Playback.BaseDelayMs <= 0 {
		add("playback.base_delay_ms", "must be positive")
	}
	if c.Playback.MinDelayMs <= 0 {
		add("playback.min_delay_ms", "must be positive")
	} else if c.Playback.MinDelayMs > c.Playback.BaseDelayMs {
		add("playback.min_delay_ms", "must not exceed base_delay_ms")
	}
	if c.Playback.ShortThreshold < 0 {
		add("playback.short_threshold", "must not be negative")
	}
	if c.Playback.RecoveryWaitMs < 0 {
		add("playback.recovery_wait_ms", "must not be negative")
	}
	if c.Playback.RecoveryRetries < 0 {
		add("playback.recovery_retries", "must not be negative")
	}

	switch c.Bus.Driver {
	case "memory":
	case "redis":
		if c.Bus.RedisAddr == "" {
			add("bus.redis_addr", "required when bus.driver is redis")
		}
	default:
		add("bus.driver", fmt.Sprintf("must be memory or redis, got %q", c.Bus.Driver))
	}

	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		add("storage.driver", fmt.Sprintf("must be file or sqlite, got %q", c.Storage.Driver))
	}

	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}

	if c.Title.Concurrency < 1 {
		add("title.concurrency", "must be at least 1")
	}
	if c.Title.TimeoutSecs < 0 {
		add("title.timeout_secs", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - NEBOT_DATA_DIR: general.data_dir
//   - NEBOT_LOG_LEVEL: general.log_level
//   - NEBOT_OLLAMA_URL: ollama.url
//   - NEBOT_MODEL: ollama.model
//   - NEBOT_BUS: bus.driver
//   - NEBOT_REDIS_ADDR: bus.redis_addr
//   - NEBOT_STORAGE: storage.driver
//   - NEBOT_ADDR: server.addr
//   - NEBOT_TITLES: "0" or "false" disables title generation
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("NEBOT_DATA_DIR"); v != "" {
		c.General.DataDir = v
	}
	if v := os.Getenv("NEBOT_LOG_LEVEL"); v != "" {
		c.General.LogLevel = v
	}
	if v := os.Getenv("NEBOT_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("NEBOT_MODEL"); v != "" {
		c.Ollama.Model = v
	}
	if v := os.Getenv("NEBOT_BUS"); v != "" {
		c.Bus.Driver = v
	}
	if v := os.Getenv("NEBOT_REDIS_ADDR"); v != "" {
		c.Bus.RedisAddr = v
	}
	if v := os.Getenv("NEBOT_STORAGE"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("NEBOT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("NEBOT_TITLES"); v != "" {
		c.Title.Enabled = parseBool(v)
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its TOML key path (e.g. "ollama.model").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by its TOML key path. String values are converted to
// the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return errors.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if key == "" || len(parts) == 0 {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, errors.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, errors.Errorf("%s is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, errors.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, errors.Errorf("invalid key: %s", key)
}

// fieldByTag finds the struct field whose toml tag equals name.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		if strings.EqualFold(tag, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return errors.Wrap(err, "invalid integer value")
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return errors.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}
