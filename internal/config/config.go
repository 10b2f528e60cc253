// Package config provides YAML configuration loading and validation for
// onchange.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so configuration files can use Go duration
// strings such as "100ms" or "1s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the top-level configuration structure for onchange. Target and
// Command may be left empty in the file when the corresponding flags supply
// them; their presence is validated after flags are merged, not here.
type Config struct {
	// Target is the file or directory to watch for modifications.
	Target string `yaml:"target"`

	// Command is executed through the shell on each coalesced batch of
	// modifications.
	Command string `yaml:"command"`

	// Once stops watching after the first completed execution.
	Once bool `yaml:"once"`

	// Verbose enables the stable progress lines on stdout.
	Verbose bool `yaml:"verbose"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// Shell is the interpreter the command string is passed to. Defaults
	// to "/bin/sh" when omitted.
	Shell string `yaml:"shell"`

	// Debounce is the fast re-check window used while a burst of changes
	// may still be arriving. Defaults to 100ms when omitted.
	Debounce Duration `yaml:"debounce"`

	// IdleWait is the wait timeout used when no changes are pending.
	// Defaults to 1s when omitted.
	IdleWait Duration `yaml:"idle_wait"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidLogLevel reports whether level is an accepted log level string.
func ValidLogLevel(level string) bool {
	return validLogLevels[level]
}

// Default returns a ready-to-use configuration with every optional field set
// to its default.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig reads the YAML file at path, strictly unmarshals it into Config
// (unknown keys are an error), applies defaults, and validates all fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value optional fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = Duration(100 * time.Millisecond)
	}
	if cfg.IdleWait == 0 {
		cfg.IdleWait = Duration(time.Second)
	}
}

// validate checks that enumerated fields contain only valid values and that
// the loop timings are usable.
func validate(cfg *Config) error {
	var errs []error

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Debounce <= 0 {
		errs = append(errs, errors.New("debounce must be positive"))
	}
	if cfg.IdleWait <= 0 {
		errs = append(errs, errors.New("idle_wait must be positive"))
	}

	return errors.Join(errs...)
}
