// Package config provides configuration loading and management for landledger.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendSQLite = "sqlite"
)

// Config represents the complete landledger configuration
type Config struct {
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	NATS      NATSConfig      `yaml:"nats" envPrefix:"NATS_"`
	Events    EventsConfig    `yaml:"events" envPrefix:"EVENTS_"`
	Identity  IdentityConfig  `yaml:"identity" envPrefix:"IDENTITY_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// StorageConfig selects where land records live
type StorageConfig struct {
	// Backend is one of memory, nats, sqlite
	Backend string `yaml:"backend" env:"BACKEND"`
	// Bucket is the NATS KV bucket for the nats backend
	Bucket string `yaml:"bucket" env:"BUCKET"`
	// SQLitePath is the database file for the sqlite backend
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url" env:"URL"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded" env:"EMBEDDED"`
	// StoreDir is the JetStream directory for the embedded server
	StoreDir string `yaml:"store_dir" env:"STORE_DIR"`
}

// EventsConfig configures notification publishing
type EventsConfig struct {
	// Enabled publishes events on NATS when a NATS connection exists
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// SubjectPrefix is the root of the event subjects
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

// IdentityConfig configures the CLI caller identity
type IdentityConfig struct {
	// Caller is the identity used when --caller is not given (empty = OS user)
	Caller string `yaml:"caller" env:"CALLER"`
}

// TelemetryConfig configures tracing
type TelemetryConfig struct {
	// OTelEndpoint is the OTLP/HTTP endpoint (empty = tracing disabled)
	OTelEndpoint string `yaml:"otel_endpoint" env:"OTEL_ENDPOINT"`
	// ServiceName is reported on every span
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// SampleRatio is the fraction of root traces recorded (1 = all)
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Storage: StorageConfig{
			Backend:    BackendNATS,
			Bucket:     "LANDLEDGER_RECORDS",
			SQLitePath: filepath.Join(dataDir, "landledger.db"),
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
			StoreDir: filepath.Join(dataDir, "jetstream"),
		},
		Events: EventsConfig{
			Enabled:       true,
			SubjectPrefix: "landledger",
		},
		Identity: IdentityConfig{
			Caller: "", // OS user
		},
		Telemetry: TelemetryConfig{
			OTelEndpoint: "",
			ServiceName:  "landledger",
			SampleRatio:  1,
		},
	}
}

// defaultDataDir returns ~/.local/share/landledger, or a relative directory
// when the home directory is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".landledger"
	}
	return filepath.Join(home, ".local", "share", "landledger")
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the nats backend")
		}
		if strings.ContainsAny(c.Storage.Bucket, ". *>") {
			return fmt.Errorf("storage.bucket %q must not contain '.', '*', '>' or spaces", c.Storage.Bucket)
		}
		if c.NATS.URL == "" && !c.NATS.Embedded {
			return fmt.Errorf("nats.url is required when nats.embedded is false")
		}
		if c.NATS.Embedded && c.NATS.URL == "" && c.NATS.StoreDir == "" {
			return fmt.Errorf("nats.store_dir is required for embedded NATS")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of %s, %s, %s (got %q)",
			BackendMemory, BackendNATS, BackendSQLite, c.Storage.Backend)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1 (got %g)", c.Telemetry.SampleRatio)
	}
	if c.Events.Enabled && strings.Trim(c.Events.SubjectPrefix, ".") == "" {
		return fmt.Errorf("events.subject_prefix is required when events are enabled")
	}
	if strings.ContainsAny(c.Events.SubjectPrefix, " *>") {
		return fmt.Errorf("events.subject_prefix %q must not contain wildcards or spaces", c.Events.SubjectPrefix)
	}
	return nil
}

// Overlay applies the YAML file at path on top of c. Only keys present in the
// file change, so booleans can be switched off by a later layer.
func (c *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values).
// The CLI routes its override flags through it.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Storage
	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.Bucket != "" {
		c.Storage.Bucket = other.Storage.Bucket
	}
	if other.Storage.SQLitePath != "" {
		c.Storage.SQLitePath = other.Storage.SQLitePath
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	if other.NATS.StoreDir != "" {
		c.NATS.StoreDir = other.NATS.StoreDir
	}

	// Events
	if other.Events.SubjectPrefix != "" {
		c.Events.SubjectPrefix = other.Events.SubjectPrefix
	}

	// Identity
	if other.Identity.Caller != "" {
		c.Identity.Caller = other.Identity.Caller
	}

	// Telemetry
	if other.Telemetry.OTelEndpoint != "" {
		c.Telemetry.OTelEndpoint = other.Telemetry.OTelEndpoint
	}
	if other.Telemetry.ServiceName != "" {
		c.Telemetry.ServiceName = other.Telemetry.ServiceName
	}
	if other.Telemetry.SampleRatio != 0 {
		c.Telemetry.SampleRatio = other.Telemetry.SampleRatio
	}
}
