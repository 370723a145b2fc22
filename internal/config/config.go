// Package config provides configuration loading for branchd.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete branchd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Mongo     MongoConfig     `koanf:"mongo"`
	NATS      NATSConfig      `koanf:"nats"`
	Storage   StorageConfig   `koanf:"storage"`
	Documents DocumentsConfig `koanf:"documents"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// MongoConfig holds the metadata record store configuration. An empty
// URL selects the in-memory store, which is only suitable for tests and
// local development.
type MongoConfig struct {
	URL            Secret   `koanf:"url"`
	Database       string   `koanf:"database"`
	Collection     string   `koanf:"collection"`
	ConnectTimeout Duration `koanf:"connect_timeout"`
}

// NATSConfig holds the announcement transport configuration.
type NATSConfig struct {
	URL           string   `koanf:"url"`
	SubjectPrefix string   `koanf:"subject_prefix"`
	FlushTimeout  Duration `koanf:"flush_timeout"`
}

// StorageConfig holds the version store configuration.
type StorageConfig struct {
	// Root is the directory holding per-tenant repositories.
	Root string `koanf:"root"`
}

// DocumentsConfig holds document service configuration.
type DocumentsConfig struct {
	StartingSequenceNumber int64  `koanf:"starting_sequence_number"`
	AttributesPath         string `koanf:"attributes_path"`
}

// LoggingConfig holds logger settings. The logging package turns these
// into a full logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings. The telemetry
// package turns these into a full provider configuration.
type TelemetryConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	Protocol       string `koanf:"protocol"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	Insecure       bool   `koanf:"insecure"`
	TLSSkipVerify  bool   `koanf:"tls_skip_verify"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3030
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "branchd"
	}
	if cfg.Mongo.Collection == "" {
		cfg.Mongo.Collection = "documents"
	}
	if cfg.Mongo.ConnectTimeout == 0 {
		cfg.Mongo.ConnectTimeout = Duration(10 * time.Second)
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "integrations"
	}
	if cfg.NATS.FlushTimeout == 0 {
		cfg.NATS.FlushTimeout = Duration(5 * time.Second)
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "/var/lib/branchd/repos"
	}

	if cfg.Documents.AttributesPath == "" {
		cfg.Documents.AttributesPath = ".attributes"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "branchd"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	if c.Mongo.URL.IsSet() {
		if c.Mongo.Database == "" {
			return fmt.Errorf("mongo.database is required when mongo.url is set")
		}
		if c.Mongo.Collection == "" {
			return fmt.Errorf("mongo.collection is required when mongo.url is set")
		}
	}

	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.NATS.FlushTimeout.Duration() <= 0 {
		return fmt.Errorf("nats.flush_timeout must be positive")
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}

	if c.Documents.StartingSequenceNumber < 0 {
		return fmt.Errorf("documents.starting_sequence_number cannot be negative")
	}
	if c.Documents.AttributesPath == "" {
		return fmt.Errorf("documents.attributes_path is required")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}

	return nil
}
