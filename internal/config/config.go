// Package config provides configuration loading for answerd.
//
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables, with hardcoded defaults underneath.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete answerd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Auth       AuthConfig       `koanf:"auth"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Completion CompletionConfig `koanf:"completion"`
	Search     SearchConfig     `koanf:"search"`
	Database   DatabaseConfig   `koanf:"database"`
	Chat       ChatConfig       `koanf:"chat"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RateLimit is the per-client request rate (requests per second).
	// Zero disables the limiter.
	RateLimit float64 `koanf:"rate_limit"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `koanf:"level"`
	// Format selects the encoder: json or console.
	Format string `koanf:"format"`
}

// AuthConfig holds bearer-token verification configuration.
//
// JWKSURL, Audience and Issuer default to the identity provider's
// conventional endpoints derived from TenantID and ClientID; explicit values
// override the derivation.
type AuthConfig struct {
	TenantID string `koanf:"tenant_id"`
	ClientID string `koanf:"client_id"`
	JWKSURL  string `koanf:"jwks_url"`
	Audience string `koanf:"audience"`
	Issuer   string `koanf:"issuer"`
}

// EmbeddingsConfig holds the embedding model configuration.
type EmbeddingsConfig struct {
	APIKey  Secret   `koanf:"api_key"`
	BaseURL string   `koanf:"base_url"`
	Model   string   `koanf:"model"`
	Timeout Duration `koanf:"timeout"`
}

// CompletionConfig holds the chat model configuration.
type CompletionConfig struct {
	APIKey  Secret   `koanf:"api_key"`
	BaseURL string   `koanf:"base_url"`
	Model   string   `koanf:"model"`
	Timeout Duration `koanf:"timeout"`
}

// SearchConfig holds vector search configuration.
type SearchConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	UseTLS       bool     `koanf:"use_tls"`
	VectorField  string   `koanf:"vector_field"`
	SelectFields []string `koanf:"select_fields"`
	K            int      `koanf:"k"`
	Top          int      `koanf:"top"`
	Timeout      Duration `koanf:"timeout"`
}

// DatabaseConfig holds the history store configuration.
type DatabaseConfig struct {
	// DSN is the Postgres connection string. Carries credentials, so it is
	// a Secret.
	DSN Secret `koanf:"dsn"`
}

// TelemetryConfig holds OpenTelemetry export configuration. Disabled by
// default; without a collector the SDK providers are never installed and
// instrumentation stays no-op.
type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
	// Endpoint is the OTLP collector address (host:port).
	Endpoint string `koanf:"endpoint"`
	// Protocol selects the OTLP transport: grpc or http/protobuf.
	Protocol string `koanf:"protocol"`
	// Insecure disables TLS towards the collector.
	Insecure bool `koanf:"insecure"`
	// SampleRate is the trace sampling ratio, 0.0 to 1.0.
	SampleRate     float64 `koanf:"sample_rate"`
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
}

// Validate validates the telemetry configuration.
func (c TelemetryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("telemetry endpoint required when telemetry is enabled")
	}
	if c.Protocol != "grpc" && c.Protocol != "http/protobuf" {
		return fmt.Errorf("invalid telemetry protocol %q (want grpc or http/protobuf)", c.Protocol)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("telemetry sample rate %v out of range [0, 1]", c.SampleRate)
	}
	return nil
}

// ChatConfig holds chat policy configuration.
type ChatConfig struct {
	// UsageLimit is the per-user monthly conversation limit.
	UsageLimit int `koanf:"usage_limit"`
	// DefaultIndex is the search index used when no other resolution
	// applies. Empty disables the fallback.
	DefaultIndex string `koanf:"default_index"`
	// IndexByTenant maps tenant ids to search indexes.
	IndexByTenant map[string]string `koanf:"index_by_tenant"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			RateLimit:       20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Embeddings: EmbeddingsConfig{
			Model:   "text-embedding-3-large",
			Timeout: Duration(60 * time.Second),
		},
		Completion: CompletionConfig{
			Model:   "gpt-4o-mini",
			Timeout: Duration(60 * time.Second),
		},
		Search: SearchConfig{
			Host:         "localhost",
			Port:         6334,
			VectorField:  "content_vector",
			SelectFields: []string{"title", "content"},
			K:            3,
			Top:          100,
			Timeout:      Duration(60 * time.Second),
		},
		Chat: ChatConfig{
			UsageLimit: 100,
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			SampleRate:     1.0,
			ServiceName:    "answerd",
			ServiceVersion: "0.1.0",
		},
	}
}

// ApplyDerived fills auth endpoints derivable from the tenant and client ids.
func (c *Config) ApplyDerived() {
	if c.Auth.TenantID != "" {
		if c.Auth.JWKSURL == "" {
			c.Auth.JWKSURL = fmt.Sprintf("https://login.microsoftonline.com/%s/discovery/v2.0/keys", c.Auth.TenantID)
		}
		if c.Auth.Issuer == "" {
			c.Auth.Issuer = fmt.Sprintf("https://sts.windows.net/%s/", c.Auth.TenantID)
		}
	}
	if c.Auth.Audience == "" {
		c.Auth.Audience = c.Auth.ClientID
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if !c.Embeddings.APIKey.IsSet() {
		return errors.New("embeddings API key required")
	}
	if !c.Completion.APIKey.IsSet() {
		return errors.New("completion API key required")
	}
	if !c.Database.DSN.IsSet() {
		return errors.New("database DSN required")
	}
	if c.Auth.JWKSURL == "" || c.Auth.Audience == "" || c.Auth.Issuer == "" {
		return errors.New("auth requires tenant_id and client_id (or explicit jwks_url, audience and issuer)")
	}
	if c.Chat.UsageLimit <= 0 {
		return errors.New("usage limit must be positive")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	return nil
}
