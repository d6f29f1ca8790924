// Package config provides environment-driven configuration for the gateway.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// Policy store kinds.
const (
	PolicyStoreFile     = "file"
	PolicyStorePostgres = "postgres"
)

// Config holds all application configuration values.
type Config struct {
	Port            string
	ListenHost      string
	BackendURL      string
	BackendWSURL    string
	BackendToken    Secret
	ManagementToken Secret
	PolicyStore     string
	PolicyDir       string
	PolicyFormat    string
	DatabaseURL     Secret
	AuditFile       string
	CORSOrigins     []string
	LogLevel        string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            envOrDefault("PORT", "8099"),
		ListenHost:      envOrDefault("LISTEN_HOST", "127.0.0.1"),
		BackendURL:      strings.TrimRight(envOrDefault("BACKEND_URL", "http://supervisor/core"), "/"),
		BackendToken:    Secret(firstEnv("BACKEND_TOKEN", "SUPERVISOR_TOKEN", "HASSIO_TOKEN")),
		ManagementToken: Secret(envOrDefault("MANAGEMENT_TOKEN", "")),
		PolicyStore:     envOrDefault("POLICY_STORE", PolicyStoreFile),
		PolicyDir:       envOrDefault("POLICY_DIR", "/data/policy"),
		PolicyFormat:    envOrDefault("POLICY_FORMAT", "json"),
		DatabaseURL:     Secret(envOrDefault("DATABASE_URL", "")),
		AuditFile:       envOrDefault("AUDIT_FILE", "/data/audit.jsonl"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
	}

	cfg.BackendWSURL = envOrDefault("BACKEND_WS_URL", deriveWSURL(cfg.BackendURL))

	if origins := envOrDefault("CORS_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Addr returns the listen address in host:port format.
func (c *Config) Addr() string {
	return c.ListenHost + ":" + c.Port
}

// deriveWSURL maps the REST base URL onto the backend's push endpoint.
// The supervisor proxy serves it at /core/websocket, a direct install at /api/websocket.
func deriveWSURL(restURL string) string {
	u, err := url.Parse(restURL)
	if err != nil {
		return ""
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	if u.Host == "supervisor" {
		u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
	} else {
		u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"
	}

	return u.String()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}

	return ""
}
