package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const minManagementTokenLen = 16

func (c *Config) validate() error {
	if err := c.validateNetwork(); err != nil {
		return err
	}

	if err := c.validateBackend(); err != nil {
		return err
	}

	if err := c.validateManagement(); err != nil {
		return err
	}

	if err := c.validatePolicyStore(); err != nil {
		return err
	}

	if err := c.validateCORS(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateNetwork() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid integer: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	// Containerized add-on deployments bind all interfaces and rely on the
	// allowlist plus API keys; anything else must stay on loopback.
	validHosts := map[string]bool{
		"127.0.0.1": true,
		"::1":       true,
		"localhost": true,
		"0.0.0.0":   true,
		"::":        true,
	}
	if !validHosts[c.ListenHost] {
		return fmt.Errorf("LISTEN_HOST must be a loopback address or 0.0.0.0/:: for containers (got %q)", c.ListenHost)
	}

	return nil
}

func (c *Config) validateBackend() error {
	restURL, err := url.ParseRequestURI(c.BackendURL)
	if err != nil {
		return fmt.Errorf("BACKEND_URL is not a valid URL: %w", err)
	}

	if restURL.Scheme != "http" && restURL.Scheme != "https" {
		return fmt.Errorf("BACKEND_URL scheme must be http:// or https://")
	}

	wsURL, err := url.ParseRequestURI(c.BackendWSURL)
	if err != nil {
		return fmt.Errorf("BACKEND_WS_URL is not a valid URL: %w", err)
	}

	if wsURL.Scheme != "ws" && wsURL.Scheme != "wss" {
		return fmt.Errorf("BACKEND_WS_URL scheme must be ws:// or wss://")
	}

	if c.BackendToken.Value() == "" {
		return fmt.Errorf("BACKEND_TOKEN is required (or SUPERVISOR_TOKEN when running as an add-on)")
	}

	return nil
}

func (c *Config) validateManagement() error {
	if c.ManagementToken.Value() == "" {
		return fmt.Errorf("MANAGEMENT_TOKEN is required")
	}

	if len(c.ManagementToken.Value()) < minManagementTokenLen {
		return fmt.Errorf("MANAGEMENT_TOKEN must be at least %d characters", minManagementTokenLen)
	}

	return nil
}

func (c *Config) validatePolicyStore() error {
	switch c.PolicyStore {
	case PolicyStoreFile:
		if c.PolicyDir == "" {
			return fmt.Errorf("POLICY_DIR is required when POLICY_STORE is file")
		}

		if c.PolicyFormat != "json" && c.PolicyFormat != "yaml" {
			return fmt.Errorf("POLICY_FORMAT must be 'json' or 'yaml', got %q", c.PolicyFormat)
		}
	case PolicyStorePostgres:
		return c.validateDatabase()
	default:
		return fmt.Errorf("POLICY_STORE must be 'file' or 'postgres', got %q", c.PolicyStore)
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.DatabaseURL.Value() == "" {
		return fmt.Errorf("DATABASE_URL is required when POLICY_STORE is postgres")
	}

	dbURL, err := url.Parse(c.DatabaseURL.Value())
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}

	if dbURL.Scheme != "postgres" && dbURL.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL scheme must be postgres:// or postgresql://")
	}

	if dbURL.Hostname() == "" {
		return fmt.Errorf("DATABASE_URL must include a host")
	}

	dbHost := dbURL.Hostname()
	if !isLoopbackHost(dbHost) && dbURL.Query().Get("sslmode") == "disable" {
		return fmt.Errorf("DATABASE_URL sslmode=disable is not allowed for non-local host %q", dbHost)
	}

	return nil
}

func (c *Config) validateCORS() error {
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			return fmt.Errorf("CORS_ORIGINS must not contain wildcard '*'")
		}
		if strings.ContainsAny(origin, "*?[]") {
			return fmt.Errorf("CORS_ORIGINS must not contain glob characters (*?[]), got %q", origin)
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("CORS_ORIGINS contains invalid origin %q (must have scheme and host)", origin)
		}
	}

	return nil
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
