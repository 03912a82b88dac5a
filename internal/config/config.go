// Package config loads and validates server configuration. Precedence:
// built-in defaults, then the optional YAML file, then environment
// variables. Command-line flags are applied last by the caller.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
)

const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Config carries every recognized option. YAML keys match the documented
// option names one to one.
type Config struct {
	// HubSpot access
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url"`
	CRMTimeoutSeconds int    `yaml:"crm_timeout_seconds"`

	// Transport selection and SSE bind
	Transport string `yaml:"transport"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`

	// SSE shared-secret auth; empty key disables auth
	AuthKey    string `yaml:"auth_key"`
	AuthHeader string `yaml:"auth_header"`

	// Cache tuning
	CacheCapacity   int `yaml:"cache_capacity"`
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`

	// Embeddings
	EmbeddingsEnabled bool   `yaml:"embeddings_enabled"`
	EmbeddingAPIURL   string `yaml:"embedding_api_url"`
	EmbeddingAPIKey   string `yaml:"embedding_api_key"`
	EmbeddingModel    string `yaml:"embedding_model"`

	// Administrative endpoint protection
	FaissDataSecure        bool `yaml:"faiss_data_secure"`
	DataProtectionDisabled bool `yaml:"data_protection_disabled"`

	// Dispatcher
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds"`

	// SSE ingress rate limiting; zero RPS disables the limiter
	RateLimitRPS   int `yaml:"rate_limit_rps"`
	RateLimitBurst int `yaml:"rate_limit_burst"`

	// Observability
	LogLevel       string `yaml:"log_level"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	ZipkinEndpoint string `yaml:"zipkin_endpoint"`
}

// Default returns the built-in defaults, before file and environment overlays.
func Default() *Config {
	return &Config{
		BaseURL:            "https://api.hubapi.com",
		CRMTimeoutSeconds:  30,
		Transport:          TransportStdio,
		Host:               "0.0.0.0",
		Port:               8080,
		AuthHeader:         "X-API-Key",
		CacheCapacity:      1000,
		CacheTTLSeconds:    300,
		EmbeddingsEnabled:  true,
		EmbeddingModel:     "text-embedding-3-small",
		FaissDataSecure:    true,
		ToolTimeoutSeconds: 60,
		RateLimitRPS:       100,
		RateLimitBurst:     200,
		LogLevel:           "info",
	}
}

// Load builds the configuration: defaults, the optional YAML file, then the
// environment. configFile may be empty.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := cfg.applyFile(configFile); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.KindConfig, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.KindConfig, "parse config file %s", path)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.APIKey = getEnv("HUBSPOT_API_KEY", c.APIKey)
	c.BaseURL = getEnv("HUBSPOT_BASE_URL", c.BaseURL)
	c.CRMTimeoutSeconds = getEnvInt("CRM_TIMEOUT_SECONDS", c.CRMTimeoutSeconds)

	c.Transport = getEnv("MCP_TRANSPORT", c.Transport)
	c.Host = getEnv("MCP_HOST", c.Host)
	c.Port = getEnvInt("MCP_PORT", c.Port)

	c.AuthKey = getEnv("MCP_AUTH_KEY", c.AuthKey)
	c.AuthHeader = getEnv("MCP_AUTH_HEADER", c.AuthHeader)

	c.CacheCapacity = getEnvInt("CACHE_CAPACITY", c.CacheCapacity)
	c.CacheTTLSeconds = getEnvInt("CACHE_TTL_SECONDS", c.CacheTTLSeconds)

	c.EmbeddingsEnabled = getEnvBool("EMBEDDINGS_ENABLED", c.EmbeddingsEnabled)
	c.EmbeddingAPIURL = getEnv("EMBEDDING_API_URL", c.EmbeddingAPIURL)
	c.EmbeddingAPIKey = getEnv("EMBEDDING_API_KEY", c.EmbeddingAPIKey)
	c.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.EmbeddingModel)

	c.FaissDataSecure = getEnvBool("FAISS_DATA_SECURE", c.FaissDataSecure)
	c.DataProtectionDisabled = getEnvBool("DATA_PROTECTION_DISABLED", c.DataProtectionDisabled)

	c.ToolTimeoutSeconds = getEnvInt("TOOL_TIMEOUT_SECONDS", c.ToolTimeoutSeconds)

	c.RateLimitRPS = getEnvInt("RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.OTLPEndpoint = getEnv("OTLP_ENDPOINT", c.OTLPEndpoint)
	c.ZipkinEndpoint = getEnv("ZIPKIN_ENDPOINT", c.ZipkinEndpoint)
}

// Validate checks the configuration for startup-blocking problems.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return pkgerrors.New(pkgerrors.KindConfig, "api_key is required (set HUBSPOT_API_KEY)")
	}
	switch c.Transport {
	case TransportStdio, TransportSSE:
	default:
		return pkgerrors.Newf(pkgerrors.KindConfig, "transport must be %q or %q, got %q", TransportStdio, TransportSSE, c.Transport)
	}
	if c.Port < 1 || c.Port > 65535 {
		return pkgerrors.Newf(pkgerrors.KindConfig, "port out of range: %d", c.Port)
	}
	if c.CacheCapacity < 1 {
		return pkgerrors.Newf(pkgerrors.KindConfig, "cache_capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.CacheTTLSeconds < 1 {
		return pkgerrors.Newf(pkgerrors.KindConfig, "cache_ttl_seconds must be positive, got %d", c.CacheTTLSeconds)
	}
	if c.CRMTimeoutSeconds < 1 {
		return pkgerrors.Newf(pkgerrors.KindConfig, "crm_timeout_seconds must be positive, got %d", c.CRMTimeoutSeconds)
	}
	if c.ToolTimeoutSeconds < 1 {
		return pkgerrors.Newf(pkgerrors.KindConfig, "tool_timeout_seconds must be positive, got %d", c.ToolTimeoutSeconds)
	}
	if strings.TrimSpace(c.AuthHeader) == "" {
		return pkgerrors.New(pkgerrors.KindConfig, "auth_header must not be empty")
	}
	return nil
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// CRMTimeout returns the per-call CRM timeout.
func (c *Config) CRMTimeout() time.Duration {
	return time.Duration(c.CRMTimeoutSeconds) * time.Second
}

// ToolTimeout returns the tool execution wall-clock budget.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

// ListenAddr returns the SSE bind address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthEnabled reports whether the SSE transport requires the shared secret.
func (c *Config) AuthEnabled() bool {
	return c.AuthKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
