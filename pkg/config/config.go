package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all node configuration.
type Config struct {
	// Node identity
	Node NodeConfig

	// KV backend selection
	KV KVConfig

	// Blob storage
	Blob BlobConfig

	// Plugin runtime
	Plugins PluginConfig

	// Admin HTTP API
	Admin AdminConfig

	// Observability
	Observability ObservabilityConfig
}

// NodeConfig identifies this node in the cluster.
type NodeConfig struct {
	ID uint64

	// SecretKeyHex is the node's Ed25519 private key, hex encoded.
	// Optional; signing host calls fail without it.
	SecretKeyHex string
}

// KVConfig selects the KV store backend.
type KVConfig struct {
	// Backend is "memory" or "redis".
	Backend string

	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// BlobConfig holds blob store settings.
type BlobConfig struct {
	// Root is the filesystem directory for blob storage. Empty selects
	// the in-memory store.
	Root string
}

// PluginConfig holds plugin runtime settings.
type PluginConfig struct {
	// Dir is the local directory of plugin bundles published at startup.
	Dir string

	// TrustedKeyHex, when set, requires every manifest to carry a valid
	// Ed25519 signature under this hex public key.
	TrustedKeyHex string

	// SQLitePath, when set, enables read-only SQL queries for plugins.
	SQLitePath string

	// HealthCheckInterval spaces periodic plugin health probes.
	HealthCheckInterval time.Duration
}

// AdminConfig holds the management API listener settings.
type AdminConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Node: NodeConfig{
			ID:           uint64(getEnvInt64("ASPEN_NODE_ID", 1)),
			SecretKeyHex: getEnv("ASPEN_SECRET_KEY", ""),
		},
		KV: KVConfig{
			Backend:       getEnv("ASPEN_KV_BACKEND", "memory"),
			RedisURL:      getEnv("ASPEN_REDIS_URL", "redis://localhost:6379"),
			RedisPassword: getEnv("ASPEN_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("ASPEN_REDIS_DB", 0),
		},
		Blob: BlobConfig{
			Root: getEnv("ASPEN_BLOB_ROOT", ""),
		},
		Plugins: PluginConfig{
			Dir:                 getEnv("ASPEN_PLUGIN_DIR", ""),
			TrustedKeyHex:       getEnv("ASPEN_PLUGIN_TRUSTED_KEY", ""),
			SQLitePath:          getEnv("ASPEN_SQLITE_PATH", ""),
			HealthCheckInterval: getEnvDuration("ASPEN_PLUGIN_HEALTH_INTERVAL", 30*time.Second),
		},
		Admin: AdminConfig{
			Addr:            getEnv("ASPEN_ADMIN_ADDR", ":8080"),
			ShutdownTimeout: getEnvDuration("ASPEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("ASPEN_LOG_LEVEL", "info"),
			MetricsEnabled: getEnvBool("ASPEN_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Node.ID == 0 {
		return fmt.Errorf("node ID must be non-zero")
	}

	switch c.KV.Backend {
	case "memory":
	case "redis":
		if c.KV.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis KV backend")
		}
	default:
		return fmt.Errorf("invalid KV backend: %s (must be memory or redis)", c.KV.Backend)
	}

	if c.Admin.Addr == "" {
		return fmt.Errorf("admin listen address is required")
	}

	if _, err := c.SecretKey(); err != nil {
		return err
	}
	if _, err := c.TrustedKey(); err != nil {
		return err
	}
	return nil
}

// SecretKey decodes the node signing key, or returns nil when unset.
// Accepts either a 32-byte seed or a full 64-byte private key.
func (c *Config) SecretKey() (ed25519.PrivateKey, error) {
	if c.Node.SecretKeyHex == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(c.Node.SecretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid ASPEN_SECRET_KEY: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("invalid ASPEN_SECRET_KEY: expected %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// TrustedKey decodes the manifest trust key, or returns nil when unset.
func (c *Config) TrustedKey() (ed25519.PublicKey, error) {
	if c.Plugins.TrustedKeyHex == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(c.Plugins.TrustedKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid ASPEN_PLUGIN_TRUSTED_KEY: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ASPEN_PLUGIN_TRUSTED_KEY: expected %d bytes, got %d",
			ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
